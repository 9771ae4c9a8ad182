package bind

import (
	"fmt"
	"log/slog"

	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/ir"
)

// ErrorPolicy decides what happens when a binding cannot be applied.
type ErrorPolicy int

const (
	// Strict fails the invocation with PARAMETER_BINDING.
	Strict ErrorPolicy = iota
	// Lenient logs and leaves the placeholder unset.
	Lenient
)

func (p ErrorPolicy) String() string {
	if p == Lenient {
		return "lenient"
	}
	return "strict"
}

// Binder applies Metadata bindings to a native query.
type Binder struct {
	conv   *convert.Table
	logger *slog.Logger
}

// Option configures a Binder.
type Option func(*Binder)

// WithLogger sets the logger for lenient-mode omissions.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binder) {
		b.logger = l
	}
}

// NewBinder creates a Binder converting values with conv.
func NewBinder(conv *convert.Table, opts ...Option) *Binder {
	b := &Binder{conv: conv, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Bind sets every placeholder of qm from acc.
func (b *Binder) Bind(qm QueryMetadata, acc *Accessor, policy ErrorPolicy) error {
	method := acc.Method()
	for _, binding := range qm.Bindings {
		if err := b.bindOne(qm.Query, binding, acc); err != nil {
			if policy == Lenient {
				b.logger.Debug("leaving placeholder unbound",
					"method", method.ID(),
					"placeholder", binding.Target.String(),
					"error", err)
				continue
			}
			return ir.Errorf(ir.CodeParameterBinding, method.ID(),
				"cannot bind %s", binding.Target).Wrap(err)
		}
	}
	return nil
}

func (b *Binder) bindOne(q Settable, binding Binding, acc *Accessor) error {
	var (
		param ir.Parameter
		value any
		ok    bool
	)
	if binding.Source.Name != "" {
		param, value, ok = acc.ByName(binding.Source.Name)
		if !ok {
			return fmt.Errorf("no parameter named %q", binding.Source.Name)
		}
	} else {
		param, value, ok = acc.Bindable(binding.Source.Position)
		if !ok {
			return fmt.Errorf("no bindable parameter at position %d (method has %d)",
				binding.Source.Position, acc.BindableCount())
		}
	}

	value = binding.Hint.Apply(value)
	if !binding.Hint.IsLike() {
		converted, err := b.conv.Convert(value, param.Type)
		if err != nil {
			return err
		}
		value = converted
	}
	return q.SetParameter(binding.Target, value)
}
