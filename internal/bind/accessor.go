package bind

import (
	"github.com/roach88/finder/internal/ir"
)

// Accessor wraps the runtime arguments of one invocation.
type Accessor struct {
	method   *ir.MethodDescriptor
	args     []any
	bindable []int // indexes into args of bindable parameters
	sort     ir.Sort
	page     ir.PageRequest
	proj     []string
}

// NewAccessor validates args against the method's parameters.
func NewAccessor(method *ir.MethodDescriptor, args []any) (*Accessor, error) {
	if len(args) != len(method.Parameters) {
		return nil, ir.Errorf(ir.CodeParameterBinding, method.ID(),
			"method takes %d argument(s), got %d", len(method.Parameters), len(args))
	}
	a := &Accessor{method: method, args: args}
	for i, p := range method.Parameters {
		v := args[i]
		switch p.Role {
		case ir.RoleSort:
			s, ok := asSort(v)
			if !ok {
				return nil, roleMismatch(method, p, v)
			}
			a.sort = s
		case ir.RolePage:
			pr, ok := asPageRequest(v)
			if !ok {
				return nil, roleMismatch(method, p, v)
			}
			a.page = pr
		case ir.RoleProjection:
			pj, ok := asProjection(v)
			if !ok {
				return nil, roleMismatch(method, p, v)
			}
			a.proj = pj
		default:
			a.bindable = append(a.bindable, i)
		}
	}
	return a, nil
}

func roleMismatch(method *ir.MethodDescriptor, p ir.Parameter, v any) error {
	return ir.Errorf(ir.CodeParameterBinding, method.ID(),
		"argument %d has type %T, not a %s value", p.Index, v, p.Role)
}

func asSort(v any) (ir.Sort, bool) {
	switch s := v.(type) {
	case nil:
		return nil, true
	case ir.Sort:
		return s, true
	case []ir.Order:
		return ir.Sort(s), true
	}
	return nil, false
}

func asPageRequest(v any) (ir.PageRequest, bool) {
	switch p := v.(type) {
	case nil:
		return ir.Unpaged(), true
	case ir.PageRequest:
		return p, true
	case *ir.PageRequest:
		if p == nil {
			return ir.Unpaged(), true
		}
		return *p, true
	}
	return ir.PageRequest{}, false
}

func asProjection(v any) ([]string, bool) {
	switch p := v.(type) {
	case nil:
		return nil, true
	case ir.Projection:
		return p, true
	case []string:
		return p, true
	}
	return nil, false
}

// Method returns the invoked method.
func (a *Accessor) Method() *ir.MethodDescriptor { return a.method }

// BindableCount returns the number of bindable arguments.
func (a *Accessor) BindableCount() int { return len(a.bindable) }

// Bindable returns the bindable argument at a 1-based position.
func (a *Accessor) Bindable(position int) (ir.Parameter, any, bool) {
	if position < 1 || position > len(a.bindable) {
		return ir.Parameter{}, nil, false
	}
	i := a.bindable[position-1]
	return a.method.Parameters[i], a.args[i], true
}

// ByName returns the bindable argument declared with name.
func (a *Accessor) ByName(name string) (ir.Parameter, any, bool) {
	for _, i := range a.bindable {
		if p := a.method.Parameters[i]; p.Name == name {
			return p, a.args[i], true
		}
	}
	return ir.Parameter{}, nil, false
}

// Sort returns the dynamic sort: the Sort argument if set, else the sort
// carried by the PageRequest argument.
func (a *Accessor) Sort() ir.Sort {
	if a.sort.IsSorted() {
		return a.sort
	}
	return a.page.Sort
}

// PageRequest returns the PageRequest argument, or an unpaged request.
func (a *Accessor) PageRequest() ir.PageRequest { return a.page }

// Projection returns the dynamic projection argument.
func (a *Accessor) Projection() []string { return a.proj }
