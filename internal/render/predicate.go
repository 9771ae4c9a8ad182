package render

import (
	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/tree"
)

// predicate renders one Part as a where-clause fragment.
func (r *Renderer) predicate(p tree.Part) (string, []bind.Binding, error) {
	switch p.Operator {
	case tree.Near, tree.Within, tree.Regex, tree.Exists:
		return "", nil, r.partError(ir.CodeUnsupportedOperator, p, "operator %s is not supported", p.Operator)
	}
	fold, err := r.fold(p)
	if err != nil {
		return "", nil, err
	}

	path := r.alias + "." + p.Path.String()
	leaf := p.Path.Type()
	var (
		phs      []string
		bindings []bind.Binding
	)
	for _, arg := range p.Args {
		b := r.binding(arg)
		phs = append(phs, b.Target.String())
		bindings = append(bindings, b)
	}
	hint := func(h bind.Hint) []bind.Binding {
		for i := range bindings {
			bindings[i].Hint = h
		}
		return bindings
	}

	switch p.Operator {
	case tree.Between:
		return path + " between " + phs[0] + " and " + phs[1], bindings, nil
	case tree.GreaterThan, tree.After:
		return path + " > " + phs[0], bindings, nil
	case tree.GreaterThanEqual:
		return path + " >= " + phs[0], bindings, nil
	case tree.LessThan, tree.Before:
		return path + " < " + phs[0], bindings, nil
	case tree.LessThanEqual:
		return path + " <= " + phs[0], bindings, nil
	case tree.IsNull:
		return path + " IS NULL", nil, nil
	case tree.IsNotNull:
		return path + " IS NOT NULL", nil, nil
	case tree.True:
		return path + " IS TRUE", nil, nil
	case tree.False:
		return path + " IS FALSE", nil, nil
	case tree.In, tree.NotIn:
		kw := " IN "
		if p.Operator == tree.NotIn {
			kw = " NOT IN "
		}
		if fold {
			return upper(path) + kw + phs[0], hint(bind.HintUpperEach), nil
		}
		return path + kw + phs[0], bindings, nil
	case tree.IsEmpty, tree.IsNotEmpty:
		if !leaf.IsCollection() {
			return "", nil, r.partError(ir.CodeInvalidOperatorUsage, p,
				"%s requires a collection property, %s is %s", p.Operator, p.Path, leaf)
		}
		if p.Operator == tree.IsEmpty {
			return path + " is empty", nil, nil
		}
		return path + " is not empty", nil, nil
	case tree.Containing, tree.NotContaining:
		if leaf.IsCollection() {
			if p.Operator == tree.NotContaining {
				return phs[0] + " NOT MEMBER OF " + path, bindings, nil
			}
			return phs[0] + " MEMBER OF " + path, bindings, nil
		}
		return r.like(p, path, phs[0], fold, hint(bind.HintLikeContains))
	case tree.StartingWith:
		return r.like(p, path, phs[0], fold, hint(bind.HintLikeStart))
	case tree.EndingWith:
		return r.like(p, path, phs[0], fold, hint(bind.HintLikeEnd))
	case tree.Like, tree.NotLike:
		return r.like(p, path, phs[0], fold, bindings)
	case tree.SimpleProperty, tree.NegatingSimpleProperty:
		op := " = "
		if p.Operator == tree.NegatingSimpleProperty {
			op = " <> "
		}
		if fold {
			return upper(path) + op + upper(phs[0]), bindings, nil
		}
		return path + op + phs[0], bindings, nil
	}
	return "", nil, r.partError(ir.CodeUnsupportedOperator, p, "operator %s is not supported", p.Operator)
}

func (r *Renderer) like(p tree.Part, path, ph string, fold bool, bindings []bind.Binding) (string, []bind.Binding, error) {
	if p.Path.Type().IsCollection() {
		return "", nil, r.partError(ir.CodeInvalidOperatorUsage, p,
			"%s cannot compare collection property %s", p.Operator, p.Path)
	}
	kw := " LIKE "
	if p.Operator == tree.NotLike || p.Operator == tree.NotContaining {
		kw = " NOT LIKE "
	}
	if fold {
		return upper(path) + kw + upper(ph), bindings, nil
	}
	return path + kw + ph, bindings, nil
}

// fold decides whether a Part compares case-insensitively.
func (r *Renderer) fold(p tree.Part) (bool, error) {
	textual := p.Path.Type().IsTextual()
	switch p.IgnoreCase {
	case tree.CaseAlways:
		if !textual {
			return false, r.partError(ir.CodeUnsupportedCaseFold, p,
				"cannot ignore case of %s property %s", p.Path.Type(), p.Path)
		}
		return true, nil
	case tree.CaseWhenPossible:
		return textual, nil
	}
	return false, nil
}

// binding addresses an argument by name when the method binds by name and
// the parameter has one, by position otherwise.
func (r *Renderer) binding(arg tree.Arg) bind.Binding {
	if r.named && arg.Param.Named() {
		return bind.Binding{Target: ir.Named(arg.Param.Name), Source: bind.Source{Name: arg.Param.Name}}
	}
	return bind.Binding{Target: ir.Positional(arg.Position), Source: bind.Source{Position: arg.Position}}
}

func (r *Renderer) partError(code ir.ErrorCode, p tree.Part, format string, args ...any) error {
	return ir.Errorf(code, r.method.ID(), format, args...).
		With("property", p.Path.String()).
		With("operator", string(p.Operator))
}

func upper(s string) string { return "upper(" + s + ")" }
