package execution

import (
	"github.com/roach88/finder/internal/ir"
)

// Strategy is how a plan is executed.
type Strategy int

const (
	Single Strategy = iota
	Collection
	Slice
	Page
	Stream
	Modifying
	Procedure
	numStrategies
)

var strategyNames = [numStrategies]string{
	Single:     "single",
	Collection: "collection",
	Slice:      "slice",
	Page:       "page",
	Stream:     "stream",
	Modifying:  "modifying",
	Procedure:  "procedure",
}

func (s Strategy) String() string {
	if s < 0 || s >= numStrategies {
		return "unknown"
	}
	return strategyNames[s]
}

// StrategyFor picks the strategy for a method. It fails with
// INVALID_RETURN_TYPE when a modifying method declares a return other
// than void or an integer count.
func StrategyFor(m *ir.MethodDescriptor) (Strategy, error) {
	if m.Kind == ir.QueryProcedure || m.Procedure != nil {
		return Procedure, nil
	}
	switch m.Shape {
	case ir.ShapeSingle:
		return Single, nil
	case ir.ShapeCollection:
		return Collection, nil
	case ir.ShapeSlice:
		return Slice, nil
	case ir.ShapePage:
		return Page, nil
	case ir.ShapeStream:
		return Stream, nil
	case ir.ShapeProcedure:
		return Procedure, nil
	case ir.ShapeModifying:
		switch m.Returns.Kind {
		case ir.KindVoid, ir.KindInt, ir.KindInt64, "":
			return Modifying, nil
		}
		return 0, ir.Errorf(ir.CodeInvalidReturnType, m.ID(),
			"modifying queries can only return void or an integer count, not %s", m.Returns).
			With("type", m.Returns.String())
	}
	return 0, ir.Errorf(ir.CodeInvalidReturnType, m.ID(), "unknown result shape %q", m.Shape)
}
