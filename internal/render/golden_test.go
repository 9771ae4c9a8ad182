package render

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/testutil"
)

// TestRenderGolden pins the full text of a representative set of derived
// queries. To regenerate, run:
//
//	go test ./internal/render -update
func TestRenderGolden(t *testing.T) {
	p := testutil.Param
	methods := []*ir.MethodDescriptor{
		testutil.Method("findByAgeGreaterThan", ir.ShapeCollection, p("age", testutil.Int)),
		testutil.Method("findByNameIgnoreCaseAndAgeBetween", ir.ShapePage,
			p("name", testutil.String), p("min", testutil.Int), p("max", testutil.Int)),
		testutil.Method("findDistinctByTagsContainingOrAddressCityOrderByLastnameDesc", ir.ShapeCollection,
			p("tag", testutil.String), p("city", testutil.String)),
		testutil.Method("findByLastnameStartingWithAndActiveTrue", ir.ShapeSlice,
			testutil.Positional(testutil.String)),
		testutil.Method("findByAgeNotInAndTagsIsNotEmpty", ir.ShapeCollection, p("ages", testutil.Ints)),
		testutil.Method("countByCreatedAtBefore", ir.ShapeSingle, p("date", testutil.Time)),
	}

	var buf bytes.Buffer
	for _, m := range methods {
		q, c, err := renderMethod(t, m, nil)
		require.NoError(t, err, m.Name)
		fmt.Fprintf(&buf, "%s\n  query: %s\n  count: %s\n", m.Name, q.Text, c.Text)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "derived_queries", buf.Bytes())
}
