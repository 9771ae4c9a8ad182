package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRender(t *testing.T) {
	vars := map[string]string{EntityName: "Person"}

	got, err := Simple{}.Render("select p from #{#entityName} p where p.age > :age", vars)
	require.NoError(t, err)
	assert.Equal(t, "select p from Person p where p.age > :age", got)

	got, err = Simple{}.Render("select x from #{ #entityName } x", vars)
	require.NoError(t, err)
	assert.Equal(t, "select x from Person x", got)

	got, err = Simple{}.Render("select p from Person p", vars)
	require.NoError(t, err)
	assert.Equal(t, "select p from Person p", got)
}

func TestSimpleRenderUndefined(t *testing.T) {
	_, err := Simple{}.Render("select p from #{#table} p where #{#alias}", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alias, table")
}

func TestHasExpressions(t *testing.T) {
	assert.True(t, HasExpressions("from #{#entityName}"))
	assert.False(t, HasExpressions("from Person"))
}
