package testmodels

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func golden(t *testing.T, name string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

func fixture(t *testing.T) *Tree {
	t.Helper()
	apple := NewApple()
	apple.ID = "a1"
	apple.Foo = "bar"

	tree := NewTree()
	tree.ID = "t1"
	require.NoError(t, tree.Apples.Add(context.Background(), apple))
	return tree
}

func TestToMap(t *testing.T) {
	ctx := context.Background()
	tree := fixture(t)

	m, err := tree.ToMap(ctx)
	require.NoError(t, err)
	golden(t, "tree", m)

	apple, err := tree.Apples.Get(ctx, 0)
	require.NoError(t, err)
	apple.SetExcludedFromArray([]string{"lazyPropertiesDefaults"})
	m, err = apple.ToMap(ctx)
	require.NoError(t, err)
	golden(t, "apple_with_id", m)
}

func TestConstructorDefaults(t *testing.T) {
	assert.Equal(t, []string{"_id", "lazyPropertiesDefaults"}, NewApple().ExcludedFromArray())
	assert.Equal(t, []string{"_id", "lazyPropertiesDefaults"}, NewTree().ExcludedFromArray())
	assert.True(t, NewTree().Apples.IsInitialized())
}

func TestClone(t *testing.T) {
	ctx := context.Background()
	tree := fixture(t)

	cp, err := tree.Clone(ctx)
	require.NoError(t, err)
	assert.Equal(t, tree.ID, cp.ID)

	orig, err := tree.Apples.Get(ctx, 0)
	require.NoError(t, err)
	copied, err := cp.Apples.Get(ctx, 0)
	require.NoError(t, err)
	assert.NotSame(t, orig, copied)
	assert.Equal(t, "bar", copied.Foo)

	copied.SetExcludedFromArray(nil)
	copied.Foo = "baz"
	assert.Equal(t, "bar", orig.Foo)
	assert.Len(t, orig.ExcludedFromArray(), 2)
}

func TestRegistry(t *testing.T) {
	r, err := Registry()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{TreesTable, ApplesTable}, r.Tables())

	idField, err := r.IDFieldFor(TreesTable)
	require.NoError(t, err)
	assert.Equal(t, "_id", idField)
}
