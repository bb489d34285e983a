package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_crud(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, "apples", storage.Record{ID: 1, Fields: map[string]any{
		"foo":  "bar",
		"tree": models.NewRecordID("trees", "oak"),
		"tags": []string{"a", "b"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	rec, err := s.LoadByID(ctx, "apples", uint64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, "bar", rec.Fields["foo"])
	assert.Equal(t, models.NewRecordID("trees", "oak"), rec.Fields["tree"])
	assert.Equal(t, []any{"a", "b"}, rec.Fields["tags"])

	_, err = s.Insert(ctx, "apples", storage.Record{ID: int64(1)})
	require.ErrorIs(t, err, constants.ErrConflict)

	require.NoError(t, s.Update(ctx, "apples", storage.Record{ID: 1, Fields: map[string]any{"foo": "baz"}}))
	rec, err = s.LoadByID(ctx, "apples", 1)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "baz"}, rec.Fields)

	require.NoError(t, s.Delete(ctx, "apples", 1))
	_, err = s.LoadByID(ctx, "apples", 1)
	require.ErrorIs(t, err, constants.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "apples", 1), constants.ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, "apples", storage.Record{ID: 1}), constants.ErrNotFound)
}

func TestStore_generatedIDs(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.Insert(ctx, "apples", storage.Record{Fields: map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	require.IsType(t, "", id)
	assert.Len(t, id, 36)

	rec, err := s.LoadByID(ctx, "apples", id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
}

func TestStore_loadByIDsAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for i, name := range []string{"c", "a", "b"} {
		_, err := s.Insert(ctx, "apples", storage.Record{ID: i + 1, Fields: map[string]any{"name": name}})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, "trees", storage.Record{ID: 1, Fields: map[string]any{}})
	require.NoError(t, err)

	recs, err := s.LoadByIDs(ctx, "apples", []any{3, 7, 1, 3})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, "b", recs[0].Fields["name"])
	assert.Nil(t, recs[1])
	assert.Equal(t, "c", recs[2].Fields["name"])
	assert.Equal(t, "b", recs[3].Fields["name"])

	all, err := s.Query(ctx, "apples", storage.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Fields["name"])

	some, err := s.Query(ctx, "apples", storage.Filter{
		Conditions: []storage.Condition{{Field: "name", Op: storage.OpNe, Value: "c"}},
		Sort:       []storage.SortKey{{Field: "name", Descending: true}},
	})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, int64(3), some[0].ID)

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TableInfo{{Name: "apples", Count: 3}, {Name: "trees", Count: 1}}, tables)
}

func TestOpen_reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "apples", storage.Record{ID: "x", Fields: map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.LoadByID(ctx, "apples", "x")
	require.NoError(t, err)
	assert.Equal(t, "bar", rec.Fields["foo"])
}
