package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

func TestStore_crud(t *testing.T) {
	ctx := context.Background()
	s := New()

	id, err := s.Insert(ctx, "apples", storage.Record{Fields: map[string]any{"foo": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	id2, err := s.Insert(ctx, "apples", storage.Record{ID: "green", Fields: map[string]any{"foo": "baz"}})
	require.NoError(t, err)
	assert.Equal(t, "green", id2)

	_, err = s.Insert(ctx, "apples", storage.Record{ID: 1})
	require.ErrorIs(t, err, constants.ErrConflict)

	rec, err := s.LoadByID(ctx, "apples", 1)
	require.NoError(t, err)
	assert.Equal(t, "bar", rec.Fields["foo"])

	require.NoError(t, s.Update(ctx, "apples", storage.Record{ID: uint64(1), Fields: map[string]any{"foo": "qux"}}))
	rec, err = s.LoadByID(ctx, "apples", int64(1))
	require.NoError(t, err)
	assert.Equal(t, "qux", rec.Fields["foo"])

	require.NoError(t, s.Delete(ctx, "apples", 1))
	_, err = s.LoadByID(ctx, "apples", 1)
	require.ErrorIs(t, err, constants.ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, "apples", 1), constants.ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, "pears", storage.Record{ID: 1}), constants.ErrNotFound)

	assert.Equal(t, 1, s.Len("apples"))
}

func TestStore_isolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	tags := []any{"a"}
	_, err := s.Insert(ctx, "apples", storage.Record{ID: 1, Fields: map[string]any{"tags": tags}})
	require.NoError(t, err)
	tags[0] = "changed"

	rec, err := s.LoadByID(ctx, "apples", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, rec.Fields["tags"])

	rec.Fields["tags"].([]any)[0] = "changed again"
	rec, err = s.LoadByID(ctx, "apples", 1)
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, rec.Fields["tags"])
}

func TestStore_loadByIDs(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []any{1, 2, 3} {
		_, err := s.Insert(ctx, "apples", storage.Record{ID: id, Fields: map[string]any{}})
		require.NoError(t, err)
	}

	recs, err := s.LoadByIDs(ctx, "apples", []any{3, 9, 1})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, int64(3), recs[0].ID)
	assert.Nil(t, recs[1])
	assert.Equal(t, int64(1), recs[2].ID)
	assert.Equal(t, 1, s.Calls(OpLoadByIDs))

	recs, err = s.LoadByIDs(ctx, "pears", []any{1})
	require.NoError(t, err)
	assert.Equal(t, []*storage.Record{nil}, recs)
}

func TestStore_queryOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"c", "a", "b"} {
		_, err := s.Insert(ctx, "apples", storage.Record{Fields: map[string]any{"name": name}})
		require.NoError(t, err)
	}

	recs, err := s.Query(ctx, "apples", storage.Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0].Fields["name"])

	recs, err = s.Query(ctx, "apples", storage.Filter{Sort: []storage.SortKey{{Field: "name"}}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].Fields["name"])

	recs, err = s.Query(ctx, "none", storage.Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_fault(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.SetFault(func(op Op, table string, id any) error {
		if op == OpInsert && id == "bad" {
			return boom
		}
		return nil
	})

	_, err := s.Insert(ctx, "apples", storage.Record{ID: "bad"})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, s.Len("apples"))
	_, err = s.Insert(ctx, "apples", storage.Record{ID: "good"})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Calls(OpInsert))

	s.SetFault(nil)
	s.ResetCalls()
	assert.Zero(t, s.Calls(OpInsert))
}

func TestStore_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().LoadByID(ctx, "apples", 1)
	require.ErrorIs(t, err, context.Canceled)
}
