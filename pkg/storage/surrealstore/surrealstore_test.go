package surrealstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/surrealdb/surrealodm/internal/fakesdb"
	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
	"github.com/surrealdb/surrealodm/pkg/storage"
)

type StoreTestSuite struct {
	suite.Suite
	ws     bool
	server *fakesdb.Server
	store  *Store
}

func TestStoreOverHTTP(t *testing.T) {
	suite.Run(t, &StoreTestSuite{})
}

func TestStoreOverWebSocket(t *testing.T) {
	suite.Run(t, &StoreTestSuite{ws: true})
}

func (s *StoreTestSuite) SetupTest() {
	s.server = fakesdb.NewServer()
	s.server.Start()
	endpoint := s.server.HTTPURL()
	if s.ws {
		endpoint = s.server.WSURL()
	}
	store, err := Open(context.Background(), endpoint, "test", "test", nil)
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
	s.server.Stop()
}

func (s *StoreTestSuite) TestCRUD() {
	ctx := context.Background()

	id, err := s.store.Insert(ctx, "apples", storage.Record{ID: 1, Fields: map[string]any{"foo": "bar", "id": "ignored"}})
	s.Require().NoError(err)
	s.Equal(int64(1), id)

	_, err = s.store.Insert(ctx, "apples", storage.Record{ID: 1, Fields: map[string]any{}})
	s.ErrorIs(err, constants.ErrConflict)

	rec, err := s.store.LoadByID(ctx, "apples", 1)
	s.Require().NoError(err)
	s.Equal(int64(1), rec.ID)
	s.Equal(map[string]any{"foo": "bar"}, rec.Fields)

	s.Require().NoError(s.store.Update(ctx, "apples", storage.Record{ID: 1, Fields: map[string]any{"foo": "baz"}}))
	rec, err = s.store.LoadByID(ctx, "apples", int64(1))
	s.Require().NoError(err)
	s.Equal("baz", rec.Fields["foo"])

	s.Require().NoError(s.store.Delete(ctx, "apples", 1))
	_, err = s.store.LoadByID(ctx, "apples", 1)
	s.ErrorIs(err, constants.ErrNotFound)
	s.ErrorIs(s.store.Delete(ctx, "apples", 1), constants.ErrNotFound)
	s.ErrorIs(s.store.Update(ctx, "apples", storage.Record{ID: 1}), constants.ErrNotFound)
}

func (s *StoreTestSuite) TestGeneratedID() {
	ctx := context.Background()
	id, err := s.store.Insert(ctx, "trees", storage.Record{Fields: map[string]any{"name": "oak"}})
	s.Require().NoError(err)
	s.IsType("", id)
	s.NotEmpty(id)

	rec, err := s.store.LoadByID(ctx, "trees", id)
	s.Require().NoError(err)
	s.Equal("oak", rec.Fields["name"])
}

func (s *StoreTestSuite) TestReferencesRoundTrip() {
	ctx := context.Background()
	ref := models.NewRecordID("apples", 7)
	_, err := s.store.Insert(ctx, "trees", storage.Record{ID: "t1", Fields: map[string]any{"apples": []any{ref}}})
	s.Require().NoError(err)

	rec, err := s.store.LoadByID(ctx, "trees", "t1")
	s.Require().NoError(err)
	s.Equal([]any{ref}, rec.Fields["apples"])
}

func (s *StoreTestSuite) TestLoadByIDs() {
	ctx := context.Background()
	for _, id := range []any{1, 2, 3} {
		_, err := s.store.Insert(ctx, "apples", storage.Record{ID: id, Fields: map[string]any{"n": id}})
		s.Require().NoError(err)
	}

	recs, err := s.store.LoadByIDs(ctx, "apples", []any{3, 9, 1})
	s.Require().NoError(err)
	s.Require().Len(recs, 3)
	s.Equal(int64(3), recs[0].ID)
	s.Nil(recs[1])
	s.Equal(int64(1), recs[2].ID)
	s.Equal(1, s.server.Calls("query"))

	recs, err = s.store.LoadByIDs(ctx, "apples", nil)
	s.Require().NoError(err)
	s.Empty(recs)
}

func (s *StoreTestSuite) TestQuery() {
	ctx := context.Background()
	for i, name := range []string{"apple", "pear", "plum", "fig"} {
		_, err := s.store.Insert(ctx, "fruit", storage.Record{ID: i + 1, Fields: map[string]any{"name": name, "weight": 10 * (i + 1)}})
		s.Require().NoError(err)
	}

	recs, err := s.store.Query(ctx, "fruit", storage.Filter{
		Conditions: []storage.Condition{{Field: "name", Op: storage.OpNe, Value: "fig"}},
		Sort:       []storage.SortKey{{Field: "weight", Descending: true}},
		Limit:      2,
		Offset:     1,
	})
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal("pear", recs[0].Fields["name"])
	s.Equal("apple", recs[1].Fields["name"])

	recs, err = s.store.Query(ctx, "fruit", storage.Filter{
		Conditions: []storage.Condition{{Field: "id", Op: storage.OpIn, Value: []any{2, 4}}},
	})
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal(int64(2), recs[0].ID)
	s.Equal(int64(4), recs[1].ID)

	recs, err = s.store.Query(ctx, "missing", storage.Filter{})
	s.Require().NoError(err)
	s.Empty(recs)
}

func (s *StoreTestSuite) TestNotComparableID() {
	_, err := s.store.LoadByID(context.Background(), "apples", []any{1})
	s.ErrorIs(err, constants.ErrNotComparableID)
}

func TestBuildQuery(t *testing.T) {
	sql, vars, err := BuildQuery("fruit", storage.Filter{
		Conditions: []storage.Condition{
			{Field: "name", Op: storage.OpEq, Value: "apple"},
			{Field: "id", Op: storage.OpIn, Value: []any{1, "x"}},
		},
		Sort:   []storage.SortKey{{Field: "weight", Descending: true}, {Field: "meta.rank"}},
		Limit:  5,
		Offset: 10,
	})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT * FROM type::table($tb) WHERE name = $p0 AND id IN $p1 ORDER BY weight DESC, meta.rank ASC LIMIT 5 START 10",
		sql)
	assert.Equal(t, map[string]any{
		"tb": "fruit",
		"p0": "apple",
		"p1": []any{models.NewRecordID("fruit", 1), models.NewRecordID("fruit", "x")},
	}, vars)
}

func TestBuildQuery_rejectsInjection(t *testing.T) {
	_, _, err := BuildQuery("fruit", storage.Filter{
		Conditions: []storage.Condition{{Field: "name; DELETE fruit", Op: storage.OpEq, Value: 1}},
	})
	require.Error(t, err)

	_, _, err = BuildQuery("fruit", storage.Filter{Sort: []storage.SortKey{{Field: "1abc"}}})
	require.Error(t, err)
}

func TestOpen_badScheme(t *testing.T) {
	_, err := Open(context.Background(), "ftp://localhost", "ns", "db", nil)
	require.Error(t, err)
}
