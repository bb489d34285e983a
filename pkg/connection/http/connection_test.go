package http_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealodm/internal/fakesdb"
	"github.com/surrealdb/surrealodm/pkg/connection"
	"github.com/surrealdb/surrealodm/pkg/connection/http"
	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/models"
)

func newConnection(t *testing.T, rawURL string) *http.Connection {
	t.Helper()
	u, err := url.ParseRequestURI(rawURL)
	require.NoError(t, err)
	return http.New(connection.NewConfig(u))
}

func TestConnection_RequiresNamespace(t *testing.T) {
	s := fakesdb.NewServer()
	s.Start()
	defer s.Stop()

	conn := newConnection(t, s.HTTPURL())
	require.NoError(t, conn.Connect(context.Background()))

	_, err := conn.Send(context.Background(), string(connection.Select), models.Table("x"))
	assert.ErrorIs(t, err, constants.ErrNoNamespaceOrDB)

	require.NoError(t, conn.Use(context.Background(), "ns", "db"))
	res, err := conn.Send(context.Background(), string(connection.Select), models.Table("x"))
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestConnection_InvalidResponse(t *testing.T) {
	s := fakesdb.NewServer()
	s.Start()
	defer s.Stop()
	s.AddStubResponse(fakesdb.StubResponse{
		Matcher:  fakesdb.MatchMethod("select"),
		Failures: []fakesdb.FailureConfig{{Type: fakesdb.FailureInvalidResponse}},
	})

	conn := newConnection(t, s.HTTPURL())
	require.NoError(t, conn.Use(context.Background(), "ns", "db"))
	_, err := conn.Send(context.Background(), string(connection.Select), models.Table("x"))
	assert.ErrorIs(t, err, constants.InvalidResponse)
}

func TestConnection_NoBaseURL(t *testing.T) {
	conn := http.New(&connection.Config{Marshaler: models.CborMarshaler{}, Unmarshaler: models.CborUnmarshaler{}})
	assert.ErrorIs(t, conn.Connect(context.Background()), constants.ErrNoBaseURL)
}
