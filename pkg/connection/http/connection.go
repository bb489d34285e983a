// Package http is a connection that posts every RPC call to /rpc. Session
// state (namespace, database) travels as request headers.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/surrealdb/surrealodm/internal/codec"
	"github.com/surrealdb/surrealodm/pkg/connection"
	"github.com/surrealdb/surrealodm/pkg/constants"
)

type Connection struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	httpClient *http.Client
	variables  sync.Map
}

var _ connection.Connection = (*Connection)(nil)

func New(p *connection.Config) *Connection {
	return &Connection{
		Marshaler:   p.Marshaler,
		Unmarshaler: p.Unmarshaler,
		BaseURL:     p.BaseURL,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeout,
		},
	}
}

// Connect checks that the server answers on /health.
func (c *Connection) Connect(ctx context.Context) error {
	if c.BaseURL == "" {
		return constants.ErrNoBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", http.NoBody)
	if err != nil {
		return err
	}
	_, err = c.MakeRequest(req)
	return err
}

func (c *Connection) Close(ctx context.Context) error {
	return nil
}

func (c *Connection) SetTimeout(timeout time.Duration) *Connection {
	c.httpClient.Timeout = timeout
	return c
}

func (c *Connection) SetHTTPClient(client *http.Client) *Connection {
	c.httpClient = client
	return c
}

func (c *Connection) GetUnmarshaler() codec.Unmarshaler {
	return c.Unmarshaler
}

func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.BaseURL == "" {
		return nil, constants.ErrNoBaseURL
	}

	request := &connection.RPCRequest{
		ID:     connection.NewRequestID(),
		Method: method,
		Params: params,
	}
	reqBody, err := c.Marshaler.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/rpc", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/cbor")
	req.Header.Set("Content-Type", "application/cbor")

	namespace, nsOK := c.variables.Load("namespace")
	database, dbOK := c.variables.Load("database")
	if !nsOK || !dbOK {
		return nil, constants.ErrNoNamespaceOrDB
	}
	req.Header.Set("Surreal-NS", namespace.(string))
	req.Header.Set("Surreal-DB", database.(string))

	respData, err := c.MakeRequest(req)
	if err != nil {
		return nil, err
	}

	var res connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(respData, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", constants.InvalidResponse, err)
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &res, nil
}

func (c *Connection) MakeRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBytes, nil
	}

	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if contentType != "application/cbor" {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBytes))
	}
	var errorResponse connection.RPCResponse[any]
	if err := c.Unmarshaler.Unmarshal(respBytes, &errorResponse); err != nil || errorResponse.Error == nil {
		return nil, fmt.Errorf("%w: http %d", constants.InvalidResponse, resp.StatusCode)
	}
	return nil, errorResponse.Error
}

func (c *Connection) Use(ctx context.Context, namespace, database string) error {
	c.variables.Store("namespace", namespace)
	c.variables.Store("database", database)
	return nil
}
