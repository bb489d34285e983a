// Package fakesdb provides a fake SurrealDB server for tests. It speaks the
// RPC protocol with CBOR payloads over both HTTP (POST /rpc) and WebSocket
// (GET /rpc), and keeps records in memory so that select, create, update,
// delete and the query shapes used by the SurrealDB storage backend behave
// like the real thing.
//
// Stub responses can override any method, optionally with injected failures.
package fakesdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/surrealdb/surrealodm/internal/codec"
	"github.com/surrealdb/surrealodm/pkg/connection"
	"github.com/surrealdb/surrealodm/pkg/models"
)

// FailureType is the kind of failure injected into a stubbed response.
type FailureType string

const (
	// FailureResponseDelay delays the response.
	FailureResponseDelay FailureType = "response_delay"
	// FailureInvalidResponse sends bytes that do not decode.
	FailureInvalidResponse FailureType = "invalid_response"
	// FailureDropConnection closes the connection without answering.
	FailureDropConnection FailureType = "drop_connection"
)

type FailureConfig struct {
	Type  FailureType
	Delay time.Duration
}

// RequestMatcher selects requests by method and, optionally, parameters.
type RequestMatcher struct {
	Method  string
	Matcher func(params []any) bool
}

// StubResponse answers matching requests with Result or Error.
type StubResponse struct {
	Matcher  RequestMatcher
	Result   any
	Error    *connection.RPCError
	Failures []FailureConfig
	// Times limits how often the stub matches; zero means always.
	Times int

	used int
}

func MatchMethod(method string) RequestMatcher {
	return RequestMatcher{Method: method}
}

func MatchMethodWithParams(method string, matcher func(params []any) bool) RequestMatcher {
	return RequestMatcher{Method: method, Matcher: matcher}
}

func SimpleStubResponse(method string, result any) StubResponse {
	return StubResponse{Matcher: MatchMethod(method), Result: result}
}

func ErrorStubResponse(method string, code int, message string) StubResponse {
	return StubResponse{
		Matcher: MatchMethod(method),
		Error:   &connection.RPCError{Code: code, Message: message},
	}
}

// Session is the namespace and database selected by "use" (WebSocket) or
// sent as headers (HTTP).
type Session struct {
	Namespace string
	Database  string
}

type Server struct {
	mu     sync.Mutex
	stubs  []*StubResponse
	tables map[string]*table
	calls  map[string]int

	marshaler   codec.Marshaler
	unmarshaler codec.Unmarshaler
	upgrader    gorilla.Upgrader
	http        *httptest.Server
}

func NewServer() *Server {
	return &Server{
		tables:      make(map[string]*table),
		calls:       make(map[string]int),
		marshaler:   models.CborMarshaler{},
		unmarshaler: models.CborUnmarshaler{},
		upgrader: gorilla.Upgrader{
			Subprotocols: []string{"cbor"},
		},
	}
}

// Start listens on a random local port.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rpc", s.serveRPC)
	s.http = httptest.NewServer(mux)
}

func (s *Server) Stop() {
	if s.http != nil {
		s.http.CloseClientConnections()
		s.http.Close()
	}
}

// HTTPURL is the base URL for the HTTP connection.
func (s *Server) HTTPURL() string {
	return s.http.URL
}

// WSURL is the base URL for the WebSocket connection.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, &stub)
}

func (s *Server) ClearStubs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = nil
}

// Calls returns how many requests for method were received.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if gorilla.IsWebSocketUpgrade(r) {
		s.serveWS(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	sess := &Session{
		Namespace: r.Header.Get("Surreal-NS"),
		Database:  r.Header.Get("Surreal-DB"),
	}
	res, failure := s.process(r.Context(), sess, body)
	if failure != nil {
		switch failure.Type {
		case FailureInvalidResponse:
			w.Header().Set("Content-Type", "application/cbor")
			_, _ = w.Write([]byte{0xff, 0xfe, 0x00})
			return
		case FailureDropConnection:
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
				}
			}
			return
		}
	}
	w.Header().Set("Content-Type", "application/cbor")
	_, _ = w.Write(res)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	sess := &Session{}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		res, failure := s.process(r.Context(), sess, data)
		if failure != nil {
			switch failure.Type {
			case FailureInvalidResponse:
				res = []byte{0xff, 0xfe, 0x00}
			case FailureDropConnection:
				return
			}
		}
		writeMu.Lock()
		err = conn.WriteMessage(gorilla.BinaryMessage, res)
		writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// process decodes one request and returns the encoded response, plus the
// failure to apply when a stub asked for one.
func (s *Server) process(ctx context.Context, sess *Session, data []byte) ([]byte, *FailureConfig) {
	var raw map[string]any
	if err := s.unmarshaler.Unmarshal(data, &raw); err != nil {
		return s.encodeError(nil, -32700, "Parse error"), nil
	}
	id := raw["id"]
	method, _ := raw["method"].(string)
	params, _ := raw["params"].([]any)

	s.mu.Lock()
	s.calls[method]++
	stub := s.matchStub(method, params)
	s.mu.Unlock()

	if stub != nil {
		var failure *FailureConfig
		for i := range stub.Failures {
			f := stub.Failures[i]
			if f.Type == FailureResponseDelay {
				select {
				case <-time.After(f.Delay):
				case <-ctx.Done():
				}
				continue
			}
			failure = &f
		}
		if stub.Error != nil {
			return s.encodeError(id, stub.Error.Code, stub.Error.Message), failure
		}
		return s.encodeResult(id, stub.Result), failure
	}

	if method == string(connection.Use) {
		if len(params) == 2 {
			sess.Namespace, _ = params[0].(string)
			sess.Database, _ = params[1].(string)
		}
		return s.encodeResult(id, nil), nil
	}
	if sess.Namespace == "" || sess.Database == "" {
		return s.encodeError(id, -32000, "There was a problem with the database: Specify a namespace and database"), nil
	}

	result, rpcErr := s.dispatch(sess, method, params)
	if rpcErr != nil {
		return s.encodeError(id, rpcErr.Code, rpcErr.Message), nil
	}
	return s.encodeResult(id, result), nil
}

func (s *Server) matchStub(method string, params []any) *StubResponse {
	for _, stub := range s.stubs {
		if stub.Matcher.Method != method {
			continue
		}
		if stub.Matcher.Matcher != nil && !stub.Matcher.Matcher(params) {
			continue
		}
		if stub.Times > 0 && stub.used >= stub.Times {
			continue
		}
		stub.used++
		return stub
	}
	return nil
}

func (s *Server) encodeResult(id, result any) []byte {
	data, err := s.marshaler.Marshal(connection.RPCResponse[any]{ID: id, Result: &result})
	if err != nil {
		return s.encodeError(id, -32603, err.Error())
	}
	return data
}

func (s *Server) encodeError(id any, code int, message string) []byte {
	data, err := s.marshaler.Marshal(connection.RPCResponse[any]{
		ID:    id,
		Error: &connection.RPCError{Code: code, Message: message},
	})
	if err != nil {
		panic(fmt.Sprintf("fakesdb: encode error response: %v", err))
	}
	return data
}
