// Package gorillaws is a WebSocket connection built on gorilla/websocket.
// Requests are multiplexed over one socket and matched to responses by id.
package gorillaws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/surrealdb/surrealodm/internal/codec"
	"github.com/surrealdb/surrealodm/pkg/connection"
	"github.com/surrealdb/surrealodm/pkg/constants"
	"github.com/surrealdb/surrealodm/pkg/logger"
)

// DefaultDialer is gorilla's default dialer with compression enabled and the
// cbor subprotocol requested.
var DefaultDialer = &gorilla.Dialer{
	Proxy:             gorilla.DefaultDialer.Proxy,
	HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
	Subprotocols:      []string{"cbor"},
}

type Connection struct {
	connection.Toolkit

	Conn *gorilla.Conn
	// connLock guards writes and the Conn pointer itself.
	connLock sync.Mutex

	// Timeout bounds the wait for a response after the request was written.
	// Zero leaves it to the caller's context.
	Timeout time.Duration

	logger logger.Logger

	connCloseCh    chan struct{}
	closeOnce      sync.Once
	connCloseError error
	closed         bool
}

var _ connection.Connection = (*Connection)(nil)

func New(p *connection.Config) *Connection {
	l := p.Logger
	if l == nil {
		l = logger.Nop()
	}
	return &Connection{
		Toolkit: connection.Toolkit{
			BaseURL:          p.BaseURL,
			Marshaler:        p.Marshaler,
			Unmarshaler:      p.Unmarshaler,
			ResponseChannels: make(map[string]chan connection.RPCResponse[cbor.RawMessage]),
		},
		Timeout: constants.DefaultWSTimeout,
		logger:  l,
	}
}

func (c *Connection) SetTimeOut(timeout time.Duration) *Connection {
	c.Timeout = timeout
	return c
}

func (c *Connection) Logger(l logger.Logger) *Connection {
	c.logger = l
	return c
}

// IsClosed reports whether the socket was closed, locally or by the peer.
func (c *Connection) IsClosed() bool {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	return c.closed
}

func (c *Connection) Connect(ctx context.Context) error {
	if err := c.PreConnectionChecks(); err != nil {
		return err
	}
	conn, res, err := DefaultDialer.DialContext(ctx, fmt.Sprintf("%s/rpc", c.BaseURL), nil)
	if err != nil {
		return err
	}
	if res != nil && res.Body != nil {
		res.Body.Close()
	}

	c.connLock.Lock()
	c.Conn = conn
	c.connCloseCh = make(chan struct{})
	c.connLock.Unlock()

	go c.readLoop(conn)
	return nil
}

// Close sends a close frame, bounded by ctx, and then closes the socket.
func (c *Connection) Close(ctx context.Context) error {
	c.connLock.Lock()
	if c.closed || c.Conn == nil {
		c.connLock.Unlock()
		return nil
	}
	conn := c.Conn
	c.Conn = nil
	c.closed = true
	c.connLock.Unlock()

	c.signalClosed(constants.ErrClosed)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err := conn.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	if err != nil {
		c.logger.Warn("failed to write close message", "error", err)
	}
	return conn.Close()
}

func (c *Connection) Use(ctx context.Context, namespace, database string) error {
	return connection.Send[any](ctx, c, nil, connection.Use, namespace, database)
}

func (c *Connection) GetUnmarshaler() codec.Unmarshaler {
	return c.Unmarshaler
}

// Send writes the request and waits for the matching response, for at most
// Timeout when it is set.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (*connection.RPCResponse[cbor.RawMessage], error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	c.connLock.Lock()
	closeCh := c.connCloseCh
	c.connLock.Unlock()
	if closeCh == nil {
		return nil, constants.ErrClosed
	}
	select {
	case <-closeCh:
		return nil, c.closeError()
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	id := connection.NewRequestID()
	request := &connection.RPCRequest{
		ID:     id,
		Method: method,
		Params: params,
	}

	responseChan, err := c.CreateResponseChannel(id)
	if err != nil {
		return nil, err
	}
	defer c.RemoveResponseChannel(id)

	if err := c.write(request); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", constants.ErrTimeout, method)
		}
		return nil, ctx.Err()
	case <-closeCh:
		return nil, c.closeError()
	case res := <-responseChan:
		if res.Error != nil {
			return nil, res.Error
		}
		return &res, nil
	}
}

func (c *Connection) write(v any) error {
	data, err := c.Marshaler.Marshal(v)
	if err != nil {
		return err
	}

	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.Conn == nil {
		return constants.ErrClosed
	}
	return c.Conn.WriteMessage(gorilla.BinaryMessage, data)
}

func (c *Connection) signalClosed(err error) {
	c.closeOnce.Do(func() {
		c.connLock.Lock()
		c.connCloseError = err
		c.closed = true
		ch := c.connCloseCh
		c.connLock.Unlock()
		if ch != nil {
			close(ch)
		}
	})
}

func (c *Connection) closeError() error {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.connCloseError == nil {
		return constants.ErrClosed
	}
	return c.connCloseError
}

func (c *Connection) readLoop(conn *gorilla.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, net.ErrClosed), gorilla.IsCloseError(err, gorilla.CloseNormalClosure):
				c.signalClosed(constants.ErrClosed)
			case gorilla.IsUnexpectedCloseError(err):
				c.signalClosed(io.ErrClosedPipe)
			default:
				c.logger.Error("websocket read failed", "error", err)
				c.signalClosed(err)
			}
			return
		}
		c.handleResponse(data)
	}
}

func (c *Connection) handleResponse(data []byte) {
	var res connection.RPCResponse[cbor.RawMessage]
	if err := c.Unmarshaler.Unmarshal(data, &res); err != nil {
		c.logger.Error("undecodable response", "error", err)
		return
	}
	if res.ID == nil || res.ID == "" {
		c.logger.Error("response without id", "error", res.Error)
		return
	}

	responseChan, ok := c.GetResponseChannel(fmt.Sprint(res.ID))
	if !ok {
		c.logger.Warn("no pending request for response", "id", fmt.Sprint(res.ID))
		return
	}
	responseChan <- res
}
