// Package connection implements the SurrealDB RPC protocol over HTTP and
// WebSocket with CBOR payloads. The storage backend in
// [github.com/surrealdb/surrealodm/pkg/storage/surrealstore] is its only
// consumer.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/uuid"

	"github.com/surrealdb/surrealodm/internal/codec"
	"github.com/surrealdb/surrealodm/pkg/constants"
)

type Connection interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	// Send returns the raw response; an RPC error is returned as *RPCError.
	Send(ctx context.Context, method string, params ...any) (*RPCResponse[cbor.RawMessage], error)
	Use(ctx context.Context, namespace, database string) error
	GetUnmarshaler() codec.Unmarshaler
}

// NewRequestID returns a fresh id for an RPC request.
func NewRequestID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// Toolkit holds what every connection implementation needs: the codec and
// the pending-response bookkeeping for multiplexed transports.
type Toolkit struct {
	BaseURL     string
	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	ResponseChannels     map[string]chan RPCResponse[cbor.RawMessage]
	ResponseChannelsLock sync.RWMutex
}

func (tk *Toolkit) CreateResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], error) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()

	if tk.ResponseChannels == nil {
		tk.ResponseChannels = make(map[string]chan RPCResponse[cbor.RawMessage])
	}
	if _, ok := tk.ResponseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}

	ch := make(chan RPCResponse[cbor.RawMessage], 1)
	tk.ResponseChannels[id] = ch
	return ch, nil
}

func (tk *Toolkit) GetResponseChannel(id string) (chan RPCResponse[cbor.RawMessage], bool) {
	tk.ResponseChannelsLock.RLock()
	defer tk.ResponseChannelsLock.RUnlock()
	ch, ok := tk.ResponseChannels[id]
	return ch, ok
}

func (tk *Toolkit) RemoveResponseChannel(id string) {
	tk.ResponseChannelsLock.Lock()
	defer tk.ResponseChannelsLock.Unlock()
	delete(tk.ResponseChannels, id)
}

func (tk *Toolkit) PreConnectionChecks() error {
	if tk.BaseURL == "" {
		return constants.ErrNoBaseURL
	}
	if tk.Marshaler == nil {
		return constants.ErrNoMarshaler
	}
	if tk.Unmarshaler == nil {
		return constants.ErrNoUnmarshaler
	}
	return nil
}
