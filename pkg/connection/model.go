package connection

import (
	"errors"
	"fmt"
)

// RPCError is the error member of an RPC response.
type RPCError struct {
	Code        int    `json:"code"`
	Message     string `json:"message,omitempty"`
	Description string `json:"description,omitempty"`
}

func (r *RPCError) Error() string {
	if r.Description != "" {
		return r.Description
	}
	if r.Message != "" {
		return r.Message
	}
	return fmt.Sprintf("rpc error %d", r.Code)
}

func (r *RPCError) Is(target error) bool {
	var other *RPCError
	return errors.As(target, &other)
}

type RPCRequest struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
}

type RPCResponse[T any] struct {
	// ID echoes the request id. HTTP responses may leave it empty.
	ID     any       `json:"id"`
	Error  *RPCError `json:"error,omitempty"`
	Result *T        `json:"result,omitempty"`
}

type RPCFunction string

const (
	Use    RPCFunction = "use"
	Query  RPCFunction = "query"
	Select RPCFunction = "select"
	Create RPCFunction = "create"
	Update RPCFunction = "update"
	Delete RPCFunction = "delete"
)

// QueryResult is one statement result of a query call.
type QueryResult[T any] struct {
	Status string `json:"status"`
	Time   string `json:"time"`
	Result T      `json:"result"`
}
