package connection

import (
	"context"
	"fmt"
)

// Send calls method and decodes the result into res. A nil res discards the
// result.
func Send[Result any](ctx context.Context, c Connection, res *RPCResponse[Result], method RPCFunction, params ...any) error {
	rawRes, err := c.Send(ctx, string(method), params...)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}

	res.ID = rawRes.ID
	res.Error = rawRes.Error
	if rawRes.Result == nil {
		res.Result = nil
		return nil
	}

	var r Result
	data, err := rawRes.Result.MarshalCBOR()
	if err != nil {
		return fmt.Errorf("send %s: marshal result: %w", method, err)
	}
	if err := c.GetUnmarshaler().Unmarshal(data, &r); err != nil {
		return fmt.Errorf("send %s: unmarshal result: %w", method, err)
	}
	res.Result = &r
	return nil
}
