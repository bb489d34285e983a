package logger

import (
	"fmt"

	"github.com/rs/zerolog"
)

const badKey = "!BADKEY"

type ZerologHandler struct {
	logger zerolog.Logger
}

func NewZerolog(l zerolog.Logger) *ZerologHandler {
	return &ZerologHandler{logger: l}
}

func (handler *ZerologHandler) Error(msg string, args ...any) {
	emit(handler.logger.Error(), msg, args)
}

func (handler *ZerologHandler) Warn(msg string, args ...any) {
	emit(handler.logger.Warn(), msg, args)
}

func (handler *ZerologHandler) Info(msg string, args ...any) {
	emit(handler.logger.Info(), msg, args)
}

func (handler *ZerologHandler) Debug(msg string, args ...any) {
	emit(handler.logger.Debug(), msg, args)
}

// emit pairs up args the way slog does; a key without a value, or a value in
// key position, is logged under !BADKEY.
func emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	for i := 0; i < len(args); i++ {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			e = field(e, badKey, args[i])
			continue
		}
		e = field(e, key, args[i+1])
		i++
	}
	e.Msg(msg)
}

func field(e *zerolog.Event, key string, val any) *zerolog.Event {
	switch v := val.(type) {
	case error:
		return e.AnErr(key, v)
	case fmt.Stringer:
		return e.Stringer(key, v)
	default:
		return e.Interface(key, v)
	}
}
