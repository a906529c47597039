package relay

import (
	"errors"
	"fmt"
	"log/slog"

	"miovo-bridge/internal/backend"
	"miovo-bridge/pkg/api"
)

// codedError marks a request the client got wrong. It is logged as a
// rejection rather than a server failure.
type codedError struct {
	err error
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedErrorf(format string, args ...any) error {
	return &codedError{err: fmt.Errorf(format, args...)}
}

// errorReply shapes err into the error message sent back for requestId.
func errorReply(msgType, requestId string, err error) api.Message {
	msg := api.Message{Type: api.TypeError, RequestId: requestId, Error: err.Error()}

	var cerr *codedError
	var berr *backend.BackendError
	switch {
	case errors.As(err, &berr):
		msg.Data = berr.Detail()
		slog.Error("backend request failed", "type", msgType, "request_id", requestId, "error", err)
	case errors.As(err, &cerr), errors.Is(err, backend.ErrInvalidRequest):
		slog.Warn("request rejected", "type", msgType, "request_id", requestId, "error", err)
	default:
		slog.Error("error handling request", "type", msgType, "request_id", requestId, "error", err)
	}

	return msg
}
