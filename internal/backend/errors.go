package backend

import (
	"errors"
	"fmt"

	"miovo-bridge/pkg/api"
)

// ErrInvalidRequest marks caller errors: the request is rejected before any
// backend call is made.
var ErrInvalidRequest = errors.New("invalid request")

func InvalidRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// BackendError is a failed call to a backend service. It carries the
// backend's status text and raw error body when the backend answered.
type BackendError struct {
	Backend    string
	Status     int
	StatusText string
	Body       string
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s backend request failed: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("%s backend request failed: %s", e.Backend, e.StatusText)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func (e *BackendError) Detail() api.ErrorDetail {
	return api.ErrorDetail{Status: e.Status, StatusText: e.StatusText, Body: e.Body}
}

// Notify delivers an unsolicited push to the client that started the work.
type Notify func(msg api.Message)
