package backend

import (
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	synthesisBackend  = "synthesis"
	conversionBackend = "conversion"

	userAgent = "miovo-bridge"
)

func newBackendClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
}

// backendFailure converts a resty result into a BackendError, or nil if the
// call succeeded.
func backendFailure(backend string, res *resty.Response, err error) *BackendError {
	if err != nil {
		return &BackendError{Backend: backend, StatusText: "unreachable", Err: err}
	}
	if !res.IsSuccess() {
		return &BackendError{
			Backend:    backend,
			Status:     res.StatusCode(),
			StatusText: res.Status(),
			Body:       res.String(),
		}
	}
	return nil
}

func resultLabel(failure *BackendError) string {
	if failure != nil {
		return "error"
	}
	return "ok"
}
