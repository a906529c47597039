package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Prober checks whether a backend answers a liveness GET.
type Prober struct {
	client  *resty.Client
	timeout time.Duration
}

func NewProber(timeout time.Duration) *Prober {
	return &Prober{
		client:  resty.New().SetTimeout(timeout).SetHeader("User-Agent", userAgent),
		timeout: timeout,
	}
}

// Probe reports whether url answered with a 2xx within the probe timeout.
// Every failure, including timeouts and refused connections, is false.
func (p *Prober) Probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		slog.Debug("backend probe failed", "url", url, "error", err)
		return false
	}
	if !res.IsSuccess() {
		slog.Debug("backend probe returned error status", "url", url, "status_code", res.StatusCode())
		return false
	}
	return true
}
