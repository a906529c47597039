package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"miovo-bridge/internal/backend"
	"miovo-bridge/pkg/api"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type Prober interface {
	Probe(ctx context.Context, url string) bool
}

type BroadcasterConfig struct {
	Interval        time.Duration
	SynthesisProbe  string
	ConversionProbe string
}

// Broadcaster probes both backends on a fixed interval and pushes the
// resulting service-status to every session.
type Broadcaster struct {
	registry *Registry
	prober   Prober
	cfg      BroadcasterConfig
	cron     *cron.Cron

	mu      sync.Mutex
	latest  api.ServiceStatus
	running bool
}

func NewBroadcaster(registry *Registry, prober Prober, cfg BroadcasterConfig) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		prober:   prober,
		cfg:      cfg,
		cron:     cron.New(),
	}
}

// ProbeURL joins a backend base URL with its liveness path. The synthesis
// engine serves no route at its bare base URL, so it is probed at /version
// by default; an empty path probes the base URL itself.
func ProbeURL(baseURL, path string) string {
	if path == "" {
		return baseURL
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	schedule := fmt.Sprintf("@every %s", b.cfg.Interval)
	if _, err := b.cron.AddFunc(schedule, b.tick); err != nil {
		return fmt.Errorf("failed to schedule status broadcast %q: %w", schedule, err)
	}

	b.cron.Start()
	b.running = true
	slog.Info("status broadcaster started", "interval", b.cfg.Interval)

	return nil
}

// Stop halts the schedule and waits for a running tick to finish.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	running := b.running
	b.running = false
	b.mu.Unlock()

	if running {
		<-b.cron.Stop().Done()
		slog.Info("status broadcaster stopped")
	}
}

func (b *Broadcaster) Trigger() {
	go b.tick()
}

// Latest returns the most recent snapshot. ObservedAt is zero until the
// first tick completes.
func (b *Broadcaster) Latest() api.ServiceStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// Poll probes both backends concurrently and returns the combined status.
func (b *Broadcaster) Poll(ctx context.Context) api.ServiceStatus {
	var synthesisUp, conversionUp bool

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		synthesisUp = b.prober.Probe(ctx, b.cfg.SynthesisProbe)
		return nil
	})
	g.Go(func() error {
		conversionUp = b.prober.Probe(ctx, b.cfg.ConversionProbe)
		return nil
	})
	_ = g.Wait()

	status := api.ServiceStatus{
		SynthesisBackendUp:  synthesisUp,
		ConversionBackendUp: conversionUp,
		ObservedAt:          time.Now().UTC(),
	}

	b.mu.Lock()
	if status.ObservedAt.After(b.latest.ObservedAt) {
		b.latest = status
	}
	b.mu.Unlock()

	return status
}

func (b *Broadcaster) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in status broadcast", "panic", rec)
		}
	}()

	status := b.Poll(context.Background())
	delivered := b.registry.Broadcast(api.Message{Type: api.TypeServiceStatus, Data: status})

	slog.Debug("broadcast service status",
		"synthesis_up", status.SynthesisBackendUp,
		"conversion_up", status.ConversionBackendUp,
		"delivered", delivered,
	)
}

var _ Prober = (*backend.Prober)(nil)
