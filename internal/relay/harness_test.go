package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"miovo-bridge/internal/backend"
	"miovo-bridge/internal/database"
	"miovo-bridge/internal/relay"
	"miovo-bridge/internal/storage"
	"miovo-bridge/pkg/api"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	up map[string]bool
}

func (p *stubProber) Probe(ctx context.Context, url string) bool {
	return p.up[url]
}

type harness struct {
	hub         *relay.Hub
	router      *relay.Router
	registry    *relay.Registry
	broadcaster *relay.Broadcaster
	runner      *backend.TrainingRunner
	server      *httptest.Server
}

// newHarness wires a hub whose backends are all unreachable, so synthesis
// and catalog requests take their fallback paths.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithInterval(t, time.Hour)
}

func newHarnessWithInterval(t *testing.T, interval time.Duration) *harness {
	t.Helper()

	down := httptest.NewServer(http.NotFoundHandler())
	deadURL := down.URL
	down.Close()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	synthesis := backend.NewSynthesisGateway(deadURL, time.Second, time.Second, nil)
	conversion := backend.NewConversionGateway(deadURL, time.Second, db, store, 20*time.Millisecond, nil)
	runner := backend.NewTrainingRunner(db, store, backend.TrainingOptions{Tick: 20 * time.Millisecond, EpochStep: 10}, nil)

	registry := relay.NewRegistry(nil)
	router := relay.NewRouter(context.Background(), synthesis, conversion, runner, nil)
	broadcaster := relay.NewBroadcaster(registry, &stubProber{up: map[string]bool{"synthesis": true}}, relay.BroadcasterConfig{
		Interval:        interval,
		SynthesisProbe:  "synthesis",
		ConversionProbe: "conversion",
	})
	hub := relay.NewHub(registry, router, broadcaster, []string{"*"}, nil)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))

	h := &harness{hub: hub, router: router, registry: registry, broadcaster: broadcaster, runner: runner, server: server}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
		server.Close()
		runner.Shutdown()
		router.Wait()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return h
}

type wireMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	RequestId string          `json:"requestId"`
	Error     string          `json:"error"`
}

type client struct {
	t        *testing.T
	conn     *websocket.Conn
	clientId string
}

// dial connects a client and consumes its connected greeting.
func (h *harness) dial(t *testing.T) *client {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn}
	greeting := c.expect(api.TypeConnected)

	var connected api.ConnectedEvent
	require.NoError(t, json.Unmarshal(greeting.Data, &connected))
	require.NotEmpty(t, connected.ClientId)
	c.clientId = connected.ClientId

	return c
}

func (c *client) send(msgType, requestId string, data any) {
	c.t.Helper()
	msg := map[string]any{"type": msgType}
	if requestId != "" {
		msg["requestId"] = requestId
	}
	if data != nil {
		msg["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

func (c *client) sendRaw(data string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

func (c *client) read() (wireMessage, error) {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wireMessage
	err := c.conn.ReadJSON(&msg)
	return msg, err
}

// expect reads until a message of one of types arrives. Status broadcasts
// are skipped unless asked for.
func (c *client) expect(types ...string) wireMessage {
	c.t.Helper()
	for {
		msg, err := c.read()
		require.NoError(c.t, err)
		for _, typ := range types {
			if msg.Type == typ {
				return msg
			}
		}
		if msg.Type == api.TypeServiceStatus {
			continue
		}
		c.t.Fatalf("unexpected message %s (%s) while waiting for %v", msg.Type, string(msg.Data), types)
	}
}
