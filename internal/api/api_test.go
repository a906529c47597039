package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bridge "miovo-bridge/internal/api"
	"miovo-bridge/internal/backend"
	"miovo-bridge/internal/database"
	"miovo-bridge/internal/metrics"
	"miovo-bridge/internal/relay"
	"miovo-bridge/internal/storage"
	"miovo-bridge/pkg/api"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conversionURL = "http://127.0.0.1:1"

func startBridge(t *testing.T, synthesisURL string) (*httptest.Server, *relay.Hub) {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	m := metrics.NewMetrics()
	synthesis := backend.NewSynthesisGateway(synthesisURL, time.Second, time.Second, m)
	conversion := backend.NewConversionGateway(conversionURL, time.Second, db, store, time.Second, m)
	runner := backend.NewTrainingRunner(db, store, backend.TrainingOptions{}, m)

	registry := relay.NewRegistry(m)
	router := relay.NewRouter(context.Background(), synthesis, conversion, runner, m)
	broadcaster := relay.NewBroadcaster(registry, backend.NewProber(500*time.Millisecond), relay.BroadcasterConfig{
		Interval:        time.Hour,
		SynthesisProbe:  relay.ProbeURL(synthesisURL, "/version"),
		ConversionProbe: relay.ProbeURL(conversionURL, "/health"),
	})
	hub := relay.NewHub(registry, router, broadcaster, []string{"*"}, m)

	service := bridge.NewBridgeService(hub, broadcaster, m, bridge.BridgeInfo{
		Version:       "1.2.3",
		SynthesisURL:  synthesisURL,
		ConversionURL: conversionURL,
	})
	server := httptest.NewServer(bridge.NewRouter(service, []string{"*"}))

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

	return server, hub
}

func fakeEngine(t *testing.T) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/version":
			w.Write([]byte(`"0.14.0"`))
		case "/speakers":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"name":"engine","styles":[{"id":7}]}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, msgType string) map[string]json.RawMessage {
	t.Helper()
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&msg))

		var typ string
		require.NoError(t, json.Unmarshal(msg["type"], &typ))
		if typ == msgType {
			return msg
		}
	}
}

func getHealth(t *testing.T, server *httptest.Server) api.HealthResponse {
	t.Helper()
	res, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	return health
}

func TestHealth(t *testing.T) {
	engine := fakeEngine(t)
	server, _ := startBridge(t, engine.URL)

	health := getHealth(t, server)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, api.BackendHealth{URL: engine.URL, Status: "up"}, health.Backends.Synthesis)
	assert.Equal(t, api.BackendHealth{URL: conversionURL, Status: "down"}, health.Backends.Conversion)
	assert.Equal(t, 0, health.Connections)
}

func TestHealthUnavailableDuringShutdown(t *testing.T) {
	engine := fakeEngine(t)
	server, hub := startBridge(t, engine.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	hub.Shutdown(ctx)

	res, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "shutting down")
}

func TestHealthCountsConnections(t *testing.T) {
	engine := fakeEngine(t)
	server, hub := startBridge(t, engine.URL)

	dial(t, server, "/ws")
	conn := dial(t, server, "/")
	readType(t, conn, api.TypeConnected)

	require.Eventually(t, func() bool { return hub.Registry().Count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, getHealth(t, server).Connections)
}

func TestWebsocketRoundTrip(t *testing.T) {
	engine := fakeEngine(t)
	server, _ := startBridge(t, engine.URL)
	conn := dial(t, server, "/ws")

	readType(t, conn, api.TypeConnected)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "list-voices", "requestId": "v1"}))

	// The status push triggered by connecting races the reply.
	seen := make(map[string]map[string]json.RawMessage)
	for seen[api.TypeVoicesResponse] == nil || seen[api.TypeServiceStatus] == nil {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&msg))
		var typ string
		require.NoError(t, json.Unmarshal(msg["type"], &typ))
		seen[typ] = msg
	}

	msg := seen[api.TypeVoicesResponse]
	assert.JSONEq(t, `"v1"`, string(msg["requestId"]))

	var voices api.VoicesResponse
	require.NoError(t, json.Unmarshal(msg["data"], &voices))
	assert.False(t, voices.Mock)
	assert.JSONEq(t, `[{"name":"engine","styles":[{"id":7}]}]`, string(voices.Speakers))

	var snapshot api.ServiceStatus
	require.NoError(t, json.Unmarshal(seen[api.TypeServiceStatus]["data"], &snapshot))
	assert.True(t, snapshot.SynthesisBackendUp)
	assert.False(t, snapshot.ConversionBackendUp)
}

func TestMetricsEndpoint(t *testing.T) {
	engine := fakeEngine(t)
	server, _ := startBridge(t, engine.URL)
	conn := dial(t, server, "/ws")

	readType(t, conn, api.TypeConnected)
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "requestId": "p"}))
	readType(t, conn, api.TypePong)

	require.Eventually(t, func() bool {
		res, err := http.Get(server.URL + "/metrics")
		if err != nil {
			return false
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		return strings.Contains(string(body), `miovo_bridge_messages_total{result="ok",type="ping"} 1`) &&
			strings.Contains(string(body), "miovo_bridge_connections 1")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCORSPreflight(t *testing.T) {
	engine := fakeEngine(t)
	server, _ := startBridge(t, engine.URL)

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}
