package relay_test

import (
	"encoding/json"
	"testing"
	"time"

	"miovo-bridge/internal/relay"
	"miovo-bridge/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:50021/version", relay.ProbeURL("http://127.0.0.1:50021", "/version"))
	assert.Equal(t, "http://rvc:8001/health", relay.ProbeURL("http://rvc:8001/", "health"))
	assert.Equal(t, "http://127.0.0.1:50021", relay.ProbeURL("http://127.0.0.1:50021", ""))
}

// countStatus reads until n status broadcasts have arrived on c.
func countStatus(t *testing.T, c *client, n int) {
	t.Helper()
	for seen := 0; seen < n; {
		msg, err := c.read()
		require.NoError(t, err)
		if msg.Type != api.TypeServiceStatus {
			continue
		}
		assert.Empty(t, msg.RequestId)

		var status api.ServiceStatus
		require.NoError(t, json.Unmarshal(msg.Data, &status))
		assert.True(t, status.SynthesisBackendUp)
		assert.False(t, status.ConversionBackendUp)
		seen++
	}
}

func TestPeriodicStatusSurvivesClientLeaving(t *testing.T) {
	h := newHarnessWithInterval(t, time.Second)
	require.NoError(t, h.broadcaster.Start())

	stays := h.dial(t)
	leaves := h.dial(t)

	// One push per connect, then at least one scheduled tick for each.
	countStatus(t, stays, 3)
	countStatus(t, leaves, 2)

	require.NoError(t, leaves.conn.Close())
	require.Eventually(t, func() bool { return h.registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	countStatus(t, stays, 2)

	stays.send(api.TypePing, "after", nil)
	assert.Equal(t, "after", stays.expect(api.TypePong).RequestId)
}

func TestBroadcasterStopHaltsSchedule(t *testing.T) {
	h := newHarnessWithInterval(t, time.Second)
	require.NoError(t, h.broadcaster.Start())

	c := h.dial(t)
	countStatus(t, c, 2)

	h.broadcaster.Stop()
	h.broadcaster.Stop()

	// Pushes queued before Stop returned arrive ahead of this pong.
	c.send(api.TypePing, "quiet", nil)
	assert.Equal(t, "quiet", c.expect(api.TypePong).RequestId)

	c.conn.SetReadDeadline(time.Now().Add(2500 * time.Millisecond))
	var next wireMessage
	assert.Error(t, c.conn.ReadJSON(&next), "no status pushes after Stop")
}
