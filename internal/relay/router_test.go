package relay_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"miovo-bridge/internal/relay"
	"miovo-bridge/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingEchoesRequestId(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	before := time.Now().UnixMilli()
	c.send(api.TypePing, "req-1", nil)

	msg := c.expect(api.TypePong)
	assert.Equal(t, "req-1", msg.RequestId)

	var pong api.PongResponse
	require.NoError(t, json.Unmarshal(msg.Data, &pong))
	assert.GreaterOrEqual(t, pong.Timestamp, before)
}

func TestUnknownTypeGetsOneError(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send("does-not-exist", "req-2", nil)
	msg := c.expect(api.TypeError)
	assert.Equal(t, "req-2", msg.RequestId)
	assert.Contains(t, msg.Error, "does-not-exist")

	c.send(api.TypePing, "req-3", nil)
	assert.Equal(t, "req-3", c.expect(api.TypePong).RequestId, "connection stays usable")
}

func TestMalformedJSONGetsErrorWithoutRequestId(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.sendRaw(`{"type": "ping", "requestId": "x"`)
	msg := c.expect(api.TypeError)
	assert.Empty(t, msg.RequestId)
	assert.NotEmpty(t, msg.Error)

	c.send(api.TypePing, "after", nil)
	assert.Equal(t, "after", c.expect(api.TypePong).RequestId)
}

func TestHandlerPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.router.Handle("explode", func(ctx context.Context, req *relay.Request) error {
		panic("boom")
	})
	c := h.dial(t)

	c.send("explode", "req-p", nil)
	msg := c.expect(api.TypeError)
	assert.Equal(t, "req-p", msg.RequestId)

	c.send(api.TypePing, "req-q", nil)
	assert.Equal(t, "req-q", c.expect(api.TypePong).RequestId)
}

func TestRepliesMayCompleteOutOfOrder(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.router.Handle("slow", func(ctx context.Context, req *relay.Request) error {
		<-release
		req.Reply("slow-done", nil)
		return nil
	})
	c := h.dial(t)

	c.send("slow", "first", nil)
	c.send(api.TypePing, "second", nil)

	assert.Equal(t, "second", c.expect(api.TypePong).RequestId)
	close(release)
	assert.Equal(t, "first", c.expect("slow-done").RequestId)
}

func TestPingsReplyInReceiptOrder(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	const n = 200
	for i := 0; i < n; i++ {
		c.send(api.TypePing, fmt.Sprintf("ping-%d", i), nil)
	}
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("ping-%d", i), c.expect(api.TypePong).RequestId)
	}
}

func TestTrainingStartedPrecedesLaterPing(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	for i := 0; i < 20; i++ {
		c.send(api.TypeStartTraining, fmt.Sprintf("train-%d", i), map[string]any{"modelName": "m", "epochs": 1000})
		c.send(api.TypePing, fmt.Sprintf("ping-%d", i), nil)
	}
	for i := 0; i < 20; i++ {
		started := c.expect(api.TypeTrainingStarted, api.TypePong, api.TypeTrainingProgress)
		for started.Type == api.TypeTrainingProgress {
			started = c.expect(api.TypeTrainingStarted, api.TypePong, api.TypeTrainingProgress)
		}
		require.Equal(t, api.TypeTrainingStarted, started.Type)
		require.Equal(t, fmt.Sprintf("train-%d", i), started.RequestId)

		pong := c.expect(api.TypePong, api.TypeTrainingProgress)
		for pong.Type == api.TypeTrainingProgress {
			pong = c.expect(api.TypePong, api.TypeTrainingProgress)
		}
		require.Equal(t, fmt.Sprintf("ping-%d", i), pong.RequestId)
	}
}

func TestListVoicesFallsBackToCatalog(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(api.TypeListVoices, "voices", nil)
	msg := c.expect(api.TypeVoicesResponse)
	assert.Equal(t, "voices", msg.RequestId)

	var res struct {
		Speakers []struct {
			Name string `json:"name"`
		} `json:"speakers"`
		Mock bool `json:"mock"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.True(t, res.Mock)
	assert.NotEmpty(t, res.Speakers)
}

func TestSynthesizeWithBackendDown(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(api.TypeSynthesize, "s1", map[string]any{"text": "こんにちは", "speaker_id": 3})
	msg := c.expect(api.TypeSynthesisResponse, api.TypeError)
	require.Equal(t, api.TypeSynthesisResponse, msg.Type, msg.Error)
	assert.Equal(t, "s1", msg.RequestId)

	var res api.SynthesisResponse
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.True(t, res.Mock)
	assert.Equal(t, 3, res.SpeakerId)
	assert.Equal(t, "こんにちは", res.Text)
	assert.True(t, strings.HasPrefix(res.Audio, "data:audio/wav;base64,"))
}

func TestSynthesizeRejectsInvalidData(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(api.TypeSynthesize, "bad", map[string]any{"text": 42})
	msg := c.expect(api.TypeError)
	assert.Equal(t, "bad", msg.RequestId)
	assert.Contains(t, msg.Error, "synthesize")
}

func TestStartTrainingNonPositiveEpochs(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	for _, epochs := range []int{0, -1} {
		c.send(api.TypeStartTraining, "t0", map[string]any{"modelName": "m", "epochs": epochs})
		msg := c.expect(api.TypeError, api.TypeTrainingStarted)
		assert.Equal(t, api.TypeError, msg.Type)
		assert.Equal(t, "t0", msg.RequestId)
	}
	assert.Equal(t, 0, h.runner.ActiveJobs())
}

func TestTrainingFlow(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(api.TypeStartTraining, "train", map[string]any{
		"modelName":       "mio",
		"trainingDataIds": []string{"whatever"},
		"epochs":          20,
	})

	started := c.expect(api.TypeTrainingStarted, api.TypeError)
	require.Equal(t, api.TypeTrainingStarted, started.Type, started.Error)
	assert.Equal(t, "train", started.RequestId)

	var job api.TrainingStartedResponse
	require.NoError(t, json.Unmarshal(started.Data, &job))
	assert.Equal(t, 20, job.TotalEpochs)

	var epochs []int
	for {
		msg := c.expect(api.TypeTrainingProgress, api.TypeTrainingComplete)
		assert.Empty(t, msg.RequestId)
		if msg.Type == api.TypeTrainingComplete {
			var done api.TrainingCompleteEvent
			require.NoError(t, json.Unmarshal(msg.Data, &done))
			assert.Equal(t, job.ModelId, done.ModelId)
			assert.Equal(t, "ready", done.Status)
			break
		}
		var progress api.TrainingProgressEvent
		require.NoError(t, json.Unmarshal(msg.Data, &progress))
		epochs = append(epochs, progress.CurrentEpoch)
	}
	assert.Equal(t, []int{10, 20}, epochs)
}

func TestUploadFlow(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	content := []byte("RIFF fake wav")
	c.send(api.TypeUploadTrainingData, "up", map[string]any{
		"fileName": "voice.wav",
		"fileData": base64.StdEncoding.EncodeToString(content),
		"fileSize": len(content),
	})

	msg := c.expect(api.TypeUploadResponse, api.TypeError)
	require.Equal(t, api.TypeUploadResponse, msg.Type, msg.Error)
	var upload api.UploadResponse
	require.NoError(t, json.Unmarshal(msg.Data, &upload))
	assert.Equal(t, "processing", upload.Status)
	assert.FileExists(t, upload.Path)

	done := c.expect(api.TypeProcessingComplete)
	assert.Empty(t, done.RequestId)
	var event api.ProcessingCompleteEvent
	require.NoError(t, json.Unmarshal(done.Data, &event))
	assert.Equal(t, upload.UploadId, event.UploadId)
	assert.Equal(t, "completed", event.Status)
}

func TestConvertVoiceBackendDown(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(api.TypeConvertVoice, "cv", map[string]any{"inputAudio": "AAAA", "modelId": "m"})
	msg := c.expect(api.TypeError, api.TypeConversionResponse)
	assert.Equal(t, api.TypeError, msg.Type)
	assert.Equal(t, "cv", msg.RequestId)

	var detail api.ErrorDetail
	require.NoError(t, json.Unmarshal(msg.Data, &detail))
	assert.Equal(t, "unreachable", detail.StatusText)
}

func TestRawBackendRequestMissingEndpoint(t *testing.T) {
	h := newHarness(t)
	c := h.dial(t)

	c.send(api.TypeRawBackendRequest, "raw", map[string]any{"method": "GET"})
	msg := c.expect(api.TypeError, api.TypePassthroughResp)
	assert.Equal(t, api.TypeError, msg.Type)
	assert.Equal(t, "raw", msg.RequestId)
	assert.Contains(t, msg.Error, "endpoint")
}
