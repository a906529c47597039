package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"miovo-bridge/internal/metrics"
	"miovo-bridge/pkg/api"

	"github.com/go-resty/resty/v2"
)

const DefaultSpeakerId = 1

// SynthesisGateway talks to the speech-synthesis engine. Catalog and
// synthesis lookups fall back to built-in data when the engine fails;
// passthrough requests surface the failure to the caller.
type SynthesisGateway struct {
	client             *resty.Client
	passthroughTimeout time.Duration
	metrics            *metrics.Metrics
}

func NewSynthesisGateway(baseURL string, timeout, passthroughTimeout time.Duration, m *metrics.Metrics) *SynthesisGateway {
	return &SynthesisGateway{
		client:             newBackendClient(baseURL, timeout),
		passthroughTimeout: passthroughTimeout,
		metrics:            m,
	}
}

func (g *SynthesisGateway) observe(operation string, start time.Time, failure *BackendError) {
	g.metrics.ObserveBackend(synthesisBackend, operation, resultLabel(failure), time.Since(start).Seconds())
}

// Speakers returns the engine's speaker catalog verbatim, or the built-in
// catalog with mock=true if the engine is unavailable.
func (g *SynthesisGateway) Speakers(ctx context.Context) api.VoicesResponse {
	start := time.Now()
	res, err := g.client.R().SetContext(ctx).Get("/speakers")
	failure := backendFailure(synthesisBackend, res, err)
	if failure == nil && !json.Valid(res.Body()) {
		failure = &BackendError{Backend: synthesisBackend, Status: res.StatusCode(), StatusText: "invalid speaker catalog", Body: res.String()}
	}
	g.observe("speakers", start, failure)

	if failure != nil {
		slog.Warn("using fallback speaker catalog", "error", failure)
		return api.VoicesResponse{Speakers: fallbackSpeakers, Mock: true}
	}

	return api.VoicesResponse{Speakers: json.RawMessage(res.Body()), Mock: false}
}

func (g *SynthesisGateway) Synthesize(ctx context.Context, req api.SynthesizeRequest) (api.SynthesisResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return api.SynthesisResponse{}, InvalidRequestf("text is required")
	}
	if err := ValidateSynthesisParams(req.Params); err != nil {
		return api.SynthesisResponse{}, err
	}

	speaker := DefaultSpeakerId
	if req.SpeakerId != nil {
		speaker = *req.SpeakerId
	}

	start := time.Now()
	audio, failure := g.synthesize(ctx, req.Text, speaker, req.Params)
	g.observe("synthesis", start, failure)

	if failure != nil {
		slog.Warn("synthesis backend unavailable, returning silent audio", "speaker", speaker, "error", failure)
		return api.SynthesisResponse{
			Audio:     dataURI("audio/wav", silentWav),
			Format:    "wav",
			SpeakerId: speaker,
			Text:      req.Text,
			Mock:      true,
		}, nil
	}

	return api.SynthesisResponse{
		Audio:     dataURI("audio/wav", audio),
		Format:    "wav",
		SpeakerId: speaker,
		Text:      req.Text,
		Mock:      false,
	}, nil
}

func (g *SynthesisGateway) synthesize(ctx context.Context, text string, speaker int, params *api.SynthesisParams) ([]byte, *BackendError) {
	speakerParam := strconv.Itoa(speaker)

	res, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("text", text).
		SetQueryParam("speaker", speakerParam).
		Post("/audio_query")
	if failure := backendFailure(synthesisBackend, res, err); failure != nil {
		return nil, failure
	}

	var query map[string]any
	if err := json.Unmarshal(res.Body(), &query); err != nil {
		return nil, &BackendError{Backend: synthesisBackend, Status: res.StatusCode(), StatusText: "invalid audio query", Body: res.String(), Err: err}
	}

	ApplySynthesisParams(query, params)

	res, err = g.client.R().
		SetContext(ctx).
		SetQueryParam("speaker", speakerParam).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "audio/wav").
		SetBody(query).
		Post("/synthesis")
	if failure := backendFailure(synthesisBackend, res, err); failure != nil {
		return nil, failure
	}

	return res.Body(), nil
}

var passthroughMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Passthrough forwards req to the synthesis engine unchanged. Binary
// responses are base64 encoded with their content type preserved.
func (g *SynthesisGateway) Passthrough(ctx context.Context, req api.PassthroughRequest) (api.PassthroughResponse, error) {
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		return api.PassthroughResponse{}, InvalidRequestf("endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !passthroughMethods[method] {
		return api.PassthroughResponse{}, InvalidRequestf("unsupported method %q", req.Method)
	}

	query := make(map[string]string, len(req.Params))
	for key, value := range req.Params {
		formatted, ok := queryValue(value)
		if !ok {
			return api.PassthroughResponse{}, InvalidRequestf("query parameter %q must be a string, number or boolean", key)
		}
		query[key] = formatted
	}

	ctx, cancel := context.WithTimeout(ctx, g.passthroughTimeout)
	defer cancel()

	r := g.client.R().SetContext(ctx).SetQueryParams(query)
	if len(req.Body) > 0 && string(req.Body) != "null" {
		r.SetHeader("Content-Type", "application/json").SetBody([]byte(req.Body))
	}

	start := time.Now()
	res, err := r.Execute(method, endpoint)
	failure := backendFailure(synthesisBackend, res, err)
	g.observe("passthrough", start, failure)
	if failure != nil {
		slog.Error("passthrough request failed", "method", method, "endpoint", endpoint, "error", failure)
		return api.PassthroughResponse{}, failure
	}

	return shapePassthrough(res.StatusCode(), res.Header().Get("Content-Type"), res.Body()), nil
}

func shapePassthrough(status int, contentType string, body []byte) api.PassthroughResponse {
	out := api.PassthroughResponse{Status: status, ContentType: contentType}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = ""
	}

	switch {
	case len(body) == 0:
		out.Data = nil
	case (mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")) && json.Valid(body):
		out.Data = json.RawMessage(body)
	case strings.HasPrefix(mediaType, "text/"):
		out.Data = string(body)
	default:
		out.Encoding = "base64"
		out.Data = base64.StdEncoding.EncodeToString(body)
	}

	return out
}

func queryValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}
