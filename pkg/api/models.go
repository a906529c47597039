package api

import (
	"encoding/json"
	"time"
)

// Message types understood by the relay, in both directions.
const (
	TypePing               = "ping"
	TypePong               = "pong"
	TypeListVoices         = "list-voices"
	TypeVoicesResponse     = "voices-response"
	TypeSynthesize         = "synthesize"
	TypeSynthesisResponse  = "synthesis-response"
	TypeUploadTrainingData = "upload-training-data"
	TypeUploadResponse     = "upload-response"
	TypeProcessingComplete = "processing-complete"
	TypeStartTraining      = "start-training"
	TypeTrainingStarted    = "training-started"
	TypeTrainingProgress   = "training-progress"
	TypeTrainingComplete   = "training-complete"
	TypeConvertVoice       = "convert-voice"
	TypeConversionResponse = "conversion-response"
	TypeRawBackendRequest  = "raw-backend-request"
	TypePassthroughResp    = "passthrough-response"

	TypeConnected      = "connected"
	TypeServiceStatus  = "service-status"
	TypeServerShutdown = "server-shutdown"
	TypeError          = "error"
)

// Message is the envelope of every frame on the wire. Replies echo the
// RequestId of the request they answer; pushes leave it empty.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	RequestId string `json:"requestId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// InboundMessage is the decoded form of a client frame. Data is kept raw
// until the handler for Type decodes it.
type InboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestId string          `json:"requestId,omitempty"`
}

type ErrorDetail struct {
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	Body       string `json:"body,omitempty"`
}

type ConnectedEvent struct {
	ClientId   string    `json:"clientId"`
	ServerTime time.Time `json:"serverTime"`
}

type ServiceStatus struct {
	SynthesisBackendUp  bool      `json:"synthesisBackendUp"`
	ConversionBackendUp bool      `json:"conversionBackendUp"`
	ObservedAt          time.Time `json:"observedAt"`
}

type ShutdownEvent struct {
	Message string `json:"message"`
}

type PongResponse struct {
	Timestamp int64 `json:"timestamp"`
}

type VoicesResponse struct {
	Speakers json.RawMessage `json:"speakers"`
	Mock     bool            `json:"mock"`
}

// SynthesisParams are optional overrides applied to the backend's audio
// query. Nil fields leave the backend's value untouched.
type SynthesisParams struct {
	SpeedScale         *float64 `json:"speedScale,omitempty"`
	PitchScale         *float64 `json:"pitchScale,omitempty"`
	IntonationScale    *float64 `json:"intonationScale,omitempty"`
	VolumeScale        *float64 `json:"volumeScale,omitempty"`
	PrePhonemeLength   *float64 `json:"prePhonemeLength,omitempty"`
	PostPhonemeLength  *float64 `json:"postPhonemeLength,omitempty"`
	OutputSamplingRate *int     `json:"outputSamplingRate,omitempty"`
	OutputStereo       *bool    `json:"outputStereo,omitempty"`
}

type SynthesizeRequest struct {
	Text      string           `json:"text"`
	SpeakerId *int             `json:"speaker_id"`
	Params    *SynthesisParams `json:"params,omitempty"`
}

type SynthesisResponse struct {
	Audio     string `json:"audio"`
	Format    string `json:"format"`
	SpeakerId int    `json:"speaker_id"`
	Text      string `json:"text"`
	Mock      bool   `json:"mock"`
}

type UploadRequest struct {
	FileName string `json:"fileName"`
	FileData string `json:"fileData"`
	FileSize int64  `json:"fileSize"`
}

type UploadResponse struct {
	UploadId string `json:"uploadId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Path     string `json:"path"`
	Status   string `json:"status"`
}

type ProcessingCompleteEvent struct {
	UploadId string `json:"uploadId"`
	FileName string `json:"fileName"`
	Status   string `json:"status"`
}

type TrainingRequest struct {
	ModelName       string          `json:"modelName"`
	TrainingDataIds []string        `json:"trainingDataIds"`
	Epochs          int             `json:"epochs"`
	Params          json.RawMessage `json:"params,omitempty"`
}

type TrainingStartedResponse struct {
	ModelId     string `json:"modelId"`
	ModelName   string `json:"modelName"`
	TotalEpochs int    `json:"totalEpochs"`
	Status      string `json:"status"`
}

type TrainingProgressEvent struct {
	ModelId      string `json:"modelId"`
	CurrentEpoch int    `json:"currentEpoch"`
	TotalEpochs  int    `json:"totalEpochs"`
	Progress     int    `json:"progress"`
}

type TrainingCompleteEvent struct {
	ModelId   string `json:"modelId"`
	ModelName string `json:"modelName"`
	Status    string `json:"status"`
}

type ConversionRequest struct {
	InputAudio string          `json:"inputAudio"`
	ModelId    string          `json:"modelId"`
	Params     json.RawMessage `json:"params,omitempty"`
}

type ConversionResponse struct {
	ModelId string `json:"modelId"`
	Audio   string `json:"audio"`
	Format  string `json:"format,omitempty"`
}

type PassthroughRequest struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Body     json.RawMessage `json:"body,omitempty"`
	Params   map[string]any  `json:"params,omitempty"`
}

type PassthroughResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Encoding    string `json:"encoding,omitempty"`
	Data        any    `json:"data"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	Backends    HealthBackends `json:"backends"`
	Connections int            `json:"connections"`
}

type HealthBackends struct {
	Synthesis  BackendHealth `json:"synthesis"`
	Conversion BackendHealth `json:"conversion"`
}

type BackendHealth struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}
