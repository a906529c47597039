package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"miovo-bridge/internal/database"
	"miovo-bridge/internal/metrics"
	"miovo-bridge/internal/storage"
	"miovo-bridge/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UploadProcessing = "processing"
	UploadCompleted  = "completed"
)

// ConversionGateway owns the training-data uploads and forwards conversion
// requests to the voice-conversion engine. Conversion failures are
// propagated to the caller.
type ConversionGateway struct {
	client          *resty.Client
	db              *gorm.DB
	storage         storage.Provider
	processingDelay time.Duration
	metrics         *metrics.Metrics
}

func NewConversionGateway(baseURL string, timeout time.Duration, db *gorm.DB, store storage.Provider, processingDelay time.Duration, m *metrics.Metrics) *ConversionGateway {
	return &ConversionGateway{
		client:          newBackendClient(baseURL, timeout),
		db:              db,
		storage:         store,
		processingDelay: processingDelay,
		metrics:         m,
	}
}

// decodeFilePayload accepts plain base64 or a data URI.
func decodeFilePayload(payload string) ([]byte, error) {
	if strings.HasPrefix(payload, "data:") {
		_, encoded, found := strings.Cut(payload, ";base64,")
		if !found {
			return nil, InvalidRequestf("fileData data URI must be base64 encoded")
		}
		payload = encoded
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, InvalidRequestf("fileData is not valid base64: %v", err)
	}
	return data, nil
}

// Upload writes the training file to storage and records it. The file is
// persisted before this returns; on any failure nothing is left recorded.
func (g *ConversionGateway) Upload(ctx context.Context, req api.UploadRequest) (api.UploadResponse, error) {
	fileName := filepath.Base(strings.TrimSpace(req.FileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return api.UploadResponse{}, InvalidRequestf("fileName is required")
	}
	if req.FileData == "" {
		return api.UploadResponse{}, InvalidRequestf("fileData is required")
	}

	data, err := decodeFilePayload(req.FileData)
	if err != nil {
		return api.UploadResponse{}, err
	}
	if req.FileSize > 0 && req.FileSize != int64(len(data)) {
		return api.UploadResponse{}, InvalidRequestf("fileSize %d does not match decoded payload size %d", req.FileSize, len(data))
	}

	uploadId := uuid.New()
	key := uploadId.String() + "/" + fileName

	path, err := g.storage.PutObject(ctx, storage.UploadsBucket, key, bytes.NewReader(data))
	if err != nil {
		slog.Error("error storing training data", "upload_id", uploadId, "file_name", fileName, "error", err)
		return api.UploadResponse{}, fmt.Errorf("failed to store training data: %w", err)
	}

	upload := database.Upload{
		Id:          uploadId,
		FileName:    fileName,
		StoragePath: path,
		FileSize:    int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}
	if err := database.CreateUpload(ctx, g.db, &upload); err != nil {
		if delErr := g.storage.DeleteObjects(context.Background(), storage.UploadsBucket, uploadId.String()); delErr != nil {
			slog.Error("error removing orphaned upload", "upload_id", uploadId, "error", delErr)
		}
		return api.UploadResponse{}, fmt.Errorf("failed to record training data: %w", err)
	}

	slog.Info("stored training data", "upload_id", uploadId, "file_name", fileName, "size", len(data))

	return api.UploadResponse{
		UploadId: uploadId.String(),
		FileName: fileName,
		FileSize: upload.FileSize,
		Path:     path,
		Status:   UploadProcessing,
	}, nil
}

// NotifyProcessed pushes processing-complete for upload after the
// configured delay, unless ctx ends first.
func (g *ConversionGateway) NotifyProcessed(ctx context.Context, upload api.UploadResponse, notify Notify) {
	go func() {
		timer := time.NewTimer(g.processingDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			slog.Debug("upload processing notification cancelled", "upload_id", upload.UploadId)
		case <-timer.C:
			notify(api.Message{
				Type: api.TypeProcessingComplete,
				Data: api.ProcessingCompleteEvent{
					UploadId: upload.UploadId,
					FileName: upload.FileName,
					Status:   UploadCompleted,
				},
			})
		}
	}()
}

// ReleaseUploads removes all uploaded training data and its records.
func (g *ConversionGateway) ReleaseUploads(ctx context.Context) error {
	if err := g.storage.DeleteObjects(ctx, storage.UploadsBucket, ""); err != nil {
		return err
	}
	return database.DeleteAllUploads(ctx, g.db)
}

type convertBackendRequest struct {
	InputAudio string          `json:"input_audio"`
	ModelId    string          `json:"model_id"`
	Params     json.RawMessage `json:"params,omitempty"`
}

type convertBackendResponse struct {
	Audio  string `json:"audio"`
	Format string `json:"format"`
}

func (g *ConversionGateway) Convert(ctx context.Context, req api.ConversionRequest) (api.ConversionResponse, error) {
	if req.InputAudio == "" {
		return api.ConversionResponse{}, InvalidRequestf("inputAudio is required")
	}
	if strings.TrimSpace(req.ModelId) == "" {
		return api.ConversionResponse{}, InvalidRequestf("modelId is required")
	}

	start := time.Now()
	res, err := g.client.R().
		SetContext(ctx).
		SetBody(convertBackendRequest{InputAudio: req.InputAudio, ModelId: req.ModelId, Params: req.Params}).
		Post("/convert")
	failure := backendFailure(conversionBackend, res, err)
	g.metrics.ObserveBackend(conversionBackend, "convert", resultLabel(failure), time.Since(start).Seconds())
	if failure != nil {
		slog.Error("voice conversion failed", "model_id", req.ModelId, "error", failure)
		return api.ConversionResponse{}, failure
	}

	contentType := res.Header().Get("Content-Type")
	if strings.HasPrefix(contentType, "audio/") || strings.HasPrefix(contentType, "application/octet-stream") {
		mediaType, _, _ := strings.Cut(contentType, ";")
		format := ""
		if strings.HasPrefix(mediaType, "audio/") {
			format = strings.TrimPrefix(mediaType, "audio/")
		}
		return api.ConversionResponse{ModelId: req.ModelId, Audio: dataURI(mediaType, res.Body()), Format: format}, nil
	}

	var converted convertBackendResponse
	if err := json.Unmarshal(res.Body(), &converted); err != nil || converted.Audio == "" {
		return api.ConversionResponse{}, &BackendError{
			Backend:    conversionBackend,
			Status:     res.StatusCode(),
			StatusText: "invalid conversion response",
			Body:       res.String(),
			Err:        err,
		}
	}

	return api.ConversionResponse{ModelId: req.ModelId, Audio: converted.Audio, Format: converted.Format}, nil
}
