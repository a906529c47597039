package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"miovo-bridge/internal/database"
	"miovo-bridge/internal/metrics"
	"miovo-bridge/internal/storage"
	"miovo-bridge/pkg/api"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrRunnerStopped = errors.New("training runner is shut down")

type TrainingJob struct {
	Id              uuid.UUID
	ModelName       string
	TotalEpochs     int
	CurrentEpoch    int
	State           string
	TrainingDataIds []string

	cancel context.CancelFunc
}

type TrainingOptions struct {
	Tick      time.Duration
	EpochStep int
	// StrictTrainingData rejects jobs whose training data ids do not name
	// a recorded upload. Off by default.
	StrictTrainingData bool
}

// TrainingRunner simulates model training. Each job advances by EpochStep
// every Tick until it reaches its total, pushing progress to the client
// that started it.
type TrainingRunner struct {
	db      *gorm.DB
	storage storage.Provider
	opts    TrainingOptions
	metrics *metrics.Metrics

	mu      sync.Mutex
	jobs    map[uuid.UUID]*TrainingJob
	stopped bool
	wg      sync.WaitGroup
}

func NewTrainingRunner(db *gorm.DB, store storage.Provider, opts TrainingOptions, m *metrics.Metrics) *TrainingRunner {
	if opts.EpochStep <= 0 {
		opts.EpochStep = 10
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	return &TrainingRunner{
		db:      db,
		storage: store,
		opts:    opts,
		metrics: m,
		jobs:    make(map[uuid.UUID]*TrainingJob),
	}
}

func (r *TrainingRunner) validate(ctx context.Context, req api.TrainingRequest) error {
	if strings.TrimSpace(req.ModelName) == "" {
		return InvalidRequestf("modelName is required")
	}
	if req.Epochs <= 0 {
		return InvalidRequestf("epochs must be a positive integer, got %d", req.Epochs)
	}

	if r.opts.StrictTrainingData {
		missing, err := database.MissingUploads(ctx, r.db, req.TrainingDataIds)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return InvalidRequestf("unknown training data ids: %s", strings.Join(missing, ", "))
		}
	}

	return nil
}

// Start records a new job, calls started with its description and then
// begins ticking. The job stops early when ctx ends.
func (r *TrainingRunner) Start(ctx context.Context, req api.TrainingRequest, started func(api.TrainingStartedResponse), notify Notify) error {
	if err := r.validate(ctx, req); err != nil {
		return err
	}

	job := &TrainingJob{
		Id:              uuid.New(),
		ModelName:       strings.TrimSpace(req.ModelName),
		TotalEpochs:     req.Epochs,
		State:           database.JobTraining,
		TrainingDataIds: req.TrainingDataIds,
	}

	record := database.TrainingJob{
		Id:           job.Id,
		ModelName:    job.ModelName,
		TotalEpochs:  job.TotalEpochs,
		Status:       database.JobTraining,
		CreationTime: time.Now().UTC(),
	}
	if len(req.Params) > 0 {
		record.Params = datatypes.JSON(req.Params)
	}
	seen := make(map[string]bool, len(req.TrainingDataIds))
	for _, id := range req.TrainingDataIds {
		if seen[id] {
			continue
		}
		seen[id] = true
		record.TrainingData = append(record.TrainingData, database.TrainingJobUpload{JobId: job.Id, UploadId: id})
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRunnerStopped
	}
	jobCtx, cancel := context.WithCancel(ctx)
	job.cancel = cancel
	r.jobs[job.Id] = job
	r.wg.Add(1)
	r.mu.Unlock()

	if err := database.CreateTrainingJob(ctx, r.db, &record); err != nil {
		r.finish(job)
		return fmt.Errorf("failed to record training job: %w", err)
	}

	slog.Info("training started", "model_id", job.Id, "model_name", job.ModelName, "epochs", job.TotalEpochs)
	r.metrics.TrainingJobStarted()

	started(api.TrainingStartedResponse{
		ModelId:     job.Id.String(),
		ModelName:   job.ModelName,
		TotalEpochs: job.TotalEpochs,
		Status:      database.JobTraining,
	})

	go r.run(jobCtx, job, notify)

	return nil
}

func (r *TrainingRunner) finish(job *TrainingJob) {
	job.cancel()

	r.mu.Lock()
	delete(r.jobs, job.Id)
	r.mu.Unlock()

	r.wg.Done()
}

func (r *TrainingRunner) run(ctx context.Context, job *TrainingJob, notify Notify) {
	defer r.finish(job)
	defer r.metrics.TrainingJobFinished()

	ticker := time.NewTicker(r.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			job.State = database.JobCancelled
			slog.Info("training cancelled", "model_id", job.Id, "epoch", job.CurrentEpoch)
			if err := database.UpdateTrainingJobStatus(context.Background(), r.db, job.Id, database.JobCancelled); err != nil {
				slog.Warn("error marking training job cancelled", "model_id", job.Id, "error", err)
			}
			return

		case <-ticker.C:
			job.CurrentEpoch = min(job.CurrentEpoch+r.opts.EpochStep, job.TotalEpochs)
			if err := database.UpdateTrainingJobProgress(ctx, r.db, job.Id, job.CurrentEpoch); err != nil {
				slog.Warn("error saving training progress", "model_id", job.Id, "epoch", job.CurrentEpoch, "error", err)
			}

			notify(api.Message{
				Type: api.TypeTrainingProgress,
				Data: api.TrainingProgressEvent{
					ModelId:      job.Id.String(),
					CurrentEpoch: job.CurrentEpoch,
					TotalEpochs:  job.TotalEpochs,
					Progress:     job.CurrentEpoch * 100 / job.TotalEpochs,
				},
			})

			if job.CurrentEpoch >= job.TotalEpochs {
				r.complete(job, notify)
				return
			}
		}
	}
}

type modelArtifact struct {
	ModelId         string    `json:"modelId"`
	ModelName       string    `json:"modelName"`
	Epochs          int       `json:"epochs"`
	TrainingDataIds []string  `json:"trainingDataIds"`
	CompletedAt     time.Time `json:"completedAt"`
	Mock            bool      `json:"mock"`
}

func (r *TrainingRunner) complete(job *TrainingJob, notify Notify) {
	job.State = database.JobReady

	ctx := context.Background()
	if err := database.UpdateTrainingJobStatus(ctx, r.db, job.Id, database.JobReady); err != nil {
		slog.Error("error marking training job ready", "model_id", job.Id, "error", err)
	}

	artifact, err := json.Marshal(modelArtifact{
		ModelId:         job.Id.String(),
		ModelName:       job.ModelName,
		Epochs:          job.TotalEpochs,
		TrainingDataIds: job.TrainingDataIds,
		CompletedAt:     time.Now().UTC(),
		Mock:            true,
	})
	if err == nil {
		_, err = r.storage.PutObject(ctx, storage.ModelsBucket, job.Id.String()+"/model.json", bytes.NewReader(artifact))
	}
	if err != nil {
		slog.Error("error writing model artifact", "model_id", job.Id, "error", err)
	}

	slog.Info("training complete", "model_id", job.Id, "model_name", job.ModelName)

	notify(api.Message{
		Type: api.TypeTrainingComplete,
		Data: api.TrainingCompleteEvent{
			ModelId:   job.Id.String(),
			ModelName: job.ModelName,
			Status:    database.JobReady,
		},
	})
}

// ActiveJobs returns the number of jobs still ticking.
func (r *TrainingRunner) ActiveJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Shutdown cancels every running job and waits for them to stop.
func (r *TrainingRunner) Shutdown() {
	r.mu.Lock()
	r.stopped = true
	for _, job := range r.jobs {
		job.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
}
