package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func CreateUpload(ctx context.Context, txn *gorm.DB, upload *Upload) error {
	if err := txn.WithContext(ctx).Create(upload).Error; err != nil {
		slog.Error("error creating upload record", "upload_id", upload.Id, "error", err)
		return fmt.Errorf("error creating upload record: %w", err)
	}
	return nil
}

// MissingUploads returns the ids in uploadIds that have no upload record.
// Ids that are not valid uuids are always reported missing.
func MissingUploads(ctx context.Context, txn *gorm.DB, uploadIds []string) ([]string, error) {
	var parsed []uuid.UUID
	var missing []string
	for _, id := range uploadIds {
		uid, err := uuid.Parse(id)
		if err != nil {
			missing = append(missing, id)
			continue
		}
		parsed = append(parsed, uid)
	}

	if len(parsed) == 0 {
		return missing, nil
	}

	var found []Upload
	if err := txn.WithContext(ctx).Where("id IN ?", parsed).Find(&found).Error; err != nil {
		return nil, fmt.Errorf("error looking up uploads: %w", err)
	}

	exists := make(map[uuid.UUID]bool, len(found))
	for _, u := range found {
		exists[u.Id] = true
	}
	for _, id := range parsed {
		if !exists[id] {
			missing = append(missing, id.String())
		}
	}

	return missing, nil
}

func DeleteAllUploads(ctx context.Context, txn *gorm.DB) error {
	if err := txn.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Upload{}).Error; err != nil {
		return fmt.Errorf("error deleting upload records: %w", err)
	}
	return nil
}

func CreateTrainingJob(ctx context.Context, txn *gorm.DB, job *TrainingJob) error {
	if err := txn.WithContext(ctx).Create(job).Error; err != nil {
		slog.Error("error creating training job", "job_id", job.Id, "error", err)
		return fmt.Errorf("error creating training job: %w", err)
	}
	return nil
}

func UpdateTrainingJobProgress(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, currentEpoch int) error {
	if err := txn.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Update("current_epoch", currentEpoch).Error; err != nil {
		slog.Error("error updating training job progress", "job_id", jobId, "epoch", currentEpoch, "error", err)
		return err
	}
	return nil
}

func UpdateTrainingJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobReady || status == JobCancelled {
		updates["completion_time"] = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	if err := txn.WithContext(ctx).Model(&TrainingJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating training job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func GetTrainingJob(ctx context.Context, txn *gorm.DB, jobId uuid.UUID) (TrainingJob, error) {
	var job TrainingJob
	if err := txn.WithContext(ctx).Preload("TrainingData").First(&job, "id = ?", jobId).Error; err != nil {
		return job, fmt.Errorf("error getting training job %s: %w", jobId, err)
	}
	return job, nil
}
