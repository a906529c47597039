package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobTraining  string = "training"
	JobReady     string = "ready"
	JobCancelled string = "cancelled"
)

type Upload struct {
	Id          uuid.UUID `gorm:"type:uuid;primaryKey"`
	FileName    string    `gorm:"not null"`
	StoragePath string    `gorm:"not null"`
	FileSize    int64
	CreatedAt   time.Time
}

type TrainingJob struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	ModelName    string    `gorm:"not null"`
	TotalEpochs  int       `gorm:"not null"`
	CurrentEpoch int       `gorm:"default:0"`
	Status       string    `gorm:"size:20;not null"`
	Params       datatypes.JSON

	CreationTime   time.Time
	CompletionTime sql.NullTime

	TrainingData []TrainingJobUpload `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

// TrainingJobUpload records the upload ids a job was started with. The ids
// are stored as given and are not a foreign key to Upload.
type TrainingJobUpload struct {
	JobId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	UploadId string    `gorm:"primaryKey"`
}
