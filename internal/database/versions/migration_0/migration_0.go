package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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
}

type TrainingJobUpload struct {
	JobId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	UploadId string    `gorm:"primaryKey"`
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Upload{}, &TrainingJob{}, &TrainingJobUpload{}); err != nil {
		return fmt.Errorf("error creating initial tables: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&TrainingJobUpload{}, &TrainingJob{}, &Upload{}); err != nil {
		return fmt.Errorf("error dropping initial tables: %w", err)
	}
	return nil
}
