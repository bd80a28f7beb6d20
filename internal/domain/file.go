package domain

import (
	"time"

	"github.com/google/uuid"
)

type File struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UploaderID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Name        string    `gorm:"type:text;not null"`
	Size        int64     `gorm:"not null"`
	MimeType    string    `gorm:"type:text"`
	StoragePath string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
}
