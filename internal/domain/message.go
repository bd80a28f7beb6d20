package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageText MessageKind = "text"
	MessageFile MessageKind = "file"
)

func (k MessageKind) Valid() bool {
	return k == MessageText || k == MessageFile
}

type Message struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey"`
	SenderID   uuid.UUID   `gorm:"type:uuid;not null;index:idx_messages_pair,priority:1"`
	ReceiverID uuid.UUID   `gorm:"type:uuid;not null;index:idx_messages_pair,priority:2"`
	Content    string      `gorm:"type:text;not null"`
	Kind       MessageKind `gorm:"type:text;not null"`
	FileID     *uuid.UUID  `gorm:"type:uuid;index"`
	IsRead     bool        `gorm:"not null;default:false"`
	CreatedAt  time.Time   `gorm:"not null;index:idx_messages_pair,priority:3"`
}
