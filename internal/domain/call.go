package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallAudio || t == CallVideo
}

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallAccepted  CallStatus = "accepted"
	CallRejected  CallStatus = "rejected"
	CallMissed    CallStatus = "missed"
	CallEnded     CallStatus = "ended"
)

// Terminal reports whether no further transitions are legal from s.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallRejected, CallMissed, CallEnded:
		return true
	}
	return false
}

type Call struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CallerID        uuid.UUID  `gorm:"type:uuid;not null;index"`
	ReceiverID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	Type            CallType   `gorm:"type:text;not null"`
	Status          CallStatus `gorm:"type:text;not null"`
	CreatedAt       time.Time  `gorm:"not null"`
	AcceptedAt      *time.Time `gorm:"type:timestamptz"`
	EndedAt         *time.Time `gorm:"type:timestamptz"`
	DurationSeconds int64      `gorm:"not null;default:0"`
}

// Participant reports whether id is the caller or the receiver.
func (c *Call) Participant(id uuid.UUID) bool {
	return id == c.CallerID || id == c.ReceiverID
}

// Peer returns the other party of the call relative to id.
func (c *Call) Peer(id uuid.UUID) uuid.UUID {
	if id == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}
