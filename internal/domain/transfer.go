package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransferStrategy string

const (
	TransferP2P   TransferStrategy = "p2p"
	TransferRelay TransferStrategy = "relay"
)

type TransferState string

const (
	TransferNegotiating TransferState = "negotiating"
	TransferActive      TransferState = "active"
	TransferCompleted   TransferState = "completed"
	TransferFailed      TransferState = "failed"
)

// Terminal reports whether the transfer can make no further progress.
func (s TransferState) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed
}

type FileMetadata struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// FileTransfer is the transient negotiation record for one file exchange.
// It is never persisted; the durable trace of a completed transfer is a
// Message of kind "file".
type FileTransfer struct {
	ID           uuid.UUID
	SenderID     uuid.UUID
	ReceiverID   uuid.UUID
	Metadata     FileMetadata
	Strategy     TransferStrategy
	State        TransferState
	FallbackUsed bool
	Token        string
	CreatedAt    time.Time
}

// Participant reports whether id is the sender or the receiver.
func (t *FileTransfer) Participant(id uuid.UUID) bool {
	return id == t.SenderID || id == t.ReceiverID
}

// Peer returns the other party of the transfer relative to id.
func (t *FileTransfer) Peer(id uuid.UUID) uuid.UUID {
	if id == t.SenderID {
		return t.ReceiverID
	}
	return t.SenderID
}
