package dto

import (
	"time"

	"msghub/internal/domain"

	"github.com/google/uuid"
)

// MessageView is the wire representation of a persisted message.
type MessageView struct {
	ID         uuid.UUID          `json:"id"`
	SenderID   uuid.UUID          `json:"senderId"`
	ReceiverID uuid.UUID          `json:"receiverId"`
	Content    string             `json:"content"`
	Kind       domain.MessageKind `json:"kind"`
	FileID     *uuid.UUID         `json:"fileId,omitempty"`
	IsRead     bool               `json:"isRead"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func FromMessage(m domain.Message) MessageView {
	return MessageView{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Kind:       m.Kind,
		FileID:     m.FileID,
		IsRead:     m.IsRead,
		CreatedAt:  m.CreatedAt,
	}
}

// CallView is the wire representation of a call's current state.
type CallView struct {
	ID              uuid.UUID         `json:"id"`
	CallerID        uuid.UUID         `json:"callerId"`
	ReceiverID      uuid.UUID         `json:"receiverId"`
	Type            domain.CallType   `json:"callType"`
	Status          domain.CallStatus `json:"status"`
	CreatedAt       time.Time         `json:"createdAt"`
	EndedAt         *time.Time        `json:"endedAt,omitempty"`
	DurationSeconds int64             `json:"durationSeconds"`
}

func FromCall(c domain.Call) CallView {
	return CallView{
		ID:              c.ID,
		CallerID:        c.CallerID,
		ReceiverID:      c.ReceiverID,
		Type:            c.Type,
		Status:          c.Status,
		CreatedAt:       c.CreatedAt,
		EndedAt:         c.EndedAt,
		DurationSeconds: c.DurationSeconds,
	}
}

// TransferView is the wire representation of a file transfer negotiation.
// Token is filled in only on the copy sent to the uploading side.
type TransferView struct {
	ID           uuid.UUID               `json:"id"`
	SenderID     uuid.UUID               `json:"senderId"`
	ReceiverID   uuid.UUID               `json:"receiverId"`
	Metadata     domain.FileMetadata     `json:"metadata"`
	Strategy     domain.TransferStrategy `json:"strategy"`
	State        domain.TransferState    `json:"state"`
	FallbackUsed bool                    `json:"fallbackUsed"`
	Token        string                  `json:"token,omitempty"`
}

func FromTransfer(t domain.FileTransfer, includeToken bool) TransferView {
	v := TransferView{
		ID:           t.ID,
		SenderID:     t.SenderID,
		ReceiverID:   t.ReceiverID,
		Metadata:     t.Metadata,
		Strategy:     t.Strategy,
		State:        t.State,
		FallbackUsed: t.FallbackUsed,
	}
	if includeToken {
		v.Token = t.Token
	}
	return v
}
