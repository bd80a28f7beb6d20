package dto

import (
	"encoding/json"

	"msghub/internal/domain"

	"github.com/google/uuid"
)

// Event is the tagged envelope carried in both directions on the realtime
// channel. Data holds the type-specific payload.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound event types.
const (
	EventAuthenticate   = "authenticate"
	EventSendMessage    = "sendMessage"
	EventMarkRead       = "markRead"
	EventCallInitiate   = "callInitiate"
	EventCallRespond    = "callRespond"
	EventCallEnd        = "callEnd"
	EventCallSignal     = "callSignal"
	EventFileProposal   = "fileProposal"
	EventFileSignal     = "fileSignal"
	EventFileReport     = "fileReport"
	EventFileCancel     = "fileCancel"
	EventOnlineSnapshot = "onlineSnapshot"
)

// Outbound event types.
const (
	EventAuthenticated            = "authenticated"
	EventPresence                 = "presence"
	EventMessageDelivered         = "messageDelivered"
	EventReadReceipt              = "readReceipt"
	EventCallStateChanged         = "callStateChanged"
	EventCallSignalRelayed        = "callSignalRelayed"
	EventFileTransferStateChanged = "fileTransferStateChanged"
	EventFileSignalRelayed        = "fileSignalRelayed"
	EventFileReceived             = "fileReceived"
	EventOnlineAccounts           = "onlineAccounts"
	EventError                    = "error"
)

// NewEvent marshals payload into an Event envelope of the given type.
func NewEvent(typ string, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: typ}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Data: data}, nil
}

// MustEvent is NewEvent for payloads built from our own types, where a
// marshal failure is a programming error.
func MustEvent(typ string, payload any) Event {
	evt, err := NewEvent(typ, payload)
	if err != nil {
		panic(err)
	}
	return evt
}

// Inbound payloads.

type Authenticate struct {
	Token string `json:"token"`
}

type SendMessage struct {
	ReceiverID uuid.UUID          `json:"receiverId"`
	Content    string             `json:"content"`
	Kind       domain.MessageKind `json:"kind"`
}

type MarkRead struct {
	MessageID uuid.UUID `json:"messageId"`
}

type CallInitiate struct {
	ReceiverID uuid.UUID       `json:"receiverId"`
	Type       domain.CallType `json:"callType"`
}

type CallRespond struct {
	CallID uuid.UUID `json:"callId"`
	Accept bool      `json:"accept"`
}

type CallEnd struct {
	CallID uuid.UUID `json:"callId"`
}

type CallSignal struct {
	CallID  uuid.UUID       `json:"callId"`
	Payload json.RawMessage `json:"payload"`
}

type FileProposal struct {
	ReceiverID uuid.UUID           `json:"receiverId"`
	Metadata   domain.FileMetadata `json:"metadata"`
}

type FileSignal struct {
	TransferID uuid.UUID       `json:"transferId"`
	Payload    json.RawMessage `json:"payload"`
}

// FileReport is how a transfer party reports the outcome of the peer channel
// (active once established, then completed or failed).
type FileReport struct {
	TransferID uuid.UUID            `json:"transferId"`
	State      domain.TransferState `json:"state"`
}

type FileCancel struct {
	TransferID uuid.UUID `json:"transferId"`
}

// Outbound payloads.

type Authenticated struct {
	AccountID    uuid.UUID `json:"accountId"`
	ConnectionID uuid.UUID `json:"connectionId"`
}

type Presence struct {
	AccountID uuid.UUID `json:"accountId"`
	Online    bool      `json:"online"`
}

type ReadReceipt struct {
	MessageID uuid.UUID `json:"messageId"`
}

type CallSignalRelayed struct {
	CallID  uuid.UUID       `json:"callId"`
	Payload json.RawMessage `json:"payload"`
}

type FileSignalRelayed struct {
	TransferID uuid.UUID       `json:"transferId"`
	Payload    json.RawMessage `json:"payload"`
}

type OnlineAccounts struct {
	Accounts []uuid.UUID `json:"accounts"`
}

type Error struct {
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}
