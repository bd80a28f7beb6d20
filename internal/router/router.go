// Package router accepts outbound chat messages, persists them, and fans
// them out to the recipient's live connections.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/registry"
	"msghub/internal/store"

	"github.com/google/uuid"
)

type Router struct {
	reg   *registry.Registry
	store *store.Store
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	pairs map[pairKey]*sync.Mutex
}

type pairKey struct {
	sender   uuid.UUID
	receiver uuid.UUID
}

func New(reg *registry.Registry, st *store.Store, log *slog.Logger) *Router {
	return &Router{
		reg:   reg,
		store: st,
		log:   log,
		now:   time.Now,
		pairs: make(map[pairKey]*sync.Mutex),
	}
}

// pairLock returns the mutex serializing one sender→receiver direction.
// Holding it across persist+deliver keeps the per-pair FIFO guarantee
// without serializing unrelated conversations.
func (r *Router) pairLock(sender, receiver uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey{sender: sender, receiver: receiver}
	l, ok := r.pairs[key]
	if !ok {
		l = &sync.Mutex{}
		r.pairs[key] = l
	}
	return l
}

// Send persists the message and then attempts delivery to every live
// connection of the receiver. Persistence failures abort and surface;
// a missing recipient is not an error.
func (r *Router) Send(ctx context.Context, senderID, receiverID uuid.UUID, content string, kind domain.MessageKind, fileID *uuid.UUID) (domain.Message, error) {
	if receiverID == uuid.Nil || senderID == receiverID {
		return domain.Message{}, fmt.Errorf("%w: invalid receiver", domain.ErrInvalidRequest)
	}
	if !kind.Valid() {
		return domain.Message{}, fmt.Errorf("%w: invalid message kind", domain.ErrInvalidRequest)
	}
	if kind == domain.MessageText && strings.TrimSpace(content) == "" {
		return domain.Message{}, fmt.Errorf("%w: empty content", domain.ErrInvalidRequest)
	}

	msg := domain.Message{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Kind:       kind,
		FileID:     fileID,
	}

	l := r.pairLock(senderID, receiverID)
	l.Lock()
	defer l.Unlock()

	// Stamped under the pair lock so created_at order agrees with the
	// persist and delivery order within one conversation direction.
	msg.CreatedAt = r.now().UTC()

	if err := r.store.Messages().Create(ctx, &msg); err != nil {
		return domain.Message{}, fmt.Errorf("%w: persist message: %v", domain.ErrStorageUnavailable, err)
	}

	evt := dto.MustEvent(dto.EventMessageDelivered, dto.FromMessage(msg))
	if n := r.reg.Deliver(receiverID, evt); n == 0 {
		r.log.Debug("message recipient unreachable", "message_id", msg.ID, "receiver_id", receiverID)
	}
	return msg, nil
}

// MarkRead flips the message's read flag and, when the sender is online,
// emits a read receipt. The flip is one-way; repeating it is a no-op.
func (r *Router) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) error {
	msg, err := r.store.Messages().GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: unknown message", domain.ErrInvalidRequest)
		}
		return fmt.Errorf("%w: load message: %v", domain.ErrStorageUnavailable, err)
	}
	if msg.ReceiverID != readerID {
		return fmt.Errorf("%w: only the receiver may mark a message read", domain.ErrNotParticipant)
	}
	flipped, err := r.store.Messages().MarkRead(ctx, messageID, readerID)
	if err != nil {
		return fmt.Errorf("%w: mark read: %v", domain.ErrStorageUnavailable, err)
	}
	// The guarded UPDATE decides who flipped the flag, so concurrent
	// marks of the same message produce exactly one receipt.
	if !flipped {
		return nil
	}
	r.reg.Deliver(msg.SenderID, dto.MustEvent(dto.EventReadReceipt, dto.ReadReceipt{MessageID: messageID}))
	return nil
}
