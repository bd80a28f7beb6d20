// Package presence derives online/offline transitions from the connection
// registry and fans them out to the accounts that care.
package presence

import (
	"context"
	"fmt"
	"log/slog"

	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/registry"
	"msghub/internal/store"

	"github.com/google/uuid"
)

type Broadcaster struct {
	reg   *registry.Registry
	store *store.Store
	log   *slog.Logger
}

func New(reg *registry.Registry, st *store.Store, log *slog.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, store: st, log: log}
}

// AccountOnline announces that accountID went from zero connections to one.
func (b *Broadcaster) AccountOnline(ctx context.Context, accountID uuid.UUID) {
	b.broadcast(ctx, accountID, true)
}

// AccountOffline announces that accountID lost its last connection.
func (b *Broadcaster) AccountOffline(ctx context.Context, accountID uuid.UUID) {
	b.broadcast(ctx, accountID, false)
}

// broadcast notifies every prior correspondent of accountID that is online
// right now. Presence is best-effort: lookup or delivery failures are logged
// and dropped, never surfaced to the triggering connection.
func (b *Broadcaster) broadcast(ctx context.Context, accountID uuid.UUID, online bool) {
	watchers, err := b.store.Messages().CorrespondentsOf(ctx, accountID)
	if err != nil {
		b.log.Warn("presence: correspondents lookup failed", "account_id", accountID, "error", err)
		return
	}
	evt := dto.MustEvent(dto.EventPresence, dto.Presence{AccountID: accountID, Online: online})
	for _, w := range watchers {
		if w == accountID {
			continue
		}
		b.reg.Deliver(w, evt)
	}
}

// OnlineSnapshot returns the subset of the requester's correspondents that
// currently hold at least one live connection. Clients call this after
// (re)connecting instead of relying on replayed presence events.
func (b *Broadcaster) OnlineSnapshot(ctx context.Context, requesterID uuid.UUID) ([]uuid.UUID, error) {
	correspondents, err := b.store.Messages().CorrespondentsOf(ctx, requesterID)
	if err != nil {
		return nil, fmt.Errorf("%w: correspondents lookup: %v", domain.ErrStorageUnavailable, err)
	}
	online := make([]uuid.UUID, 0, len(correspondents))
	for _, id := range correspondents {
		if b.reg.IsOnline(id) {
			online = append(online, id)
		}
	}
	return online, nil
}
