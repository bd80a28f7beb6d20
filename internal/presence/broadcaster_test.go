package presence_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/presence"
	"msghub/internal/registry"
	"msghub/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type fakeConn struct {
	id        uuid.UUID
	accountID uuid.UUID

	mu     sync.Mutex
	events []dto.Event
}

func newFakeConn(accountID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.New(), accountID: accountID}
}

func (c *fakeConn) ID() uuid.UUID        { return c.id }
func (c *fakeConn) AccountID() uuid.UUID { return c.accountID }

func (c *fakeConn) Send(evt dto.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) eventsOfType(typ string) []dto.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []dto.Event
	for _, e := range c.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func setup(t *testing.T) (*presence.Broadcaster, *registry.Registry, *store.Store) {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	reg := registry.New()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return presence.New(reg, st, log), reg, st
}

func seedMessage(t *testing.T, st *store.Store, sender, receiver uuid.UUID) {
	t.Helper()
	msg := &domain.Message{
		ID:         uuid.New(),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    "hello",
		Kind:       domain.MessageText,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.Messages().Create(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
}

func decodePresence(t *testing.T, evt dto.Event) dto.Presence {
	t.Helper()
	var p dto.Presence
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	return p
}

func TestBroadcastReachesCorrespondentsOnly(t *testing.T) {
	b, reg, st := setup(t)
	ctx := context.Background()

	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	seedMessage(t, st, alice, bob)

	bobConn := newFakeConn(bob)
	carolConn := newFakeConn(carol)
	reg.Register(bobConn)
	reg.Register(carolConn)

	b.AccountOnline(ctx, alice)

	got := bobConn.eventsOfType(dto.EventPresence)
	if len(got) != 1 {
		t.Fatalf("expected 1 presence event for bob, got %d", len(got))
	}
	p := decodePresence(t, got[0])
	if p.AccountID != alice || !p.Online {
		t.Fatalf("unexpected presence payload: %+v", p)
	}
	if n := len(carolConn.eventsOfType(dto.EventPresence)); n != 0 {
		t.Fatalf("carol never talked to alice, expected 0 events, got %d", n)
	}

	b.AccountOffline(ctx, alice)
	got = bobConn.eventsOfType(dto.EventPresence)
	if len(got) != 2 {
		t.Fatalf("expected offline event, got %d events", len(got))
	}
	if p := decodePresence(t, got[1]); p.Online {
		t.Fatalf("expected online=false, got %+v", p)
	}
}

func TestOnlineSnapshotScopedToCorrespondents(t *testing.T) {
	b, reg, st := setup(t)
	ctx := context.Background()

	alice, bob, carol, dave := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	seedMessage(t, st, alice, bob)   // bob is a correspondent, online below
	seedMessage(t, st, carol, alice) // carol is a correspondent, stays offline
	// dave is online but has no history with alice.

	reg.Register(newFakeConn(bob))
	reg.Register(newFakeConn(dave))

	online, err := b.OnlineSnapshot(ctx, alice)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(online) != 1 || online[0] != bob {
		t.Fatalf("expected only bob in snapshot, got %v", online)
	}
}
