package registry_test

import (
	"errors"
	"sync"
	"testing"

	"msghub/internal/dto"
	"msghub/internal/registry"

	"github.com/google/uuid"
)

type fakeConn struct {
	id        uuid.UUID
	accountID uuid.UUID
	reject    bool

	mu     sync.Mutex
	events []dto.Event
}

func newFakeConn(accountID uuid.UUID) *fakeConn {
	return &fakeConn{id: uuid.New(), accountID: accountID}
}

func (c *fakeConn) ID() uuid.UUID        { return c.id }
func (c *fakeConn) AccountID() uuid.UUID { return c.accountID }

func (c *fakeConn) Send(evt dto.Event) error {
	if c.reject {
		return errors.New("queue full")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestRegisterReportsFirstAndLast(t *testing.T) {
	reg := registry.New()
	account := uuid.New()

	c1 := newFakeConn(account)
	c2 := newFakeConn(account)

	if first := reg.Register(c1); !first {
		t.Fatalf("expected first connection to report first=true")
	}
	if first := reg.Register(c2); first {
		t.Fatalf("expected second connection to report first=false")
	}
	if !reg.IsOnline(account) {
		t.Fatalf("expected account online")
	}

	if _, last := reg.Unregister(c1.ID()); last {
		t.Fatalf("expected last=false while a connection remains")
	}
	if _, last := reg.Unregister(c2.ID()); !last {
		t.Fatalf("expected last=true on final unregister")
	}
	if reg.IsOnline(account) {
		t.Fatalf("expected account offline")
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	reg := registry.New()
	c, last := reg.Unregister(uuid.New())
	if c != nil || last {
		t.Fatalf("expected nil, false for unknown id, got %v, %v", c, last)
	}
}

func TestRegisterReplacesSameID(t *testing.T) {
	reg := registry.New()
	account := uuid.New()

	c1 := newFakeConn(account)
	c2 := &fakeConn{id: c1.id, accountID: account}

	reg.Register(c1)
	if first := reg.Register(c2); first {
		t.Fatalf("replacing a live connection must not report first=true")
	}
	if got := len(reg.ConnectionsFor(account)); got != 1 {
		t.Fatalf("expected 1 connection after replacement, got %d", got)
	}
}

func TestDeliverIsBestEffort(t *testing.T) {
	reg := registry.New()
	account := uuid.New()

	ok := newFakeConn(account)
	bad := newFakeConn(account)
	bad.reject = true
	reg.Register(ok)
	reg.Register(bad)

	n := reg.Deliver(account, dto.Event{Type: "presence"})
	if n != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", n)
	}
	if ok.count() != 1 {
		t.Fatalf("expected healthy connection to receive the event")
	}

	if n := reg.Deliver(uuid.New(), dto.Event{Type: "presence"}); n != 0 {
		t.Fatalf("expected 0 deliveries to an offline account, got %d", n)
	}
}

func TestOnlineAccounts(t *testing.T) {
	reg := registry.New()
	a, b := uuid.New(), uuid.New()

	reg.Register(newFakeConn(a))
	reg.Register(newFakeConn(b))

	online := reg.OnlineAccounts()
	if len(online) != 2 {
		t.Fatalf("expected 2 online accounts, got %d", len(online))
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range online {
		seen[id] = true
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("expected both accounts in snapshot, got %v", online)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	reg := registry.New()
	account := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newFakeConn(account)
			reg.Register(c)
			reg.Deliver(account, dto.Event{Type: "presence"})
			reg.Unregister(c.ID())
		}()
	}
	wg.Wait()

	if reg.IsOnline(account) {
		t.Fatalf("expected account offline after all connections closed")
	}
	if got := len(reg.ConnectionsFor(account)); got != 0 {
		t.Fatalf("expected no connections left, got %d", got)
	}
}
