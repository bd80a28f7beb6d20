// Package registry tracks which accounts currently own live connections.
// It is the single owner of the connection table; every other component
// observes it through lookups and delivers events through it.
package registry

import (
	"sync"

	"msghub/internal/dto"

	"github.com/google/uuid"
)

// Conn is a live, authenticated connection. Send must not block: transports
// are expected to enqueue and fail fast when the peer cannot keep up.
type Conn interface {
	ID() uuid.UUID
	AccountID() uuid.UUID
	Send(evt dto.Event) error
}

type Registry struct {
	mu        sync.RWMutex
	conns     map[uuid.UUID]Conn
	byAccount map[uuid.UUID]map[uuid.UUID]Conn
}

func New() *Registry {
	return &Registry{
		conns:     make(map[uuid.UUID]Conn),
		byAccount: make(map[uuid.UUID]map[uuid.UUID]Conn),
	}
}

// Register adds c to the registry. Registering an existing connection id
// replaces the prior entry. It reports whether the account transitioned
// from zero connections to one.
func (r *Registry) Register(c Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[c.ID()]; ok {
		r.dropLocked(old)
	}

	set := r.byAccount[c.AccountID()]
	first = len(set) == 0
	if set == nil {
		set = make(map[uuid.UUID]Conn)
		r.byAccount[c.AccountID()] = set
	}
	set[c.ID()] = c
	r.conns[c.ID()] = c
	return first
}

// Unregister removes the connection with the given id. Unknown ids are a
// no-op, so duplicate disconnect signals are harmless. It reports whether
// the owning account transitioned to zero connections.
func (r *Registry) Unregister(connID uuid.UUID) (c Conn, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	r.dropLocked(c)
	return c, len(r.byAccount[c.AccountID()]) == 0
}

func (r *Registry) dropLocked(c Conn) {
	delete(r.conns, c.ID())
	if set, ok := r.byAccount[c.AccountID()]; ok {
		delete(set, c.ID())
		if len(set) == 0 {
			delete(r.byAccount, c.AccountID())
		}
	}
}

// ConnectionsFor returns the live connections of an account, possibly empty.
func (r *Registry) ConnectionsFor(accountID uuid.UUID) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byAccount[accountID]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *Registry) IsOnline(accountID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byAccount[accountID]) > 0
}

// OnlineAccounts returns every account with at least one live connection.
func (r *Registry) OnlineAccounts() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(r.byAccount))
	for id := range r.byAccount {
		out = append(out, id)
	}
	return out
}

// Deliver writes evt to every live connection of accountID and returns the
// number of connections written. Delivery is best-effort: a connection that
// rejects the write is skipped, never retried.
func (r *Registry) Deliver(accountID uuid.UUID, evt dto.Event) int {
	conns := r.ConnectionsFor(accountID)
	n := 0
	for _, c := range conns {
		if err := c.Send(evt); err == nil {
			n++
		}
	}
	return n
}
