// Package call owns per-call signaling state. A call's in-memory record is
// the source of truth while the call is active; every transition is written
// through to storage before either party is notified.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/observability/metrics"
	"msghub/internal/registry"
	"msghub/internal/store"

	"github.com/google/uuid"
)

// DefaultAcceptTimeout is how long a ringing call waits for accept/reject
// before it is recorded as missed.
const DefaultAcceptTimeout = 30 * time.Second

type Machine struct {
	reg           *registry.Registry
	store         *store.Store
	log           *slog.Logger
	acceptTimeout time.Duration
	now           func() time.Time

	mu     sync.Mutex
	active map[uuid.UUID]*session
}

// session serializes all transitions of one call id. Unrelated calls never
// contend on each other's lock.
type session struct {
	mu    sync.Mutex
	call  domain.Call
	timer *time.Timer
}

func New(reg *registry.Registry, st *store.Store, log *slog.Logger, acceptTimeout time.Duration) *Machine {
	if acceptTimeout <= 0 {
		acceptTimeout = DefaultAcceptTimeout
	}
	return &Machine{
		reg:           reg,
		store:         st,
		log:           log,
		acceptTimeout: acceptTimeout,
		now:           time.Now,
		active:        make(map[uuid.UUID]*session),
	}
}

// Initiate starts a call. If the receiver has no live connection the call is
// recorded as missed immediately, with zero duration, and only the caller is
// notified.
func (m *Machine) Initiate(ctx context.Context, callerID, receiverID uuid.UUID, callType domain.CallType) (domain.Call, error) {
	if !callType.Valid() {
		return domain.Call{}, fmt.Errorf("%w: invalid call type %q", domain.ErrInvalidRequest, callType)
	}
	if receiverID == uuid.Nil || receiverID == callerID {
		return domain.Call{}, fmt.Errorf("%w: invalid receiver", domain.ErrInvalidRequest)
	}

	now := m.now().UTC()
	call := domain.Call{
		ID:         uuid.New(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Type:       callType,
		Status:     domain.CallInitiated,
		CreatedAt:  now,
	}

	if !m.reg.IsOnline(receiverID) {
		call.Status = domain.CallMissed
		call.EndedAt = &now
		if err := m.store.Calls().Create(ctx, &call); err != nil {
			return domain.Call{}, fmt.Errorf("%w: persist call: %v", domain.ErrStorageUnavailable, err)
		}
		m.reg.Deliver(callerID, stateEvent(call))
		return call, nil
	}

	if err := m.store.Calls().Create(ctx, &call); err != nil {
		return domain.Call{}, fmt.Errorf("%w: persist call: %v", domain.ErrStorageUnavailable, err)
	}

	sess := &session{call: call}
	sess.timer = time.AfterFunc(m.acceptTimeout, func() { m.expire(call.ID) })
	m.mu.Lock()
	m.active[call.ID] = sess
	m.mu.Unlock()

	evt := stateEvent(call)
	m.reg.Deliver(receiverID, evt)
	m.reg.Deliver(callerID, evt)
	return call, nil
}

// Respond accepts or rejects a ringing call. Only the receiver may respond.
func (m *Machine) Respond(ctx context.Context, callID, responderID uuid.UUID, accept bool) (domain.Call, error) {
	sess, err := m.lookup(ctx, callID)
	if err != nil {
		return domain.Call{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.call.Status.Terminal() {
		return domain.Call{}, domain.ErrCallAlreadyTerminal
	}
	if responderID != sess.call.ReceiverID {
		return domain.Call{}, fmt.Errorf("%w: only the receiver may respond", domain.ErrNotParticipant)
	}
	if sess.call.Status != domain.CallInitiated {
		return domain.Call{}, fmt.Errorf("%w: respond in state %q", domain.ErrInvalidCallTransition, sess.call.Status)
	}

	next := sess.call
	now := m.now().UTC()
	if accept {
		next.Status = domain.CallAccepted
		next.AcceptedAt = &now
	} else {
		next.Status = domain.CallRejected
		next.EndedAt = &now
	}

	if err := m.store.Calls().Save(ctx, &next); err != nil {
		return domain.Call{}, fmt.Errorf("%w: persist transition: %v", domain.ErrStorageUnavailable, err)
	}

	sess.call = next
	sess.timer.Stop()
	if next.Status.Terminal() {
		m.remove(callID)
	}
	m.notifyParties(next)
	return next, nil
}

// End terminates a call. A ringing call ended by either party is a cancel
// and lands in rejected; an accepted call lands in ended with its duration.
func (m *Machine) End(ctx context.Context, callID, enderID uuid.UUID) (domain.Call, error) {
	sess, err := m.lookup(ctx, callID)
	if err != nil {
		return domain.Call{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.call.Status.Terminal() {
		return domain.Call{}, domain.ErrCallAlreadyTerminal
	}
	if !sess.call.Participant(enderID) {
		return domain.Call{}, domain.ErrNotParticipant
	}

	next, err := m.terminate(ctx, sess.call)
	if err != nil {
		return domain.Call{}, err
	}

	sess.call = next
	sess.timer.Stop()
	m.remove(callID)
	m.notifyParties(next)
	return next, nil
}

// Relay forwards an opaque signaling payload to the other party. Relaying is
// legal only while the call is initiated or accepted.
func (m *Machine) Relay(ctx context.Context, callID, fromID uuid.UUID, payload []byte) error {
	sess, err := m.lookup(ctx, callID)
	if err != nil {
		if errors.Is(err, domain.ErrCallAlreadyTerminal) {
			return domain.ErrCallNotActive
		}
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.call.Status.Terminal() {
		return domain.ErrCallNotActive
	}
	if !sess.call.Participant(fromID) {
		return domain.ErrNotParticipant
	}

	evt := dto.MustEvent(dto.EventCallSignalRelayed, dto.CallSignalRelayed{CallID: callID, Payload: payload})
	m.reg.Deliver(sess.call.Peer(fromID), evt)
	return nil
}

// DropAccount cancels every active call the account participates in. It is
// invoked when an account's last connection goes away; a disconnect is
// treated exactly like an explicit cancel.
func (m *Machine) DropAccount(ctx context.Context, accountID uuid.UUID) {
	m.mu.Lock()
	var affected []*session
	for _, sess := range m.active {
		affected = append(affected, sess)
	}
	m.mu.Unlock()

	for _, sess := range affected {
		sess.mu.Lock()
		if sess.call.Status.Terminal() || !sess.call.Participant(accountID) {
			sess.mu.Unlock()
			continue
		}
		next, err := m.terminate(ctx, sess.call)
		if err != nil {
			m.log.Error("call: persist disconnect transition failed", "call_id", sess.call.ID, "error", err)
			sess.mu.Unlock()
			continue
		}
		sess.call = next
		sess.timer.Stop()
		id := sess.call.ID
		sess.mu.Unlock()

		m.remove(id)
		m.notifyParties(next)
	}
}

// expire is the accept-timeout transition: initiated → missed. It runs on
// the timer goroutine and goes through the same per-call serialization as
// externally generated events.
func (m *Machine) expire(callID uuid.UUID) {
	m.mu.Lock()
	sess, ok := m.active[callID]
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.call.Status != domain.CallInitiated {
		sess.mu.Unlock()
		return
	}
	next := sess.call
	now := m.now().UTC()
	next.Status = domain.CallMissed
	next.EndedAt = &now

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.store.Calls().Save(ctx, &next); err != nil {
		// The timer already fired; keep the in-memory record terminal so no
		// further signaling is relayed, and leave the durable record behind.
		m.log.Error("call: persist missed transition failed", "call_id", callID, "error", err)
	}
	sess.call = next
	sess.mu.Unlock()

	m.remove(callID)
	m.notifyParties(next)
}

// terminate computes the terminal state reached from call's current state:
// rejected when still ringing, ended (with duration) once accepted.
// The caller holds the session lock.
func (m *Machine) terminate(ctx context.Context, call domain.Call) (domain.Call, error) {
	next := call
	now := m.now().UTC()
	next.EndedAt = &now
	if call.Status == domain.CallAccepted {
		next.Status = domain.CallEnded
		next.DurationSeconds = int64(now.Sub(*call.AcceptedAt) / time.Second)
	} else {
		next.Status = domain.CallRejected
	}
	if err := m.store.Calls().Save(ctx, &next); err != nil {
		return domain.Call{}, fmt.Errorf("%w: persist transition: %v", domain.ErrStorageUnavailable, err)
	}
	return next, nil
}

// lookup finds the active session for callID. For ids with no live session
// it distinguishes an already-terminal call from an unknown one.
func (m *Machine) lookup(ctx context.Context, callID uuid.UUID) (*session, error) {
	m.mu.Lock()
	sess, ok := m.active[callID]
	m.mu.Unlock()
	if ok {
		return sess, nil
	}
	if _, err := m.store.Calls().GetByID(ctx, callID); err == nil {
		return nil, domain.ErrCallAlreadyTerminal
	}
	return nil, domain.ErrCallNotFound
}

func (m *Machine) remove(callID uuid.UUID) {
	m.mu.Lock()
	delete(m.active, callID)
	m.mu.Unlock()
}

func (m *Machine) notifyParties(call domain.Call) {
	if call.Status.Terminal() {
		metrics.CallsTotal.WithLabelValues(string(call.Status)).Inc()
	}
	evt := stateEvent(call)
	m.reg.Deliver(call.CallerID, evt)
	m.reg.Deliver(call.ReceiverID, evt)
}

func stateEvent(call domain.Call) dto.Event {
	return dto.MustEvent(dto.EventCallStateChanged, dto.FromCall(call))
}

// ActiveCount reports the number of in-flight calls, for metrics.
func (m *Machine) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
