// Package transfer arbitrates between direct peer-to-peer file delivery and
// server-relayed delivery, relays the p2p handshake, and turns completed
// transfers into durable file messages.
package transfer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/observability/metrics"
	"msghub/internal/registry"
	"msghub/internal/router"

	"github.com/google/uuid"
)

const (
	// DefaultSizeThreshold is the file size above which p2p is never attempted.
	DefaultSizeThreshold int64 = 10 << 20 // 10 MiB

	// DefaultNegotiationTimeout bounds how long a transfer may stay
	// negotiating or active before it is forced to failed.
	DefaultNegotiationTimeout = 60 * time.Second
)

type Config struct {
	SizeThreshold      int64
	NegotiationTimeout time.Duration
	// AbortActiveOnOffline cancels an active p2p transfer when the receiver
	// loses its last connection. When false the peer channel is assumed to
	// outlive our view of the receiver's presence.
	AbortActiveOnOffline bool
}

type Negotiator struct {
	reg    *registry.Registry
	router *router.Router
	log    *slog.Logger
	cfg    Config
	now    func() time.Time

	mu      sync.Mutex
	active  map[uuid.UUID]*session
	byToken map[string]uuid.UUID
}

// session serializes all state changes of one transfer id.
type session struct {
	mu       sync.Mutex
	transfer domain.FileTransfer
	timer    *time.Timer
}

func New(reg *registry.Registry, rt *router.Router, log *slog.Logger, cfg Config) *Negotiator {
	if cfg.SizeThreshold <= 0 {
		cfg.SizeThreshold = DefaultSizeThreshold
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	return &Negotiator{
		reg:     reg,
		router:  rt,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		active:  make(map[uuid.UUID]*session),
		byToken: make(map[string]uuid.UUID),
	}
}

// Propose creates a transfer and picks its strategy once: relay when the
// file exceeds the size threshold or the receiver is offline, p2p otherwise.
func (n *Negotiator) Propose(ctx context.Context, senderID, receiverID uuid.UUID, meta domain.FileMetadata) (domain.FileTransfer, error) {
	if receiverID == uuid.Nil || receiverID == senderID {
		return domain.FileTransfer{}, fmt.Errorf("%w: invalid receiver", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(meta.Name) == "" || meta.Size <= 0 {
		return domain.FileTransfer{}, fmt.Errorf("%w: invalid file metadata", domain.ErrInvalidRequest)
	}

	t := domain.FileTransfer{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Metadata:   meta,
		State:      domain.TransferNegotiating,
		CreatedAt:  n.now().UTC(),
	}
	if meta.Size > n.cfg.SizeThreshold || !n.reg.IsOnline(receiverID) {
		t.Strategy = domain.TransferRelay
		t.Token = newToken()
		t.State = domain.TransferActive
	} else {
		t.Strategy = domain.TransferP2P
	}

	sess := &session{transfer: t}
	sess.timer = time.AfterFunc(n.cfg.NegotiationTimeout, func() { n.expire(t.ID) })
	n.mu.Lock()
	n.active[t.ID] = sess
	if t.Token != "" {
		n.byToken[t.Token] = t.ID
	}
	n.mu.Unlock()

	n.notifyParties(t)
	return t, nil
}

// Signal relays an opaque p2p handshake payload to the other party.
func (n *Negotiator) Signal(ctx context.Context, transferID, fromID uuid.UUID, payload json.RawMessage) error {
	sess, err := n.lookup(transferID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	t := sess.transfer
	if !t.Participant(fromID) {
		return domain.ErrNotParticipant
	}
	if t.Strategy != domain.TransferP2P || t.State.Terminal() {
		return fmt.Errorf("%w: no p2p handshake in progress", domain.ErrInvalidRequest)
	}

	evt := dto.MustEvent(dto.EventFileSignalRelayed, dto.FileSignalRelayed{TransferID: transferID, Payload: payload})
	n.reg.Deliver(t.Peer(fromID), evt)
	return nil
}

// Report records a party's view of the peer channel: active once it is
// established, then completed or failed. A first p2p failure falls back to
// relay automatically, exactly once; any later failure is terminal.
func (n *Negotiator) Report(ctx context.Context, transferID, fromID uuid.UUID, state domain.TransferState) (domain.FileTransfer, error) {
	sess, err := n.lookup(transferID)
	if err != nil {
		return domain.FileTransfer{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	t := sess.transfer
	if !t.Participant(fromID) {
		return domain.FileTransfer{}, domain.ErrNotParticipant
	}
	if t.State.Terminal() {
		return domain.FileTransfer{}, fmt.Errorf("%w: transfer already terminal", domain.ErrInvalidRequest)
	}

	var termErr error
	switch state {
	case domain.TransferActive:
		if t.State != domain.TransferNegotiating {
			return t, nil
		}
		t.State = domain.TransferActive

	case domain.TransferCompleted:
		if t.Strategy != domain.TransferP2P {
			return domain.FileTransfer{}, fmt.Errorf("%w: relay completion comes from the upload handler", domain.ErrInvalidRequest)
		}
		if _, err := n.router.Send(ctx, t.SenderID, t.ReceiverID, t.Metadata.Name, domain.MessageFile, nil); err != nil {
			return domain.FileTransfer{}, err
		}
		t.State = domain.TransferCompleted

	case domain.TransferFailed:
		if t.Strategy == domain.TransferP2P && !t.FallbackUsed {
			t.Strategy = domain.TransferRelay
			t.FallbackUsed = true
			t.Token = newToken()
			t.State = domain.TransferActive
			n.mu.Lock()
			n.byToken[t.Token] = t.ID
			n.mu.Unlock()
			n.log.Info("transfer: p2p failed, falling back to relay", "transfer_id", t.ID)
		} else {
			t.State = domain.TransferFailed
			termErr = domain.ErrTransferFailed
		}

	default:
		return domain.FileTransfer{}, fmt.Errorf("%w: invalid report state %q", domain.ErrInvalidRequest, state)
	}

	sess.transfer = t
	if t.State.Terminal() {
		sess.timer.Stop()
		n.remove(t)
	}
	n.notifyParties(t)
	return t, termErr
}

// Cancel moves a transfer to terminal failed at the explicit request of a
// participant. A cancel never triggers the relay fallback.
func (n *Negotiator) Cancel(ctx context.Context, transferID, byID uuid.UUID) error {
	sess, err := n.lookup(transferID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.transfer.Participant(byID) {
		return domain.ErrNotParticipant
	}
	if sess.transfer.State.Terminal() {
		return nil
	}
	n.failLocked(sess)
	return nil
}

// CompleteRelay is the completion signal from the upload collaborator. It
// persists the durable file message, delivers it to the receiver like a
// normal chat message, and closes the transfer.
func (n *Negotiator) CompleteRelay(ctx context.Context, token string, fileID uuid.UUID) (domain.Message, error) {
	n.mu.Lock()
	id, ok := n.byToken[token]
	n.mu.Unlock()
	if !ok {
		return domain.Message{}, domain.ErrTransferNotFound
	}
	sess, err := n.lookup(id)
	if err != nil {
		return domain.Message{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	t := sess.transfer
	if t.Strategy != domain.TransferRelay || t.State.Terminal() {
		return domain.Message{}, fmt.Errorf("%w: transfer not awaiting relay completion", domain.ErrInvalidRequest)
	}

	msg, err := n.router.Send(ctx, t.SenderID, t.ReceiverID, t.Metadata.Name, domain.MessageFile, &fileID)
	if err != nil {
		// Leave the transfer active; the caller sees the failure and the
		// negotiation timeout bounds how long we keep waiting.
		return domain.Message{}, err
	}

	t.State = domain.TransferCompleted
	sess.transfer = t
	sess.timer.Stop()
	n.remove(t)

	n.reg.Deliver(t.ReceiverID, dto.MustEvent(dto.EventFileReceived, dto.FromMessage(msg)))
	n.notifyParties(t)
	return msg, nil
}

// TransferForToken resolves an upload token, for the relay upload handler.
func (n *Negotiator) TransferForToken(token string) (domain.FileTransfer, error) {
	n.mu.Lock()
	id, ok := n.byToken[token]
	n.mu.Unlock()
	if !ok {
		return domain.FileTransfer{}, domain.ErrTransferNotFound
	}
	sess, err := n.lookup(id)
	if err != nil {
		return domain.FileTransfer{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.transfer, nil
}

// DropAccount cancels in-flight negotiations the account participates in.
// Active relay uploads survive a receiver disconnect; active p2p transfers
// survive unless AbortActiveOnOffline is set.
func (n *Negotiator) DropAccount(ctx context.Context, accountID uuid.UUID) {
	n.mu.Lock()
	var affected []*session
	for _, sess := range n.active {
		affected = append(affected, sess)
	}
	n.mu.Unlock()

	for _, sess := range affected {
		sess.mu.Lock()
		t := sess.transfer
		if t.State.Terminal() || !t.Participant(accountID) {
			sess.mu.Unlock()
			continue
		}
		cancel := t.State == domain.TransferNegotiating ||
			(t.Strategy == domain.TransferP2P && n.cfg.AbortActiveOnOffline)
		if cancel {
			n.failLocked(sess)
		}
		sess.mu.Unlock()
	}
}

// failLocked forces the session's transfer to terminal failed and notifies
// both parties. The caller holds the session lock.
func (n *Negotiator) failLocked(sess *session) {
	sess.transfer.State = domain.TransferFailed
	sess.timer.Stop()
	n.remove(sess.transfer)
	n.notifyParties(sess.transfer)
}

// expire forces a transfer that outlived the negotiation timeout to failed.
func (n *Negotiator) expire(transferID uuid.UUID) {
	sess, err := n.lookup(transferID)
	if err != nil {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.transfer.State.Terminal() {
		return
	}
	n.log.Warn("transfer: negotiation timeout", "transfer_id", transferID, "state", sess.transfer.State)
	n.failLocked(sess)
}

func (n *Negotiator) lookup(transferID uuid.UUID) (*session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sess, ok := n.active[transferID]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return sess, nil
}

func (n *Negotiator) remove(t domain.FileTransfer) {
	n.mu.Lock()
	delete(n.active, t.ID)
	if t.Token != "" {
		delete(n.byToken, t.Token)
	}
	n.mu.Unlock()
}

// notifyParties sends the transfer's current state to both sides. Only the
// sender's copy carries the upload token.
func (n *Negotiator) notifyParties(t domain.FileTransfer) {
	if t.State.Terminal() {
		metrics.TransfersTotal.WithLabelValues(string(t.Strategy), string(t.State)).Inc()
	}
	n.reg.Deliver(t.SenderID, dto.MustEvent(dto.EventFileTransferStateChanged, dto.FromTransfer(t, true)))
	n.reg.Deliver(t.ReceiverID, dto.MustEvent(dto.EventFileTransferStateChanged, dto.FromTransfer(t, false)))
}

// ActiveCount reports the number of in-flight transfers, for metrics.
func (n *Negotiator) ActiveCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.active)
}

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
