package ws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"msghub/internal/auth"
	"msghub/internal/call"
	"msghub/internal/domain"
	"msghub/internal/dto"
	"msghub/internal/presence"
	"msghub/internal/registry"
	"msghub/internal/router"
	"msghub/internal/store"
	"msghub/internal/transfer"
	"msghub/internal/transport/ws"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type fixture struct {
	srv    *httptest.Server
	tokens *auth.Tokens
	st     *store.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	pres := presence.New(reg, st, log)
	rt := router.New(reg, st, log)
	calls := call.New(reg, st, log, 0)
	transfers := transfer.New(reg, rt, log, transfer.Config{})
	tokens := auth.NewTokens("gateway-test-key", "msghub", time.Hour)

	gateway := ws.NewGateway(reg, pres, rt, calls, transfers, tokens, log, ws.Config{})
	srv := httptest.NewServer(http.HandlerFunc(gateway.HandleWS))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, tokens: tokens, st: st}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials, authenticates as accountID, and consumes the authenticated
// acknowledgement.
func (f *fixture) connect(t *testing.T, accountID uuid.UUID) *websocket.Conn {
	t.Helper()

	conn := f.dial(t)
	token, err := f.tokens.Issue(accountID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if err := conn.WriteJSON(dto.MustEvent(dto.EventAuthenticate, dto.Authenticate{Token: token})); err != nil {
		t.Fatalf("write authenticate: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Type != dto.EventAuthenticated {
		t.Fatalf("expected authenticated, got %s", evt.Type)
	}
	var ack dto.Authenticated
	if err := json.Unmarshal(evt.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.AccountID != accountID {
		t.Fatalf("ack for wrong account: %s", ack.AccountID)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var evt dto.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return evt
}

func TestRejectsBadCredential(t *testing.T) {
	f := setup(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(dto.MustEvent(dto.EventAuthenticate, dto.Authenticate{Token: "junk"})); err != nil {
		t.Fatalf("write: %v", err)
	}
	evt := readEvent(t, conn)
	if evt.Type != dto.EventError {
		t.Fatalf("expected error event, got %s", evt.Type)
	}
}

func TestRejectsNonAuthFirstFrame(t *testing.T) {
	f := setup(t)
	conn := f.dial(t)

	if err := conn.WriteJSON(dto.MustEvent(dto.EventSendMessage, dto.SendMessage{
		ReceiverID: uuid.New(), Content: "hi", Kind: domain.MessageText,
	})); err != nil {
		t.Fatalf("write: %v", err)
	}
	evt := readEvent(t, conn)
	if evt.Type != dto.EventError {
		t.Fatalf("expected error event, got %s", evt.Type)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	f := setup(t)

	alice, bob := uuid.New(), uuid.New()
	aliceConn := f.connect(t, alice)
	bobConn := f.connect(t, bob)

	if err := aliceConn.WriteJSON(dto.MustEvent(dto.EventSendMessage, dto.SendMessage{
		ReceiverID: bob, Content: "hello bob", Kind: domain.MessageText,
	})); err != nil {
		t.Fatalf("write sendMessage: %v", err)
	}

	evt := readEvent(t, bobConn)
	if evt.Type != dto.EventMessageDelivered {
		t.Fatalf("expected messageDelivered, got %s", evt.Type)
	}
	var view dto.MessageView
	if err := json.Unmarshal(evt.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view.SenderID != alice || view.Content != "hello bob" {
		t.Fatalf("unexpected delivery: %+v", view)
	}

	// The message is durable regardless of delivery.
	msgs, err := f.st.Messages().Between(context.Background(), alice, bob, 0)
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(msgs))
	}

	// With history established, the snapshot now includes bob.
	if err := aliceConn.WriteJSON(dto.Event{Type: dto.EventOnlineSnapshot}); err != nil {
		t.Fatalf("write onlineSnapshot: %v", err)
	}
	evt = readEvent(t, aliceConn)
	if evt.Type != dto.EventOnlineAccounts {
		t.Fatalf("expected onlineAccounts, got %s", evt.Type)
	}
	var snapshot dto.OnlineAccounts
	if err := json.Unmarshal(evt.Data, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Accounts) != 1 || snapshot.Accounts[0] != bob {
		t.Fatalf("expected [bob], got %v", snapshot.Accounts)
	}
}

func TestInvalidEventReportsError(t *testing.T) {
	f := setup(t)

	conn := f.connect(t, uuid.New())
	if err := conn.WriteJSON(dto.Event{Type: "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	evt := readEvent(t, conn)
	if evt.Type != dto.EventError {
		t.Fatalf("expected error event, got %s", evt.Type)
	}
	var e dto.Error
	if err := json.Unmarshal(evt.Data, &e); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if e.Op != "teleport" {
		t.Fatalf("error must name the offending op, got %q", e.Op)
	}
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	f := setup(t)

	alice, bob := uuid.New(), uuid.New()
	aliceConn := f.connect(t, alice)
	bobConn := f.connect(t, bob)

	// Establish history so bob watches alice's presence.
	if err := aliceConn.WriteJSON(dto.MustEvent(dto.EventSendMessage, dto.SendMessage{
		ReceiverID: bob, Content: "hi", Kind: domain.MessageText,
	})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if evt := readEvent(t, bobConn); evt.Type != dto.EventMessageDelivered {
		t.Fatalf("expected delivery, got %s", evt.Type)
	}

	aliceConn.Close()

	evt := readEvent(t, bobConn)
	if evt.Type != dto.EventPresence {
		t.Fatalf("expected presence, got %s", evt.Type)
	}
	var p dto.Presence
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	if p.AccountID != alice || p.Online {
		t.Fatalf("expected alice offline, got %+v", p)
	}
}
