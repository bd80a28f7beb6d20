package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"msghub/internal/domain"
	"msghub/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func setupStore(t *testing.T) *store.Store {
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
	return st
}

func newAccount(t *testing.T, st *store.Store, username string) *domain.Account {
	t.Helper()
	acc := &domain.Account{
		ID:          uuid.New(),
		Username:    username,
		DisplayName: username,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.Accounts().Create(context.Background(), acc); err != nil {
		t.Fatalf("create account %s: %v", username, err)
	}
	return acc
}

func newMessage(t *testing.T, st *store.Store, sender, receiver uuid.UUID, content string, fileID *uuid.UUID) *domain.Message {
	t.Helper()
	kind := domain.MessageText
	if fileID != nil {
		kind = domain.MessageFile
	}
	msg := &domain.Message{
		ID:         uuid.New(),
		SenderID:   sender,
		ReceiverID: receiver,
		Content:    content,
		Kind:       kind,
		FileID:     fileID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.Messages().Create(context.Background(), msg); err != nil {
		t.Fatalf("create message: %v", err)
	}
	return msg
}

func TestAccountLookup(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	acc := newAccount(t, st, "alice")

	got, err := st.Accounts().GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if got.ID != acc.ID {
		t.Fatalf("expected account %s, got %s", acc.ID, got.ID)
	}

	if _, err := st.Accounts().GetByUsername(ctx, "nobody"); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if _, err := st.Accounts().GetByID(ctx, uuid.New()); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestMessageBetweenOrderAndLimit(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	a, b, c := uuid.New(), uuid.New(), uuid.New()

	first := domain.Message{
		ID: uuid.New(), SenderID: a, ReceiverID: b,
		Content: "first", Kind: domain.MessageText,
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
	}
	second := domain.Message{
		ID: uuid.New(), SenderID: b, ReceiverID: a,
		Content: "second", Kind: domain.MessageText,
		CreatedAt: time.Now().UTC().Add(-1 * time.Minute),
	}
	unrelated := domain.Message{
		ID: uuid.New(), SenderID: a, ReceiverID: c,
		Content: "other thread", Kind: domain.MessageText,
		CreatedAt: time.Now().UTC(),
	}
	for _, m := range []domain.Message{first, second, unrelated} {
		m := m
		if err := st.Messages().Create(ctx, &m); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	msgs, err := st.Messages().Between(ctx, a, b, 0)
	if err != nil {
		t.Fatalf("between: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Fatalf("expected oldest-first order, got %q then %q", msgs[0].Content, msgs[1].Content)
	}

	limited, err := st.Messages().Between(ctx, a, b, 1)
	if err != nil {
		t.Fatalf("between limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 message with limit, got %d", len(limited))
	}
}

func TestMarkReadIsOneWay(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	sender, receiver := uuid.New(), uuid.New()
	msg := newMessage(t, st, sender, receiver, "hi", nil)

	flipped, err := st.Messages().MarkRead(ctx, msg.ID, receiver)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !flipped {
		t.Fatalf("first mark read must report the flip")
	}
	got, err := st.Messages().GetByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsRead {
		t.Fatalf("expected message read")
	}

	// Repeating and marking as the wrong party are both harmless no-ops.
	flipped, err = st.Messages().MarkRead(ctx, msg.ID, receiver)
	if err != nil {
		t.Fatalf("repeat mark read: %v", err)
	}
	if flipped {
		t.Fatalf("repeat mark read must not report a flip")
	}
	flipped, err = st.Messages().MarkRead(ctx, msg.ID, sender)
	if err != nil {
		t.Fatalf("mark read as sender: %v", err)
	}
	if flipped {
		t.Fatalf("sender must not flip the read flag")
	}
	got, _ = st.Messages().GetByID(ctx, msg.ID)
	if !got.IsRead {
		t.Fatalf("read flag must stay set")
	}
}

func TestCorrespondentsOf(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	newMessage(t, st, a, b, "a to b", nil)
	newMessage(t, st, c, a, "c to a", nil)
	newMessage(t, st, b, a, "b to a again", nil)
	newMessage(t, st, c, d, "unrelated", nil)

	got, err := st.Messages().CorrespondentsOf(ctx, a)
	if err != nil {
		t.Fatalf("correspondents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 correspondents, got %d: %v", len(got), got)
	}
	seen := map[uuid.UUID]bool{}
	for _, id := range got {
		seen[id] = true
	}
	if !seen[b] || !seen[c] {
		t.Fatalf("expected b and c, got %v", got)
	}
}

func TestExistsForFile(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	sender, receiver, stranger := uuid.New(), uuid.New(), uuid.New()
	fileID := uuid.New()
	newMessage(t, st, sender, receiver, "doc.pdf", &fileID)

	for _, tc := range []struct {
		name    string
		account uuid.UUID
		want    bool
	}{
		{"sender", sender, true},
		{"receiver", receiver, true},
		{"stranger", stranger, false},
	} {
		ok, err := st.Messages().ExistsForFile(ctx, fileID, tc.account)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if ok != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, ok)
		}
	}
}

func TestCallSaveRoundTrip(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	call := &domain.Call{
		ID:         uuid.New(),
		CallerID:   uuid.New(),
		ReceiverID: uuid.New(),
		Type:       domain.CallAudio,
		Status:     domain.CallInitiated,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.Calls().Create(ctx, call); err != nil {
		t.Fatalf("create call: %v", err)
	}

	now := time.Now().UTC()
	call.Status = domain.CallEnded
	call.AcceptedAt = &now
	call.EndedAt = &now
	call.DurationSeconds = 42
	if err := st.Calls().Save(ctx, call); err != nil {
		t.Fatalf("save call: %v", err)
	}

	got, err := st.Calls().GetByID(ctx, call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if got.Status != domain.CallEnded || got.DurationSeconds != 42 {
		t.Fatalf("unexpected persisted call: %+v", got)
	}
	if got.EndedAt == nil {
		t.Fatalf("expected ended_at persisted")
	}
}

func TestFileRoundTrip(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	file := &domain.File{
		ID:          uuid.New(),
		UploaderID:  uuid.New(),
		Name:        "photo.png",
		Size:        1024,
		MimeType:    "image/png",
		StoragePath: "/tmp/photo.png",
	}
	if err := st.Files().Create(ctx, file); err != nil {
		t.Fatalf("create file: %v", err)
	}
	got, err := st.Files().GetByID(ctx, file.ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if got.Name != "photo.png" || got.Size != 1024 {
		t.Fatalf("unexpected file record: %+v", got)
	}
	if _, err := st.Files().GetByID(ctx, uuid.New()); !errors.Is(err, store.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}
