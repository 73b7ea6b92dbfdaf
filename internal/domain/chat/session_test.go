package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/notify"
	"github.com/carelink/carelink/internal/platform/offline"
	"github.com/carelink/carelink/internal/platform/realtime"
)

type mockConversationRepo struct {
	mu    sync.Mutex
	seq   int
	byKey map[string]*Conversation
	byID  map[string]*Conversation
}

func newMockConversationRepo() *mockConversationRepo {
	return &mockConversationRepo{
		byKey: make(map[string]*Conversation),
		byID:  make(map[string]*Conversation),
	}
}

func (r *mockConversationRepo) FindOrCreate(_ context.Context, p1, p2 string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := p1 + "|" + p2
	if c, ok := r.byKey[key]; ok {
		cp := *c
		return &cp, nil
	}
	r.seq++
	c := &Conversation{
		ID:           fmt.Sprintf("conv-%d", r.seq),
		Participant1: p1,
		Participant2: p2,
		CreatedAt:    time.Now(),
	}
	r.byKey[key] = c
	r.byID[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *mockConversationRepo) GetByID(_ context.Context, id string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, errors.New("conversation not found")
	}
	cp := *c
	return &cp, nil
}

type mockMessageRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[string][]*Message
	fail bool
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{rows: make(map[string][]*Message)}
}

func (r *mockMessageRepo) setFailing(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func (r *mockMessageRepo) Insert(_ context.Context, m *Message) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return nil, errors.New("message store unavailable")
	}
	r.seq++
	stored := *m
	stored.ID = fmt.Sprintf("msg-%d", r.seq)
	stored.CreatedAt = time.Now()
	stored.Pending = false
	r.rows[stored.ConversationID] = append(r.rows[stored.ConversationID], &stored)
	cp := stored
	return &cp, nil
}

func (r *mockMessageRepo) ListByConversation(_ context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.rows[conversationID]
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Message, 0, end-offset)
	for _, m := range all[offset:end] {
		cp := *m
		out = append(out, &cp)
	}
	return out, total, nil
}

func (r *mockMessageRepo) MarkRead(_ context.Context, conversationID, readerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows[conversationID] {
		if m.SenderID != readerID {
			m.IsRead = true
		}
	}
	return nil
}

type sessionFixture struct {
	convs    *mockConversationRepo
	msgs     *mockMessageRepo
	hub      *realtime.Hub
	recorder *notify.Recorder
}

func newSessionFixture() *sessionFixture {
	return &sessionFixture{
		convs:    newMockConversationRepo(),
		msgs:     newMockMessageRepo(),
		hub:      realtime.NewHub(zerolog.Nop()),
		recorder: notify.NewRecorder(),
	}
}

func (f *sessionFixture) manager(id, name string) *SessionManager {
	m := NewSessionManager(
		id, name, "org-1",
		f.convs, f.msgs,
		offline.NewQueue(offline.NewMemoryStore()),
		f.hub, f.recorder, zerolog.Nop(),
	)
	m.Start()
	return m
}

func TestOpenChatResolvesOrderedPairBothDirections(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	alice := f.manager("u1", "Alice")
	defer alice.Stop()
	bob := f.manager("u2", "Bob")
	defer bob.Stop()

	wa := alice.OpenChat(ctx, "u2", "Bob")
	wb := bob.OpenChat(ctx, "u1", "Alice")

	if wa.ConversationID == "" {
		t.Fatal("alice's window has no conversation")
	}
	if wa.ConversationID != wb.ConversationID {
		t.Errorf("both directions should resolve to one conversation: %q vs %q", wa.ConversationID, wb.ConversationID)
	}

	conv, err := f.convs.GetByID(ctx, wa.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Participant1 != "u1" || conv.Participant2 != "u2" {
		t.Errorf("participants not ordered: got (%q, %q)", conv.Participant1, conv.Participant2)
	}
}

func TestOpenChatReusesWindow(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	m := f.manager("u1", "Alice")
	defer m.Stop()

	m.OpenChat(ctx, "u2", "Bob")
	m.MinimizeChat("u2")
	w, _ := m.Window("u2")
	if !w.Minimized {
		t.Fatal("window should be minimized")
	}

	reopened := m.OpenChat(ctx, "u2", "Bob")
	if reopened.Minimized {
		t.Error("reopening should un-minimize the window")
	}
	if got := len(m.Windows()); got != 1 {
		t.Errorf("expected a single window per peer, got %d", got)
	}
}

func TestOpenChatLoadsHistory(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	conv, _ := f.convs.FindOrCreate(ctx, "u1", "u2")
	for i := 0; i < 3; i++ {
		if _, err := f.msgs.Insert(ctx, &Message{
			ConversationID: conv.ID,
			SenderID:       "u2",
			RecipientID:    "u1",
			Content:        fmt.Sprintf("hello %d", i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	m := f.manager("u1", "Alice")
	defer m.Stop()

	w := m.OpenChat(ctx, "u2", "Bob")
	if len(w.Messages) != 3 {
		t.Fatalf("expected 3 history messages, got %d", len(w.Messages))
	}
	if w.Messages[0].Content != "hello 0" {
		t.Errorf("history out of order: first message %q", w.Messages[0].Content)
	}
}

func TestSendMessageConfirmedInPlace(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	m := f.manager("u1", "Alice")
	defer m.Stop()

	m.OpenChat(ctx, "u2", "Bob")
	m.SendMessage(ctx, "u2", "hi bob")

	w, _ := m.Window("u2")
	if len(w.Messages) != 1 {
		t.Fatalf("expected exactly one message after confirm, got %d", len(w.Messages))
	}
	msg := w.Messages[0]
	if IsTempID(msg.ID) {
		t.Errorf("confirmed message still has temp id %q", msg.ID)
	}
	if msg.Pending {
		t.Error("confirmed message still pending")
	}
	if msg.Content != "hi bob" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestSendMessageBlankIsNoop(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	m := f.manager("u1", "Alice")
	defer m.Stop()

	m.OpenChat(ctx, "u2", "Bob")
	m.SendMessage(ctx, "u2", "   ")

	w, _ := m.Window("u2")
	if len(w.Messages) != 0 {
		t.Errorf("blank send should not append, got %d messages", len(w.Messages))
	}
}

func TestSendMessageWithoutWindowIsNoop(t *testing.T) {
	f := newSessionFixture()
	m := f.manager("u1", "Alice")
	defer m.Stop()

	m.SendMessage(context.Background(), "u2", "into the void")
	if _, ok := m.Window("u2"); ok {
		t.Error("send must not create a window")
	}
}

func TestSendFailureQueuesAndFlushReconciles(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	m := f.manager("u1", "Alice")
	defer m.Stop()

	m.OpenChat(ctx, "u2", "Bob")
	f.msgs.setFailing(true)
	m.SendMessage(ctx, "u2", "are you there?")

	w, _ := m.Window("u2")
	if len(w.Messages) != 1 {
		t.Fatalf("optimistic message missing, got %d", len(w.Messages))
	}
	if !IsTempID(w.Messages[0].ID) || !w.Messages[0].Pending {
		t.Errorf("queued message should stay pending with a temp id, got %+v", w.Messages[0])
	}

	// The store comes back and connectivity is restored.
	f.msgs.setFailing(false)
	m.SetOnline(ctx, false)
	m.SetOnline(ctx, true)

	w, _ = m.Window("u2")
	if len(w.Messages) != 1 {
		t.Fatalf("flush must replace in place, got %d messages", len(w.Messages))
	}
	if IsTempID(w.Messages[0].ID) {
		t.Errorf("flushed message still has temp id %q", w.Messages[0].ID)
	}
}

func TestFlushFailureKeepsEntryQueued(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	m := f.manager("u1", "Alice")
	defer m.Stop()

	m.OpenChat(ctx, "u2", "Bob")
	f.msgs.setFailing(true)
	m.SendMessage(ctx, "u2", "still trying")

	// Store is still down during the flush attempt.
	m.SetOnline(ctx, false)
	m.SetOnline(ctx, true)

	w, _ := m.Window("u2")
	if len(w.Messages) != 1 || !IsTempID(w.Messages[0].ID) {
		t.Fatalf("failed flush must leave the optimistic message untouched, got %+v", w.Messages)
	}

	// A later successful flush drains it.
	f.msgs.setFailing(false)
	m.Flush(ctx)
	w, _ = m.Window("u2")
	if IsTempID(w.Messages[0].ID) {
		t.Error("entry should have been delivered on retry")
	}
}

func TestIncomingMessageOpensWindowAndCues(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	alice := f.manager("u1", "Alice")
	defer alice.Stop()
	bob := f.manager("u2", "Bob")
	defer bob.Stop()

	alice.OpenChat(ctx, "u2", "Bob")
	alice.SendMessage(ctx, "u2", "good morning")

	w, ok := bob.Window("u1")
	if !ok {
		t.Fatal("incoming message should open a window keyed by sender")
	}
	if len(w.Messages) != 1 || w.Messages[0].Content != "good morning" {
		t.Fatalf("unexpected window contents: %+v", w.Messages)
	}
	if w.PeerName != "Alice" {
		t.Errorf("peer name = %q", w.PeerName)
	}

	found := false
	for _, c := range f.recorder.Cues() {
		if c == notify.CueMessageReceived {
			found = true
		}
	}
	if !found {
		t.Error("recipient should hear the message cue")
	}
}

func TestSenderEchoDoesNotDuplicate(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	alice := f.manager("u1", "Alice")
	defer alice.Stop()

	alice.OpenChat(ctx, "u2", "Bob")
	alice.SendMessage(ctx, "u2", "once only")

	// The transport echoes the broadcast back to the sender; the confirmed
	// copy is already in the window.
	w, _ := alice.Window("u2")
	if len(w.Messages) != 1 {
		t.Errorf("sender echo duplicated the message: %d copies", len(w.Messages))
	}
}

func TestIncomingDuplicateIgnored(t *testing.T) {
	f := newSessionFixture()

	bob := f.manager("u2", "Bob")
	defer bob.Stop()

	ev := MessageEvent{
		ID:          "msg-7",
		SenderID:    "u1",
		SenderName:  "Alice",
		RecipientID: "u2",
		Content:     "knock knock",
		CreatedAt:   time.Now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	bob.HandleIncoming(payload)
	bob.HandleIncoming(payload)

	w, _ := bob.Window("u1")
	if len(w.Messages) != 1 {
		t.Errorf("duplicate delivery appended twice: %d messages", len(w.Messages))
	}
}

func TestIncomingForOtherRecipientIgnored(t *testing.T) {
	f := newSessionFixture()

	carol := f.manager("u3", "Carol")
	defer carol.Stop()

	ev := MessageEvent{
		ID:          "msg-9",
		SenderID:    "u1",
		SenderName:  "Alice",
		RecipientID: "u2",
		Content:     "not for carol",
		CreatedAt:   time.Now(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	carol.HandleIncoming(payload)

	if _, ok := carol.Window("u1"); ok {
		t.Error("message addressed elsewhere must not open a window")
	}
}

func TestCloseChatDropsWindow(t *testing.T) {
	f := newSessionFixture()
	ctx := context.Background()

	m := f.manager("u1", "Alice")
	defer m.Stop()

	m.OpenChat(ctx, "u2", "Bob")
	m.CloseChat("u2")
	if _, ok := m.Window("u2"); ok {
		t.Error("closed window still present")
	}
	m.CloseChat("u2") // closing again is harmless
}
