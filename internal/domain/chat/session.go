package chat

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/notify"
	"github.com/carelink/carelink/internal/platform/offline"
	"github.com/carelink/carelink/internal/platform/realtime"
)

const historyLimit = 200

// SessionManager owns the set of open chat windows for one staff user:
// optimistic sends, inbound delivery, and the offline queue replayed on
// reconnect. It is constructed at application start and disposed with Stop.
//
// Remote persistence failures are never surfaced to the sender; the message
// stays visible locally and is queued for redelivery. Only the inbound path
// plays a notification cue.
type SessionManager struct {
	selfID   string
	selfName string
	orgID    string
	convs    ConversationRepository
	msgs     MessageRepository
	queue    *offline.Queue
	hub      *realtime.Hub
	notifier notify.Notifier
	logger   zerolog.Logger

	mu      sync.Mutex
	windows map[string]*ChatWindow
	genSeq  uint64
	online  bool
	channel *realtime.Channel
}

// NewSessionManager creates a SessionManager for the given local user.
func NewSessionManager(
	selfID, selfName, orgID string,
	convs ConversationRepository,
	msgs MessageRepository,
	queue *offline.Queue,
	hub *realtime.Hub,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *SessionManager {
	return &SessionManager{
		selfID:   selfID,
		selfName: selfName,
		orgID:    orgID,
		convs:    convs,
		msgs:     msgs,
		queue:    queue,
		hub:      hub,
		notifier: notifier,
		logger:   logger,
		windows:  make(map[string]*ChatWindow),
		online:   true,
	}
}

// Start attaches the manager to the organization topic: inbound messages are
// handled, and local presence is announced once the subscription is active.
func (m *SessionManager) Start() {
	ch := m.hub.Channel(realtime.OrgTopic(m.orgID))
	ch.OnBroadcast(EventChatMessage, m.HandleIncoming)
	ch.Subscribe(func(status realtime.Status) {
		if status != realtime.StatusSubscribed {
			return
		}
		ch.Track(realtime.PresenceMeta{
			UserID:   m.selfID,
			Name:     m.selfName,
			OnlineAt: time.Now(),
		})
	})

	m.mu.Lock()
	m.channel = ch
	m.mu.Unlock()
}

// Stop releases the transport subscription. Safe to call more than once.
func (m *SessionManager) Stop() {
	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	m.mu.Unlock()
	if ch != nil {
		m.hub.Remove(ch)
	}
}

// OpenChat opens (or un-minimizes) the window for a peer. For a new window it
// resolves the conversation keyed by the ordered participant pair, loads
// history, and flushes any queued messages for that conversation. A failed
// resolution leaves the window open with sends disabled until the next open.
func (m *SessionManager) OpenChat(ctx context.Context, peerID, peerName string) ChatWindow {
	m.mu.Lock()
	if w, ok := m.windows[peerID]; ok {
		w.Minimized = false
		snapshot := *w
		m.mu.Unlock()
		return snapshot
	}
	m.genSeq++
	w := &ChatWindow{PeerID: peerID, PeerName: peerName, gen: m.genSeq}
	m.windows[peerID] = w
	gen := w.gen
	m.mu.Unlock()

	p1, p2 := NormalizePair(m.selfID, peerID)
	conv, err := m.convs.FindOrCreate(ctx, p1, p2)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer_id", peerID).Msg("chat: resolve conversation")
		return m.snapshot(peerID)
	}

	history, _, err := m.msgs.ListByConversation(ctx, conv.ID, historyLimit, 0)
	if err != nil {
		m.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("chat: load history")
		history = nil
	}

	m.mu.Lock()
	// The window may have been closed, or closed and reopened, while the
	// collaborator calls were in flight; stale results are discarded.
	if w, ok := m.windows[peerID]; ok && w.gen == gen {
		w.ConversationID = conv.ID
		w.Messages = w.Messages[:0]
		for _, msg := range history {
			w.Messages = append(w.Messages, *msg)
		}
	}
	m.mu.Unlock()

	m.flushConversation(ctx, conv.ID)
	return m.snapshot(peerID)
}

// CloseChat destroys the window for a peer. Local state only.
func (m *SessionManager) CloseChat(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, peerID)
}

// MinimizeChat minimizes the window for a peer. Local state only.
func (m *SessionManager) MinimizeChat(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[peerID]; ok {
		w.Minimized = true
	}
}

// SendMessage sends content to a peer. Blank content, a missing window, or an
// unresolved conversation make it a no-op. The message appears in the window
// immediately with a temp id; persistence failure silently defers it to the
// offline queue.
func (m *SessionManager) SendMessage(ctx context.Context, peerID, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	m.mu.Lock()
	w, ok := m.windows[peerID]
	if !ok || w.ConversationID == "" {
		m.mu.Unlock()
		return
	}
	msg := Message{
		ID:             NewTempID(),
		ConversationID: w.ConversationID,
		SenderID:       m.selfID,
		RecipientID:    peerID,
		Content:        content,
		CreatedAt:      time.Now(),
		Pending:        true,
	}
	w.Messages = append(w.Messages, msg)
	gen := w.gen
	m.mu.Unlock()

	confirmed, err := m.msgs.Insert(ctx, &msg)
	if err != nil {
		if qErr := m.queue.Append(offline.Entry{
			TempID:         msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			RecipientID:    msg.RecipientID,
			Content:        msg.Content,
			QueuedAt:       time.Now(),
		}); qErr != nil {
			m.logger.Error().Err(qErr).Str("temp_id", msg.ID).Msg("chat: queue offline message")
		}
		return
	}

	m.mu.Lock()
	if w, ok := m.windows[peerID]; ok && w.gen == gen {
		replaceByID(w, msg.ID, *confirmed)
	}
	m.mu.Unlock()

	m.broadcast(confirmed)
}

// SetOnline records connectivity; the transition to online flushes the
// offline queue.
func (m *SessionManager) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	wasOnline := m.online
	m.online = online
	m.mu.Unlock()

	if online && !wasOnline {
		m.Flush(ctx)
	}
}

// Flush replays every queued message whose conversation is resolved. Entries
// that fail again stay queued for the next online transition.
func (m *SessionManager) Flush(ctx context.Context) {
	m.flush(ctx, func(offline.Entry) bool { return true })
}

func (m *SessionManager) flushConversation(ctx context.Context, conversationID string) {
	m.flush(ctx, func(e offline.Entry) bool { return e.ConversationID == conversationID })
}

func (m *SessionManager) flush(ctx context.Context, match func(offline.Entry) bool) {
	entries, err := m.queue.Entries()
	if err != nil {
		m.logger.Warn().Err(err).Msg("chat: read offline queue")
		return
	}

	for _, e := range entries {
		if e.ConversationID == "" || !match(e) {
			continue
		}
		confirmed, err := m.msgs.Insert(ctx, &Message{
			ConversationID: e.ConversationID,
			SenderID:       e.SenderID,
			RecipientID:    e.RecipientID,
			Content:        e.Content,
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("temp_id", e.TempID).Msg("chat: offline flush")
			continue
		}
		if err := m.queue.Remove(e.TempID); err != nil {
			m.logger.Error().Err(err).Str("temp_id", e.TempID).Msg("chat: dequeue")
		}

		m.mu.Lock()
		if w, ok := m.windows[e.RecipientID]; ok {
			replaceByID(w, e.TempID, *confirmed)
		}
		m.mu.Unlock()

		m.broadcast(confirmed)
	}
}

// HandleIncoming processes a chat-message broadcast from the transport.
// Messages are de-duplicated by id: the echo of a just-sent message and its
// optimistic copy must not both appear.
func (m *SessionManager) HandleIncoming(payload json.RawMessage) {
	var ev MessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		m.logger.Debug().Err(err).Msg("chat: drop malformed message event")
		return
	}

	if ev.SenderID == m.selfID {
		// Echo of our own send, possibly from another client of the same
		// account. Append only if the window is open and the id is new.
		m.mu.Lock()
		if w, ok := m.windows[ev.RecipientID]; ok && !containsID(w, ev.ID) {
			w.Messages = append(w.Messages, messageFromEvent(ev))
		}
		m.mu.Unlock()
		return
	}
	if ev.RecipientID != m.selfID {
		return
	}

	m.mu.Lock()
	w, ok := m.windows[ev.SenderID]
	if !ok {
		m.genSeq++
		w = &ChatWindow{
			PeerID:         ev.SenderID,
			PeerName:       ev.SenderName,
			ConversationID: ev.ConversationID,
			gen:            m.genSeq,
		}
		m.windows[ev.SenderID] = w
	}
	if containsID(w, ev.ID) {
		m.mu.Unlock()
		return
	}
	w.Messages = append(w.Messages, messageFromEvent(ev))
	m.mu.Unlock()

	m.notifier.Cue(notify.CueMessageReceived)
}

// Window returns a snapshot of the window for a peer.
func (m *SessionManager) Window(peerID string) (ChatWindow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[peerID]
	if !ok {
		return ChatWindow{}, false
	}
	return *w, true
}

// Windows returns snapshots of all open windows.
func (m *SessionManager) Windows() []ChatWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatWindow, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, *w)
	}
	return out
}

func (m *SessionManager) snapshot(peerID string) ChatWindow {
	w, _ := m.Window(peerID)
	return w
}

func (m *SessionManager) broadcast(msg *Message) {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		return
	}
	ch.Send(EventChatMessage, MessageEvent{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     m.selfName,
		RecipientID:    msg.RecipientID,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	})
}

// replaceByID swaps the message with the given id for the confirmed record,
// preserving its display position.
func replaceByID(w *ChatWindow, id string, confirmed Message) {
	for i := range w.Messages {
		if w.Messages[i].ID == id {
			w.Messages[i] = confirmed
			return
		}
	}
}

func containsID(w *ChatWindow, id string) bool {
	for i := range w.Messages {
		if w.Messages[i].ID == id {
			return true
		}
	}
	return false
}

func messageFromEvent(ev MessageEvent) Message {
	return Message{
		ID:             ev.ID,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		RecipientID:    ev.RecipientID,
		Content:        ev.Content,
		CreatedAt:      ev.CreatedAt,
	}
}
