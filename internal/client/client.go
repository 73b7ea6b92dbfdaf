// Package client assembles the per-user realtime stack: the chat session
// manager, the call machine, and the durable offline queue, configured from
// the application config. The host runtime constructs one Session per
// signed-in staff user and passes it to the UI layers.
package client

import (
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/call"
	"github.com/carelink/carelink/internal/domain/chat"
	"github.com/carelink/carelink/internal/platform/media"
	"github.com/carelink/carelink/internal/platform/notify"
	"github.com/carelink/carelink/internal/platform/offline"
	"github.com/carelink/carelink/internal/platform/realtime"
)

// Deps are the collaborators a Session composes over.
type Deps struct {
	Conversations chat.ConversationRepository
	Messages      chat.MessageRepository
	Devices       media.Devices
	Peers         media.PeerFactory
	Hub           *realtime.Hub
	Notifier      notify.Notifier
	Logger        zerolog.Logger
}

// Session is one staff user's live communication stack.
type Session struct {
	Chat *chat.SessionManager
	Call *call.Machine
}

// NewSession builds a Session for the given user. The offline queue persists
// at cfg.OfflineQueuePath; the ring prompt window comes from cfg.RingTimeout.
func NewSession(cfg *config.Config, selfID, selfName, orgID string, d Deps) *Session {
	queue := offline.NewQueue(offline.NewFileStore(cfg.OfflineQueuePath))
	return &Session{
		Chat: chat.NewSessionManager(selfID, selfName, orgID,
			d.Conversations, d.Messages, queue, d.Hub, d.Notifier, d.Logger),
		Call: call.NewMachine(selfID, selfName, orgID,
			d.Devices, d.Peers, d.Hub, d.Notifier, cfg.RingTimeout(), d.Logger),
	}
}

// Start attaches both managers to the organization topic.
func (s *Session) Start() {
	s.Chat.Start()
	s.Call.Start()
}

// Stop tears down any active call and releases the transport subscriptions.
func (s *Session) Stop() {
	s.Call.Stop()
	s.Chat.Stop()
}
