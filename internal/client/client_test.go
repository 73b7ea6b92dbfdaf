package client

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/config"
	"github.com/carelink/carelink/internal/domain/call"
	"github.com/carelink/carelink/internal/domain/chat"
	"github.com/carelink/carelink/internal/platform/notify"
	"github.com/carelink/carelink/internal/platform/realtime"
)

type stubConvRepo struct{}

func (stubConvRepo) FindOrCreate(_ context.Context, p1, p2 string) (*chat.Conversation, error) {
	return &chat.Conversation{ID: "conv-1", Participant1: p1, Participant2: p2, CreatedAt: time.Now()}, nil
}

func (stubConvRepo) GetByID(_ context.Context, id string) (*chat.Conversation, error) {
	return &chat.Conversation{ID: id, Participant1: "u1", Participant2: "u2"}, nil
}

// failingMsgRepo rejects every insert so sends defer to the offline queue.
type failingMsgRepo struct{}

func (failingMsgRepo) Insert(context.Context, *chat.Message) (*chat.Message, error) {
	return nil, errors.New("store unavailable")
}

func (failingMsgRepo) ListByConversation(context.Context, string, int, int) ([]*chat.Message, int, error) {
	return nil, 0, nil
}

func (failingMsgRepo) MarkRead(context.Context, string, string) error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		OfflineQueuePath: filepath.Join(t.TempDir(), "offline_messages.json"),
		RingTimeoutSecs:  45,
	}
}

func TestSessionPersistsOfflineQueueAtConfiguredPath(t *testing.T) {
	cfg := testConfig(t)
	hub := realtime.NewHub(zerolog.Nop())

	s := NewSession(cfg, "u1", "Alice", "org-1", Deps{
		Conversations: stubConvRepo{},
		Messages:      failingMsgRepo{},
		Hub:           hub,
		Notifier:      notify.NewRecorder(),
		Logger:        zerolog.Nop(),
	})
	s.Start()
	defer s.Stop()

	s.Chat.OpenChat(context.Background(), "u2", "Bob")
	s.Chat.SendMessage(context.Background(), "u2", "are you there?")

	data, err := os.ReadFile(cfg.OfflineQueuePath)
	if err != nil {
		t.Fatalf("offline queue file not written: %v", err)
	}
	if !strings.Contains(string(data), "are you there?") {
		t.Errorf("queued message missing from %s: %s", cfg.OfflineQueuePath, data)
	}
}

func TestSessionRingWindowComesFromConfig(t *testing.T) {
	cfg := testConfig(t)
	hub := realtime.NewHub(zerolog.Nop())

	s := NewSession(cfg, "u2", "Bob", "org-1", Deps{
		Conversations: stubConvRepo{},
		Messages:      failingMsgRepo{},
		Hub:           hub,
		Notifier:      notify.NewRecorder(),
		Logger:        zerolog.Nop(),
	})
	s.Start()
	defer s.Stop()

	peer := hub.Channel(realtime.OrgTopic("org-1"))
	peer.Subscribe(nil)
	peer.Send(call.EventCallSignal, call.Signal{
		Type:    call.SignalRequest,
		From:    "u1",
		To:      "u2",
		Payload: json.RawMessage(`{"video":false}`),
	})

	c, active := s.Call.Current()
	if !active {
		t.Fatal("incoming call-request did not ring")
	}
	remaining := time.Until(c.RingDeadline)
	if remaining < 44*time.Second || remaining > 46*time.Second {
		t.Errorf("ring deadline %v from now, want ~%v", remaining, cfg.RingTimeout())
	}
}
