package realtime

import (
	"encoding/json"
	"net/http"
	"sync"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ClientFrame is an inbound frame from a remote websocket client.
type ClientFrame struct {
	Action  string          `json:"action"` // subscribe | unsubscribe | track | untrack | broadcast
	Topic   string          `json:"topic"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Meta    *PresenceMeta   `json:"meta,omitempty"`
}

// ServerFrame is an outbound frame to a remote websocket client.
type ServerFrame struct {
	Type    string          `json:"type"` // broadcast | presence | status
	Topic   string          `json:"topic"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Key     string          `json:"key,omitempty"`
	Meta    *PresenceMeta   `json:"meta,omitempty"`
	State   PresenceState   `json:"state,omitempty"`
	Status  string          `json:"status,omitempty"`
}

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Bridge exposes the Hub to remote websocket clients. Each connection gets
// its own set of channels, torn down when the socket closes.
type Bridge struct {
	hub    *Hub
	logger zerolog.Logger
}

// NewBridge creates a Bridge bound to the given Hub.
func NewBridge(hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{hub: hub, logger: logger}
}

// RegisterRoutes registers the websocket endpoint on the provided Echo group.
func (b *Bridge) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", b.HandleConnect)
}

// HandleConnect upgrades an HTTP connection to websocket and starts the
// read/write pumps.
func (b *Bridge) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sess := newBridgeSession(b.hub, &gorillaConnAdapter{ws})
	go sess.writePump()
	go sess.readPump()
	return nil
}

// bridgeSession relays frames between one websocket connection and the hub.
type bridgeSession struct {
	hub  *Hub
	conn Conn
	send chan []byte

	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool
}

func newBridgeSession(hub *Hub, conn Conn) *bridgeSession {
	return &bridgeSession{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]*Channel),
	}
}

func (s *bridgeSession) readPump() {
	defer s.teardown()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			break
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue // Ignore malformed frames.
		}
		s.handleFrame(frame)
	}
}

func (s *bridgeSession) writePump() {
	defer s.conn.Close()

	for message := range s.send {
		if err := s.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

func (s *bridgeSession) handleFrame(frame ClientFrame) {
	if frame.Topic == "" {
		return
	}

	switch frame.Action {
	case "subscribe":
		s.subscribe(frame.Topic)
	case "unsubscribe":
		s.unsubscribe(frame.Topic)
	case "track":
		if ch := s.channel(frame.Topic); ch != nil && frame.Meta != nil {
			ch.Track(*frame.Meta)
		}
	case "untrack":
		if ch := s.channel(frame.Topic); ch != nil {
			ch.Untrack()
		}
	case "broadcast":
		if ch := s.channel(frame.Topic); ch != nil && frame.Event != "" {
			ch.Send(frame.Event, frame.Payload)
		}
	}
}

func (s *bridgeSession) subscribe(topic string) {
	s.mu.Lock()
	if s.closed || s.channels[topic] != nil {
		s.mu.Unlock()
		return
	}
	ch := s.hub.Channel(topic)
	s.channels[topic] = ch
	s.mu.Unlock()

	s.relayAll(ch, topic)

	ch.Subscribe(func(status Status) {
		s.enqueue(ServerFrame{Type: "status", Topic: topic, Status: status.String()})
	})
}

// relayAll wires presence relay and the catch-all broadcast relay for a topic.
func (s *bridgeSession) relayAll(ch *Channel, topic string) {
	ch.OnPresence(PresenceHandlers{
		Sync: func(state PresenceState) {
			s.enqueue(ServerFrame{Type: "presence", Topic: topic, Event: "sync", State: state})
		},
		Join: func(key string, meta PresenceMeta) {
			m := meta
			s.enqueue(ServerFrame{Type: "presence", Topic: topic, Event: "join", Key: key, Meta: &m})
		},
		Leave: func(key string, meta PresenceMeta) {
			m := meta
			s.enqueue(ServerFrame{Type: "presence", Topic: topic, Event: "leave", Key: key, Meta: &m})
		},
	})
	ch.OnBroadcastAny(func(event string, payload json.RawMessage) {
		s.enqueue(ServerFrame{Type: "broadcast", Topic: topic, Event: event, Payload: payload})
	})
}

func (s *bridgeSession) unsubscribe(topic string) {
	s.mu.Lock()
	ch := s.channels[topic]
	delete(s.channels, topic)
	s.mu.Unlock()
	if ch != nil {
		s.hub.Remove(ch)
	}
}

func (s *bridgeSession) channel(topic string) *Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[topic]
}

// enqueue queues a frame for the write pump, dropping it when the client
// buffer is full to avoid blocking the hub. The send is serialized with
// teardown's close under s.mu: a relay handler invoked from a hub fanout
// snapshot can run after the session starts tearing down, and must see the
// closed flag rather than a closed channel.
func (s *bridgeSession) enqueue(frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- data:
	default:
		// Client buffer full; skip to avoid blocking.
	}
}

func (s *bridgeSession) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	channels := s.channels
	s.channels = map[string]*Channel{}
	close(s.send)
	s.mu.Unlock()

	for _, ch := range channels {
		s.hub.Remove(ch)
	}
	s.conn.Close()
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
