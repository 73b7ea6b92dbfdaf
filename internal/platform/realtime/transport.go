// Package realtime provides the publish/subscribe channel transport used by
// the presence, chat and call-signaling layers. A Hub owns named topics;
// each participant opens its own Channel on a topic, registers broadcast and
// presence handlers, subscribes, and may track presence metadata. Delivery is
// fire-and-forget, at-most-once, to current subscribers only; there is no
// ordering guarantee across event types.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OrgTopic is the shared presence/broadcast topic for an organization. All
// communication between an organization's staff flows over this one topic.
func OrgTopic(orgID string) string {
	return "org:" + orgID
}

// Status reports the subscription state of a Channel.
type Status int

const (
	StatusClosed Status = iota
	StatusSubscribed
	StatusError
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusError:
		return "error"
	default:
		return "closed"
	}
}

// PresenceMeta is the metadata a participant announces when tracking presence.
type PresenceMeta struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Role     string    `json:"role,omitempty"`
	OnlineAt time.Time `json:"online_at"`
}

// PresenceState is the full known presence set for a topic, keyed by user id.
// A user appears more than once per key when connected from multiple clients.
type PresenceState map[string][]PresenceMeta

// PresenceHandlers receives presence lifecycle callbacks. Sync fires whenever
// the full set is known; Join and Leave fire on membership change. No ordering
// is guaranteed between a Join and a subsequent Sync.
type PresenceHandlers struct {
	Sync  func(state PresenceState)
	Join  func(key string, meta PresenceMeta)
	Leave func(key string, meta PresenceMeta)
}

// BroadcastHandler receives the payload of a named broadcast event.
type BroadcastHandler func(payload json.RawMessage)

// AnyBroadcastHandler receives every broadcast event on a topic regardless of
// name. Used by relays that forward events verbatim.
type AnyBroadcastHandler func(event string, payload json.RawMessage)

// Channel is one participant's attachment to a named topic. Handlers must be
// registered before Subscribe; Track is silently dropped until the
// subscription is confirmed active.
type Channel struct {
	hub   *Hub
	topic string

	mu           sync.Mutex
	status       Status
	removed      bool
	broadcast    map[string][]BroadcastHandler
	anyBroadcast []AnyBroadcastHandler
	presence     []PresenceHandlers
	trackedKey   string
}

// Topic returns the topic name this channel is attached to.
func (c *Channel) Topic() string { return c.topic }

// OnBroadcast registers a handler for a named broadcast event. Returns the
// channel for chaining.
func (c *Channel) OnBroadcast(event string, h BroadcastHandler) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcast[event] = append(c.broadcast[event], h)
	return c
}

// OnBroadcastAny registers a catch-all handler invoked for every broadcast
// event on the topic. Returns the channel for chaining.
func (c *Channel) OnBroadcastAny(h AnyBroadcastHandler) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anyBroadcast = append(c.anyBroadcast, h)
	return c
}

// OnPresence registers presence handlers. Returns the channel for chaining.
func (c *Channel) OnPresence(h PresenceHandlers) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presence = append(c.presence, h)
	return c
}

// Subscribe activates the channel. onStatus, if non-nil, is invoked with the
// resulting status. Subscribing a removed channel reports StatusError.
func (c *Channel) Subscribe(onStatus func(Status)) {
	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		if onStatus != nil {
			onStatus(StatusError)
		}
		return
	}
	c.status = StatusSubscribed
	c.mu.Unlock()

	c.hub.attach(c)
	if onStatus != nil {
		onStatus(StatusSubscribed)
	}
	// A late joiner learns the current presence set immediately.
	c.dispatchSync(c.hub.presenceState(c.topic))
}

// Subscribed reports whether the channel is currently subscribed.
func (c *Channel) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusSubscribed
}

// Send broadcasts a named event to all current subscribers of the topic,
// including the sender. Fire-and-forget: marshal failures are logged and the
// payload is dropped; there is no acknowledgment or retry.
func (c *Channel) Send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.hub.logger.Error().Err(err).Str("topic", c.topic).Str("event", event).
			Msg("realtime: drop unmarshalable broadcast")
		return
	}
	c.hub.fanout(c.topic, event, data)
}

// Track announces presence metadata for this channel. Dropped silently unless
// the subscription is confirmed active.
func (c *Channel) Track(meta PresenceMeta) {
	c.mu.Lock()
	if c.status != StatusSubscribed {
		c.mu.Unlock()
		return
	}
	c.trackedKey = meta.UserID
	c.mu.Unlock()
	c.hub.track(c, meta)
}

// Untrack withdraws this channel's presence announcement, if any.
func (c *Channel) Untrack() {
	c.mu.Lock()
	key := c.trackedKey
	c.trackedKey = ""
	c.mu.Unlock()
	if key != "" {
		c.hub.untrack(c, key)
	}
}

func (c *Channel) handlersFor(event string) []BroadcastHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusSubscribed {
		return nil
	}
	return append([]BroadcastHandler(nil), c.broadcast[event]...)
}

func (c *Channel) anyHandlers() []AnyBroadcastHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusSubscribed {
		return nil
	}
	return append([]AnyBroadcastHandler(nil), c.anyBroadcast...)
}

func (c *Channel) presenceHandlers() []PresenceHandlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusSubscribed {
		return nil
	}
	return append([]PresenceHandlers(nil), c.presence...)
}

func (c *Channel) dispatchSync(state PresenceState) {
	for _, h := range c.presenceHandlers() {
		if h.Sync != nil {
			h.Sync(state)
		}
	}
}

// Hub is the central transport. All operations are safe for concurrent use.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	topics  map[string]map[*Channel]struct{}
	tracked map[string]map[*Channel]PresenceMeta
}

// NewHub creates a Hub ready to hand out channels.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		topics:  make(map[string]map[*Channel]struct{}),
		tracked: make(map[string]map[*Channel]PresenceMeta),
	}
}

// Channel creates a new, unsubscribed channel on the named topic.
func (h *Hub) Channel(topic string) *Channel {
	return &Channel{
		hub:       h,
		topic:     topic,
		broadcast: make(map[string][]BroadcastHandler),
	}
}

// Remove unsubscribes and untracks a channel and drops its listeners. Safe to
// call more than once; only the first call has any effect.
func (h *Hub) Remove(ch *Channel) {
	ch.mu.Lock()
	if ch.removed {
		ch.mu.Unlock()
		return
	}
	ch.removed = true
	ch.status = StatusClosed
	key := ch.trackedKey
	ch.trackedKey = ""
	ch.mu.Unlock()

	if key != "" {
		h.untrack(ch, key)
	}

	h.mu.Lock()
	if subs, ok := h.topics[ch.topic]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.topics, ch.topic)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) attach(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[ch.topic] == nil {
		h.topics[ch.topic] = make(map[*Channel]struct{})
	}
	h.topics[ch.topic][ch] = struct{}{}
}

func (h *Hub) subscribers(topic string) []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.topics[topic]
	out := make([]*Channel, 0, len(subs))
	for ch := range subs {
		out = append(out, ch)
	}
	return out
}

func (h *Hub) fanout(topic, event string, data json.RawMessage) {
	for _, ch := range h.subscribers(topic) {
		for _, handler := range ch.handlersFor(event) {
			handler(data)
		}
		for _, handler := range ch.anyHandlers() {
			handler(event, data)
		}
	}
}

func (h *Hub) track(ch *Channel, meta PresenceMeta) {
	h.mu.Lock()
	if h.tracked[ch.topic] == nil {
		h.tracked[ch.topic] = make(map[*Channel]PresenceMeta)
	}
	h.tracked[ch.topic][ch] = meta
	h.mu.Unlock()

	state := h.presenceState(ch.topic)
	for _, sub := range h.subscribers(ch.topic) {
		for _, handler := range sub.presenceHandlers() {
			if handler.Join != nil {
				handler.Join(meta.UserID, meta)
			}
			if handler.Sync != nil {
				handler.Sync(state)
			}
		}
	}
}

func (h *Hub) untrack(ch *Channel, key string) {
	h.mu.Lock()
	metas, ok := h.tracked[ch.topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	meta, had := metas[ch]
	delete(metas, ch)
	if len(metas) == 0 {
		delete(h.tracked, ch.topic)
	}
	h.mu.Unlock()
	if !had {
		return
	}

	state := h.presenceState(ch.topic)
	for _, sub := range h.subscribers(ch.topic) {
		for _, handler := range sub.presenceHandlers() {
			if handler.Leave != nil {
				handler.Leave(key, meta)
			}
			if handler.Sync != nil {
				handler.Sync(state)
			}
		}
	}
}

// presenceState snapshots the tracked set for a topic.
func (h *Hub) presenceState(topic string) PresenceState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state := make(PresenceState)
	for _, meta := range h.tracked[topic] {
		state[meta.UserID] = append(state[meta.UserID], meta)
	}
	return state
}
