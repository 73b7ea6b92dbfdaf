// Package call implements the signaling state machine for staff audio/video
// calls: idle, ringing and ongoing states driven by user actions and by
// signal broadcasts on the organization topic. Media capture and peer
// connections are external collaborators behind the media package.
package call

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/media"
	"github.com/carelink/carelink/internal/platform/notify"
	"github.com/carelink/carelink/internal/platform/realtime"
)

// Machine owns the single active call for one staff user. All transitions are
// gated on current state, so late or duplicate signals degrade to no-ops. The
// teardown path is one routine shared by every exit: local hangup, remote
// hangup, decline, and media failure all release tracks and the peer
// connection exactly once.
type Machine struct {
	selfID     string
	selfName   string
	orgID      string
	devices    media.Devices
	peers      media.PeerFactory
	hub        *realtime.Hub
	notifier   notify.Notifier
	logger     zerolog.Logger
	ringWindow time.Duration

	mu           sync.Mutex
	channel      *realtime.Channel
	gen          uint64
	call         *Call
	pc           media.PeerConnection
	localStream  media.Stream
	remoteStream media.Stream
	pendingOffer json.RawMessage
	onChange     func(snapshot Call, active bool)
}

// NewMachine creates a Machine for the given local user. ringWindow bounds
// the incoming ring prompt surfaced to the UI.
func NewMachine(
	selfID, selfName, orgID string,
	devices media.Devices,
	peers media.PeerFactory,
	hub *realtime.Hub,
	notifier notify.Notifier,
	ringWindow time.Duration,
	logger zerolog.Logger,
) *Machine {
	return &Machine{
		selfID:     selfID,
		selfName:   selfName,
		orgID:      orgID,
		devices:    devices,
		peers:      peers,
		hub:        hub,
		notifier:   notifier,
		logger:     logger,
		ringWindow: ringWindow,
	}
}

// SetOnChange registers a callback invoked after every state transition with
// a snapshot of the call, or active=false once it is torn down. Must be set
// before Start.
func (m *Machine) SetOnChange(fn func(snapshot Call, active bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Start attaches the machine to the organization topic.
func (m *Machine) Start() {
	ch := m.hub.Channel(realtime.OrgTopic(m.orgID))
	ch.OnBroadcast(EventCallSignal, m.HandleSignal)
	ch.Subscribe(nil)

	m.mu.Lock()
	m.channel = ch
	m.mu.Unlock()
}

// Stop detaches from the transport and tears down any active call.
func (m *Machine) Stop() {
	m.mu.Lock()
	ch := m.channel
	gen := m.gen
	m.channel = nil
	m.mu.Unlock()

	m.teardown(gen)
	if ch != nil {
		m.hub.Remove(ch)
	}
}

// Current returns a snapshot of the active call, if any.
func (m *Machine) Current() (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.call == nil {
		return Call{}, false
	}
	return *m.call, true
}

// LocalStream returns the local capture stream of the active call, or nil.
func (m *Machine) LocalStream() media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localStream
}

// RemoteStream returns the remote stream once received, or nil.
func (m *Machine) RemoteStream() media.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remoteStream
}

// StartCall places an outgoing call. It acquires local media first; failure
// aborts the transition with the machine back at idle. A second call while
// one is ringing or ongoing is rejected with ErrCallInProgress.
func (m *Machine) StartCall(ctx context.Context, peerID, peerName string, video bool) (Call, error) {
	m.mu.Lock()
	if m.call != nil {
		m.mu.Unlock()
		return Call{}, ErrCallInProgress
	}
	m.gen++
	gen := m.gen
	c := &Call{
		CallerID:     m.selfID,
		CallerName:   m.selfName,
		ReceiverID:   peerID,
		ReceiverName: peerName,
		Video:        video,
		State:        StateRinging,
		Role:         RoleCaller,
	}
	m.call = c
	m.mu.Unlock()

	pc, err := m.acquireAndConnect(ctx, gen, peerID, video)
	if err != nil {
		m.teardown(gen)
		return Call{}, err
	}
	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		m.teardown(gen)
		return Call{}, fmt.Errorf("create offer: %w", err)
	}

	m.sendSignal(SignalRequest, peerID, RequestPayload{Video: video, Session: offer})
	m.notifyChange()
	return m.snapshot(), nil
}

// AnswerCall accepts the incoming ringing call. Media acquisition failure
// ends the call for both sides.
func (m *Machine) AnswerCall(ctx context.Context) (Call, error) {
	m.mu.Lock()
	if m.call == nil || m.call.State != StateRinging || m.call.Role != RoleReceiver {
		m.mu.Unlock()
		return Call{}, ErrNotRinging
	}
	gen := m.gen
	peerID := m.call.PeerID()
	video := m.call.Video
	offer := m.pendingOffer
	m.mu.Unlock()

	pc, err := m.acquireAndConnect(ctx, gen, peerID, video)
	if err != nil {
		m.sendSignal(SignalEnd, peerID, EndPayload{Reason: EndReasonMedia})
		m.teardown(gen)
		m.notifier.Cue(notify.CueRingStopped)
		return Call{}, err
	}
	answer, err := pc.CreateAnswer(ctx, offer)
	if err != nil {
		m.sendSignal(SignalEnd, peerID, EndPayload{Reason: EndReasonMedia})
		m.teardown(gen)
		m.notifier.Cue(notify.CueRingStopped)
		return Call{}, fmt.Errorf("create answer: %w", err)
	}

	m.mu.Lock()
	if m.gen == gen && m.call != nil {
		m.call.State = StateOngoing
		m.call.RingDeadline = time.Time{}
	}
	m.mu.Unlock()

	m.sendSignal(SignalAnswer, peerID, AnswerPayload{Session: answer})
	m.notifier.Cue(notify.CueRingStopped)
	m.notifyChange()
	return m.snapshot(), nil
}

// DeclineCall refuses the incoming ringing call.
func (m *Machine) DeclineCall() error {
	m.mu.Lock()
	if m.call == nil || m.call.State != StateRinging || m.call.Role != RoleReceiver {
		m.mu.Unlock()
		return ErrNotRinging
	}
	gen := m.gen
	peerID := m.call.PeerID()
	m.mu.Unlock()

	m.sendSignal(SignalEnd, peerID, EndPayload{Reason: EndReasonDeclined})
	m.teardown(gen)
	m.notifier.Cue(notify.CueRingStopped)
	return nil
}

// EndCall hangs up the active call from either state. Calling it again after
// the call is gone returns ErrNoActiveCall with no other effect.
func (m *Machine) EndCall() error {
	m.mu.Lock()
	if m.call == nil {
		m.mu.Unlock()
		return ErrNoActiveCall
	}
	gen := m.gen
	peerID := m.call.PeerID()
	m.mu.Unlock()

	m.sendSignal(SignalEnd, peerID, EndPayload{Reason: EndReasonHangup})
	m.teardown(gen)
	m.notifier.Cue(notify.CueCallEnded)
	return nil
}

// ToggleMute flips the audio tracks of the local stream. Returns the new
// muted state.
func (m *Machine) ToggleMute() (bool, error) {
	return m.toggle(media.KindAudio)
}

// ToggleVideo flips the video tracks of the local stream. Returns the new
// video-off state.
func (m *Machine) ToggleVideo() (bool, error) {
	return m.toggle(media.KindVideo)
}

func (m *Machine) toggle(kind media.TrackKind) (bool, error) {
	m.mu.Lock()
	if m.call == nil || m.localStream == nil {
		m.mu.Unlock()
		return false, ErrNoActiveCall
	}
	var off bool
	if kind == media.KindAudio {
		m.call.Muted = !m.call.Muted
		off = m.call.Muted
	} else {
		m.call.VideoOff = !m.call.VideoOff
		off = m.call.VideoOff
	}
	stream := m.localStream
	m.mu.Unlock()

	for _, t := range stream.Tracks() {
		if t.Kind() == kind {
			t.SetEnabled(!off)
		}
	}
	m.notifyChange()
	return off, nil
}

// HandleSignal processes a call signal broadcast from the transport. Signals
// from the local user (transport echo) or addressed elsewhere are ignored.
func (m *Machine) HandleSignal(payload json.RawMessage) {
	var sig Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		m.logger.Debug().Err(err).Msg("call: drop malformed signal")
		return
	}
	if sig.From == m.selfID || sig.To != m.selfID {
		return
	}

	switch sig.Type {
	case SignalRequest:
		m.handleRequest(sig)
	case SignalAnswer:
		m.handleAnswer(sig)
	case SignalEnd:
		m.handleEnd(sig)
	case SignalCandidate:
		m.handleCandidate(sig)
	default:
		m.logger.Debug().Str("type", string(sig.Type)).Msg("call: drop unknown signal")
	}
}

func (m *Machine) handleRequest(sig Signal) {
	var req RequestPayload
	if err := json.Unmarshal(sig.Payload, &req); err != nil {
		m.logger.Debug().Err(err).Msg("call: drop malformed call-request")
		return
	}

	m.mu.Lock()
	if m.call != nil {
		m.mu.Unlock()
		m.sendSignal(SignalEnd, sig.From, EndPayload{Reason: EndReasonBusy})
		return
	}
	m.gen++
	m.call = &Call{
		CallerID:     sig.From,
		CallerName:   sig.FromName,
		ReceiverID:   m.selfID,
		ReceiverName: m.selfName,
		Video:        req.Video,
		State:        StateRinging,
		Role:         RoleReceiver,
		RingDeadline: time.Now().Add(m.ringWindow),
	}
	m.pendingOffer = req.Session
	m.mu.Unlock()

	m.notifier.Cue(notify.CueIncomingRing)
	m.notifyChange()
}

func (m *Machine) handleAnswer(sig Signal) {
	var ans AnswerPayload
	if err := json.Unmarshal(sig.Payload, &ans); err != nil {
		m.logger.Debug().Err(err).Msg("call: drop malformed call-answer")
		return
	}

	m.mu.Lock()
	// Only an outgoing ring can be answered; anything else is a stale or
	// misdelivered signal.
	if m.call == nil || m.call.State != StateRinging || m.call.Role != RoleCaller || m.call.PeerID() != sig.From {
		m.mu.Unlock()
		return
	}
	m.call.State = StateOngoing
	m.call.RingDeadline = time.Time{}
	pc := m.pc
	m.mu.Unlock()

	if pc != nil {
		if err := pc.AcceptAnswer(ans.Session); err != nil {
			m.logger.Warn().Err(err).Msg("call: apply remote answer")
		}
	}
	m.notifier.Cue(notify.CueRingStopped)
	m.notifyChange()
}

func (m *Machine) handleEnd(sig Signal) {
	m.mu.Lock()
	if m.call == nil || m.call.PeerID() != sig.From {
		m.mu.Unlock()
		return
	}
	wasRinging := m.call.State == StateRinging
	gen := m.gen
	m.mu.Unlock()

	m.teardown(gen)
	if wasRinging {
		m.notifier.Cue(notify.CueRingStopped)
	}
	m.notifier.Cue(notify.CueCallEnded)
}

func (m *Machine) handleCandidate(sig Signal) {
	var cand CandidatePayload
	if err := json.Unmarshal(sig.Payload, &cand); err != nil {
		m.logger.Debug().Err(err).Msg("call: drop malformed candidate")
		return
	}

	m.mu.Lock()
	pc := m.pc
	fromPeer := m.call != nil && m.call.PeerID() == sig.From
	m.mu.Unlock()
	if pc == nil || !fromPeer {
		return
	}
	if err := pc.AddCandidate(cand.Candidate); err != nil {
		m.logger.Warn().Err(err).Msg("call: add remote candidate")
	}
}

// acquireAndConnect captures local media and builds the peer connection for
// the call identified by gen. If the call was torn down while acquisition was
// in flight, the stream is released and the result discarded.
func (m *Machine) acquireAndConnect(ctx context.Context, gen uint64, peerID string, video bool) (media.PeerConnection, error) {
	stream, err := m.devices.GetUserMedia(ctx, media.Constraints{Audio: true, Video: video})
	if err != nil {
		return nil, fmt.Errorf("acquire local media: %w", err)
	}

	m.mu.Lock()
	if m.gen != gen || m.call == nil {
		m.mu.Unlock()
		stopTracks(stream)
		return nil, ErrNoActiveCall
	}
	m.localStream = stream
	m.mu.Unlock()

	pc, err := m.peers.NewPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	for _, t := range stream.Tracks() {
		if err := pc.AddTrack(t); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("attach local track: %w", err)
		}
	}
	pc.OnCandidate(func(c media.Candidate) {
		m.sendSignal(SignalCandidate, peerID, CandidatePayload{Candidate: c})
	})
	pc.OnRemoteStream(func(s media.Stream) {
		m.mu.Lock()
		if m.gen == gen && m.call != nil {
			m.remoteStream = s
		}
		m.mu.Unlock()
		m.notifyChange()
	})

	m.mu.Lock()
	if m.gen != gen || m.call == nil {
		m.mu.Unlock()
		stopTracks(stream)
		_ = pc.Close()
		return nil, ErrNoActiveCall
	}
	m.pc = pc
	m.mu.Unlock()
	return pc, nil
}

// teardown releases every call resource exactly once. It is safe from any
// exit path; a stale generation or an already-cleared call makes it a no-op.
func (m *Machine) teardown(gen uint64) {
	m.mu.Lock()
	if m.gen != gen || m.call == nil {
		m.mu.Unlock()
		return
	}
	pc := m.pc
	local := m.localStream
	m.pc = nil
	m.localStream = nil
	m.remoteStream = nil
	m.call = nil
	m.pendingOffer = nil
	m.mu.Unlock()

	stopTracks(local)
	if pc != nil {
		if err := pc.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("call: close peer connection")
		}
	}
	m.notifyChange()
}

func (m *Machine) sendSignal(t SignalType, to string, payload any) {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error().Err(err).Str("type", string(t)).Msg("call: marshal signal payload")
		return
	}
	ch.Send(EventCallSignal, Signal{
		Type:     t,
		From:     m.selfID,
		FromName: m.selfName,
		To:       to,
		Payload:  raw,
	})
}

func (m *Machine) snapshot() Call {
	c, _ := m.Current()
	return c
}

func (m *Machine) notifyChange() {
	m.mu.Lock()
	fn := m.onChange
	var snapshot Call
	active := m.call != nil
	if active {
		snapshot = *m.call
	}
	m.mu.Unlock()
	if fn != nil {
		fn(snapshot, active)
	}
}

func stopTracks(s media.Stream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
