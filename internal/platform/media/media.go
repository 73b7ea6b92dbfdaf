// Package media abstracts the browser media-capture and peer-connection
// capabilities the call layer negotiates against. The concrete implementation
// lives in the client runtime; the interfaces here let the signaling state
// machine own lifecycle and teardown without binding to a device stack.
package media

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMediaUnavailable is returned when local media cannot be acquired
// (permission denied, no device).
var ErrMediaUnavailable = errors.New("media: capture unavailable")

// Constraints selects which local tracks to acquire.
type Constraints struct {
	Audio bool
	Video bool
}

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is a single local or remote media track. Stop releases the underlying
// device; a stopped track stays stopped.
type Track interface {
	Kind() TrackKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// Stream is a set of tracks captured or received together.
type Stream interface {
	ID() string
	Tracks() []Track
}

// Devices acquires local capture streams. Acquisition is asynchronous from the
// user's point of view (a permission prompt may be pending) and can fail.
type Devices interface {
	GetUserMedia(ctx context.Context, c Constraints) (Stream, error)
}

// Candidate is a discovered network path descriptor exchanged between peers.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

// PeerConnection owns one media session with a remote peer. It is a scoped
// resource: Close must be called exactly once per connection on teardown;
// callers additionally stop their local tracks.
type PeerConnection interface {
	AddTrack(t Track) error
	AddCandidate(c Candidate) error

	// CreateOffer produces the local session description for the offering
	// side. The blob is opaque to callers; it travels the signaling channel
	// as-is.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// CreateAnswer applies the remote offer and produces the local answer.
	CreateAnswer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// AcceptAnswer applies the remote answer on the offering side.
	AcceptAnswer(answer json.RawMessage) error

	OnCandidate(fn func(c Candidate))
	OnRemoteStream(fn func(s Stream))
	Close() error
}

// PeerFactory builds peer connections. Split from Devices because the two are
// independent browser capabilities.
type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}
