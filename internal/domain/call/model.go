package call

import (
	"errors"
	"time"
)

// State is the lifecycle position of the local call singleton.
type State int

const (
	StateIdle State = iota
	StateRinging
	StateOngoing
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateOngoing:
		return "ongoing"
	default:
		return "idle"
	}
}

// Role is the local user's side of the call.
type Role int

const (
	RoleCaller Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "caller"
}

// Call is a snapshot of the single active call. At most one exists per
// machine; exactly one of caller/receiver is the local user.
type Call struct {
	CallerID     string `json:"caller_id"`
	CallerName   string `json:"caller_name"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverName string `json:"receiver_name"`
	Video        bool   `json:"video"`
	State        State  `json:"-"`
	Role         Role   `json:"-"`
	Muted        bool   `json:"muted"`
	VideoOff     bool   `json:"video_off"`

	// RingDeadline is advisory for the ring prompt; expiry is not enforced
	// here. The caller gives up via EndCall.
	RingDeadline time.Time `json:"ring_deadline,omitempty"`
}

// PeerID returns the remote party's id.
func (c Call) PeerID() string {
	if c.Role == RoleCaller {
		return c.ReceiverID
	}
	return c.CallerID
}

// PeerName returns the remote party's display name.
func (c Call) PeerName() string {
	if c.Role == RoleCaller {
		return c.ReceiverName
	}
	return c.CallerName
}

var (
	// ErrCallInProgress is returned by StartCall while a call is already
	// ringing or ongoing.
	ErrCallInProgress = errors.New("call: another call is in progress")

	// ErrNoActiveCall is returned by operations that need an active call.
	ErrNoActiveCall = errors.New("call: no active call")

	// ErrNotRinging is returned by AnswerCall and DeclineCall outside an
	// incoming ring.
	ErrNotRinging = errors.New("call: no incoming call is ringing")
)
