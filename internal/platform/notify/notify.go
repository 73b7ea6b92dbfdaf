// Package notify delivers local user-facing cues: notification sounds for
// inbound messages and rings, and transient alerts for errors that block an
// explicit user action. The UI layer supplies the concrete sink; services
// never block on it.
package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// Cue identifies a sound or visual cue the UI should play.
type Cue string

const (
	CueMessageReceived Cue = "message-received"
	CueIncomingRing    Cue = "incoming-ring"
	CueRingStopped     Cue = "ring-stopped"
	CueCallEnded       Cue = "call-ended"
)

// Severity grades an alert.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notifier is the sink for cues and alerts.
type Notifier interface {
	// Cue signals the UI to play an indicator. CueIncomingRing loops until
	// CueRingStopped.
	Cue(c Cue)
	// Alert surfaces a transient user-facing message.
	Alert(severity Severity, text string)
}

// LogNotifier writes cues and alerts to the logger. Used server-side and as a
// default when no UI sink is attached.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Cue(c Cue) {
	n.logger.Debug().Str("cue", string(c)).Msg("notify: cue")
}

func (n *LogNotifier) Alert(severity Severity, text string) {
	evt := n.logger.Info()
	if severity == SeverityError {
		evt = n.logger.Error()
	}
	evt.Str("alert", text).Msg("notify: alert")
}

// Recorder captures cues and alerts for assertions.
type Recorder struct {
	mu     sync.Mutex
	cues   []Cue
	alerts []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Cue(c Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}

func (r *Recorder) Alert(_ Severity, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, text)
}

// Cues returns the recorded cues in order.
func (r *Recorder) Cues() []Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Cue(nil), r.cues...)
}

// Alerts returns the recorded alert texts in order.
func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}
