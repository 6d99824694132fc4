// Package notify carries voting notices (reminders, auto-rejections,
// escalations and commits) from the node to external sinks.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies a notice.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindAutoRejected Kind = "auto_rejected"
	KindEscalated    Kind = "escalated"
	KindCommitted    Kind = "committed"
)

// Subject names what the notice is about.
type Subject string

const (
	SubjectMembership Subject = "membership"
	SubjectBlock      Subject = "block"
)

// Notice is a single notification. Ref is the request address for
// membership notices and the block index for block notices.
type Notice struct {
	Kind       Kind      `json:"kind"`
	Subject    Subject   `json:"subject"`
	Ref        string    `json:"ref"`
	Deadline   time.Time `json:"deadline,omitempty"`
	Recipients []string  `json:"recipients,omitempty"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Notifier delivers notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notice) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notice) error {
	return f(ctx, n)
}

// LogNotifier writes notices to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

// Notify logs the notice.
func (l *LogNotifier) Notify(_ context.Context, n Notice) error {
	level := zerolog.InfoLevel
	if n.Kind == KindEscalated {
		level = zerolog.WarnLevel
	}
	ev := l.logger.WithLevel(level)
	ev.Str("kind", string(n.Kind)).
		Str("subject", string(n.Subject)).
		Str("ref", n.Ref).
		Strs("recipients", n.Recipients)
	if !n.Deadline.IsZero() {
		ev.Time("deadline", n.Deadline)
	}
	ev.Msg(n.Message)
	return nil
}

// Multi delivers each notice to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers n to all notifiers.
func (m Multi) Notify(ctx context.Context, n Notice) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
