package membership

import (
	"fmt"
	"time"
)

// Status is the admission state of a member or request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a list filter. The empty string selects members.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusApproved:
		return StatusApproved, nil
	case StatusPending, StatusRejected:
		return Status(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// Action is a vote on a membership request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction validates a vote action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionApprove, ActionReject:
		return Action(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}

// AutoRejecter is recorded as the resolver of requests rejected on timeout.
const AutoRejecter = "auto-reject"

// ReasonTimeout is the rejection reason for expired requests.
const ReasonTimeout = "timeout"

// Member is an approved participant.
type Member struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Role     Role      `json:"role"`
	Status   Status    `json:"status"`
	JoinedAt time.Time `json:"joined_at"`
}

// Request is an admission request and its resolution.
type Request struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Address      string            `json:"address"`
	Role         Role              `json:"role"`
	Status       Status            `json:"status"`
	RequestedAt  time.Time         `json:"requested_at"`
	Deadline     time.Time         `json:"deadline"`
	ResolvedAt   time.Time         `json:"resolved_at,omitempty"`
	ResolvedBy   string            `json:"resolved_by,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	ReminderSent bool              `json:"reminder_sent"`
	Escalated    bool              `json:"escalated"`
	Votes        map[string]Action `json:"votes"`
}

func (r *Request) clone() Request {
	out := *r
	out.Votes = make(map[string]Action, len(r.Votes))
	for k, v := range r.Votes {
		out.Votes[k] = v
	}
	return out
}

// Entry is the common view of members and requests returned by List.
type Entry struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is the outcome of a membership vote. Member is set on approval.
type Decision struct {
	Request Request `json:"request"`
	Member  *Member `json:"member,omitempty"`
}

// RequestStatus describes where an address stands in the admission process.
type RequestStatus struct {
	Address           string        `json:"address"`
	Name              string        `json:"name"`
	Role              Role          `json:"role"`
	Status            Status        `json:"status"`
	RequestedAt       time.Time     `json:"requested_at,omitempty"`
	TimeoutAt         time.Time     `json:"timeout_at,omitempty"`
	TimeRemaining     time.Duration `json:"time_remaining"`
	AutoRejectEnabled bool          `json:"auto_reject_enabled"`
	ReminderSent      bool          `json:"reminder_sent"`
	ResolvedBy        string        `json:"resolved_by,omitempty"`
	Reason            string        `json:"reason,omitempty"`
}

// SweepResult lists what a sweep changed. Each request appears at most
// once across all sweeps for each list.
type SweepResult struct {
	Rejected  []Request
	Escalated []Request
	Reminders []Request
}

// Empty reports whether the sweep changed nothing.
func (r SweepResult) Empty() bool {
	return len(r.Rejected) == 0 && len(r.Escalated) == 0 && len(r.Reminders) == 0
}
