package consensus

import (
	"errors"
	"time"
)

// Config contains configuration for block voting.
type Config struct {
	// MaxTransactions caps how many pool transactions one proposal drains.
	MaxTransactions int
	// Threshold is the fraction of eligible voters that must approve.
	Threshold float64
	// RequiredVotes is the minimum number of approvals regardless of Threshold.
	RequiredVotes int
	// Timeout is the voting window of a proposal.
	Timeout time.Duration
	// Reminder is how long before the deadline a reminder becomes due.
	Reminder time.Duration
	// AutoReject rejects expired proposals; otherwise they are escalated.
	AutoReject bool
	// EarlyReject rejects a proposal once approval can no longer be reached.
	EarlyReject bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxTransactions: 100,
		Threshold:       0.51,
		RequiredVotes:   2,
		Timeout:         10 * time.Minute,
		Reminder:        2 * time.Minute,
		AutoReject:      true,
		EarlyReject:     true,
	}
}

// ValidateBasic performs basic validation of the configuration.
func (c Config) ValidateBasic() error {
	if c.MaxTransactions <= 0 {
		return errors.New("max transactions must be positive")
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return errors.New("threshold must be in (0, 1]")
	}
	if c.RequiredVotes < 1 {
		return errors.New("required votes must be at least 1")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.Reminder < 0 || c.Reminder >= c.Timeout {
		return errors.New("reminder must be shorter than timeout")
	}
	return nil
}

// thresholdEpsilon absorbs float rounding in approvals/eligible comparisons.
const thresholdEpsilon = 1e-9

// quorumMet reports whether approvals out of eligible voters satisfy both
// the threshold fraction and the required-votes floor.
func (c Config) quorumMet(approvals, eligible int) bool {
	if eligible <= 0 || approvals < c.RequiredVotes {
		return false
	}
	return float64(approvals) >= c.Threshold*float64(eligible)-thresholdEpsilon
}
