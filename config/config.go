// Package config holds the static node configuration: roles and permissions,
// block and scheduler timing, voting windows, and consensus thresholds.
// It is loaded once at start-up and treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Configuration errors
var (
	ErrInvalidUnit      = errors.New("invalid time unit")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrUnknownRole      = errors.New("unknown role")
	ErrUnknownPerm      = errors.New("unknown permission")
	ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Permission names understood by the role table.
const (
	PermVote    = "vote"
	PermPropose = "propose"
)

// Config is the root configuration document.
type Config struct {
	Node         NodeConfig         `yaml:"node"`
	Log          LogConfig          `yaml:"log"`
	Genesis      GenesisConfig      `yaml:"genesis"`
	Roles        RolesConfig        `yaml:"roles"`
	Block        BlockConfig        `yaml:"block"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Membership   VotingConfig       `yaml:"membership"`
	Consensus    ConsensusConfig    `yaml:"consensus"`
	Transactions TransactionsConfig `yaml:"transactions"`
	Notify       NotifyConfig       `yaml:"notify"`
}

// NodeConfig holds listen addresses for the daemon.
type NodeConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	AuthEnabled bool   `yaml:"auth_enabled"`
	AuthToken   string `yaml:"auth_token"`
}

// LogConfig selects zerolog level and output format ("console" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GenesisConfig configures the fixed first block.
type GenesisConfig struct {
	PreviousHash string `yaml:"previous_hash"`
}

// RolesConfig maps role names to permission names.
type RolesConfig struct {
	FirstMember string              `yaml:"first_member"`
	Categories  map[string][]string `yaml:"categories"`
}

// BlockConfig configures block building.
type BlockConfig struct {
	CreationInterval        Span `yaml:"creation_interval"`
	MaxTransactionsPerBlock int  `yaml:"max_transactions_per_block"`
}

// SchedulerConfig configures the timeout sweep.
type SchedulerConfig struct {
	CheckFrequency Span `yaml:"check_frequency"`
}

// VotingConfig is the voting window shared by membership and block consensus.
type VotingConfig struct {
	Timeout    Span             `yaml:"timeout"`
	Reminder   Span             `yaml:"reminder"`
	AutoReject AutoRejectConfig `yaml:"auto_reject"`
	// RequiredVotes and Threshold are reserved for membership; requests
	// resolve on the first eligible vote.
	RequiredVotes int     `yaml:"required_votes"`
	Threshold     float64 `yaml:"threshold"`
}

// AutoRejectConfig toggles automatic rejection on timeout.
type AutoRejectConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ConsensusConfig configures block voting.
type ConsensusConfig struct {
	VotingConfig `yaml:",inline"`
	EarlyReject  bool `yaml:"early_reject"`
}

// TransactionsConfig configures the transaction pool.
type TransactionsConfig struct {
	PoolSize       int  `yaml:"pool_size"`
	RequireMembers bool `yaml:"require_members"`
}

// NotifyConfig configures notification sinks.
type NotifyConfig struct {
	ZmqEndpoint string `yaml:"zmq_endpoint"`
	Workers     int    `yaml:"workers"`
}

// Span is a duration expressed as a value and a unit.
type Span struct {
	Value int    `yaml:"value"`
	Unit  string `yaml:"unit"`
}

var unitSeconds = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// Duration converts the span to a time.Duration.
func (s Span) Duration() (time.Duration, error) {
	unit, ok := unitSeconds[s.Unit]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, s.Unit)
	}
	if s.Value <= 0 {
		return 0, fmt.Errorf("%w: %d %s", ErrInvalidDuration, s.Value, s.Unit)
	}
	return time.Duration(s.Value) * unit, nil
}

// MustDuration is Duration for spans already checked by Validate.
func (s Span) MustDuration() time.Duration {
	d, err := s.Duration()
	if err != nil {
		panic(err)
	}
	return d
}

func (s Span) String() string {
	return fmt.Sprintf("%d %s", s.Value, s.Unit)
}

// Default returns a configuration usable without a file.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			HTTPAddr:    ":5000",
			MetricsAddr: ":9090",
		},
		Log:     LogConfig{Level: "info", Format: "console"},
		Genesis: GenesisConfig{PreviousHash: "1"},
		Roles: RolesConfig{
			FirstMember: "founder",
			Categories: map[string][]string{
				"founder":     {PermVote, PermPropose},
				"participant": {PermVote, PermPropose},
				"observer":    {},
			},
		},
		Block: BlockConfig{
			CreationInterval:        Span{Value: 30, Unit: "seconds"},
			MaxTransactionsPerBlock: 100,
		},
		Scheduler: SchedulerConfig{CheckFrequency: Span{Value: 1, Unit: "minutes"}},
		Membership: VotingConfig{
			Timeout:       Span{Value: 24, Unit: "hours"},
			Reminder:      Span{Value: 1, Unit: "hours"},
			AutoReject:    AutoRejectConfig{Enabled: true},
			RequiredVotes: 1,
			Threshold:     0.51,
		},
		Consensus: ConsensusConfig{
			VotingConfig: VotingConfig{
				Timeout:       Span{Value: 10, Unit: "minutes"},
				Reminder:      Span{Value: 2, Unit: "minutes"},
				AutoReject:    AutoRejectConfig{Enabled: true},
				RequiredVotes: 2,
				Threshold:     0.51,
			},
			EarlyReject: true,
		},
		Transactions: TransactionsConfig{PoolSize: 10000},
		Notify:       NotifyConfig{Workers: 2},
	}
}

// Validate checks that every field needed at runtime is well-formed.
func (c *Config) Validate() error {
	if c.Genesis.PreviousHash == "" {
		return fmt.Errorf("%w: genesis.previous_hash is empty", ErrInvalidConfig)
	}
	if len(c.Roles.Categories) == 0 {
		return fmt.Errorf("%w: roles.categories is empty", ErrInvalidConfig)
	}
	if _, ok := c.Roles.Categories[c.Roles.FirstMember]; !ok {
		return fmt.Errorf("%w: first member role %q", ErrUnknownRole, c.Roles.FirstMember)
	}
	for role, perms := range c.Roles.Categories {
		for _, p := range perms {
			if p != PermVote && p != PermPropose {
				return fmt.Errorf("%w: %q in role %q", ErrUnknownPerm, p, role)
			}
		}
	}
	if c.Block.MaxTransactionsPerBlock <= 0 {
		return fmt.Errorf("%w: block.max_transactions_per_block must be positive", ErrInvalidConfig)
	}
	spans := map[string]Span{
		"block.creation_interval":   c.Block.CreationInterval,
		"scheduler.check_frequency": c.Scheduler.CheckFrequency,
		"membership.timeout":        c.Membership.Timeout,
		"membership.reminder":       c.Membership.Reminder,
		"consensus.timeout":         c.Consensus.Timeout,
		"consensus.reminder":        c.Consensus.Reminder,
	}
	for name, s := range spans {
		if _, err := s.Duration(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Membership.Reminder.MustDuration() >= c.Membership.Timeout.MustDuration() {
		return fmt.Errorf("%w: membership.reminder must be shorter than membership.timeout", ErrInvalidConfig)
	}
	if c.Consensus.Reminder.MustDuration() >= c.Consensus.Timeout.MustDuration() {
		return fmt.Errorf("%w: consensus.reminder must be shorter than consensus.timeout", ErrInvalidConfig)
	}
	if c.Consensus.Threshold <= 0 || c.Consensus.Threshold > 1 {
		return fmt.Errorf("consensus.threshold %v: %w", c.Consensus.Threshold, ErrInvalidThreshold)
	}
	if c.Consensus.RequiredVotes < 1 {
		return fmt.Errorf("%w: consensus.required_votes must be at least 1", ErrInvalidConfig)
	}
	if c.Membership.Threshold < 0 || c.Membership.Threshold > 1 {
		return fmt.Errorf("membership.threshold %v: %w", c.Membership.Threshold, ErrInvalidThreshold)
	}
	if c.Transactions.PoolSize < 0 {
		return fmt.Errorf("%w: transactions.pool_size must not be negative", ErrInvalidConfig)
	}
	return nil
}
