package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
genesis:
  previous_hash: "1"
roles:
  first_member: founder
  categories:
    founder: [vote, propose]
    participant: [vote]
    auditor: []
block:
  creation_interval: {value: 45, unit: seconds}
  max_transactions_per_block: 10
scheduler:
  check_frequency: {value: 30, unit: seconds}
membership:
  timeout: {value: 2, unit: days}
  reminder: {value: 6, unit: hours}
  auto_reject:
    enabled: false
consensus:
  timeout: {value: 15, unit: minutes}
  reminder: {value: 5, unit: minutes}
  auto_reject:
    enabled: true
  required_votes: 3
  threshold: 0.66
  early_reject: false
`

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if c.Block.MaxTransactionsPerBlock != 10 {
		t.Errorf("Expected 10 transactions per block, got %d", c.Block.MaxTransactionsPerBlock)
	}
	if got := c.Membership.Timeout.MustDuration(); got != 48*time.Hour {
		t.Errorf("Expected 48h membership timeout, got %v", got)
	}
	if c.Membership.AutoReject.Enabled {
		t.Error("Expected membership auto-reject to be disabled")
	}
	if c.Consensus.RequiredVotes != 3 {
		t.Errorf("Expected 3 required votes, got %d", c.Consensus.RequiredVotes)
	}
	if c.Consensus.Threshold != 0.66 {
		t.Errorf("Expected threshold 0.66, got %v", c.Consensus.Threshold)
	}
	if c.Consensus.EarlyReject {
		t.Error("Expected early reject to be disabled")
	}
	if len(c.Roles.Categories["auditor"]) != 0 {
		t.Errorf("Expected auditor with no permissions, got %v", c.Roles.Categories["auditor"])
	}
	// Untouched sections keep their defaults.
	if c.Transactions.PoolSize != 10000 {
		t.Errorf("Expected default pool size, got %d", c.Transactions.PoolSize)
	}
}

func TestSpanDuration(t *testing.T) {
	cases := []struct {
		span Span
		want time.Duration
	}{
		{Span{90, "seconds"}, 90 * time.Second},
		{Span{3, "minutes"}, 3 * time.Minute},
		{Span{2, "hours"}, 2 * time.Hour},
		{Span{1, "days"}, 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := tc.span.Duration()
		if err != nil {
			t.Fatalf("%v: unexpected error %v", tc.span, err)
		}
		if got != tc.want {
			t.Errorf("%v: expected %v, got %v", tc.span, tc.want, got)
		}
	}

	if _, err := (Span{1, "weeks"}).Duration(); !errors.Is(err, ErrInvalidUnit) {
		t.Errorf("Expected ErrInvalidUnit, got %v", err)
	}
	if _, err := (Span{0, "hours"}).Duration(); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("Expected ErrInvalidDuration, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	c := Default()
	c.Roles.FirstMember = "chairman"
	if err := c.Validate(); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("Expected ErrUnknownRole, got %v", err)
	}

	c = Default()
	c.Roles.Categories["founder"] = []string{"vote", "mint"}
	if err := c.Validate(); !errors.Is(err, ErrUnknownPerm) {
		t.Errorf("Expected ErrUnknownPerm, got %v", err)
	}

	c = Default()
	c.Consensus.Threshold = 1.5
	if err := c.Validate(); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("Expected ErrInvalidThreshold, got %v", err)
	}

	c = Default()
	c.Consensus.Reminder = Span{20, "minutes"}
	if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for reminder after timeout, got %v", err)
	}

	c = Default()
	c.Scheduler.CheckFrequency = Span{1, "fortnights"}
	if err := c.Validate(); !errors.Is(err, ErrInvalidUnit) {
		t.Errorf("Expected ErrInvalidUnit, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consortium.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONSORTIUM_HTTP_ADDR", "127.0.0.1:7000")
	t.Setenv("CONSORTIUM_MAX_TX_PER_BLOCK", "25")
	t.Setenv("CONSORTIUM_REQUIRE_MEMBERS", "true")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Node.HTTPAddr != "127.0.0.1:7000" {
		t.Errorf("Expected HTTP addr override, got %s", c.Node.HTTPAddr)
	}
	if c.Block.MaxTransactionsPerBlock != 25 {
		t.Errorf("Expected 25 transactions per block, got %d", c.Block.MaxTransactionsPerBlock)
	}
	if !c.Transactions.RequireMembers {
		t.Error("Expected require_members override")
	}
}
