// Package consensus implements Proof-of-Vote block commitment. A member
// with the propose permission drafts a block from the transaction pool;
// members with the vote permission approve or reject it. The block is
// committed to the ledger once approvals reach both the threshold fraction
// of eligible voters and the required-votes floor, and rejected when its
// voting window expires first. Rejected blocks return their transactions
// to the pool in order.
package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/ledger"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
	"github.com/VanDung-dev/Consortium-Ledger/monitoring"
)

// Consensus errors
var (
	ErrUnauthorizedProposer = errors.New("proposer is not authorized")
	ErrUnauthorizedVoter    = errors.New("voter is not authorized")
	ErrDuplicateVote        = errors.New("duplicate vote")
	ErrProposalNotFound     = errors.New("proposal not found")
	ErrProposalResolved     = errors.New("proposal already resolved")
	ErrProposalInFlight     = errors.New("a proposal is already open")
)

// Electorate answers membership questions for the engine.
type Electorate interface {
	HasPermission(address string, perm membership.Permission) bool
	EligibleVoters() int
}

// Pool is the transaction source for proposals.
type Pool interface {
	Drain(n int) []ledger.Transaction
	Restore(txs []ledger.Transaction)
	Size() int
}

// Chain is the ledger the engine commits to.
type Chain interface {
	Head() ledger.Block
	Append(b ledger.Block) error
	Halted() error
}

// Proposal is an open block proposal and its voting window.
type Proposal struct {
	Block        ledger.Block `json:"block"`
	Deadline     time.Time    `json:"deadline"`
	ReminderSent bool         `json:"reminder_sent"`
	Escalated    bool         `json:"escalated"`
}

func (p *Proposal) clone() Proposal {
	out := *p
	out.Block = p.Block.Clone()
	return out
}

// SweepResult lists what a sweep changed.
type SweepResult struct {
	Rejected  []Proposal
	Escalated []Proposal
	Reminders []Proposal
}

// Empty reports whether the sweep changed nothing.
func (r SweepResult) Empty() bool {
	return len(r.Rejected) == 0 && len(r.Escalated) == 0 && len(r.Reminders) == 0
}

// Stats contains engine statistics.
type Stats struct {
	Proposed     int64 `json:"proposed"`
	Committed    int64 `json:"committed"`
	Rejected     int64 `json:"rejected"`
	AutoRejected int64 `json:"auto_rejected"`
	Open         int   `json:"open"`
}

// Engine runs the block voting state machine. At most one proposal is open
// at a time because its index is assigned from the ledger head.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	members Electorate
	pool    Pool
	chain   Chain
	now     func() time.Time
	logger  zerolog.Logger
	metrics *monitoring.Metrics

	open     *Proposal
	rejected map[int64]int
	stats    Stats
}

// NewEngine creates a consensus engine.
func NewEngine(cfg Config, members Electorate, pool Pool, chain Chain, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("consensus config: %w", err)
	}
	return &Engine{
		cfg:      cfg,
		members:  members,
		pool:     pool,
		chain:    chain,
		now:      time.Now,
		logger:   logger.With().Str("component", "consensus").Logger(),
		rejected: make(map[int64]int),
	}, nil
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetMetrics attaches metrics. m may be nil.
func (e *Engine) SetMetrics(m *monitoring.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Propose drafts the next block from the oldest pool transactions.
func (e *Engine) Propose(proposer string) (ledger.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.members.HasPermission(proposer, membership.PermPropose) {
		return ledger.Block{}, fmt.Errorf("%w: %s", ErrUnauthorizedProposer, proposer)
	}
	if err := e.chain.Halted(); err != nil {
		return ledger.Block{}, fmt.Errorf("%w: %v", ledger.ErrLedgerHalted, err)
	}
	if e.open != nil {
		return ledger.Block{}, fmt.Errorf("%w: block %d", ErrProposalInFlight, e.open.Block.Index)
	}

	txs := e.pool.Drain(e.cfg.MaxTransactions)
	head := e.chain.Head()
	now := e.now().UTC()

	e.open = &Proposal{
		Block: ledger.Block{
			Index:        head.Index + 1,
			Timestamp:    now,
			Transactions: txs,
			PreviousHash: head.Hash,
			Votes:        map[string]bool{},
			Proposer:     proposer,
			Status:       ledger.BlockProposed,
		},
		Deadline: now.Add(e.cfg.Timeout),
	}
	e.stats.Proposed++
	e.metrics.RecordProposal(len(txs))
	e.metrics.UpdatePoolSize(e.pool.Size())

	e.logger.Info().
		Int64("index", e.open.Block.Index).
		Str("proposer", proposer).
		Int("transactions", len(txs)).
		Time("deadline", e.open.Deadline).
		Msg("Block proposed")
	return e.open.Block.Clone(), nil
}

// Vote approves the open proposal at index.
func (e *Engine) Vote(index int64, voter string) (ledger.Block, error) {
	return e.Cast(index, voter, true)
}

// Reject votes against the open proposal at index.
func (e *Engine) Reject(index int64, voter string) (ledger.Block, error) {
	return e.Cast(index, voter, false)
}

// Cast records a vote and resolves the proposal when the outcome is
// decided. The returned block carries the resulting status.
func (e *Engine) Cast(index int64, voter string, approve bool) (ledger.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.members.HasPermission(voter, membership.PermVote) {
		return ledger.Block{}, fmt.Errorf("%w: %s", ErrUnauthorizedVoter, voter)
	}
	p, err := e.lookupLocked(index)
	if err != nil {
		return ledger.Block{}, err
	}
	if _, voted := p.Block.Votes[voter]; voted {
		return ledger.Block{}, fmt.Errorf("%w: %s on block %d", ErrDuplicateVote, voter, index)
	}

	p.Block.Votes[voter] = approve
	e.metrics.RecordBlockVote(approve)

	eligible := e.members.EligibleVoters()
	approvals := p.Block.Approvals()

	e.logger.Debug().
		Int64("index", index).
		Str("voter", voter).
		Bool("approve", approve).
		Int("approvals", approvals).
		Int("eligible", eligible).
		Msg("Block vote recorded")

	if e.cfg.quorumMet(approvals, eligible) {
		return e.commitLocked(p)
	}
	if e.cfg.EarlyReject && !e.reachableLocked(p, eligible) {
		b := e.rejectLocked(p, "approval unreachable")
		e.stats.Rejected++
		e.metrics.RecordBlockOutcome("rejected")
		return b, nil
	}
	return p.Block.Clone(), nil
}

// reachableLocked reports whether the remaining eligible voters could
// still bring the proposal to quorum.
func (e *Engine) reachableLocked(p *Proposal, eligible int) bool {
	remaining := eligible - len(p.Block.Votes)
	if remaining < 0 {
		remaining = 0
	}
	return e.cfg.quorumMet(p.Block.Approvals()+remaining, eligible)
}

func (e *Engine) lookupLocked(index int64) (*Proposal, error) {
	if e.open != nil && e.open.Block.Index == index {
		return e.open, nil
	}
	if index >= 1 && index <= e.chain.Head().Index {
		return nil, fmt.Errorf("%w: block %d is committed", ErrProposalResolved, index)
	}
	if e.rejected[index] > 0 {
		return nil, fmt.Errorf("%w: block %d was rejected", ErrProposalResolved, index)
	}
	return nil, fmt.Errorf("%w: block %d", ErrProposalNotFound, index)
}

func (e *Engine) commitLocked(p *Proposal) (ledger.Block, error) {
	b := p.Block.Clone()
	b.Status = ledger.BlockCommitted
	b.Hash = ledger.HashBlock(b)

	if err := e.chain.Append(b); err != nil {
		rejected := e.rejectLocked(p, "ledger append failed")
		e.stats.Rejected++
		e.metrics.RecordBlockOutcome("failed")
		return rejected, fmt.Errorf("commit block %d: %w", b.Index, err)
	}

	e.open = nil
	e.stats.Committed++
	e.metrics.RecordBlockOutcome("committed")
	e.metrics.UpdateChainHeight(b.Index)

	e.logger.Info().
		Int64("index", b.Index).
		Str("hash", b.Hash).
		Int("approvals", b.Approvals()).
		Msg("Block committed")
	return b, nil
}

// rejectLocked closes the open proposal and returns its transactions to
// the pool.
func (e *Engine) rejectLocked(p *Proposal, reason string) ledger.Block {
	p.Block.Status = ledger.BlockRejected
	e.pool.Restore(p.Block.Transactions)
	e.rejected[p.Block.Index]++
	e.open = nil
	e.metrics.UpdatePoolSize(e.pool.Size())

	e.logger.Info().
		Int64("index", p.Block.Index).
		Str("reason", reason).
		Int("restored", len(p.Block.Transactions)).
		Msg("Block rejected")
	return p.Block.Clone()
}

// Sweep rejects or escalates the open proposal once its deadline has
// passed and reports a due reminder once. Calling it again with the same
// now changes nothing.
func (e *Engine) Sweep(now time.Time) SweepResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res SweepResult
	p := e.open
	if p == nil {
		return res
	}

	switch {
	case !now.Before(p.Deadline):
		if e.cfg.AutoReject {
			e.rejectLocked(p, "timeout")
			e.stats.AutoRejected++
			e.metrics.RecordBlockOutcome("auto_rejected")
			res.Rejected = append(res.Rejected, p.clone())
		} else if !p.Escalated {
			p.Escalated = true
			res.Escalated = append(res.Escalated, p.clone())
			e.logger.Warn().
				Int64("index", p.Block.Index).
				Time("deadline", p.Deadline).
				Msg("Block proposal expired without auto-reject")
		}
	case e.reminderDueLocked(p, now):
		p.ReminderSent = true
		res.Reminders = append(res.Reminders, p.clone())
	}
	return res
}

// ReminderDue reports whether the open proposal at index has entered its
// reminder window without a reminder having been sent.
func (e *Engine) ReminderDue(index int64, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open == nil || e.open.Block.Index != index {
		return false
	}
	return e.reminderDueLocked(e.open, now)
}

func (e *Engine) reminderDueLocked(p *Proposal, now time.Time) bool {
	if p.ReminderSent || e.cfg.Reminder <= 0 || !now.Before(p.Deadline) {
		return false
	}
	return !now.Before(p.Deadline.Add(-e.cfg.Reminder))
}

// Pending returns the open proposals' blocks.
func (e *Engine) Pending() []ledger.Block {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open == nil {
		return []ledger.Block{}
	}
	return []ledger.Block{e.open.Block.Clone()}
}

// Proposals returns the open proposals with their voting windows.
func (e *Engine) Proposals() []Proposal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.open == nil {
		return []Proposal{}
	}
	return []Proposal{e.open.clone()}
}

// GetStats returns engine statistics.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.stats
	if e.open != nil {
		st.Open = 1
	}
	return st
}
