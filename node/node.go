// Package node wires the registry, pool, ledger, consensus engine and
// scheduler into one consortium node and exposes its operations.
package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/address"
	"github.com/VanDung-dev/Consortium-Ledger/config"
	"github.com/VanDung-dev/Consortium-Ledger/consensus"
	"github.com/VanDung-dev/Consortium-Ledger/engine"
	"github.com/VanDung-dev/Consortium-Ledger/ledger"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
	"github.com/VanDung-dev/Consortium-Ledger/monitoring"
	"github.com/VanDung-dev/Consortium-Ledger/notify"
	"github.com/VanDung-dev/Consortium-Ledger/scheduler"
)

// ErrUnknownAddress is returned when transactions are restricted to members
// and a party is not one.
var ErrUnknownAddress = errors.New("address is not an approved member")

// Options overrides the collaborators New would otherwise build.
type Options struct {
	// Generator defaults to Ed25519 key generation.
	Generator address.Generator
	// Notifier defaults to a LogNotifier.
	Notifier notify.Notifier
	Metrics  *monitoring.Metrics
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Node is a single consortium participant.
type Node struct {
	cfg       *config.Config
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *monitoring.Metrics
	notifier  notify.Notifier
	members   *membership.Registry
	pool      *engine.TxPool
	chain     *ledger.Ledger
	consensus *consensus.Engine
	scheduler *scheduler.Scheduler
}

// New validates cfg and builds a node with an empty registry and a chain
// holding only the genesis block.
func New(cfg *config.Config, opts Options, logger zerolog.Logger) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	roles, err := membership.NewRoleTable(cfg.Roles.Categories, cfg.Roles.FirstMember)
	if err != nil {
		return nil, err
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	gen := opts.Generator
	if gen == nil {
		gen = address.NewKeyGenerator()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	metrics := opts.Metrics

	members := membership.NewRegistry(roles, gen, membership.Options{
		Timeout:       cfg.Membership.Timeout.MustDuration(),
		Reminder:      cfg.Membership.Reminder.MustDuration(),
		AutoReject:    cfg.Membership.AutoReject.Enabled,
		RequiredVotes: cfg.Membership.RequiredVotes,
		Threshold:     cfg.Membership.Threshold,
	}, logger)
	members.SetClock(now)
	members.SetMetrics(metrics)

	pool := engine.NewTxPool(cfg.Transactions.PoolSize)
	pool.SetClock(now)

	chain := ledger.New(cfg.Genesis.PreviousHash, logger)

	eng, err := consensus.NewEngine(consensus.Config{
		MaxTransactions: cfg.Block.MaxTransactionsPerBlock,
		Threshold:       cfg.Consensus.Threshold,
		RequiredVotes:   cfg.Consensus.RequiredVotes,
		Timeout:         cfg.Consensus.Timeout.MustDuration(),
		Reminder:        cfg.Consensus.Reminder.MustDuration(),
		AutoReject:      cfg.Consensus.AutoReject.Enabled,
		EarlyReject:     cfg.Consensus.EarlyReject,
	}, members, pool, chain, logger)
	if err != nil {
		return nil, err
	}
	eng.SetClock(now)
	eng.SetMetrics(metrics)

	sched := scheduler.New(members, eng, notifier, cfg.Scheduler.CheckFrequency.MustDuration(), logger)
	sched.SetClock(now)
	sched.SetMetrics(metrics)

	metrics.UpdateChainHeight(0)
	metrics.UpdatePoolSize(0)

	return &Node{
		cfg:       cfg,
		now:       now,
		logger:    logger.With().Str("component", "node").Logger(),
		metrics:   metrics,
		notifier:  notifier,
		members:   members,
		pool:      pool,
		chain:     chain,
		consensus: eng,
		scheduler: sched,
	}, nil
}

// Config returns the validated configuration.
func (n *Node) Config() *config.Config { return n.cfg }

// Scheduler returns the timeout scheduler for callers that run its loop.
func (n *Node) Scheduler() *scheduler.Scheduler { return n.scheduler }

// Health fails while the ledger is halted.
func (n *Node) Health() error { return n.chain.Halted() }

// AddFirstMember bootstraps the registry.
func (n *Node) AddFirstMember(name, role string) (membership.Member, error) {
	return n.members.AddFirstMember(name, role)
}

// RequestMembership files an admission request.
func (n *Node) RequestMembership(name, role string) (membership.Request, error) {
	return n.members.RequestMembership(name, role)
}

// VoteOnMembership resolves a pending request with "approve" or "reject".
func (n *Node) VoteOnMembership(requestAddress, voterAddress, action string) (membership.Decision, error) {
	return n.members.VoteOnRequest(requestAddress, voterAddress, action)
}

// ListMembers lists entries by status. An empty status means approved.
func (n *Node) ListMembers(status string) ([]membership.Entry, error) {
	st, err := membership.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return n.members.List(st)
}

// ListMemberAddresses returns approved member addresses in join order.
func (n *Node) ListMemberAddresses() []string {
	return n.members.Addresses()
}

// RequestStatus reports where address stands in the admission process.
func (n *Node) RequestStatus(addr string) (membership.RequestStatus, error) {
	return n.members.RequestStatus(addr)
}

// SubmitTransaction queues a transfer. When transactions.require_members is
// set both parties must be approved members.
func (n *Node) SubmitTransaction(sender, recipient string, amount int64) (ledger.Transaction, error) {
	if n.cfg.Transactions.RequireMembers {
		for _, addr := range []string{sender, recipient} {
			if !n.members.IsMember(addr) {
				return ledger.Transaction{}, fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
			}
		}
	}
	tx, err := n.pool.Submit(sender, recipient, amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	n.metrics.RecordTransaction()
	n.metrics.UpdatePoolSize(n.pool.Size())
	return tx, nil
}

// PoolStats reports transaction pool occupancy.
func (n *Node) PoolStats() engine.PoolStats {
	return n.pool.Stats()
}

// ProposeBlock drafts a block from the pool.
func (n *Node) ProposeBlock(proposer string) (ledger.Block, error) {
	return n.consensus.Propose(proposer)
}

// VoteOnBlock casts a vote on the open proposal.
func (n *Node) VoteOnBlock(index int64, voter string, approve bool) (ledger.Block, error) {
	b, err := n.consensus.Cast(index, voter, approve)
	if err != nil {
		return b, err
	}
	if b.Status == ledger.BlockCommitted {
		n.announceCommit(b)
	}
	return b, nil
}

// RejectBlock votes against the open proposal.
func (n *Node) RejectBlock(index int64, voter string) (ledger.Block, error) {
	return n.VoteOnBlock(index, voter, false)
}

// ListPendingBlocks returns open proposals.
func (n *Node) ListPendingBlocks() []ledger.Block {
	return n.consensus.Pending()
}

// GetChain returns a copy of the committed chain, genesis first.
func (n *Node) GetChain() []ledger.Block {
	return n.chain.Blocks()
}

// GetBlock returns the committed block at index.
func (n *Node) GetBlock(index int64) (ledger.Block, error) {
	return n.chain.Block(index)
}

// VerifyChain checks every link and hash. A failure halts the ledger.
func (n *Node) VerifyChain() error {
	return n.chain.VerifyChain()
}

// Resume clears a halt once the chain verifies again.
func (n *Node) Resume() error {
	return n.chain.Resume()
}

// Tick runs one timeout sweep as of the node clock.
func (n *Node) Tick(ctx context.Context) scheduler.Report {
	return n.scheduler.Tick(ctx, n.now())
}

// Status is a point-in-time summary of the node.
type Status struct {
	Height       int64            `json:"height"`
	HeadHash     string           `json:"head_hash"`
	Members      int              `json:"members"`
	Pending      int              `json:"pending_requests"`
	Pool         engine.PoolStats `json:"pool"`
	Consensus    consensus.Stats  `json:"consensus"`
	Halted       string           `json:"halted,omitempty"`
	SchedulerRun int64            `json:"scheduler_ticks"`
}

// Status summarises the node.
func (n *Node) Status() Status {
	head := n.chain.Head()
	st := Status{
		Height:       head.Index,
		HeadHash:     head.Hash,
		Members:      len(n.members.Addresses()),
		Pending:      len(n.members.Pending()),
		Pool:         n.pool.Stats(),
		Consensus:    n.consensus.GetStats(),
		SchedulerRun: n.scheduler.Ticks(),
	}
	if err := n.chain.Halted(); err != nil {
		st.Halted = err.Error()
	}
	return st
}

func (n *Node) announceCommit(b ledger.Block) {
	notice := notify.Notice{
		Kind:       notify.KindCommitted,
		Subject:    notify.SubjectBlock,
		Ref:        strconv.FormatInt(b.Index, 10),
		Recipients: n.members.VoterAddresses(),
		Message:    fmt.Sprintf("Block %d committed with %d transactions", b.Index, len(b.Transactions)),
		At:         n.now().UTC(),
	}
	if err := n.notifier.Notify(context.Background(), notice); err != nil {
		n.logger.Error().Err(err).Int64("index", b.Index).Msg("Commit notice not delivered")
	}
}
