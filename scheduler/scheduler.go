// Package scheduler drives the periodic voting-timeout sweep. Tick is the
// idempotent entry point; Start runs it on a ticker for callers that do not
// bring their own timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/consensus"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
	"github.com/VanDung-dev/Consortium-Ledger/monitoring"
	"github.com/VanDung-dev/Consortium-Ledger/notify"
)

// Scheduler errors
var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrBadInterval    = errors.New("check frequency must be positive")
)

// MembershipSweeper is the registry side of a tick.
type MembershipSweeper interface {
	Sweep(now time.Time) membership.SweepResult
	VoterAddresses() []string
}

// ProposalSweeper is the consensus side of a tick.
type ProposalSweeper interface {
	Sweep(now time.Time) consensus.SweepResult
}

// Report summarises one tick.
type Report struct {
	At         time.Time              `json:"at"`
	Membership membership.SweepResult `json:"-"`
	Blocks     consensus.SweepResult  `json:"-"`
	Notices    int                    `json:"notices"`
	Failed     int                    `json:"failed"`
}

// Scheduler runs the membership sweep and then the proposal sweep. It holds
// no lock of its own across the two.
type Scheduler struct {
	members   MembershipSweeper
	proposals ProposalSweeper
	notifier  notify.Notifier
	interval  time.Duration
	now       func() time.Time
	logger    zerolog.Logger
	metrics   *monitoring.Metrics

	ticks   int64
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New creates a scheduler. notifier may be nil.
func New(members MembershipSweeper, proposals ProposalSweeper, notifier notify.Notifier, interval time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		members:   members,
		proposals: proposals,
		notifier:  notifier,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// SetClock replaces the time source used by the ticker loop.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetMetrics attaches metrics. m may be nil.
func (s *Scheduler) SetMetrics(m *monitoring.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Tick sweeps both components as of now and sends the resulting notices.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) Report {
	start := time.Now()
	rep := Report{At: now}

	rep.Membership = s.members.Sweep(now)
	rep.Blocks = s.proposals.Sweep(now)

	notices := s.notices(rep)
	for _, n := range notices {
		if s.notifier == nil {
			break
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			rep.Failed++
			s.logger.Error().Err(err).Str("kind", string(n.Kind)).Str("ref", n.Ref).Msg("Notice not delivered")
			continue
		}
		rep.Notices++
	}

	s.mu.Lock()
	s.ticks++
	metrics := s.metrics
	s.mu.Unlock()
	metrics.RecordSweep(time.Since(start))

	if len(notices) > 0 {
		s.logger.Debug().
			Int("membership_rejected", len(rep.Membership.Rejected)).
			Int("blocks_rejected", len(rep.Blocks.Rejected)).
			Int("notices", rep.Notices).
			Msg("Sweep completed")
	}
	return rep
}

func (s *Scheduler) notices(rep Report) []notify.Notice {
	var out []notify.Notice
	m, b := rep.Membership, rep.Blocks
	if m.Empty() && b.Empty() {
		return nil
	}
	voters := s.members.VoterAddresses()

	for _, req := range m.Reminders {
		out = append(out, notify.Notice{
			Kind: notify.KindReminder, Subject: notify.SubjectMembership, Ref: req.Address,
			Deadline: req.Deadline, Recipients: voters, At: rep.At,
			Message: fmt.Sprintf("Membership request from %s (%s) is awaiting a vote", req.Name, req.Role),
		})
	}
	for _, req := range m.Rejected {
		out = append(out, notify.Notice{
			Kind: notify.KindAutoRejected, Subject: notify.SubjectMembership, Ref: req.Address,
			Deadline: req.Deadline, Recipients: voters, At: rep.At,
			Message: fmt.Sprintf("Membership request from %s was rejected after its voting window closed", req.Name),
		})
	}
	for _, req := range m.Escalated {
		out = append(out, notify.Notice{
			Kind: notify.KindEscalated, Subject: notify.SubjectMembership, Ref: req.Address,
			Deadline: req.Deadline, Recipients: voters, At: rep.At,
			Message: fmt.Sprintf("Membership request from %s expired without a decision", req.Name),
		})
	}
	for _, p := range b.Reminders {
		out = append(out, blockNotice(notify.KindReminder, p, voters, rep.At,
			fmt.Sprintf("Block %d with %d transactions is awaiting votes", p.Block.Index, len(p.Block.Transactions))))
	}
	for _, p := range b.Rejected {
		out = append(out, blockNotice(notify.KindAutoRejected, p, voters, rep.At,
			fmt.Sprintf("Block %d was rejected after its voting window closed", p.Block.Index)))
	}
	for _, p := range b.Escalated {
		out = append(out, blockNotice(notify.KindEscalated, p, voters, rep.At,
			fmt.Sprintf("Block %d expired without reaching consensus", p.Block.Index)))
	}
	return out
}

func blockNotice(kind notify.Kind, p consensus.Proposal, voters []string, at time.Time, msg string) notify.Notice {
	return notify.Notice{
		Kind:       kind,
		Subject:    notify.SubjectBlock,
		Ref:        strconv.FormatInt(p.Block.Index, 10),
		Deadline:   p.Deadline,
		Recipients: voters,
		Message:    msg,
		At:         at,
	}
}

// Ticks returns how many ticks have run.
func (s *Scheduler) Ticks() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Start runs Tick every interval until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	if s.interval <= 0 {
		s.mu.Unlock()
		return ErrBadInterval
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started")
	return nil
}

// Stop stops the ticker loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

// Run starts the loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now
			s.mu.Unlock()
			s.Tick(ctx, now())
		}
	}
}
