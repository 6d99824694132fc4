package consensus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/address"
	"github.com/VanDung-dev/Consortium-Ledger/engine"
	"github.com/VanDung-dev/Consortium-Ledger/ledger"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
)

type fixture struct {
	registry *membership.Registry
	pool     *engine.TxPool
	chain    *ledger.Ledger
	engine   *Engine
	now      time.Time
	mu       sync.Mutex
	founder  string
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// addMember admits a new member with the founder's vote.
func (f *fixture) addMember(t *testing.T, name, role string) string {
	t.Helper()
	req, err := f.registry.RequestMembership(name, role)
	if err != nil {
		t.Fatalf("RequestMembership failed: %v", err)
	}
	if _, err := f.registry.VoteOnRequest(req.Address, f.founder, "approve"); err != nil {
		t.Fatalf("VoteOnRequest failed: %v", err)
	}
	return req.Address
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	roles, err := membership.NewRoleTable(map[string][]string{
		"founder":     {"vote", "propose"},
		"participant": {"vote", "propose"},
		"observer":    {},
	}, "founder")
	if err != nil {
		t.Fatalf("NewRoleTable failed: %v", err)
	}

	n := 0
	gen := address.GeneratorFunc(func() (string, error) {
		n++
		return fmt.Sprintf("0x%040x", n), nil
	})

	f := &fixture{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	f.registry = membership.NewRegistry(roles, gen, membership.Options{Timeout: time.Hour, Reminder: time.Minute, AutoReject: true}, zerolog.Nop())
	f.pool = engine.NewTxPool(0)
	f.chain = ledger.New("1", zerolog.Nop())
	f.engine, err = NewEngine(cfg, f.registry, f.pool, f.chain, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	f.engine.SetClock(f.clock)

	founder, err := f.registry.AddFirstMember("Alice", "founder")
	if err != nil {
		t.Fatalf("AddFirstMember failed: %v", err)
	}
	f.founder = founder.Address
	return f
}

func txIDs(txs []ledger.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestConfigValidateBasic(t *testing.T) {
	if err := DefaultConfig().ValidateBasic(); err != nil {
		t.Fatalf("Default config should validate: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Threshold = 0
	if err := cfg.ValidateBasic(); err == nil {
		t.Error("Expected error for zero threshold")
	}
	cfg = DefaultConfig()
	cfg.Reminder = cfg.Timeout
	if err := cfg.ValidateBasic(); err == nil {
		t.Error("Expected error for reminder not before timeout")
	}
}

func TestQuorumMet(t *testing.T) {
	cfg := Config{Threshold: 0.51, RequiredVotes: 2}
	cases := []struct {
		approvals, eligible int
		want                bool
	}{
		{1, 2, false},
		{2, 2, true},
		{2, 3, true},
		{2, 4, false},
		{3, 4, true},
		{1, 1, false}, // below the floor
		{0, 0, false},
	}
	for _, tc := range cases {
		if got := cfg.quorumMet(tc.approvals, tc.eligible); got != tc.want {
			t.Errorf("quorumMet(%d, %d): expected %v, got %v", tc.approvals, tc.eligible, tc.want, got)
		}
	}

	exact := Config{Threshold: 2.0 / 3.0, RequiredVotes: 1}
	if !exact.quorumMet(2, 3) {
		t.Error("Exact two-thirds should meet a two-thirds threshold")
	}
}

func TestCommitScenario(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.founder
	b := f.addMember(t, "Bob", "participant")

	t1, _ := f.pool.Submit(a, b, 10)
	t2, _ := f.pool.Submit(b, a, 5)

	block, err := f.engine.Propose(a)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if block.Index != 1 {
		t.Errorf("Expected index 1, got %d", block.Index)
	}
	if block.PreviousHash != f.chain.Genesis().Hash {
		t.Errorf("Expected previous hash %s, got %s", f.chain.Genesis().Hash, block.PreviousHash)
	}
	if diff := cmp.Diff([]string{t1.ID, t2.ID}, txIDs(block.Transactions)); diff != "" {
		t.Errorf("Block transactions mismatch (-want +got):\n%s", diff)
	}
	if f.pool.Size() != 0 {
		t.Errorf("Expected empty pool after propose, got %d", f.pool.Size())
	}

	block, err = f.engine.Vote(1, a)
	if err != nil {
		t.Fatalf("Vote by A failed: %v", err)
	}
	if block.Status != ledger.BlockProposed {
		t.Errorf("One vote of two should not commit, got %s", block.Status)
	}

	block, err = f.engine.Vote(1, b)
	if err != nil {
		t.Fatalf("Vote by B failed: %v", err)
	}
	if block.Status != ledger.BlockCommitted {
		t.Fatalf("Expected committed, got %s", block.Status)
	}
	if f.chain.Len() != 2 {
		t.Errorf("Expected ledger length 2, got %d", f.chain.Len())
	}
	if f.pool.Size() != 0 {
		t.Errorf("Expected empty pool, got %d", f.pool.Size())
	}
	if f.chain.Head().Hash != block.Hash {
		t.Error("Committed block should be the ledger head")
	}
	if err := f.chain.VerifyChain(); err != nil {
		t.Errorf("Chain should verify: %v", err)
	}
	if len(f.engine.Pending()) != 0 {
		t.Error("No proposal should remain open")
	}

	if _, err := f.engine.Vote(1, a); !errors.Is(err, ErrProposalResolved) {
		t.Errorf("Expected ErrProposalResolved, got %v", err)
	}

	st := f.engine.GetStats()
	if st.Proposed != 1 || st.Committed != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestProposeAuthorization(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	obs := f.addMember(t, "Olga", "observer")

	if _, err := f.engine.Propose("0xnobody"); !errors.Is(err, ErrUnauthorizedProposer) {
		t.Errorf("Expected ErrUnauthorizedProposer, got %v", err)
	}
	if _, err := f.engine.Propose(obs); !errors.Is(err, ErrUnauthorizedProposer) {
		t.Errorf("Expected ErrUnauthorizedProposer for observer, got %v", err)
	}
	if len(f.engine.Pending()) != 0 {
		t.Error("Failed propose should not open a proposal")
	}
}

func TestProposeInFlight(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, _ = f.pool.Submit(f.founder, "0xb", 1)

	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	_, _ = f.pool.Submit(f.founder, "0xb", 2)
	if _, err := f.engine.Propose(f.founder); !errors.Is(err, ErrProposalInFlight) {
		t.Errorf("Expected ErrProposalInFlight, got %v", err)
	}
	if f.pool.Size() != 1 {
		t.Errorf("Failed propose should not drain the pool, got size %d", f.pool.Size())
	}
}

func TestVoteErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	b := f.addMember(t, "Bob", "participant")
	_ = f.addMember(t, "Carol", "participant")
	obs := f.addMember(t, "Olga", "observer")

	if _, err := f.engine.Vote(1, f.founder); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("Expected ErrProposalNotFound, got %v", err)
	}

	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if _, err := f.engine.Vote(1, obs); !errors.Is(err, ErrUnauthorizedVoter) {
		t.Errorf("Expected ErrUnauthorizedVoter, got %v", err)
	}
	if _, err := f.engine.Vote(1, "0xnobody"); !errors.Is(err, ErrUnauthorizedVoter) {
		t.Errorf("Expected ErrUnauthorizedVoter, got %v", err)
	}
	if _, err := f.engine.Vote(2, b); !errors.Is(err, ErrProposalNotFound) {
		t.Errorf("Expected ErrProposalNotFound, got %v", err)
	}

	if _, err := f.engine.Vote(1, b); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	before := f.engine.Pending()[0]
	if _, err := f.engine.Vote(1, b); !errors.Is(err, ErrDuplicateVote) {
		t.Errorf("Expected ErrDuplicateVote, got %v", err)
	}
	if _, err := f.engine.Reject(1, b); !errors.Is(err, ErrDuplicateVote) {
		t.Errorf("Expected ErrDuplicateVote for a change of mind, got %v", err)
	}
	after := f.engine.Pending()[0]
	if diff := cmp.Diff(before.Votes, after.Votes); diff != "" {
		t.Errorf("Duplicate vote changed state (-before +after):\n%s", diff)
	}
}

func TestSweepRestoresTransactions(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	b := f.addMember(t, "Bob", "participant")
	_ = f.addMember(t, "Carol", "participant")

	t1, _ := f.pool.Submit(f.founder, b, 10)
	t2, _ := f.pool.Submit(b, f.founder, 5)

	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	t3, _ := f.pool.Submit(b, f.founder, 1)

	if _, err := f.engine.Vote(1, f.founder); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	f.advance(8 * time.Minute)
	if !f.engine.ReminderDue(1, f.clock()) {
		t.Error("Reminder should be due two minutes before the deadline")
	}
	res := f.engine.Sweep(f.clock())
	if len(res.Reminders) != 1 || len(res.Rejected) != 0 {
		t.Fatalf("Expected one reminder, got %+v", res)
	}
	if res := f.engine.Sweep(f.clock()); !res.Empty() {
		t.Errorf("Repeated sweep should be a no-op, got %+v", res)
	}

	f.advance(3 * time.Minute)
	res = f.engine.Sweep(f.clock())
	if len(res.Rejected) != 1 {
		t.Fatalf("Expected one rejection, got %+v", res)
	}
	if res.Rejected[0].Block.Status != ledger.BlockRejected {
		t.Errorf("Expected rejected, got %s", res.Rejected[0].Block.Status)
	}

	want := []string{t1.ID, t2.ID, t3.ID}
	if diff := cmp.Diff(want, txIDs(f.pool.Peek(10))); diff != "" {
		t.Errorf("Pool order mismatch (-want +got):\n%s", diff)
	}
	if f.chain.Len() != 1 {
		t.Errorf("Expected ledger length 1, got %d", f.chain.Len())
	}
	if res := f.engine.Sweep(f.clock()); !res.Empty() {
		t.Errorf("Sweep after rejection should be a no-op, got %+v", res)
	}

	if _, err := f.engine.Vote(1, b); !errors.Is(err, ErrProposalResolved) {
		t.Errorf("Expected ErrProposalResolved, got %v", err)
	}

	// The slot is free again and the next proposal reuses index 1.
	next, err := f.engine.Propose(b)
	if err != nil {
		t.Fatalf("Propose after rejection failed: %v", err)
	}
	if next.Index != 1 || len(next.Transactions) != 3 {
		t.Errorf("Expected index 1 with 3 transactions, got %d with %d", next.Index, len(next.Transactions))
	}
	if st := f.engine.GetStats(); st.AutoRejected != 1 {
		t.Errorf("Expected 1 auto-rejection, got %+v", st)
	}
}

func TestSweepEscalatesWithoutAutoReject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoReject = false
	f := newFixture(t, cfg)
	b := f.addMember(t, "Bob", "participant")

	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	f.advance(time.Hour)
	res := f.engine.Sweep(f.clock())
	if len(res.Escalated) != 1 || len(res.Rejected) != 0 {
		t.Fatalf("Expected one escalation, got %+v", res)
	}
	if res := f.engine.Sweep(f.clock()); !res.Empty() {
		t.Errorf("Escalation should happen once, got %+v", res)
	}

	// Late votes can still commit.
	_, _ = f.engine.Vote(1, f.founder)
	block, err := f.engine.Vote(1, b)
	if err != nil || block.Status != ledger.BlockCommitted {
		t.Errorf("Expected late commit, got %s (%v)", block.Status, err)
	}
}

func TestEarlyReject(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	b := f.addMember(t, "Bob", "participant")
	tx, _ := f.pool.Submit(f.founder, b, 3)

	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	block, err := f.engine.Reject(1, b)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if block.Status != ledger.BlockRejected {
		t.Errorf("Expected early rejection, got %s", block.Status)
	}
	if !f.pool.Contains(tx.ID) {
		t.Error("Transaction should be back in the pool")
	}
}

func TestNoEarlyReject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EarlyReject = false
	f := newFixture(t, cfg)
	b := f.addMember(t, "Bob", "participant")

	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	block, err := f.engine.Reject(1, b)
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if block.Status != ledger.BlockProposed {
		t.Errorf("Expected proposal to stay open, got %s", block.Status)
	}
}

func TestThresholdAgainstEligibleVoters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 0.75
	f := newFixture(t, cfg)
	b := f.addMember(t, "Bob", "participant")
	c := f.addMember(t, "Carol", "participant")
	_ = f.addMember(t, "Dan", "participant")
	// Observers do not count toward the electorate.
	_ = f.addMember(t, "Olga", "observer")

	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	_, _ = f.engine.Vote(1, f.founder)
	block, _ := f.engine.Vote(1, b)
	if block.Status != ledger.BlockProposed {
		t.Fatalf("Two of four should not meet 0.75, got %s", block.Status)
	}
	block, _ = f.engine.Vote(1, c)
	if block.Status != ledger.BlockCommitted {
		t.Errorf("Three of four should meet 0.75, got %s", block.Status)
	}
}

type haltedChain struct {
	*ledger.Ledger
	err error
}

func (h haltedChain) Halted() error { return h.err }

type failingChain struct {
	*ledger.Ledger
}

func (f failingChain) Append(ledger.Block) error {
	return &ledger.IntegrityError{Index: 1, Reason: "injected"}
}

func TestProposeWhileHalted(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	eng, _ := NewEngine(DefaultConfig(), f.registry, f.pool, haltedChain{f.chain, errors.New("bad hash")}, zerolog.Nop())

	if _, err := eng.Propose(f.founder); !errors.Is(err, ledger.ErrLedgerHalted) {
		t.Errorf("Expected ErrLedgerHalted, got %v", err)
	}
}

func TestCommitFailureRestores(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	b := f.addMember(t, "Bob", "participant")
	eng, _ := NewEngine(DefaultConfig(), f.registry, f.pool, failingChain{f.chain}, zerolog.Nop())

	tx, _ := f.pool.Submit(f.founder, b, 1)
	if _, err := eng.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	_, _ = eng.Vote(1, f.founder)
	block, err := eng.Vote(1, b)
	if !errors.Is(err, ledger.ErrChainIntegrity) {
		t.Fatalf("Expected ErrChainIntegrity, got %v", err)
	}
	if block.Status != ledger.BlockRejected {
		t.Errorf("Expected rejected block, got %s", block.Status)
	}
	if !f.pool.Contains(tx.ID) {
		t.Error("Transaction should be restored after a failed commit")
	}
}

func TestConcurrentVotesCommitOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequiredVotes = 1
	f := newFixture(t, cfg)
	voters := []string{f.founder}
	for i := 0; i < 9; i++ {
		voters = append(voters, f.addMember(t, fmt.Sprintf("M%d", i), "participant"))
	}
	if _, err := f.engine.Propose(f.founder); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, v := range voters {
		wg.Add(1)
		go func(voter string) {
			defer wg.Done()
			_, _ = f.engine.Vote(1, voter)
		}(v)
	}
	wg.Wait()

	if f.chain.Len() != 2 {
		t.Errorf("Expected exactly one commit, ledger length %d", f.chain.Len())
	}
	if err := f.chain.VerifyChain(); err != nil {
		t.Errorf("Chain should verify: %v", err)
	}
}
