package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Ledger errors
var (
	ErrChainIntegrity = errors.New("chain integrity error")
	ErrLedgerHalted   = errors.New("ledger halted after integrity error")
	ErrBlockNotFound  = errors.New("block not found")
	ErrNotCommitted   = errors.New("block is not committed")
)

// IntegrityError reports the first block at which the chain is broken.
type IntegrityError struct {
	Index  int64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chain integrity error at block %d: %s", e.Index, e.Reason)
}

// Is makes errors.Is(err, ErrChainIntegrity) match.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrChainIntegrity
}

// Ledger is an append-only chain of committed blocks starting at genesis.
// An integrity failure halts further appends until Resume succeeds.
type Ledger struct {
	mu       sync.RWMutex
	blocks   []Block
	sentinel string
	halted   error
	logger   zerolog.Logger
}

// New creates a ledger holding only the genesis block.
func New(sentinel string, logger zerolog.Logger) *Ledger {
	return &Ledger{
		blocks:   []Block{Genesis(sentinel)},
		sentinel: sentinel,
		logger:   logger.With().Str("component", "ledger").Logger(),
	}
}

// Genesis returns the first block.
func (l *Ledger) Genesis() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[0].Clone()
}

// Head returns the most recently committed block.
func (l *Ledger) Head() Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1].Clone()
}

// Len returns the number of blocks including genesis.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// Blocks returns a copy of the whole chain.
func (l *Ledger) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = b.Clone()
	}
	return out
}

// Block returns the block at index.
func (l *Ledger) Block(index int64) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= int64(len(l.blocks)) {
		return Block{}, fmt.Errorf("%w: %d", ErrBlockNotFound, index)
	}
	return l.blocks[index].Clone(), nil
}

// Halted returns the integrity error that stopped the ledger, or nil.
func (l *Ledger) Halted() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.halted
}

// Append adds a committed block on top of the head.
func (l *Ledger) Append(b Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted != nil {
		return fmt.Errorf("%w: %v", ErrLedgerHalted, l.halted)
	}
	if b.Status != BlockCommitted {
		return fmt.Errorf("%w: block %d is %s", ErrNotCommitted, b.Index, b.Status)
	}

	head := l.blocks[len(l.blocks)-1]
	if err := validateBlock(b, head); err != nil {
		l.halt(err)
		return err
	}

	l.blocks = append(l.blocks, b.Clone())
	l.logger.Info().
		Int64("index", b.Index).
		Str("hash", b.Hash).
		Int("transactions", len(b.Transactions)).
		Msg("Block appended")
	return nil
}

// VerifyChain recomputes every hash and checks linkage from genesis to head.
// It returns nil or an *IntegrityError for the first bad block, and halts
// the ledger on failure.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.verify(); err != nil {
		l.halt(err)
		return err
	}
	return nil
}

// Resume clears a halt once the chain verifies again.
func (l *Ledger) Resume() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.verify(); err != nil {
		return err
	}
	if l.halted != nil {
		l.logger.Warn().Msg("Ledger resumed after successful verification")
	}
	l.halted = nil
	return nil
}

func (l *Ledger) verify() error {
	genesis := l.blocks[0]
	if genesis.Index != 0 || genesis.PreviousHash != l.sentinel {
		return &IntegrityError{Index: 0, Reason: "invalid genesis block"}
	}
	if want := HashBlock(genesis); genesis.Hash != want {
		return &IntegrityError{Index: 0, Reason: fmt.Sprintf("invalid hash: expected %s, got %s", want, genesis.Hash)}
	}
	for i := 1; i < len(l.blocks); i++ {
		if err := validateBlock(l.blocks[i], l.blocks[i-1]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) halt(err error) {
	l.halted = err
	l.logger.Error().Err(err).Msg("Ledger halted")
}

// validateBlock checks index continuity, previous hash linkage and the
// block's own hash.
func validateBlock(current, previous Block) error {
	if current.Index != previous.Index+1 {
		return &IntegrityError{
			Index:  current.Index,
			Reason: fmt.Sprintf("invalid index: expected %d, got %d", previous.Index+1, current.Index),
		}
	}
	if current.PreviousHash != previous.Hash {
		return &IntegrityError{
			Index:  current.Index,
			Reason: fmt.Sprintf("invalid previous hash: expected %s, got %s", previous.Hash, current.PreviousHash),
		}
	}
	if want := HashBlock(current); current.Hash != want {
		return &IntegrityError{
			Index:  current.Index,
			Reason: fmt.Sprintf("invalid hash: expected %s, got %s", want, current.Hash),
		}
	}
	return nil
}
