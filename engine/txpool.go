// Package engine holds the node's runtime building blocks: the pending
// transaction pool and the worker pool used for background fan-out.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VanDung-dev/Consortium-Ledger/ledger"
)

// Common errors for pool operations
var (
	ErrPoolFull  = errors.New("transaction pool is full")
	ErrInvalidTx = errors.New("invalid transaction")
)

// TxPool is a FIFO queue of transactions waiting for a block proposal.
// It does not check whether sender or recipient are members.
type TxPool struct {
	queue   []ledger.Transaction
	pending map[string]struct{}
	maxSize int
	now     func() time.Time
	mu      sync.RWMutex
}

// NewTxPool creates a pool holding at most maxSize transactions.
// A maxSize of zero means unbounded.
func NewTxPool(maxSize int) *TxPool {
	return &TxPool{
		queue:   make([]ledger.Transaction, 0),
		pending: make(map[string]struct{}),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// SetClock replaces the time source used to stamp transactions.
func (p *TxPool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Submit stamps a new transaction and appends it to the pool.
func (p *TxPool) Submit(sender, recipient string, amount int64) (ledger.Transaction, error) {
	if sender == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: sender is required", ErrInvalidTx)
	}
	if recipient == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: recipient is required", ErrInvalidTx)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.maxSize > 0 && len(p.queue) >= p.maxSize {
		return ledger.Transaction{}, ErrPoolFull
	}

	tx := ledger.Transaction{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: p.now().UTC(),
	}
	p.queue = append(p.queue, tx)
	p.pending[tx.ID] = struct{}{}
	return tx, nil
}

// Drain removes and returns up to n of the oldest transactions.
func (p *TxPool) Drain(n int) []ledger.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 || len(p.queue) == 0 {
		return []ledger.Transaction{}
	}
	if n > len(p.queue) {
		n = len(p.queue)
	}

	batch := make([]ledger.Transaction, n)
	copy(batch, p.queue[:n])
	for _, tx := range batch {
		delete(p.pending, tx.ID)
	}

	rest := make([]ledger.Transaction, len(p.queue)-n)
	copy(rest, p.queue[n:])
	p.queue = rest

	return batch
}

// Restore puts previously drained transactions back at the head of the
// queue in their original order. Transactions already in the pool are
// skipped. Restore ignores the size limit so nothing drained is lost.
func (p *TxPool) Restore(txs []ledger.Transaction) {
	if len(txs) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	front := make([]ledger.Transaction, 0, len(txs)+len(p.queue))
	for _, tx := range txs {
		if _, exists := p.pending[tx.ID]; exists {
			continue
		}
		p.pending[tx.ID] = struct{}{}
		front = append(front, tx)
	}
	p.queue = append(front, p.queue...)
}

// Peek returns up to n of the oldest transactions without removing them.
func (p *TxPool) Peek(n int) []ledger.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if n <= 0 || len(p.queue) == 0 {
		return nil
	}
	if n > len(p.queue) {
		n = len(p.queue)
	}
	out := make([]ledger.Transaction, n)
	copy(out, p.queue[:n])
	return out
}

// Size returns the current number of pending transactions.
func (p *TxPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.queue)
}

// Contains checks if a transaction is in the pool.
func (p *TxPool) Contains(txID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, exists := p.pending[txID]
	return exists
}

// PoolStats reports pool occupancy.
type PoolStats struct {
	Size      int `json:"size"`
	MaxSize   int `json:"max_size"`
	Available int `json:"available"`
}

// Stats returns pool statistics. Available is -1 for an unbounded pool.
func (p *TxPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	available := -1
	if p.maxSize > 0 {
		available = p.maxSize - len(p.queue)
		if available < 0 {
			available = 0
		}
	}
	return PoolStats{
		Size:      len(p.queue),
		MaxSize:   p.maxSize,
		Available: available,
	}
}
