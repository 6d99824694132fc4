// Package ledger implements the hash-linked chain of committed blocks.
package ledger

import (
	"fmt"
	"time"
)

// BlockStatus represents the lifecycle state of a block.
type BlockStatus int

const (
	BlockProposed BlockStatus = iota
	BlockCommitted
	BlockRejected
)

func (s BlockStatus) String() string {
	switch s {
	case BlockProposed:
		return "proposed"
	case BlockCommitted:
		return "committed"
	case BlockRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s BlockStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *BlockStatus) UnmarshalText(b []byte) error {
	switch string(b) {
	case "proposed":
		*s = BlockProposed
	case "committed":
		*s = BlockCommitted
	case "rejected":
		*s = BlockRejected
	default:
		return fmt.Errorf("unknown block status %q", b)
	}
	return nil
}

// Transaction is a value transfer between two addresses. Negative amounts
// are allowed.
type Transaction struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Block is a batch of transactions linked to its predecessor by hash.
// Votes maps a voter address to its decision, true for approve.
type Block struct {
	Index        int64           `json:"index"`
	Timestamp    time.Time       `json:"timestamp"`
	Transactions []Transaction   `json:"transactions"`
	PreviousHash string          `json:"previous_hash"`
	Hash         string          `json:"hash"`
	Votes        map[string]bool `json:"votes"`
	Proposer     string          `json:"proposer"`
	Status       BlockStatus     `json:"status"`
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	out := b
	if b.Transactions != nil {
		out.Transactions = make([]Transaction, len(b.Transactions))
		copy(out.Transactions, b.Transactions)
	}
	if b.Votes != nil {
		out.Votes = make(map[string]bool, len(b.Votes))
		for k, v := range b.Votes {
			out.Votes[k] = v
		}
	}
	return out
}

// Approvals counts approving votes.
func (b Block) Approvals() int {
	n := 0
	for _, ok := range b.Votes {
		if ok {
			n++
		}
	}
	return n
}

// GenesisTime is the fixed timestamp of every genesis block.
var GenesisTime = time.Unix(0, 0).UTC()

// Genesis returns the fixed first block for the given sentinel previous hash.
func Genesis(sentinel string) Block {
	b := Block{
		Index:        0,
		Timestamp:    GenesisTime,
		Transactions: []Transaction{},
		PreviousHash: sentinel,
		Votes:        map[string]bool{},
		Status:       BlockCommitted,
	}
	b.Hash = HashBlock(b)
	return b
}
