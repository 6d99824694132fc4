package ledger

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
)

type txDigest struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type blockDigest struct {
	Index        int64           `json:"index"`
	Timestamp    int64           `json:"timestamp"`
	Transactions []txDigest      `json:"transactions"`
	PreviousHash string          `json:"previous_hash"`
	Votes        map[string]bool `json:"votes"`
	Proposer     string          `json:"proposer"`
	Status       string          `json:"status"`
}

// HashBlock returns the SHA-256 hex digest of the canonical JSON encoding of
// every block field except Hash. Map keys are encoded in sorted order and
// timestamps as Unix nanoseconds, so equal blocks always hash equally.
func HashBlock(b Block) string {
	d := blockDigest{
		Index:        b.Index,
		Timestamp:    b.Timestamp.UnixNano(),
		Transactions: make([]txDigest, len(b.Transactions)),
		PreviousHash: b.PreviousHash,
		Votes:        b.Votes,
		Proposer:     b.Proposer,
		Status:       b.Status.String(),
	}
	if d.Votes == nil {
		d.Votes = map[string]bool{}
	}
	for i, tx := range b.Transactions {
		d.Transactions[i] = txDigest{
			ID:        tx.ID,
			Sender:    tx.Sender,
			Recipient: tx.Recipient,
			Amount:    tx.Amount,
			Timestamp: tx.Timestamp.UnixNano(),
		}
	}
	// Marshal cannot fail on these field types.
	data, _ := json.Marshal(d)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
