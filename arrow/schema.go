// Package arrow exports the chain as Apache Arrow record batches and IPC
// streams for columnar analysis outside the node.
package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Column positions in ChainSchema.
const (
	colIndex = iota
	colTimestamp
	colPreviousHash
	colHash
	colProposer
	colStatus
	colVotes
	colTransactions
)

// Transaction struct field positions.
const (
	txID = iota
	txSender
	txRecipient
	txAmount
	txTimestamp
)

func transactionFields() []arrow.Field {
	return []arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "sender", Type: arrow.BinaryTypes.String},
		{Name: "recipient", Type: arrow.BinaryTypes.String},
		{Name: "amount", Type: arrow.PrimitiveTypes.Int64},
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
	}
}

// TransactionSchema returns the schema of a flat transaction table.
//
// Fields:
//   - block_index: int64 - Index of the containing block
//   - id, sender, recipient: string
//   - amount: int64 - May be negative
//   - timestamp: int64 - Unix nanoseconds
func TransactionSchema() *arrow.Schema {
	fields := append([]arrow.Field{{Name: "block_index", Type: arrow.PrimitiveTypes.Int64}}, transactionFields()...)
	return arrow.NewSchema(fields, nil)
}

// ChainSchema returns the schema of one row per block.
//
// Fields:
//   - index: int64 - Block height
//   - timestamp: int64 - Unix nanoseconds
//   - previous_hash, hash, proposer: string
//   - status: string - proposed, committed or rejected
//   - votes: map<string, bool> - Voter address to decision
//   - transactions: list<struct> - Transactions in block order
func ChainSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "index", Type: arrow.PrimitiveTypes.Int64},
			{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
			{Name: "previous_hash", Type: arrow.BinaryTypes.String},
			{Name: "hash", Type: arrow.BinaryTypes.String},
			{Name: "proposer", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "status", Type: arrow.BinaryTypes.String},
			{
				Name:     "votes",
				Type:     arrow.MapOf(arrow.BinaryTypes.String, arrow.FixedWidthTypes.Boolean),
				Nullable: true,
			},
			{
				Name:     "transactions",
				Type:     arrow.ListOf(arrow.StructOf(transactionFields()...)),
				Nullable: true,
			},
		},
		nil,
	)
}
