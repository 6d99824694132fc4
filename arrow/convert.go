package arrow

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/Consortium-Ledger/ledger"
)

var (
	ErrEmptyChain    = errors.New("no blocks to convert")
	ErrSchemaInvalid = errors.New("record does not match chain schema")
)

// Converter turns ledger blocks into Arrow records and back.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a Converter with the default allocator.
func NewConverter() *Converter {
	return &Converter{allocator: memory.DefaultAllocator}
}

// NewConverterWithAllocator creates a Converter using alloc. Tests pass a
// checked allocator to catch leaks.
func NewConverterWithAllocator(alloc memory.Allocator) *Converter {
	return &Converter{allocator: alloc}
}

// BlocksToRecord builds a ChainSchema record with one row per block. The
// caller must Release the record.
func (c *Converter) BlocksToRecord(blocks []ledger.Block) (arrow.Record, error) {
	if len(blocks) == 0 {
		return nil, ErrEmptyChain
	}

	builder := array.NewRecordBuilder(c.allocator, ChainSchema())
	defer builder.Release()

	indexB := builder.Field(colIndex).(*array.Int64Builder)
	tsB := builder.Field(colTimestamp).(*array.Int64Builder)
	prevB := builder.Field(colPreviousHash).(*array.StringBuilder)
	hashB := builder.Field(colHash).(*array.StringBuilder)
	proposerB := builder.Field(colProposer).(*array.StringBuilder)
	statusB := builder.Field(colStatus).(*array.StringBuilder)
	votesB := builder.Field(colVotes).(*array.MapBuilder)
	txsB := builder.Field(colTransactions).(*array.ListBuilder)

	voterB := votesB.KeyBuilder().(*array.StringBuilder)
	decisionB := votesB.ItemBuilder().(*array.BooleanBuilder)

	txB := txsB.ValueBuilder().(*array.StructBuilder)
	idB := txB.FieldBuilder(txID).(*array.StringBuilder)
	senderB := txB.FieldBuilder(txSender).(*array.StringBuilder)
	recipientB := txB.FieldBuilder(txRecipient).(*array.StringBuilder)
	amountB := txB.FieldBuilder(txAmount).(*array.Int64Builder)
	txTsB := txB.FieldBuilder(txTimestamp).(*array.Int64Builder)

	for _, b := range blocks {
		indexB.Append(b.Index)
		tsB.Append(b.Timestamp.UnixNano())
		prevB.Append(b.PreviousHash)
		hashB.Append(b.Hash)
		if b.Proposer == "" {
			proposerB.AppendNull()
		} else {
			proposerB.Append(b.Proposer)
		}
		statusB.Append(b.Status.String())

		votesB.Append(true)
		voters := make([]string, 0, len(b.Votes))
		for v := range b.Votes {
			voters = append(voters, v)
		}
		sort.Strings(voters)
		for _, v := range voters {
			voterB.Append(v)
			decisionB.Append(b.Votes[v])
		}

		txsB.Append(true)
		for _, tx := range b.Transactions {
			txB.Append(true)
			idB.Append(tx.ID)
			senderB.Append(tx.Sender)
			recipientB.Append(tx.Recipient)
			amountB.Append(tx.Amount)
			txTsB.Append(tx.Timestamp.UnixNano())
		}
	}

	return builder.NewRecord(), nil
}

// TransactionsToRecord flattens the transactions of blocks into a
// TransactionSchema record. An empty record is returned for blocks with no
// transactions.
func (c *Converter) TransactionsToRecord(blocks []ledger.Block) (arrow.Record, error) {
	builder := array.NewRecordBuilder(c.allocator, TransactionSchema())
	defer builder.Release()

	blockB := builder.Field(0).(*array.Int64Builder)
	idB := builder.Field(1 + txID).(*array.StringBuilder)
	senderB := builder.Field(1 + txSender).(*array.StringBuilder)
	recipientB := builder.Field(1 + txRecipient).(*array.StringBuilder)
	amountB := builder.Field(1 + txAmount).(*array.Int64Builder)
	tsB := builder.Field(1 + txTimestamp).(*array.Int64Builder)

	for _, b := range blocks {
		for _, tx := range b.Transactions {
			blockB.Append(b.Index)
			idB.Append(tx.ID)
			senderB.Append(tx.Sender)
			recipientB.Append(tx.Recipient)
			amountB.Append(tx.Amount)
			tsB.Append(tx.Timestamp.UnixNano())
		}
	}
	return builder.NewRecord(), nil
}

// RecordToBlocks decodes a ChainSchema record. Timestamps come back in UTC.
func (c *Converter) RecordToBlocks(record arrow.Record) ([]ledger.Block, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}
	if err := ValidateSchema(record, ChainSchema()); err != nil {
		return nil, err
	}

	indexCol := record.Column(colIndex).(*array.Int64)
	tsCol := record.Column(colTimestamp).(*array.Int64)
	prevCol := record.Column(colPreviousHash).(*array.String)
	hashCol := record.Column(colHash).(*array.String)
	proposerCol := record.Column(colProposer).(*array.String)
	statusCol := record.Column(colStatus).(*array.String)
	votesCol := record.Column(colVotes).(*array.Map)
	txsCol := record.Column(colTransactions).(*array.List)

	voters := votesCol.Keys().(*array.String)
	decisions := votesCol.Items().(*array.Boolean)
	txs := txsCol.ListValues().(*array.Struct)
	ids := txs.Field(txID).(*array.String)
	senders := txs.Field(txSender).(*array.String)
	recipients := txs.Field(txRecipient).(*array.String)
	amounts := txs.Field(txAmount).(*array.Int64)
	txTimes := txs.Field(txTimestamp).(*array.Int64)

	blocks := make([]ledger.Block, record.NumRows())
	for i := range blocks {
		var status ledger.BlockStatus
		if err := status.UnmarshalText([]byte(statusCol.Value(i))); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		b := ledger.Block{
			Index:        indexCol.Value(i),
			Timestamp:    time.Unix(0, tsCol.Value(i)).UTC(),
			PreviousHash: prevCol.Value(i),
			Hash:         hashCol.Value(i),
			Status:       status,
			Votes:        map[string]bool{},
			Transactions: []ledger.Transaction{},
		}
		if !proposerCol.IsNull(i) {
			b.Proposer = proposerCol.Value(i)
		}

		if !votesCol.IsNull(i) {
			start, end := votesCol.ValueOffsets(i)
			for j := int(start); j < int(end); j++ {
				b.Votes[voters.Value(j)] = decisions.Value(j)
			}
		}

		if !txsCol.IsNull(i) {
			start, end := txsCol.ValueOffsets(i)
			for j := int(start); j < int(end); j++ {
				b.Transactions = append(b.Transactions, ledger.Transaction{
					ID:        ids.Value(j),
					Sender:    senders.Value(j),
					Recipient: recipients.Value(j),
					Amount:    amounts.Value(j),
					Timestamp: time.Unix(0, txTimes.Value(j)).UTC(),
				})
			}
		}
		blocks[i] = b
	}
	return blocks, nil
}

// ValidateSchema checks that record has the expected field names and types.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("%w: got %d fields, expected %d",
			ErrSchemaInvalid, actual.NumFields(), expected.NumFields())
	}
	for i := 0; i < actual.NumFields(); i++ {
		got, want := actual.Field(i), expected.Field(i)
		if got.Name != want.Name {
			return fmt.Errorf("%w: field %d is %q, expected %q", ErrSchemaInvalid, i, got.Name, want.Name)
		}
		if !arrow.TypeEqual(got.Type, want.Type) {
			return fmt.Errorf("%w: field %q has type %s, expected %s", ErrSchemaInvalid, got.Name, got.Type, want.Type)
		}
	}
	return nil
}
