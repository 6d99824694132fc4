package arrow

import (
	"errors"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"

	"github.com/VanDung-dev/Consortium-Ledger/ledger"
)

func sampleChain() []ledger.Block {
	genesis := ledger.Genesis("0")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := ledger.Block{
		Index:     1,
		Timestamp: ts,
		Transactions: []ledger.Transaction{
			{ID: "tx-1", Sender: "0xA", Recipient: "0xB", Amount: 50, Timestamp: ts.Add(-time.Second)},
			{ID: "tx-2", Sender: "0xB", Recipient: "0xA", Amount: -7, Timestamp: ts.Add(-500 * time.Millisecond)},
		},
		PreviousHash: genesis.Hash,
		Votes:        map[string]bool{"0xV2": true, "0xV1": true, "0xV3": false},
		Proposer:     "0xP",
		Status:       ledger.BlockCommitted,
	}
	b.Hash = ledger.HashBlock(b)
	return []ledger.Block{genesis, b}
}

func TestChainSchema(t *testing.T) {
	schema := ChainSchema()

	expectedNames := []string{
		"index", "timestamp", "previous_hash", "hash", "proposer", "status", "votes", "transactions",
	}
	if schema.NumFields() != len(expectedNames) {
		t.Fatalf("Expected %d fields, got %d", len(expectedNames), schema.NumFields())
	}
	for i, name := range expectedNames {
		if schema.Field(i).Name != name {
			t.Errorf("Field %d: expected %s, got %s", i, name, schema.Field(i).Name)
		}
	}
	if schema.Field(colVotes).Type.ID() != arrow.MAP {
		t.Errorf("Expected 'votes' to be Map type, got %s", schema.Field(colVotes).Type.ID())
	}
	if schema.Field(colTransactions).Type.ID() != arrow.LIST {
		t.Errorf("Expected 'transactions' to be List type, got %s", schema.Field(colTransactions).Type.ID())
	}
}

func TestBlocksRecordRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	conv := NewConverterWithAllocator(mem)
	chain := sampleChain()

	record, err := conv.BlocksToRecord(chain)
	if err != nil {
		t.Fatalf("BlocksToRecord failed: %v", err)
	}
	defer record.Release()

	if record.NumRows() != 2 {
		t.Fatalf("Expected 2 rows, got %d", record.NumRows())
	}

	got, err := conv.RecordToBlocks(record)
	if err != nil {
		t.Fatalf("RecordToBlocks failed: %v", err)
	}
	if diff := cmp.Diff(chain, got); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}
	for _, b := range got {
		if ledger.HashBlock(b) != b.Hash {
			t.Errorf("Block %d: decoded block no longer matches its hash", b.Index)
		}
	}
}

func TestGenesisHasNullProposer(t *testing.T) {
	conv := NewConverter()
	record, err := conv.BlocksToRecord(sampleChain()[:1])
	if err != nil {
		t.Fatalf("BlocksToRecord failed: %v", err)
	}
	defer record.Release()

	if !record.Column(colProposer).IsNull(0) {
		t.Error("Expected genesis proposer to be null")
	}
}

func TestBlocksToRecordEmpty(t *testing.T) {
	conv := NewConverter()
	if _, err := conv.BlocksToRecord(nil); !errors.Is(err, ErrEmptyChain) {
		t.Errorf("Expected ErrEmptyChain, got %v", err)
	}
}

func TestTransactionsToRecord(t *testing.T) {
	conv := NewConverter()
	record, err := conv.TransactionsToRecord(sampleChain())
	if err != nil {
		t.Fatalf("TransactionsToRecord failed: %v", err)
	}
	defer record.Release()

	if record.NumRows() != 2 {
		t.Errorf("Expected 2 rows, got %d", record.NumRows())
	}

	if _, err := conv.RecordToBlocks(record); !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("Expected ErrSchemaInvalid, got %v", err)
	}
}

func TestExportImport(t *testing.T) {
	exp := NewExporter()
	chain := sampleChain()

	for _, c := range []Compression{CompressNone, CompressZstd} {
		data, err := exp.Export(chain, c)
		if err != nil {
			t.Fatalf("Export(%q) failed: %v", c, err)
		}
		got, err := exp.Import(data, c)
		if err != nil {
			t.Fatalf("Import(%q) failed: %v", c, err)
		}
		if diff := cmp.Diff(chain, got); diff != "" {
			t.Errorf("Compression %q mismatch (-want +got):\n%s", c, diff)
		}
	}
}

func TestImportGarbage(t *testing.T) {
	exp := NewExporter()
	if _, err := exp.Import([]byte("not arrow"), CompressNone); err == nil {
		t.Error("Expected error importing garbage")
	}
	if _, err := exp.Import([]byte("not zstd"), CompressZstd); err == nil {
		t.Error("Expected error decompressing garbage")
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", CompressNone, false},
		{"none", CompressNone, false},
		{"zstd", CompressZstd, false},
		{"gzip", CompressNone, true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompression(%q): expected error=%v, got %v", tt.in, tt.wantErr, err)
		}
		if got != tt.want {
			t.Errorf("ParseCompression(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func BenchmarkExport(b *testing.B) {
	exp := NewExporter()
	chain := sampleChain()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exp.Export(chain, CompressNone); err != nil {
			b.Fatal(err)
		}
	}
}
