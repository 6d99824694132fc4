package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/VanDung-dev/Consortium-Ledger/ledger"
)

func ids(txs []ledger.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestNewTxPool(t *testing.T) {
	p := NewTxPool(100)
	if p == nil {
		t.Fatal("NewTxPool returned nil")
	}
	if p.Size() != 0 {
		t.Errorf("Expected size 0, got %d", p.Size())
	}
	if p.maxSize != 100 {
		t.Errorf("Expected maxSize 100, got %d", p.maxSize)
	}
}

func TestTxPoolSubmit(t *testing.T) {
	p := NewTxPool(10)
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p.SetClock(func() time.Time { return fixed })

	tx, err := p.Submit("0xa", "0xb", 10)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if tx.ID == "" {
		t.Error("Expected a transaction ID")
	}
	if !tx.Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, tx.Timestamp)
	}
	if p.Size() != 1 || !p.Contains(tx.ID) {
		t.Errorf("Expected pool to contain %s", tx.ID)
	}

	// Unregistered or negative amounts are accepted.
	if _, err := p.Submit("0xnobody", "0xb", -5); err != nil {
		t.Errorf("Negative amount should be accepted: %v", err)
	}
}

func TestTxPoolSubmitInvalid(t *testing.T) {
	p := NewTxPool(10)
	if _, err := p.Submit("", "0xb", 1); !errors.Is(err, ErrInvalidTx) {
		t.Errorf("Expected ErrInvalidTx, got %v", err)
	}
	if _, err := p.Submit("0xa", "", 1); !errors.Is(err, ErrInvalidTx) {
		t.Errorf("Expected ErrInvalidTx, got %v", err)
	}
	if p.Size() != 0 {
		t.Errorf("Expected size 0, got %d", p.Size())
	}
}

func TestTxPoolFull(t *testing.T) {
	p := NewTxPool(2)
	_, _ = p.Submit("0xa", "0xb", 1)
	_, _ = p.Submit("0xa", "0xb", 2)

	if _, err := p.Submit("0xa", "0xb", 3); err != ErrPoolFull {
		t.Errorf("Expected ErrPoolFull, got %v", err)
	}
}

func TestTxPoolDrainFIFO(t *testing.T) {
	p := NewTxPool(0)
	var want []string
	for i := 0; i < 5; i++ {
		tx, _ := p.Submit("0xa", "0xb", int64(i))
		want = append(want, tx.ID)
	}

	first := p.Drain(3)
	if diff := cmp.Diff(want[:3], ids(first)); diff != "" {
		t.Errorf("Drain order mismatch (-want +got):\n%s", diff)
	}
	if p.Size() != 2 {
		t.Errorf("Expected size 2, got %d", p.Size())
	}

	rest := p.Drain(10)
	if diff := cmp.Diff(want[3:], ids(rest)); diff != "" {
		t.Errorf("Drain order mismatch (-want +got):\n%s", diff)
	}
	if got := p.Drain(1); len(got) != 0 {
		t.Errorf("Expected empty drain, got %d", len(got))
	}
}

func TestTxPoolRestorePreservesOrder(t *testing.T) {
	p := NewTxPool(3)
	t1, _ := p.Submit("0xa", "0xb", 10)
	t2, _ := p.Submit("0xb", "0xa", 5)

	drained := p.Drain(10)

	// Submitted while the proposal was open.
	t3, _ := p.Submit("0xc", "0xa", 1)

	p.Restore(drained)

	want := []string{t1.ID, t2.ID, t3.ID}
	if diff := cmp.Diff(want, ids(p.Peek(10))); diff != "" {
		t.Errorf("Restore order mismatch (-want +got):\n%s", diff)
	}

	// Restoring twice does not duplicate.
	p.Restore(drained)
	if p.Size() != 3 {
		t.Errorf("Expected size 3, got %d", p.Size())
	}
}

func TestTxPoolRestoreIgnoresLimit(t *testing.T) {
	p := NewTxPool(2)
	_, _ = p.Submit("0xa", "0xb", 1)
	_, _ = p.Submit("0xa", "0xb", 2)
	drained := p.Drain(2)
	_, _ = p.Submit("0xa", "0xb", 3)
	_, _ = p.Submit("0xa", "0xb", 4)

	p.Restore(drained)
	if p.Size() != 4 {
		t.Errorf("Expected size 4, got %d", p.Size())
	}
	if st := p.Stats(); st.Available != 0 {
		t.Errorf("Expected 0 available, got %d", st.Available)
	}
}

func TestTxPoolStats(t *testing.T) {
	p := NewTxPool(10)
	for i := 0; i < 3; i++ {
		_, _ = p.Submit("0xa", "0xb", int64(i))
	}
	st := p.Stats()
	if st.Size != 3 || st.MaxSize != 10 || st.Available != 7 {
		t.Errorf("Unexpected stats %+v", st)
	}
	if NewTxPool(0).Stats().Available != -1 {
		t.Error("Unbounded pool should report -1 available")
	}
}

func TestTxPoolConcurrency(t *testing.T) {
	p := NewTxPool(0)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := p.Submit(fmt.Sprintf("0x%d", worker), "0xb", int64(j)); err != nil {
					t.Errorf("Submit failed: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if p.Size() != 1000 {
		t.Errorf("Expected 1000 transactions, got %d", p.Size())
	}

	total := 0
	for p.Size() > 0 {
		total += len(p.Drain(64))
	}
	if total != 1000 {
		t.Errorf("Expected to drain 1000, got %d", total)
	}
}

func BenchmarkTxPoolSubmit(b *testing.B) {
	p := NewTxPool(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Submit("0xa", "0xb", int64(i))
	}
}

func BenchmarkTxPoolDrain(b *testing.B) {
	p := NewTxPool(0)
	for i := 0; i < 10000; i++ {
		_, _ = p.Submit("0xa", "0xb", int64(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		batch := p.Drain(100)
		p.Restore(batch)
	}
}
