package network

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/notify"
)

func TestPublisherNotRunning(t *testing.T) {
	p := NewPublisher("tcp://127.0.0.1:0", zerolog.Nop())

	err := p.Notify(context.Background(), notify.Notice{Kind: notify.KindReminder})
	if !errors.Is(err, ErrPublisherNotRunning) {
		t.Errorf("Expected ErrPublisherNotRunning, got %v", err)
	}
	if p.IsRunning() {
		t.Error("Publisher should not be running")
	}
	if p.Addr() != nil {
		t.Errorf("Expected nil addr, got %v", p.Addr())
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop on idle publisher failed: %v", err)
	}
}

func TestPublisherStartTwice(t *testing.T) {
	p := NewPublisher("tcp://127.0.0.1:0", zerolog.Nop())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	if err := p.Start(); !errors.Is(err, ErrPublisherRunning) {
		t.Errorf("Expected ErrPublisherRunning, got %v", err)
	}
}

func TestPublisherCancelledContext(t *testing.T) {
	p := NewPublisher("tcp://127.0.0.1:0", zerolog.Nop())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Notify(ctx, notify.Notice{Kind: notify.KindReminder}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if p.Sent() != 0 {
		t.Errorf("Expected 0 sent, got %d", p.Sent())
	}
}

func TestPublishSubscribe(t *testing.T) {
	p := NewPublisher("tcp://127.0.0.1:0", zerolog.Nop())
	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	endpoint := fmt.Sprintf("tcp://%s", p.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := Subscribe(ctx, endpoint, notify.KindCommitted)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	received := make(chan notify.Notice, 1)
	go func() {
		n, err := sub.Next()
		if err == nil {
			received <- n
		}
	}()

	// PUB drops messages until the subscription has propagated.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	want := notify.Notice{Kind: notify.KindCommitted, Subject: notify.SubjectBlock, Ref: "1", Message: "block 1 committed"}
	for {
		select {
		case got := <-received:
			if got.Kind != want.Kind || got.Ref != want.Ref || got.Message != want.Message {
				t.Errorf("Expected %+v, got %+v", want, got)
			}
			return
		case <-ticker.C:
			if err := p.Notify(ctx, want); err != nil {
				t.Fatalf("Notify failed: %v", err)
			}
		case <-ctx.Done():
			t.Fatal("Timed out waiting for notice")
		}
	}
}
