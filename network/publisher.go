// Package network publishes voting notices over ZeroMQ so that members
// running outside the node can follow reminders, rejections and commits.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/VanDung-dev/Consortium-Ledger/notify"
)

var (
	ErrPublisherNotRunning = errors.New("publisher is not running")
	ErrPublisherRunning    = errors.New("publisher is already running")
	ErrPublishFailed       = errors.New("failed to publish notice")
)

// Publisher is a PUB socket. Every notice is sent as a two-frame message:
// the notice kind (usable as a subscription prefix) and its JSON body.
type Publisher struct {
	endpoint string
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	pub    zmq4.Socket

	mu      sync.Mutex
	running bool
	sent    uint64
}

// NewPublisher creates a publisher bound to endpoint once started,
// e.g. "tcp://127.0.0.1:7601".
func NewPublisher(endpoint string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		endpoint: endpoint,
		logger:   logger.With().Str("component", "publisher").Str("endpoint", endpoint).Logger(),
	}
}

// Start binds the PUB socket.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPublisherRunning
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.pub = zmq4.NewPub(p.ctx)
	if err := p.pub.Listen(p.endpoint); err != nil {
		p.cancel()
		return fmt.Errorf("failed to bind publisher: %w", err)
	}

	p.running = true
	p.logger.Info().Msg("notice publisher started")
	return nil
}

// Stop closes the socket. It is safe to call on a stopped publisher.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	p.cancel()
	err := p.pub.Close()
	p.logger.Info().Uint64("sent", p.sent).Msg("notice publisher stopped")
	return err
}

// Addr returns the bound address, or nil when not running.
func (p *Publisher) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return nil
	}
	return p.pub.Addr()
}

// IsRunning reports whether the socket is bound.
func (p *Publisher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Sent returns the number of notices published.
func (p *Publisher) Sent() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Notify publishes n. It implements notify.Notifier.
func (p *Publisher) Notify(ctx context.Context, n notify.Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notice: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrPublisherNotRunning
	}
	if err := p.pub.Send(zmq4.NewMsgFrom([]byte(n.Kind), data)); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	p.sent++
	return nil
}

// Subscriber receives notices from a Publisher.
type Subscriber struct {
	sub    zmq4.Socket
	cancel context.CancelFunc
}

// Subscribe dials endpoint and subscribes to the given kinds. No kinds
// means every notice.
func Subscribe(ctx context.Context, endpoint string, kinds ...notify.Kind) (*Subscriber, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := zmq4.NewSub(ctx)
	if err := sub.Dial(endpoint); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to dial publisher: %w", err)
	}
	topics := make([]string, 0, len(kinds))
	for _, k := range kinds {
		topics = append(topics, string(k))
	}
	if len(topics) == 0 {
		topics = append(topics, "")
	}
	for _, topic := range topics {
		if err := sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			cancel()
			_ = sub.Close()
			return nil, fmt.Errorf("failed to subscribe %q: %w", topic, err)
		}
	}
	return &Subscriber{sub: sub, cancel: cancel}, nil
}

// Next blocks until a notice arrives.
func (s *Subscriber) Next() (notify.Notice, error) {
	var n notify.Notice
	msg, err := s.sub.Recv()
	if err != nil {
		return n, err
	}
	if len(msg.Frames) < 2 {
		return n, fmt.Errorf("malformed notice: %d frames", len(msg.Frames))
	}
	if err := json.Unmarshal(msg.Frames[1], &n); err != nil {
		return n, fmt.Errorf("failed to decode notice: %w", err)
	}
	return n, nil
}

// Close closes the subscription.
func (s *Subscriber) Close() error {
	s.cancel()
	return s.sub.Close()
}
