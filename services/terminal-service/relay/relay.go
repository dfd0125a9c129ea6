// Package relay keeps a subscription to server-pushed payment confirmations
// open for the lifetime of a terminal session.
package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// DefaultReconnectDelay is the fixed wait between connection attempts.
const DefaultReconnectDelay = 3 * time.Second

// EventPaymentSuccess is the only event name the relay acts on.
const EventPaymentSuccess = "payment_success"

// Frame is the push envelope shared by every transport.
type Frame struct {
	Event  string              `json:"event"`
	UserID string              `json:"userId,omitempty"`
	Data   models.PaymentEvent `json:"data"`
}

// Source is one transport. Stream blocks while the connection is healthy,
// calling onConnected once it is established, and returns when the
// connection drops or ctx ends.
type Source interface {
	Name() string
	Stream(ctx context.Context, onConnected func(), onEvent func(models.PaymentEvent)) error
}

// Sink receives success outcomes. Reconcile reports whether the outcome
// closed an open session.
type Sink interface {
	Reconcile(outcome models.PaymentOutcome) bool
}

// Observer is notified of relay lifecycle changes. Used for metrics.
type Observer interface {
	RelayConnected(source string)
	RelayDisconnected(source string)
	RelayEvent(source string, applied bool)
}

// Status is a snapshot for health and diagnostics.
type Status struct {
	Source      string    `json:"source"`
	Connected   bool      `json:"connected"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
	LastEventAt time.Time `json:"lastEventAt,omitempty"`
}

// Relay reconnects its Source forever with a fixed delay. Missed events are
// not replayed; the orchestrator's status query covers that gap.
type Relay struct {
	source   Source
	sink     Sink
	delay    time.Duration
	logger   *zap.Logger
	observer Observer

	mu     sync.RWMutex
	status Status
}

type Option func(*Relay)

func WithReconnectDelay(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.delay = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Relay) { r.observer = o }
}

func New(source Source, sink Sink, logger *zap.Logger, opts ...Option) *Relay {
	r := &Relay{
		source: source,
		sink:   sink,
		delay:  DefaultReconnectDelay,
		logger: logger,
		status: Status{Source: source.Name()},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run streams until ctx is cancelled. It only returns nil.
func (r *Relay) Run(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.status.Attempts++
		attempt := r.status.Attempts
		r.mu.Unlock()

		err := r.source.Stream(ctx, r.onConnected, r.onEvent)
		r.markDisconnected(err)

		if ctx.Err() != nil {
			r.logger.Info("Payment relay stopped", zap.String("source", r.source.Name()))
			return nil
		}

		r.logger.Warn("Payment relay connection lost, reconnecting",
			zap.String("source", r.source.Name()),
			zap.Int("attempt", attempt),
			zap.Duration("delay", r.delay),
			zap.Error(err),
		)

		if !sleep(ctx, r.delay) {
			return nil
		}
	}
}

func (r *Relay) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Relay) onConnected() {
	r.mu.Lock()
	r.status.Connected = true
	r.status.LastError = ""
	r.mu.Unlock()

	r.logger.Info("Payment relay connected", zap.String("source", r.source.Name()))
	if r.observer != nil {
		r.observer.RelayConnected(r.source.Name())
	}
}

func (r *Relay) markDisconnected(err error) {
	r.mu.Lock()
	wasConnected := r.status.Connected
	r.status.Connected = false
	if err != nil {
		r.status.LastError = err.Error()
	}
	r.mu.Unlock()

	if wasConnected && r.observer != nil {
		r.observer.RelayDisconnected(r.source.Name())
	}
}

func (r *Relay) onEvent(ev models.PaymentEvent) {
	r.mu.Lock()
	r.status.LastEventAt = time.Now()
	r.mu.Unlock()

	if !strings.EqualFold(ev.Status, models.PaymentEventStatusSuccess) {
		r.logger.Debug("Ignoring non-success payment event", zap.String("status", ev.Status))
		return
	}
	ref := ev.Reference()
	if ref == "" {
		r.logger.Warn("Payment event without transaction reference")
		return
	}

	applied := r.sink.Reconcile(models.NewRelaySuccess(ref))
	if r.observer != nil {
		r.observer.RelayEvent(r.source.Name(), applied)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
