package display

import (
	"context"
	"errors"
	"sync"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// ErrBusClosed is returned by a bus after Close.
var ErrBusClosed = errors.New("display bus closed")

// Bus fans terminal snapshots out to customer displays. Delivery is
// fire-and-forget. A subscriber that falls behind loses the oldest messages
// first, so the newest is always delivered.
type Bus interface {
	Publish(ctx context.Context, msg models.DisplayMessage) error
	Subscribe(ctx context.Context) (*Subscription, error)
	Last(ctx context.Context) (models.DisplayMessage, bool, error)
}

// mailboxSize bounds the undelivered messages held per subscriber.
const mailboxSize = 8

// Subscription is a bounded mailbox that drops its oldest message when full.
type Subscription struct {
	ch      chan models.DisplayMessage
	once    sync.Once
	closeFn func()
}

func newSubscription(closeFn func()) *Subscription {
	return &Subscription{ch: make(chan models.DisplayMessage, mailboxSize), closeFn: closeFn}
}

// C yields messages until the subscription is closed.
func (s *Subscription) C() <-chan models.DisplayMessage { return s.ch }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

func (s *Subscription) offer(msg models.DisplayMessage) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// LocalBus is an in-process Bus.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	last   *models.DisplayMessage
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[*Subscription]struct{})}
}

func (b *LocalBus) Publish(_ context.Context, msg models.DisplayMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	m := msg
	b.last = &m
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.offer(msg)
	}
	return nil
}

// Subscribe registers a subscriber. The last published message, if any, is
// delivered first. The subscription closes with ctx.
func (b *LocalBus) Subscribe(ctx context.Context) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	var sub *Subscription
	sub = newSubscription(func() { b.remove(sub) })
	b.subs[sub] = struct{}{}
	if b.last != nil {
		sub.offer(*b.last)
	}

	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			sub.Close()
		}()
	}
	return sub, nil
}

func (b *LocalBus) Last(context.Context) (models.DisplayMessage, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return models.DisplayMessage{}, false, nil
	}
	return *b.last, true, nil
}

// Close ends every subscription.
func (b *LocalBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
}

func (b *LocalBus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}
