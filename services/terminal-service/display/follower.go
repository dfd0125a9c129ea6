package display

import (
	"context"
	"sync"
)

// Follower keeps a reduced display state current from a bus subscription.
type Follower struct {
	bus    Bus
	render func(State)

	mu    sync.RWMutex
	state State
}

// NewFollower creates a follower. render, if set, is called after every
// message with the new state.
func NewFollower(bus Bus, render func(State)) *Follower {
	return &Follower{bus: bus, render: render, state: InitialState()}
}

// Run consumes messages until ctx ends or the subscription closes.
func (f *Follower) Run(ctx context.Context) error {
	sub, err := f.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C():
			if !ok {
				return nil
			}
			f.mu.Lock()
			f.state = Reduce(f.state, msg)
			s := f.state
			f.mu.Unlock()

			if f.render != nil {
				f.render(s)
			}
		}
	}
}

func (f *Follower) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}
