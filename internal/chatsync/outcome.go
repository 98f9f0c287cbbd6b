package chatsync

import (
	"context"
	"sync"
)

// Outcome reports the result of an authoritative write whose optimistic
// effect has already been applied locally. Nothing is rolled back on failure;
// the caller decides what to do with Err.
type Outcome struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

func resolvedOutcome(err error) *Outcome {
	o := newOutcome()
	o.resolve(err)
	return o
}

func (o *Outcome) resolve(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}

// Done is closed once the write has finished.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Err returns the write error, or nil while the write is still in flight.
func (o *Outcome) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait blocks until the write finishes or ctx ends.
func (o *Outcome) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
