package chatsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/laserpointoman-commits/talebEdu-sub002/internal/realtime"
	"github.com/rs/zerolog"
)

type SubscriptionState string

const (
	Unsubscribed SubscriptionState = "unsubscribed"
	Subscribing  SubscriptionState = "subscribing"
	Active       SubscriptionState = "active"
	TornDown     SubscriptionState = "torn_down"
)

// Event is a decoded row change.
type Event struct {
	Stream realtime.Stream
	Op     realtime.Op
	Entity interface{}
}

type Handler func(Event)

type routeKey struct {
	stream realtime.Stream
	op     realtime.Op
}

// EventRouter owns one subscription per stream and dispatches each event to
// the handler registered for its (stream, op). Events are ordered within a
// stream only.
type EventRouter struct {
	bus     Subscriber
	metrics *Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	routes  map[routeKey]Handler
	states  map[realtime.Stream]SubscriptionState
	subs    map[realtime.Stream]realtime.Subscription
	cancel  context.CancelFunc
	running bool
	stopped bool
	lost    func(realtime.Stream)
	losing  bool
	wg      sync.WaitGroup
}

func NewEventRouter(bus Subscriber, metrics *Metrics, log zerolog.Logger) *EventRouter {
	r := &EventRouter{
		bus:     bus,
		metrics: metrics,
		log:     log.With().Str("component", "router").Logger(),
		routes:  make(map[routeKey]Handler),
		states:  make(map[realtime.Stream]SubscriptionState, len(realtime.Streams)),
		subs:    make(map[realtime.Stream]realtime.Subscription),
	}
	for _, s := range realtime.Streams {
		r.states[s] = Unsubscribed
	}
	return r
}

// Handle registers h for (stream, op), replacing any earlier handler.
func (r *EventRouter) Handle(stream realtime.Stream, op realtime.Op, h Handler) {
	r.mu.Lock()
	r.routes[routeKey{stream, op}] = h
	r.mu.Unlock()
}

// OnLost registers fn to run when the bus closes a stream the router did
// not tear down itself. It runs on its own goroutine, at most once until the
// next Start.
func (r *EventRouter) OnLost(fn func(realtime.Stream)) {
	r.mu.Lock()
	r.lost = fn
	r.mu.Unlock()
}

// Start subscribes to every stream. If any subscription fails the ones
// already opened are torn down and the error is returned.
func (r *EventRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRouterStopped
	}
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, stream := range realtime.Streams {
		r.states[stream] = Subscribing
		sub, err := r.bus.Subscribe(runCtx, stream)
		if err != nil {
			r.states[stream] = Unsubscribed
			cancel()
			r.teardownLocked()
			return fmt.Errorf("subscribe %s: %w", stream, err)
		}
		r.subs[stream] = sub
		r.states[stream] = Active
		r.wg.Add(1)
		go r.pump(runCtx, stream, sub)
	}
	r.cancel = cancel
	r.running = true
	r.losing = false
	return nil
}

func (r *EventRouter) pump(ctx context.Context, stream realtime.Stream, sub realtime.Subscription) {
	defer r.wg.Done()
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-events:
			if !ok {
				r.streamLost(ctx, stream)
				return
			}
			r.Dispatch(change)
		}
	}
}

func (r *EventRouter) streamLost(ctx context.Context, stream realtime.Stream) {
	if ctx.Err() != nil {
		return
	}
	r.mu.Lock()
	r.states[stream] = Unsubscribed
	fn := r.lost
	fire := fn != nil && !r.losing && !r.stopped
	if fire {
		r.losing = true
	}
	r.mu.Unlock()

	r.log.Warn().Str("stream", string(stream)).Msg("subscription closed by bus")
	if fire {
		go fn(stream)
	}
}

// teardownLocked closes every open subscription. The pumps exit once their
// context is cancelled.
func (r *EventRouter) teardownLocked() {
	for stream, sub := range r.subs {
		if err := sub.Close(); err != nil {
			r.log.Debug().Err(err).Str("stream", string(stream)).Msg("subscription close failed")
		}
		r.states[stream] = TornDown
		delete(r.subs, stream)
	}
	r.running = false
}

func (r *EventRouter) halt() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.teardownLocked()
	r.mu.Unlock()
	r.wg.Wait()
}

// Stop tears every subscription down for good.
func (r *EventRouter) Stop() {
	r.halt()
	r.mu.Lock()
	r.stopped = true
	for _, s := range realtime.Streams {
		r.states[s] = TornDown
	}
	r.mu.Unlock()
}

// Resubscribe drops the current subscriptions and opens fresh ones. The
// transport calls it after connectivity comes back.
func (r *EventRouter) Resubscribe(ctx context.Context) error {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return ErrRouterStopped
	}
	r.halt()
	return r.Start(ctx)
}

// States reports the state of each stream's subscription.
func (r *EventRouter) States() map[realtime.Stream]SubscriptionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[realtime.Stream]SubscriptionState, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Dispatch decodes change and runs its handler. A change with no handler is
// dropped; a panicking handler is logged and does not stop the stream.
func (r *EventRouter) Dispatch(change realtime.RowChange) {
	entity, err := change.Decode()
	if err != nil {
		r.metrics.dispatchFailed(string(change.Stream))
		r.log.Warn().Err(err).Str("stream", string(change.Stream)).Msg("dropping undecodable event")
		return
	}

	r.mu.Lock()
	h, ok := r.routes[routeKey{change.Stream, change.Op}]
	r.mu.Unlock()
	if !ok {
		r.log.Debug().Str("stream", string(change.Stream)).Str("op", string(change.Op)).Msg("no route")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.dispatchFailed(string(change.Stream))
			r.log.Error().Interface("panic", rec).Str("stream", string(change.Stream)).Msg("event handler panicked")
		}
	}()
	r.metrics.event(string(change.Stream), string(change.Op))
	h(Event{Stream: change.Stream, Op: change.Op, Entity: entity})
}
