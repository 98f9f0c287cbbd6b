package realtime

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "chat:rows:"

func channelFor(stream Stream) string {
	return channelPrefix + string(stream)
}

// RedisBus fans row changes out across server instances with Redis pub/sub.
// go-redis re-establishes dropped pub/sub connections on its own.
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisBus(client *redis.Client, log zerolog.Logger) *RedisBus {
	return &RedisBus{client: client, log: log.With().Str("component", "redis_bus").Logger()}
}

func (b *RedisBus) Publish(ctx context.Context, change RowChange) error {
	payload, err := change.Marshal()
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(change.Stream), payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, stream Stream) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channelFor(stream))
	// Wait for the subscription confirmation so no publish is missed after
	// Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan RowChange, memoryBufferSize),
		done:   make(chan struct{}),
	}
	go sub.pump(b.log.With().Str("stream", string(stream)).Logger())
	return sub, nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan RowChange
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) Events() <-chan RowChange { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// pump decodes frames until the pub/sub channel is closed.
func (s *redisSubscription) pump(log zerolog.Logger) {
	defer close(s.events)
	for msg := range s.ps.Channel() {
		change, err := UnmarshalRowChange([]byte(msg.Payload))
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable row change")
			continue
		}
		select {
		case s.events <- change:
		case <-s.done:
			return
		}
	}
}
