// Package bus provides the keyed pub/sub message broker the workers
// communicate through. The production implementation rides Redis
// pub/sub; delivery is best-effort and consumers converge via
// idempotent writes.
package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-platformv1/internal/model"
)

const (
	defaultPublishTimeout = time.Second
	subscribeRetryBase    = 500 * time.Millisecond
	subscribeRetryMax     = 30 * time.Second
	maxSubscribeRetries   = 10
)

// RedisConfig configures the Redis bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// PublishTimeout bounds each publish; defaults to 1s.
	PublishTimeout time.Duration
}

// RedisBus implements model.Bus over Redis pub/sub.
type RedisBus struct {
	client         *goredis.Client
	publishTimeout time.Duration
}

// NewRedis creates a Redis bus and pings the server.
func NewRedis(cfg RedisConfig) (*RedisBus, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}

	log.Printf("[bus] connected to %s", cfg.Addr)
	return &RedisBus{client: client, publishTimeout: timeout}, nil
}

// Client returns the underlying Redis client for health checks.
func (b *RedisBus) Client() *goredis.Client { return b.client }

// Publish sends a payload to a channel, bounded by the publish timeout.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	if err := b.client.Publish(pubCtx, channel, payload).Err(); err != nil {
		if pubCtx.Err() != nil {
			return fmt.Errorf("%w: channel %s", model.ErrPublishTimeout, channel)
		}
		return fmt.Errorf("bus publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of raw payloads. A lost subscription is
// re-established with exponential backoff; past the retry cap the output
// channel closes and the caller decides whether to exit for supervisor
// restart.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.client.Subscribe(ctx, channel)

	// Confirm the subscription is live before handing out the channel.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("bus subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		defer sub.Close()

		retries := 0
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				retries++
				if retries > maxSubscribeRetries {
					log.Printf("[bus] subscription %s lost past retry cap: %v", channel, err)
					return
				}
				delay := subscribeRetryBase << uint(retries-1)
				if delay > subscribeRetryMax {
					delay = subscribeRetryMax
				}
				log.Printf("[bus] subscribe %s error (attempt %d): %v, retrying in %v", channel, retries, err, delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			retries = 0

			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}
