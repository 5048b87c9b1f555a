// Package telemetry publishes live force readings via Redis Pub/Sub
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/metrics"
	"github.com/redis/go-redis/v9"
)

const defaultBufferSize = 256

// Client denotes the subset of the Redis client used for publishing
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message denotes a published reading
type Message struct {
	Device     string    `json:"device"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Publisher denotes an asynchronous publisher of readings. Readings are dropped if the
// queue is full, so publishing never blocks the notification handler.
type Publisher struct {
	client  Client
	channel string
	device  string
	queue   chan force.Reading

	closeOnce sync.Once
	done      chan struct{}

	logger force.Logger
}

// Dial connects to a Redis server
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return client, nil
}

// New instantiates a new Publisher, executing functional options, if any
func New(client Client, channel, device string, options ...func(*Publisher)) *Publisher {
	p := &Publisher{
		client:  client,
		channel: channel,
		device:  device,
		queue:   make(chan force.Reading, defaultBufferSize),
		done:    make(chan struct{}),
		logger:  &force.NullLogger{},
	}

	for _, option := range options {
		option(p)
	}

	return p
}

// WithBufferSize sets the number of readings queued for publishing
func WithBufferSize(n int) func(*Publisher) {
	return func(p *Publisher) {
		p.queue = make(chan force.Reading, n)
	}
}

// WithLogger sets a logger
func WithLogger(logger force.Logger) func(*Publisher) {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// Publish queues a reading for publishing (non-blocking)
func (p *Publisher) Publish(r force.Reading) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.queue <- r:
	default:
		metrics.NotificationsDropped.WithLabelValues(force.Force.Name, "publish").Inc()
	}
}

// Run publishes queued readings until ctx ends or the publisher is closed
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case r := <-p.queue:
			if err := p.publish(ctx, r); err != nil {
				p.logger.Warnf("%s", err)
			}
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the publisher
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

////////////////////////////////////////////////////////////////////////////////

func (p *Publisher) publish(ctx context.Context, r force.Reading) error {
	data, err := json.Marshal(Message{
		Device:     p.device,
		Value:      r.Value,
		ObservedAt: r.ObservedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize reading: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish reading: %w", err)
	}

	return nil
}
