package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	channels []string
	messages [][]byte
	err      error
	mu       sync.Mutex
}

func (c *recordingClient) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.channels = append(c.channels, channel)
	c.messages = append(c.messages, message.([]byte))
	return redis.NewIntResult(1, c.err)
}

func (c *recordingClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func TestPublish(t *testing.T) {
	client := &recordingClient{}
	p := New(client, "readings", "AA:BB")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	ts := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	for i := 0; i < 3; i++ {
		p.Publish(force.Reading{Value: float64(i), ObservedAt: ts})
	}
	require.Eventually(t, func() bool { return client.count() == 3 }, time.Second, 5*time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{"readings", "readings", "readings"}, client.channels)

	var msg Message
	require.NoError(t, json.Unmarshal(client.messages[2], &msg))
	assert.Equal(t, "AA:BB", msg.Device)
	assert.Equal(t, 2., msg.Value)
	assert.True(t, ts.Equal(msg.ObservedAt))
}

func TestPublishDropsWhenFull(t *testing.T) {
	client := &recordingClient{}
	p := New(client, "readings", "AA:BB", WithBufferSize(2))

	// Not running: the queue fills up and further readings are dropped without blocking
	for i := 0; i < 10; i++ {
		p.Publish(force.Reading{Value: float64(i)})
	}
	assert.Len(t, p.queue, 2)

	p.Close()
	p.Close()
	p.Publish(force.Reading{})
	assert.Len(t, p.queue, 2)
}

func TestPublishError(t *testing.T) {
	p := New(&recordingClient{err: errors.New("connection refused")}, "readings", "AA:BB")
	err := p.publish(context.Background(), force.Reading{Value: 1})
	assert.ErrorContains(t, err, "connection refused")
}
