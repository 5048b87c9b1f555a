package force

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cell denotes the latest reading received from the device. It is written by the
// notification handler only and may be read / awaited by any number of goroutines.
type Cell struct {
	latest  Reading
	seq     uint64
	changed chan struct{}
	streams map[*Stream]struct{}

	onDrop func()

	mu sync.Mutex
}

// NewCell instantiates a new, empty Cell
func NewCell() *Cell {
	return &Cell{
		changed: make(chan struct{}),
		streams: make(map[*Stream]struct{}),
	}
}

// SetDropHandler defines a handler function that is called whenever a reading could not
// be queued on a stream
func (c *Cell) SetDropHandler(fn func()) {
	c.mu.Lock()
	c.onDrop = fn
	c.mu.Unlock()
}

// Set replaces the latest reading and wakes all waiters. It never blocks.
func (c *Cell) Set(r Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latest = r
	c.seq++
	close(c.changed)
	c.changed = make(chan struct{})

	for s := range c.streams {
		select {
		case s.ch <- r:
		default:
			s.dropped.Add(1)
			if c.onDrop != nil {
				c.onDrop()
			}
		}
	}
}

// Latest returns the latest reading and its sequence number (zero if none was received yet)
func (c *Cell) Latest() (Reading, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.latest, c.seq
}

// Updated returns a channel that is closed as soon as a reading newer than seq is available
func (c *Cell) Updated(seq uint64) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq > seq {
		return closedChan
	}
	return c.changed
}

// Next waits for a reading newer than seq. Intermediate readings may be skipped, only the
// most recent one is returned.
func (c *Cell) Next(ctx context.Context, seq uint64) (Reading, uint64, error) {
	select {
	case <-c.Updated(seq):
		r, s := c.Latest()
		return r, s, nil
	case <-ctx.Done():
		return Reading{}, seq, ctx.Err()
	}
}

// Subscribe registers a stream receiving every reading set from now on (in order). The
// stream must be closed once it is not needed anymore.
func (c *Cell) Subscribe(buffer int) *Stream {
	s := &Stream{
		cell: c,
		ch:   make(chan Reading, buffer),
	}

	c.mu.Lock()
	c.streams[s] = struct{}{}
	c.mu.Unlock()

	return s
}

////////////////////////////////////////////////////////////////////////////////

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Stream denotes an ordered subscription to all readings of a Cell
type Stream struct {
	cell    *Cell
	ch      chan Reading
	dropped atomic.Uint64
	once    sync.Once
}

// C returns the channel readings are delivered on (closed by Close)
func (s *Stream) C() <-chan Reading {
	return s.ch
}

// Dropped returns the number of readings that could not be queued
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the stream from its cell (idempotent)
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cell.mu.Lock()
		delete(s.cell.streams, s)
		close(s.ch)
		s.cell.mu.Unlock()
	})
}
