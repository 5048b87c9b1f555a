package session

import (
	"context"

	"github.com/fako1024/btforce/pkg/force"
)

// captureSource feeds a capture from the readings pushed into the cell of a controller
type captureSource struct {
	cell *force.Cell
	b    *binding

	stream *force.Stream
}

func newCaptureSource(c *Controller, b *binding) *captureSource {
	return &captureSource{
		cell: c.cell,
		b:    b,
	}
}

// StartMeasuring subscribes to the cell and enables the push of readings
func (s *captureSource) StartMeasuring(ctx context.Context) error {

	// Subscribe first so that the first reading pushed cannot be missed
	s.stream = s.cell.Subscribe(captureBuffer)
	if err := s.b.measure.WriteBool(ctx, true); err != nil {
		s.close()
		return err
	}

	return nil
}

// StopMeasuring disables the push of readings and ends the subscription
func (s *captureSource) StopMeasuring(ctx context.Context) error {
	defer s.close()
	return s.b.measure.WriteBool(ctx, false)
}

// NextReading waits for the next queued reading
func (s *captureSource) NextReading(ctx context.Context) (force.Reading, error) {
	select {
	case r, ok := <-s.stream.C():
		if !ok {
			return force.Reading{}, lostError(s.b)
		}
		return r, nil
	case <-s.b.conn.Done():
		return force.Reading{}, lostError(s.b)
	case <-ctx.Done():
		return force.Reading{}, ctx.Err()
	}
}

// Dropped returns the number of readings that could not be queued
func (s *captureSource) Dropped() uint64 {
	if s.stream == nil {
		return 0
	}
	return s.stream.Dropped()
}

func (s *captureSource) close() {
	if s.stream == nil {
		return
	}
	s.stream.Close()
}
