package measurement

import (
	"errors"
	"fmt"
	"time"
)

const (

	// ColumnTime denotes the relative time column (seconds since the first reading)
	ColumnTime = "time"

	// ColumnForce denotes the force column
	ColumnForce = "force"
)

var (

	// Headers denotes the column names of a series, in order
	Headers = []string{ColumnTime, ColumnForce}

	// ErrColumnNotFound is returned for unknown column names / indices
	ErrColumnNotFound = errors.New("column not found")

	// ErrEmptySeries is returned when evaluating a series without samples
	ErrEmptySeries = errors.New("empty series")
)

// Sample denotes a single force reading relative to the start of a series
type Sample struct {
	Time  float64
	Force float64
}

// Series denotes the result of a capture run
type Series struct {
	Label     string
	Subject   string
	StartedAt time.Time
	Interval  time.Duration
	Samples   []Sample
}

// Name returns the base name of the series, derived from its start time and label
func (s *Series) Name() string {
	return fmt.Sprintf("%s_%s", s.StartedAt.Format(TimestampFormat), s.Label)
}

// Peak returns the maximum value of the named column
func (s *Series) Peak(column string) (float64, error) {
	for i, h := range Headers {
		if h == column {
			return s.PeakAt(i)
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrColumnNotFound, column)
}

// PeakAt returns the maximum value of the column at the given position
func (s *Series) PeakAt(index int) (float64, error) {
	if index < 0 || index >= len(Headers) {
		return 0, fmt.Errorf("%w: index %d", ErrColumnNotFound, index)
	}
	if len(s.Samples) == 0 {
		return 0, ErrEmptySeries
	}

	peak := s.Samples[0].column(index)
	for _, sample := range s.Samples[1:] {
		if v := sample.column(index); v > peak {
			peak = v
		}
	}

	return peak, nil
}

// WithLabel returns a copy of the series using a different label
func (s *Series) WithLabel(label string) *Series {
	cp := *s
	cp.Label = label
	cp.Samples = append([]Sample(nil), s.Samples...)
	return &cp
}

func (s Sample) column(index int) float64 {
	if index == 0 {
		return s.Time
	}
	return s.Force
}
