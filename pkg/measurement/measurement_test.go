package measurement

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

// syntheticSource delivers one reading per step, with timestamps spaced by step
type syntheticSource struct {
	values []float64
	step   time.Duration
	offset time.Duration

	started, stopped int
	delivered        int
	failAt           int
}

func (s *syntheticSource) StartMeasuring(context.Context) error {
	s.started++
	return nil
}

func (s *syntheticSource) StopMeasuring(context.Context) error {
	s.stopped++
	return nil
}

func (s *syntheticSource) NextReading(ctx context.Context) (force.Reading, error) {
	if s.failAt > 0 && s.delivered == s.failAt {
		return force.Reading{}, force.ErrConnectionLost
	}
	value := float64(s.delivered)
	if s.delivered < len(s.values) {
		value = s.values[s.delivered]
	}
	r := force.Reading{
		Value:      value,
		ObservedAt: epoch.Add(s.offset + time.Duration(s.delivered)*s.step),
	}
	s.delivered++

	return r, nil
}

func TestCaptureBoundary(t *testing.T) {
	src := &syntheticSource{step: time.Second, offset: 3 * time.Second}

	var progress []float64
	c := NewCapture("grip", "alice", WithClock(func() time.Time { return epoch }), WithProgress(func(elapsed float64, _ time.Duration) {
		progress = append(progress, elapsed)
	}))
	series, err := c.Run(context.Background(), src, 5*time.Second)
	require.NoError(t, err)

	require.Len(t, series.Samples, 6)
	assert.Equal(t, 0., series.Samples[0].Time)
	assert.Equal(t, 5., series.Samples[5].Time)
	assert.Equal(t, 6, src.delivered)
	assert.Equal(t, 1, src.started)
	assert.Equal(t, 1, src.stopped)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, progress)

	assert.Equal(t, "grip", series.Label)
	assert.Equal(t, "alice", series.Subject)
	assert.Equal(t, epoch, series.StartedAt)
	assert.Equal(t, 5*time.Second, series.Interval)
}

func TestCaptureFractionalBoundary(t *testing.T) {
	src := &syntheticSource{step: 400 * time.Millisecond}

	series, err := NewCapture("l", "s").Run(context.Background(), src, time.Second)
	require.NoError(t, err)

	// 0, 0.4, 0.8, 1.2: the sample crossing the threshold is included
	require.Len(t, series.Samples, 4)
	assert.InDelta(t, 1.2, series.Samples[3].Time, 1e-9)
}

func TestCaptureInvalidDuration(t *testing.T) {
	c := NewCapture("l", "s")
	for _, d := range []time.Duration{0, -time.Second} {
		_, err := c.Run(context.Background(), &syntheticSource{step: time.Second}, d)
		assert.ErrorIs(t, err, ErrInvalidDuration)
	}

	// A rejected run does not consume the capture
	_, err := c.Run(context.Background(), &syntheticSource{step: time.Second}, time.Second)
	assert.NoError(t, err)
}

func TestCaptureAlreadyRun(t *testing.T) {
	c := NewCapture("l", "s")

	src := &syntheticSource{step: time.Second}
	first, err := c.Run(context.Background(), src, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, first.Samples, 3)

	second := &syntheticSource{step: time.Second}
	_, err = c.Run(context.Background(), second, 2*time.Second)
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Zero(t, second.started)
	assert.Len(t, first.Samples, 3)
}

func TestCaptureSourceFailure(t *testing.T) {
	src := &syntheticSource{step: time.Second, failAt: 2}

	_, err := NewCapture("l", "s").Run(context.Background(), src, 10*time.Second)
	assert.ErrorIs(t, err, force.ErrConnectionLost)
	assert.Equal(t, 1, src.stopped)
}

func TestCaptureOrdering(t *testing.T) {
	src := &reorderedSource{times: []float64{0, 1, 0.5, 2, 3}}

	series, err := NewCapture("l", "s").Run(context.Background(), src, 3*time.Second)
	require.NoError(t, err)

	for i := 1; i < len(series.Samples); i++ {
		assert.GreaterOrEqual(t, series.Samples[i].Time, series.Samples[i-1].Time)
	}
}

type reorderedSource struct {
	times []float64
	n     int
}

func (s *reorderedSource) StartMeasuring(context.Context) error { return nil }
func (s *reorderedSource) StopMeasuring(context.Context) error  { return nil }
func (s *reorderedSource) NextReading(context.Context) (force.Reading, error) {
	if s.n >= len(s.times) {
		return force.Reading{}, errors.New("exhausted")
	}
	r := force.Reading{Value: 1, ObservedAt: epoch.Add(Seconds(s.times[s.n]))}
	s.n++
	return r, nil
}

func TestPeak(t *testing.T) {
	s := &Series{Samples: []Sample{{0, 1.5}, {1, 7.25}, {2, -3}, {3, 7}}}

	peak, err := s.Peak(ColumnForce)
	require.NoError(t, err)
	assert.Equal(t, 7.25, peak)

	peak, err = s.Peak(ColumnTime)
	require.NoError(t, err)
	assert.Equal(t, 3., peak)

	peak, err = s.PeakAt(1)
	require.NoError(t, err)
	assert.Equal(t, 7.25, peak)

	_, err = s.Peak("weight")
	assert.ErrorIs(t, err, ErrColumnNotFound)
	_, err = s.PeakAt(2)
	assert.ErrorIs(t, err, ErrColumnNotFound)
	_, err = s.PeakAt(-1)
	assert.ErrorIs(t, err, ErrColumnNotFound)

	_, err = (&Series{}).Peak(ColumnForce)
	assert.ErrorIs(t, err, ErrEmptySeries)
}

func TestFileStore(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "measurements"))
	s := &Series{
		Label:     "grip",
		Subject:   "alice",
		StartedAt: epoch,
		Interval:  2 * time.Second,
		Samples:   []Sample{{0, 1.5}, {1, 2.25}, {2, 0.5}},
	}

	paths, err := store.Write(s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.BaseDir, "alice", "2024-03-01_12-30-45_grip.csv"), paths.CSV)
	assert.NotContains(t, filepath.Base(paths.CSV), " ")

	data, err := os.ReadFile(paths.CSV)
	require.NoError(t, err)
	assert.Equal(t, "time,force\n0,1.5\n1,2.25\n2,0.5\n", string(data))

	data, err = os.ReadFile(paths.JSON)
	require.NoError(t, err)
	var summary Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, "alice", summary.Subject)
	assert.Equal(t, "grip", summary.Label)
	assert.Equal(t, "2024-03-01_12-30-45", summary.Timestamp)
	assert.Equal(t, 2., summary.Interval)
	assert.Equal(t, 2.25, summary.FMax)
	assert.Equal(t, []string{"time", "force"}, summary.DatasetHeaders)
	assert.Equal(t, [][2]float64{{0, 1.5}, {1, 2.25}, {2, 0.5}}, summary.Dataset)
}

func TestFileStoreNoOverwrite(t *testing.T) {
	store := NewFileStore(t.TempDir())
	first := &Series{Label: "grip", Subject: "bob", StartedAt: epoch, Interval: time.Second, Samples: []Sample{{0, 1}}}
	second := &Series{Label: "grip", Subject: "bob", StartedAt: epoch.Add(300 * time.Millisecond), Interval: time.Second, Samples: []Sample{{0, 2}}}

	paths, err := store.Write(first)
	require.NoError(t, err)

	_, err = store.Write(second)
	assert.ErrorIs(t, err, ErrFileAlreadyExists)

	data, err := os.ReadFile(paths.CSV)
	require.NoError(t, err)
	assert.Equal(t, "time,force\n0,1\n", string(data))

	// The series is unchanged and can be stored under a different label
	renamed, err := store.Write(second.WithLabel("grip2"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(renamed.CSV, "_grip2.csv"))
	assert.Equal(t, "grip", second.Label)
}

func TestFileStoreEmptySeries(t *testing.T) {
	_, err := NewFileStore(t.TempDir()).Write(&Series{Label: "l", Subject: "s", StartedAt: epoch})
	assert.ErrorIs(t, err, ErrEmptySeries)
}

func TestFileStoreEscapesPaths(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "measurements"))

	for _, c := range []struct {
		label, subject string
		dir, file      string
	}{
		{"../../x", "alice", "alice", "2024-03-01_12-30-45_.._.._x"},
		{"grip", "../..", ".._..", "2024-03-01_12-30-45_grip"},
		{"grip", "..", "_", "2024-03-01_12-30-45_grip"},
		{`a\b`, "", "_", "2024-03-01_12-30-45_a_b"},
	} {
		s := &Series{Label: c.label, Subject: c.subject, StartedAt: epoch, Interval: time.Second, Samples: []Sample{{0, 1}}}

		paths, err := store.Write(s)
		require.NoError(t, err, c.label)
		assert.Equal(t, filepath.Join(store.BaseDir, c.dir, c.file+".csv"), paths.CSV)
		assert.Equal(t, filepath.Join(store.BaseDir, c.dir), filepath.Dir(paths.JSON))
		assert.FileExists(t, paths.CSV)
	}
}

func TestPlotArgs(t *testing.T) {
	s := &Series{Label: "grip", StartedAt: epoch, Interval: 10 * time.Second}
	assert.Equal(t, []string{"/tmp/x.csv", "2024-03-01 12-30-45 grip", "12.35", "10"}, PlotArgs("/tmp/x.csv", s, 12.3456))

	assert.NoError(t, (&Plotter{}).Plot("/tmp/x.csv", s, 1))
	assert.Error(t, (&Plotter{Script: filepath.Join(t.TempDir(), "missing.sh")}).Plot("/tmp/x.csv", s, 1))
}
