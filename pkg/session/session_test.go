package session

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/btforce/pkg/force"
	"github.com/fako1024/btforce/pkg/measurement"
	"github.com/fako1024/btforce/pkg/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

// scriptedConsole replays a fixed list of command lines, followed by io.EOF
type scriptedConsole struct {
	lines   []string
	onRead  func(n int)
	keyWait time.Duration

	n  int
	mu sync.Mutex
}

func (s *scriptedConsole) ReadLine(string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.n
	s.n++
	if s.onRead != nil {
		s.onRead(n)
	}
	if n >= len(s.lines) {
		return "", io.EOF
	}
	return s.lines[n], nil
}

func (s *scriptedConsole) WaitKey(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		select {
		case <-time.After(s.keyWait):
			close(ch)
		case <-ctx.Done():
		}
	}()
	return ch
}

func newTestController(t *testing.T, m *mock.Mock, console Console, options ...func(*Controller)) (*Controller, *bytes.Buffer) {
	handle, err := m.Discover(context.Background())
	require.NoError(t, err)

	buf := &safeBuffer{}
	options = append([]func(*Controller){
		WithOutput(buf),
		WithRetryDelay(0, 0),
		WithStore(measurement.NewFileStore(t.TempDir())),
		WithClock(func() time.Time { return epoch }),
	}, options...)

	return New(m, handle, console, options...), &buf.Buffer
}

// safeBuffer allows concurrent writes from notification handlers
type safeBuffer struct {
	bytes.Buffer
	mu sync.Mutex
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

func TestRunReconnects(t *testing.T) {
	m := mock.New(mock.WithFailingConnects(2))
	c, out := newTestController(t, m, &scriptedConsole{})

	var states []State
	attemptsInLoop := -1
	c.SetStateChangeHandler(func(state State) {
		states = append(states, state)
		if state == StateCommandLoop {
			attemptsInLoop = c.Attempts()
		}
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 3, m.ConnectCalls())
	assert.Equal(t, 0, attemptsInLoop)
	assert.Equal(t, StateIdle, c.State())
	assert.Contains(t, out.String(), "Connection failed [2/5]")
	assert.Equal(t, []State{
		StateConnecting, StateConnecting, StateConnecting,
		StateConnected, StateCommandLoop, StateDisconnecting, StateIdle,
	}, states)
}

func TestRunRetriesExhausted(t *testing.T) {
	m := mock.New(mock.WithFailingConnects(-1))
	c, out := newTestController(t, m, &scriptedConsole{})

	ch := make(chan State, 16)
	c.SetStateChangeChannel(ch)

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, mock.ErrConnectRefused)
	assert.Equal(t, 5, m.ConnectCalls())
	assert.Equal(t, 5, c.Attempts())
	assert.Equal(t, StateFailed, c.State())
	assert.Contains(t, out.String(), "Connection failed [5/5]")
	assert.NotContains(t, out.String(), "[6/5]")

	assert.Len(t, ch, 6)
}

func TestRunContextCanceled(t *testing.T) {
	m := mock.New(mock.WithFailingConnects(-1))
	c, _ := newTestController(t, m, &scriptedConsole{}, WithRetryDelay(time.Hour, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Run(ctx), context.DeadlineExceeded)
	assert.Equal(t, 1, m.ConnectCalls())
	assert.Equal(t, StateIdle, c.State())
}

func TestRunReconnectsAfterConnectionLoss(t *testing.T) {
	m := mock.New()
	console := &scriptedConsole{
		lines: []string{"help"},
		onRead: func(n int) {
			if n == 0 {
				m.Drop()
			}
		},
	}
	c, out := newTestController(t, m, console)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 2, m.ConnectCalls())
	assert.Equal(t, 0, c.Attempts())
	assert.Contains(t, out.String(), "Connection lost")
}

// dropWhileMeasuring drops the connection once, shortly after the device started to push readings
func dropWhileMeasuring(m *mock.Mock) {
	go func() {
		deadline := time.After(5 * time.Second)
		for !m.IsMeasuring() {
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
		time.Sleep(100 * time.Millisecond)
		m.Drop()
	}()
}

func TestRunConnectionLossDuringMeasure(t *testing.T) {
	m := mock.New(mock.WithNotifyInterval(5 * time.Millisecond))
	c, out := newTestController(t, m, &scriptedConsole{lines: []string{"m 30"}})

	dropWhileMeasuring(m)
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("measurement did not end on connection loss")
	}
	assert.Equal(t, 2, m.ConnectCalls())
	assert.False(t, m.IsMeasuring())
	assert.Contains(t, out.String(), "Connection lost")

	_, ok := c.LastMeasurement()
	assert.False(t, ok)
}

func TestRunConnectionLossDuringMonitor(t *testing.T) {
	m := mock.New(mock.WithNotifyInterval(5 * time.Millisecond))
	c, out := newTestController(t, m, &scriptedConsole{lines: []string{"o"}, keyWait: time.Hour})

	dropWhileMeasuring(m)
	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not end on connection loss")
	}
	assert.Equal(t, 2, m.ConnectCalls())
	assert.False(t, m.IsMeasuring())
	assert.Contains(t, out.String(), "Connection lost")
}

func TestBackoff(t *testing.T) {
	c := New(mock.New(), force.DeviceHandle{}, &scriptedConsole{}, WithRetryDelay(time.Second, 5*time.Second))

	for attempts, expected := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 5 * time.Second,
		9: 5 * time.Second,
	} {
		assert.Equal(t, expected, c.backoff(attempts), "attempt %d", attempts)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	c, out := newTestController(t, mock.New(), &scriptedConsole{})
	before := c.Status()

	exit, err := c.Dispatch(context.Background(), "jump 3")
	require.NoError(t, err)
	assert.False(t, exit)
	assert.Equal(t, before, c.Status())
	assert.Equal(t, "enter valid command [tara [n], measure [s], monitor, calibrate, label [l] [subject], save [l], help, exit]\n", out.String())
}

func TestDispatchUnbound(t *testing.T) {
	c, _ := newTestController(t, mock.New(), &scriptedConsole{})

	for _, line := range []string{"tara", "m 1", "monitor", "c"} {
		exit, err := c.Dispatch(context.Background(), line)
		assert.False(t, exit)
		assert.ErrorIs(t, err, force.ErrNotConnected, line)
	}

	exit, err := c.Dispatch(context.Background(), "x")
	assert.NoError(t, err)
	assert.True(t, exit)

	_, err = c.Dispatch(context.Background(), `label "unterminated`)
	assert.Error(t, err)
}

func TestLabel(t *testing.T) {
	c, _ := newTestController(t, mock.New(), &scriptedConsole{})
	ctx := context.Background()

	_, err := c.Dispatch(ctx, `label "max grip" alice`)
	require.NoError(t, err)
	status := c.Status()
	assert.Equal(t, "max grip", status.Label)
	assert.Equal(t, "alice", status.Subject)

	// Omitted arguments keep their values
	_, err = c.Dispatch(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, "max grip", c.Status().Label)
	assert.Equal(t, "alice", c.Status().Subject)

	_, err = c.Dispatch(ctx, "l pinch")
	require.NoError(t, err)
	assert.Equal(t, "pinch", c.Status().Label)
	assert.Equal(t, "alice", c.Status().Subject)
}

func TestCommandWrites(t *testing.T) {
	m := mock.New()
	c, out := newTestController(t, m, &scriptedConsole{lines: []string{"tara", "t 0", "tara 20 surplus tokens", "calibrate", "x"}})

	require.NoError(t, c.Run(context.Background()))

	var values []any
	for _, w := range m.Writes() {
		values = append(values, w.Value)
	}
	assert.Equal(t, []any{int32(15), int32(15), int32(20), CalibrationDivider}, values)
	assert.Contains(t, out.String(), "invalid n `0`")
}

func TestMeasure(t *testing.T) {
	m := mock.New(mock.WithNotifyInterval(5*time.Millisecond), mock.WithSignal(func(time.Duration) float64 { return 3.25 }))
	c, out := newTestController(t, m, &scriptedConsole{lines: []string{"label grip alice", "m 0.1", "x"}})

	require.NoError(t, c.Run(context.Background()))
	assert.False(t, m.IsMeasuring())
	assert.Contains(t, out.String(), "done")

	last, ok := c.LastMeasurement()
	require.True(t, ok)
	assert.Equal(t, "grip", last.Label)
	assert.Equal(t, "alice", last.Subject)
	assert.Equal(t, 0.1, last.Interval)
	assert.Greater(t, last.Samples, 1)
	assert.InDelta(t, 3.25, last.Peak, 1e-6)
	assert.FileExists(t, last.Paths.CSV)
	assert.FileExists(t, last.Paths.JSON)
	assert.Equal(t, 2, c.Status().Index)

	var enables []any
	for _, w := range m.Writes() {
		if w.Descriptor.ID == force.MeasureEnable.ID {
			enables = append(enables, w.Value)
		}
	}
	assert.Equal(t, []any{true, false}, enables)

	// Changing the label resets the measurement counter
	_, err := c.Dispatch(context.Background(), "l pinch")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Status().Index)
}

func TestMeasureCollisionAndSave(t *testing.T) {
	m := mock.New(mock.WithNotifyInterval(5 * time.Millisecond))
	c, out := newTestController(t, m, &scriptedConsole{lines: []string{"m 0.05", "m 0.05", "save grip2", "save", "x"}})

	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, out.String(), measurement.ErrFileAlreadyExists.Error())
	assert.Contains(t, out.String(), errNoPendingMeasurement.Error())
	assert.False(t, c.Status().Unsaved)

	last, ok := c.LastMeasurement()
	require.True(t, ok)
	assert.Equal(t, "grip2", last.Label)
	_, err := os.Stat(last.Paths.JSON)
	assert.NoError(t, err)
}

func TestMeasureInvalidIntervalUsesDefault(t *testing.T) {
	c, out := newTestController(t, mock.New(), &scriptedConsole{}, WithDefaults(0, 20*time.Millisecond))

	args, notices := ParseArgs(c.lookup("m").Params, []string{"700"})
	assert.Len(t, notices, 1)
	assert.Equal(t, 0.02, args.Float("s"))
	assert.Empty(t, out.String())
}

func TestMonitor(t *testing.T) {
	m := mock.New(mock.WithNotifyInterval(5*time.Millisecond), mock.WithSignal(func(time.Duration) float64 { return 1.5 }))
	c, out := newTestController(t, m, &scriptedConsole{lines: []string{"o", "x"}, keyWait: 100 * time.Millisecond})

	require.NoError(t, c.Run(context.Background()))
	assert.False(t, m.IsMeasuring())
	assert.Contains(t, out.String(), "kg * ge")
	assert.Contains(t, out.String(), "stopped")

	r, seq := c.Cell().Latest()
	assert.NotZero(t, seq)
	assert.InDelta(t, 1.5, r.Value, 1e-6)
	_, ok := c.LastMeasurement()
	assert.False(t, ok)
}

type recordingPublisher struct {
	readings []force.Reading
	mu       sync.Mutex
}

func (p *recordingPublisher) Publish(r force.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readings = append(p.readings, r)
}

type recordingSink struct {
	saved []*measurement.Series
}

func (s *recordingSink) Save(_ context.Context, series *measurement.Series) error {
	s.saved = append(s.saved, series)
	return nil
}

func TestPublisherAndSinks(t *testing.T) {
	m := mock.New(mock.WithNotifyInterval(5 * time.Millisecond))
	pub, sink := &recordingPublisher{}, &recordingSink{}
	c, _ := newTestController(t, m, &scriptedConsole{lines: []string{"m 0.05"}}, WithPublisher(pub), WithSinks(sink))

	require.NoError(t, c.Run(context.Background()))

	require.Len(t, sink.saved, 1)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.GreaterOrEqual(t, len(pub.readings), len(sink.saved[0].Samples))
}
