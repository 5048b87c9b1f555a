package measurement

import (
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Plotter hands persisted series over to an external plotting script
type Plotter struct {
	Script string
}

// Plot starts the plotting script for a persisted series without waiting for it to finish
func (p *Plotter) Plot(path string, s *Series, peak float64) error {
	if p == nil || p.Script == "" {
		return nil
	}

	cmd := exec.Command(p.Script, PlotArgs(path, s, peak)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start plot script `%s`: %w", p.Script, err)
	}

	// Reap the process in the background
	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

// PlotArgs returns the arguments passed to the plotting script: the file path, the display
// name, the rounded peak value and the nominal interval
func PlotArgs(path string, s *Series, peak float64) []string {
	return []string{
		path,
		strings.ReplaceAll(s.Name(), "_", " "),
		strconv.FormatFloat(Round(peak), 'f', -1, 64),
		strconv.FormatFloat(s.Interval.Seconds(), 'f', -1, 64),
	}
}

// Round rounds a value to two decimals
func Round(v float64) float64 {
	return math.Round(v*100.) / 100.
}

// Seconds converts (fractional) seconds to a duration
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
