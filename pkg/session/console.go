package session

import (
	"context"

	"github.com/fatih/color"
)

// Console denotes the interactive input of a session
type Console interface {

	// ReadLine prompts for and reads a single command line (io.EOF once input ends)
	ReadLine(prompt string) (string, error)

	// WaitKey returns a channel that is closed once a key is pressed (or never, if ctx
	// ends first)
	WaitKey(ctx context.Context) <-chan struct{}
}

// Formatter denotes a stateless ANSI formatter for console output
type Formatter struct {
	blue, green, yellow, red, bold *color.Color
}

// NewFormatter instantiates a new Formatter, optionally without any colors
func NewFormatter(enabled bool) *Formatter {
	f := &Formatter{
		blue:   color.New(color.FgHiBlue),
		green:  color.New(color.FgHiGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed),
		bold:   color.New(color.Bold),
	}
	for _, c := range []*color.Color{f.blue, f.green, f.yellow, f.red, f.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return f
}

// Blue formats informational messages
func (f *Formatter) Blue(s string) string {
	return f.blue.Sprint(s)
}

// Green formats success messages
func (f *Formatter) Green(s string) string {
	return f.green.Sprint(s)
}

// Yellow formats highlighted values
func (f *Formatter) Yellow(s string) string {
	return f.yellow.Sprint(s)
}

// Red formats errors
func (f *Formatter) Red(s string) string {
	return f.red.Sprint(s)
}

// Bold formats emphasized text
func (f *Formatter) Bold(s string) string {
	return f.bold.Sprint(s)
}
