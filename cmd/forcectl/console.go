package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// terminalConsole reads command lines and key presses from stdin
type terminalConsole struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool

	// held while a line or key press is read, so a pending key press wait hands its
	// byte over to the next line instead of swallowing it
	mu sync.Mutex
}

func newTerminalConsole() *terminalConsole {
	fd := int(os.Stdin.Fd())
	return &terminalConsole{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stdout,
		fd:  fd,
		tty: term.IsTerminal(fd),
	}
}

func (c *terminalConsole) ReadLine(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprint(c.out, prompt)
	line, err := c.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (c *terminalConsole) WaitKey(ctx context.Context) <-chan struct{} {
	pressed := make(chan struct{})

	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		wait := c.waitEnd
		if c.tty {
			if state, err := term.MakeRaw(c.fd); err == nil {
				defer func() {
					_ = term.Restore(c.fd, state)
				}()
			}
			wait = c.readKey
		}

		if wait(ctx) {
			close(pressed)
		}
	}()

	return pressed
}

// readKey reads a single key press. A byte read after ctx ended is handed over to the next line.
func (c *terminalConsole) readKey(ctx context.Context) bool {
	_, err := c.in.ReadByte()
	if ctx.Err() != nil {
		if err == nil {
			_ = c.in.UnreadByte()
		}
		return false
	}

	// End of input also ends the wait
	return true
}

// waitEnd replaces key presses if stdin is no terminal: pending lines are left untouched
// and only the end of input (or ctx) ends the wait
func (c *terminalConsole) waitEnd(ctx context.Context) bool {
	if _, err := c.in.Peek(1); err != nil {
		return ctx.Err() == nil
	}

	<-ctx.Done()
	return false
}
