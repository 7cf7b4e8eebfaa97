// Package console implements the kernel debug console that
// sys_debug_enable_console hands control of the terminal to: raw,
// unbuffered keyboard input and a line-oriented command reader, so an
// operator can issue kernel debug commands without line discipline
// getting in the way of single-keystroke interaction.
package console

import (
	"bufio"
	"errors"
	"os"

	"golang.org/x/term"
)

// ErrNoTTY is returned when standard input is not a terminal: the
// debug console has nothing to take over.
var ErrNoTTY = errors.New("console: stdin is not a tty")

// Console is the kernel's debug console: a raw-mode terminal an
// operator types command lines into, read one line at a time by
// ReadCommand.
type Console struct {
	fd    int
	state *term.State
	out   *term.Terminal
	in    *bufio.Reader
}

// Enable puts the terminal into raw mode and returns a Console ready
// to read commands, implementing sys_debug_enable_console. The caller
// must call Disable to restore the terminal once the console is no
// longer needed.
func Enable() (*Console, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	return &Console{
		fd:    fd,
		state: saved,
		out:   term.NewTerminal(os.Stdin, "kernel> "),
		in:    bufio.NewReader(os.Stdin),
	}, nil
}

// Disable restores the terminal to the state it was in before Enable.
func (c *Console) Disable() error {
	return term.Restore(c.fd, c.state)
}

// ReadCommand blocks for one line of operator input -- a debug
// command and its arguments, unparsed; the syscall dispatcher's debug
// handler decides what the line means.
func (c *Console) ReadCommand() (string, error) {
	return c.out.ReadLine()
}

// Write implements io.Writer so klog's default logger can be pointed
// at the console while it owns the terminal.
func (c *Console) Write(p []byte) (int, error) {
	return c.out.Write(p)
}
