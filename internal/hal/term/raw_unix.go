//go:build linux || darwin || freebsd || netbsd || openbsd

package term

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// New switches stdin to raw, non-blocking reads and returns a terminal
// drawing to stdout. Shutdown restores the previous terminal state.
func New() (*Terminal, error) {
	fd := int(os.Stdin.Fd())

	termios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, fmt.Errorf("failed to read terminal state: %w", err)
	}

	restore := *termios
	raw := *termios

	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.INLCR | unix.ICRNL | unix.IXON
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8

	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, fmt.Errorf("failed to enter raw mode: %w", err)
	}

	read := func(p []byte) (int, error) {
		return unix.Read(fd, p)
	}
	reset := func() error {
		return unix.IoctlSetTermios(fd, ioctlSetTermios, &restore)
	}

	// Clear the screen once; frames only home the cursor.
	fmt.Fprint(os.Stdout, "\x1b[2J")

	return newTerminal(os.Stdout, read, reset), nil
}
