// Package term is a terminal backend: the display is drawn with half-block
// characters and the keypad is read from stdin in raw mode.
package term

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"

	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/vm"
)

// holdFrames keeps a key down between the repeats a terminal sends while it
// is held, since terminals never report key releases.
const holdFrames = 8

const (
	keyCtrlD     = 0x04
	keyBackspace = 0x08
	keyDelete    = 0x7f
)

type Terminal struct {
	out     *bufio.Writer
	read    func([]byte) (int, error)
	restore func() error

	hold  [vm.KeyCount]int
	buf   []byte
	pacer *hal.Pacer
}

func newTerminal(out io.Writer, read func([]byte) (int, error), restore func() error) *Terminal {
	return &Terminal{
		out:     bufio.NewWriter(out),
		read:    read,
		restore: restore,
		buf:     make([]byte, 64),
		pacer:   hal.NewPacer(hal.FrameRate),
	}
}

func (t *Terminal) Shutdown() {
	// Show the cursor again and leave the screen below the last frame.
	fmt.Fprintf(t.out, "\x1b[?25h\x1b[%dH\r\n", vm.ScreenHeight/2+1)
	if err := t.out.Flush(); err != nil {
		slog.Error("failed to flush terminal", "err", err)
	}

	if err := t.restore(); err != nil {
		slog.Error("failed to restore terminal", "err", err)
	}
}

// ReadInput consumes whatever stdin has buffered. Ctrl-D yields hal.ErrQuit,
// Backspace hal.ErrReboot.
func (t *Terminal) ReadInput() (vm.Keypad, error) {
	for i := range t.hold {
		if t.hold[i] > 0 {
			t.hold[i]--
		}
	}

	for {
		n, err := t.read(t.buf)
		if n > 0 {
			if ferr := t.feed(t.buf[:n]); ferr != nil {
				return vm.Keypad{}, ferr
			}
		}
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
			break
		}
		if err != nil {
			return vm.Keypad{}, fmt.Errorf("failed to read terminal input: %w", err)
		}
		if n < len(t.buf) {
			break
		}
	}

	var keys vm.Keypad
	for i, n := range t.hold {
		if n > 0 {
			keys.Press(vm.Key(i))
		}
	}
	return keys, nil
}

func (t *Terminal) feed(input []byte) error {
	for _, b := range input {
		switch b {
		case keyCtrlD:
			slog.Debug("term: exit requested")
			return hal.ErrQuit
		case keyBackspace, keyDelete:
			slog.Debug("term: reboot requested")
			return hal.ErrReboot
		}

		if key, ok := hal.KeyForRune(rune(b)); ok {
			t.hold[key] = holdFrames
		}
	}
	return nil
}

func (t *Terminal) Draw(gfx []uint8) error {
	render(t.out, gfx)
	if err := t.out.Flush(); err != nil {
		return fmt.Errorf("failed to write terminal frame: %w", err)
	}
	return nil
}

func (t *Terminal) WaitForNextFrame() error {
	t.pacer.Wait()
	return nil
}

// render draws two pixel rows per text row, homing the cursor first.
func render(w *bufio.Writer, gfx []uint8) {
	w.WriteString("\x1b[?25l\x1b[H")

	for y := 0; y < vm.ScreenHeight; y += 2 {
		for x := 0; x < vm.ScreenWidth; x++ {
			top := gfx[y*vm.ScreenWidth+x] != 0
			bottom := gfx[(y+1)*vm.ScreenWidth+x] != 0

			switch {
			case top && bottom:
				w.WriteRune('█')
			case top:
				w.WriteRune('▀')
			case bottom:
				w.WriteRune('▄')
			default:
				w.WriteByte(' ')
			}
		}
		w.WriteString("\r\n")
	}
}
