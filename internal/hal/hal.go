// Package hal holds what the display backends share: the control errors the
// run loop reacts to, the keyboard layout and frame pacing.
package hal

import (
	"errors"
	"time"
	"unicode"

	"github.com/kapitanov/chip8/internal/vm"
)

var (
	ErrReboot = errors.New("reboot")
	ErrQuit   = errors.New("quit")
)

// FrameRate is the rate at which timers tick and frames are presented.
const FrameRate = 60

// Physical                Logical
// ================        =================
// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
// | q | w | e | r |       | 4 | 5 | 6 | D |
// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
// | z | x | c | v |       | A | 0 | B | F |
// ================        =================
var layout = map[rune]vm.Key{
	'x': vm.Key0,
	'1': vm.Key1,
	'2': vm.Key2,
	'3': vm.Key3,
	'q': vm.Key4,
	'w': vm.Key5,
	'e': vm.Key6,
	'a': vm.Key7,
	's': vm.Key8,
	'd': vm.Key9,
	'z': vm.KeyA,
	'c': vm.KeyB,
	'4': vm.KeyC,
	'r': vm.KeyD,
	'f': vm.KeyE,
	'v': vm.KeyF,
}

// KeyForRune maps a character of the host keyboard to a CHIP-8 key.
func KeyForRune(r rune) (vm.Key, bool) {
	key, ok := layout[unicode.ToLower(r)]
	return key, ok
}

// Pacer spaces calls to Wait at a fixed rate, catching up after short
// stalls and resynchronising after long ones.
type Pacer struct {
	interval time.Duration
	next     time.Time
	sleep    func(time.Duration)
	now      func() time.Time
}

func NewPacer(hz int) *Pacer {
	return &Pacer{
		interval: time.Second / time.Duration(hz),
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

func (p *Pacer) Wait() {
	now := p.now()
	if p.next.IsZero() {
		p.next = now
	}

	p.next = p.next.Add(p.interval)

	d := p.next.Sub(now)
	switch {
	case d > 0:
		p.sleep(d)
	case -d > p.interval:
		p.next = now
	}
}
