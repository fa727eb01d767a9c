package vm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/retroenv/retrogolib/assert"
)

// newWithProgram returns a machine with the opcodes loaded at ProgramStart.
func newWithProgram(t *testing.T, opcodes ...uint16) *VM {
	t.Helper()

	rom := make([]byte, 0, 2*len(opcodes))
	for _, op := range opcodes {
		rom = append(rom, byte(op>>8), byte(op))
	}

	vm := New(WithSeed(1))
	_, err := vm.LoadROM(rom)
	assert.NoError(t, err)
	return vm
}

func TestNew(t *testing.T) {
	vm := New()

	assert.Equal(t, ProgramStart, vm.pc)
	assert.Equal(t, uint16(0), vm.index)
	assert.Equal(t, uint8(0), vm.sp)
	assert.Equal(t, uint8(0), vm.delayTimer)
	assert.Equal(t, uint8(0), vm.soundTimer)
	assert.False(t, vm.Halted())
	assert.False(t, vm.Waiting())
	assert.NoError(t, vm.Err())

	if diff := cmp.Diff(font[:], vm.memory[FontStart:FontStart+uint16(len(font))]); diff != "" {
		t.Errorf("font: (-want, +got)\n%s", diff)
	}
	if diff := cmp.Diff([RegisterCount]uint8{}, vm.registers); diff != "" {
		t.Errorf("registers: (-want, +got)\n%s", diff)
	}
	if diff := cmp.Diff([StackSize]uint16{}, vm.stack); diff != "" {
		t.Errorf("stack: (-want, +got)\n%s", diff)
	}
	if diff := cmp.Diff([ScreenSize]uint8{}, vm.gfx); diff != "" {
		t.Errorf("display: (-want, +got)\n%s", diff)
	}
	if diff := cmp.Diff(make([]uint8, MemorySize-len(font)), vm.memory[len(font):]); diff != "" {
		t.Errorf("memory above font: (-want, +got)\n%s", diff)
	}
}

func TestReset(t *testing.T) {
	vm := newWithProgram(t, 0x6A42, 0x2300, 0xF015)
	vm.Cycle()
	vm.Cycle()
	vm.registers[0] = 9
	vm.delayTimer = 7
	vm.SetKeys(3)

	vm.Reset()

	assert.Equal(t, ProgramStart, vm.pc)
	assert.Equal(t, uint8(0), vm.sp)
	assert.Equal(t, uint8(0), vm.registers[0xA])
	assert.Equal(t, uint8(0), vm.delayTimer)
	assert.Equal(t, Keypad{}, vm.keypad)
	assert.Equal(t, uint8(0), vm.memory[ProgramStart])
}

func TestLoadROM(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, nil},
		{"single byte", 1, nil},
		{"exactly fits", MaxProgramSize, nil},
		{"one byte too large", MaxProgramSize + 1, ErrTooLarge},
		{"way too large", MemorySize, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rom := make([]byte, tt.size)
			for i := range rom {
				rom[i] = byte(i*7 + 1)
			}

			vm := New()
			before := vm.memory

			n, err := vm.LoadROM(rom)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Equal(t, 0, n)
				if diff := cmp.Diff(before, vm.memory); diff != "" {
					t.Errorf("memory modified by failed load: (-want, +got)\n%s", diff)
				}
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.size, n)
			if diff := cmp.Diff(rom, vm.memory[ProgramStart:int(ProgramStart)+tt.size]); diff != "" {
				t.Errorf("loaded program: (-want, +got)\n%s", diff)
			}
			if diff := cmp.Diff(font[:], vm.memory[:len(font)]); diff != "" {
				t.Errorf("font overwritten: (-want, +got)\n%s", diff)
			}
		})
	}
}

func TestLoadROMFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		vm := New()
		_, err := vm.LoadROMFile(filepath.Join(dir, "missing.ch8"))
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(dir, "jump.ch8")
		assert.NoError(t, os.WriteFile(path, []byte{0x12, 0x00}, 0o600))

		vm := New()
		n, err := vm.LoadROMFile(path)
		assert.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, uint8(0x12), vm.memory[ProgramStart])
	})

	t.Run("too large file", func(t *testing.T) {
		path := filepath.Join(dir, "big.ch8")
		assert.NoError(t, os.WriteFile(path, make([]byte, MaxProgramSize+1), 0o600))

		vm := New()
		_, err := vm.LoadROMFile(path)
		assert.True(t, errors.Is(err, ErrTooLarge))
	})
}

func TestFrame(t *testing.T) {
	vm := New()

	err := vm.Frame(make([]byte, ScreenSize-1))
	assert.True(t, errors.Is(err, ErrSizeMismatch))
	assert.True(t, vm.DrawPending())

	err = vm.Frame(make([]byte, ScreenSize+1))
	assert.True(t, errors.Is(err, ErrSizeMismatch))

	vm.gfx[5] = 1
	buf := make([]byte, ScreenSize)
	assert.NoError(t, vm.Frame(buf))
	assert.Equal(t, uint8(1), buf[5])
	assert.False(t, vm.DrawPending())
}

func TestTimerDecay(t *testing.T) {
	tests := []struct {
		start uint8
		ticks int
		want  uint8
	}{
		{0, 0, 0},
		{0, 5, 0},
		{10, 3, 7},
		{10, 10, 0},
		{10, 200, 0},
		{255, 255, 0},
		{255, 1, 254},
	}

	for _, tt := range tests {
		vm := New()
		vm.delayTimer = tt.start
		vm.soundTimer = tt.start

		for i := 0; i < tt.ticks; i++ {
			vm.Tick()
		}

		assert.Equal(t, tt.want, vm.DelayTimer())
		assert.Equal(t, tt.want, vm.SoundTimer())
	}
}

func TestCycleDoesNotTickTimers(t *testing.T) {
	vm := newWithProgram(t, 0x1200)
	vm.delayTimer = 5

	for i := 0; i < 20; i++ {
		vm.Cycle()
	}

	assert.Equal(t, uint8(5), vm.DelayTimer())
}

func TestJumpToSelf(t *testing.T) {
	vm := newWithProgram(t, 0x1200)

	for i := 0; i < 1000; i++ {
		vm.Cycle()
		assert.Equal(t, uint16(0x200), vm.PC())
	}

	assert.False(t, vm.Halted())
}

func TestCallReturn(t *testing.T) {
	// 0x200 CALL 0x206; 0x202 JP 0x202; 0x204 (unused); 0x206 RET
	vm := newWithProgram(t, 0x2206, 0x1202, 0x0000, 0x00EE)

	vm.Cycle()
	assert.Equal(t, uint16(0x206), vm.PC())
	assert.Equal(t, uint8(1), vm.sp)

	vm.Cycle()
	assert.Equal(t, uint16(0x202), vm.PC())
	assert.Equal(t, uint8(0), vm.sp)
	assert.False(t, vm.Halted())
}

func TestStackOverflow(t *testing.T) {
	// CALL 0x200 forever.
	vm := newWithProgram(t, 0x2200)

	for i := 0; i < StackSize; i++ {
		vm.Cycle()
		assert.False(t, vm.Halted())
	}

	vm.Cycle()
	assert.True(t, vm.Halted())
	assert.True(t, errors.Is(vm.Err(), ErrStackOverflow))
}

func TestStackUnderflow(t *testing.T) {
	vm := newWithProgram(t, 0x00EE)

	vm.Cycle()
	assert.True(t, vm.Halted())
	assert.True(t, errors.Is(vm.Err(), ErrStackUnderflow))
}

func TestUnknownOpcodeHalts(t *testing.T) {
	for _, opcode := range []uint16{0x0000, 0x0123, 0x5121, 0x800F, 0x9AB3, 0xE1FF, 0xF0FF} {
		vm := newWithProgram(t, opcode, 0x6001)

		vm.Cycle()
		assert.True(t, vm.Halted())
		assert.True(t, errors.Is(vm.Err(), ErrUnknownOpcode))

		pc := vm.PC()
		vm.Cycle()
		vm.Cycle()
		assert.Equal(t, pc, vm.PC())
		assert.Equal(t, uint8(0), vm.registers[0])
	}
}

func TestDrawScenario(t *testing.T) {
	// LD I, 0x204; DRW V0, V0, 1; sprite 0xFF
	vm := New()
	_, err := vm.LoadROM([]byte{0xA2, 0x04, 0xD0, 0x01, 0xFF})
	assert.NoError(t, err)

	vm.Cycle()
	assert.NoError(t, vm.Frame(make([]byte, ScreenSize)))
	assert.False(t, vm.DrawPending())

	vm.Cycle()
	assert.True(t, vm.DrawPending())

	frame := make([]byte, ScreenSize)
	assert.NoError(t, vm.Frame(frame))

	want := make([]byte, ScreenSize)
	for x := 0; x < 8; x++ {
		want[x] = 1
	}
	if diff := cmp.Diff(want, frame); diff != "" {
		t.Errorf("frame: (-want, +got)\n%s", diff)
	}
	assert.Equal(t, uint8(0), vm.registers[0xF])
}

func TestDrawRoundTrip(t *testing.T) {
	vm := newWithProgram(t, 0xD125, 0xD125)
	vm.registers[1] = 60
	vm.registers[2] = 30
	vm.index = FontStart + 0xA*FontGlyphSize
	vm.gfx[0] = 1
	before := vm.gfx

	vm.Cycle()
	assert.Equal(t, uint8(0), vm.registers[0xF])

	vm.Cycle()
	assert.Equal(t, uint8(1), vm.registers[0xF])
	if diff := cmp.Diff(before, vm.gfx); diff != "" {
		t.Errorf("display after double draw: (-want, +got)\n%s", diff)
	}
}

func TestDrawCollision(t *testing.T) {
	tests := []struct {
		name    string
		prefill []int
		want    uint8
	}{
		{"empty region", nil, 0},
		{"set pixel under sprite", []int{3}, 1},
		{"set pixel beside sprite", []int{8}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := newWithProgram(t, 0xA206, 0xD001, 0x0000, 0xFF00)
			for _, i := range tt.prefill {
				vm.gfx[i] = 1
			}
			vm.registers[0xF] = 0x55

			vm.Cycle()
			vm.Cycle()

			assert.Equal(t, tt.want, vm.registers[0xF])
		})
	}
}

func TestDrawWraps(t *testing.T) {
	// 8x2 sprite at (62, 31) wraps both horizontally and vertically.
	vm := newWithProgram(t, 0xA206, 0xD012, 0x0000, 0xFFFF)
	vm.registers[0] = 62
	vm.registers[1] = 31

	vm.Cycle()
	vm.Cycle()

	for _, p := range []struct{ x, y int }{{62, 31}, {63, 31}, {0, 31}, {5, 31}, {62, 0}, {0, 0}, {5, 0}} {
		assert.Equal(t, uint8(1), vm.gfx[p.y*ScreenWidth+p.x])
	}
	assert.Equal(t, uint8(0), vm.gfx[31*ScreenWidth+6])
	assert.Equal(t, uint8(0), vm.gfx[1*ScreenWidth+0])
}

func TestKeyWait(t *testing.T) {
	// LD V3, K; LD V4, #01
	vm := newWithProgram(t, 0xF30A, 0x6401)

	vm.Cycle()
	assert.True(t, vm.Waiting())
	assert.Equal(t, uint16(0x200), vm.PC())

	for i := 0; i < 5; i++ {
		vm.Cycle()
		assert.True(t, vm.Waiting())
		assert.Equal(t, uint16(0x200), vm.PC())
	}

	vm.SetKeys(uint8(KeyB))
	vm.Cycle()
	assert.False(t, vm.Waiting())
	assert.Equal(t, uint8(0xB), vm.registers[3])
	assert.Equal(t, uint16(0x202), vm.PC())

	vm.Cycle()
	assert.Equal(t, uint8(1), vm.registers[4])
}

func TestKeyWaitNeedsFreshPress(t *testing.T) {
	vm := newWithProgram(t, 0xF00A)
	vm.SetKeys(uint8(Key7))

	vm.Cycle()
	vm.Cycle()
	vm.Cycle()
	assert.True(t, vm.Waiting())

	vm.SetKeys(KeyRelease)
	vm.Cycle()
	assert.True(t, vm.Waiting())

	vm.SetKeys(uint8(Key7))
	vm.Cycle()
	assert.False(t, vm.Waiting())
	assert.Equal(t, uint8(7), vm.registers[0])
}

func TestSetKeys(t *testing.T) {
	vm := New()

	vm.SetKeys(uint8(Key2))
	assert.True(t, vm.pressed(2))

	vm.SetKeys(uint8(KeyF))
	assert.False(t, vm.pressed(2))
	assert.True(t, vm.pressed(0xF))

	vm.SetKeys(0x10)
	assert.True(t, vm.pressed(0xF))

	vm.SetKeys(KeyRelease)
	assert.Equal(t, Keypad{}, vm.keypad)

	var keys Keypad
	keys.Press(Key1)
	keys.Press(KeyA)
	keys.Press(Key(0x20))
	vm.SetKeypad(keys)
	assert.True(t, vm.pressed(1))
	assert.True(t, vm.pressed(0xA))
	assert.False(t, vm.pressed(0))
}

func TestRandomIsMaskedAndSeeded(t *testing.T) {
	a := newWithProgram(t, 0xC00F, 0xC100, 0xC2FF)
	b := newWithProgram(t, 0xC00F, 0xC100, 0xC2FF)
	b.registers[1] = 0x77

	for i := 0; i < 3; i++ {
		a.Cycle()
		b.Cycle()
	}

	assert.Equal(t, uint8(0), a.registers[0]&0xF0)
	assert.Equal(t, uint8(0), b.registers[1])
	assert.Equal(t, a.registers[0], b.registers[0])
	assert.Equal(t, a.registers[2], b.registers[2])
}
