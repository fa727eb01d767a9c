package vm

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
)

const (
	MemorySize    = 4096
	StackSize     = 16
	RegisterCount = 16
	ScreenWidth   = 64
	ScreenHeight  = 32
	ScreenSize    = ScreenWidth * ScreenHeight
	KeyCount      = 16

	FontStart       = uint16(0x000)
	ProgramStart    = uint16(0x200)
	MaxProgramSize  = MemorySize - int(ProgramStart)
	InstructionSize = 2

	addressMask = MemorySize - 1
)

var (
	// ErrNotFound is returned when a ROM source cannot be read.
	ErrNotFound = errors.New("rom not found")
	// ErrTooLarge is returned when a ROM does not fit above ProgramStart.
	ErrTooLarge = errors.New("rom too large")
	// ErrSizeMismatch is returned by Frame when the buffer is not ScreenSize long.
	ErrSizeMismatch = errors.New("frame buffer size mismatch")

	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrUnknownOpcode  = errors.New("unknown opcode")
)

type VM struct {
	memory    [MemorySize]uint8    // Memory (4k)
	registers [RegisterCount]uint8 // V registers (V0-VF)

	stack [StackSize]uint16 // Stack
	sp    uint8             // Stack pointer

	pc    uint16 // Program counter
	index uint16 // Index register

	delayTimer uint8 // Delay timer
	soundTimer uint8 // Sound timer

	gfx      [ScreenSize]uint8 // Graphics buffer
	keypad   Keypad            // Keypad
	drawFlag bool              // Indicates a draw has occurred

	waiting  bool   // FX0A is blocking on a key press
	waitReg  uint8  // Register receiving the key
	waitSeen Keypad // Keys already down at the last inspection

	halted bool
	err    error

	rng *rand.Rand
}

type Option func(*VM)

// WithSeed makes RND deterministic.
func WithSeed(seed uint64) Option {
	return func(vm *VM) {
		vm.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

func New(opts ...Option) *VM {
	vm := &VM{}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.rng == nil {
		vm.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	vm.Reset()
	return vm
}

// Reset returns the machine to its power-on state. Any loaded program is
// discarded.
func (vm *VM) Reset() {
	vm.pc = ProgramStart
	vm.index = 0
	vm.sp = 0

	// Clear the display
	vm.gfx = [ScreenSize]uint8{}
	vm.drawFlag = true

	// Clear the stack, keypad, and V registers
	slog.Debug("clear stack", "n", len(vm.stack))
	vm.stack = [StackSize]uint16{}

	slog.Debug("clear keypad", "n", len(vm.keypad))
	vm.keypad = Keypad{}
	vm.waiting = false
	vm.waitReg = 0
	vm.waitSeen = Keypad{}

	slog.Debug("clear registers", "n", len(vm.registers))
	vm.registers = [RegisterCount]uint8{}

	// Clear memory
	slog.Debug("clear memory", "n", len(vm.memory))
	vm.memory = [MemorySize]uint8{}

	// Load font set into memory
	slog.Debug("load font", "at", fmt.Sprintf("0x%04x", FontStart), "n", len(font))
	copy(vm.memory[FontStart:], font[:])

	// Reset timers
	vm.delayTimer = 0
	vm.soundTimer = 0

	vm.halted = false
	vm.err = nil
}

// LoadROM copies program into memory at ProgramStart and returns the number
// of bytes loaded. Memory is left untouched when the program does not fit.
func (vm *VM) LoadROM(program []byte) (int, error) {
	if len(program) > MaxProgramSize {
		return 0, fmt.Errorf("%w: %d bytes, limit is %d", ErrTooLarge, len(program), MaxProgramSize)
	}

	slog.Info("load program", "at", fmt.Sprintf("0x%04x", ProgramStart), "n", len(program))
	n := copy(vm.memory[ProgramStart:], program)
	return n, nil
}

// LoadROMFile reads path and loads its whole content as the program image.
func (vm *VM) LoadROMFile(path string) (int, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrNotFound, path, err)
	}

	return vm.LoadROM(bs)
}

// Cycle executes exactly one instruction. It does nothing once the machine
// has halted.
func (vm *VM) Cycle() {
	if vm.halted {
		return
	}

	if vm.waiting {
		vm.pollKeyWait()
		return
	}

	opcode := vm.fetchOpcode()
	if err := vm.executeOpcode(opcode); err != nil {
		vm.halt(err)
	}
}

// Tick decrements both timers by one. Hosts call it at 60 Hz.
func (vm *VM) Tick() {
	if vm.delayTimer > 0 {
		vm.delayTimer--
	}

	if vm.soundTimer > 0 {
		vm.soundTimer--
	}
}

func (vm *VM) halt(err error) {
	slog.Error("machine halted", "pc", fmt.Sprintf("0x%04x", vm.pc), "err", err)
	vm.halted = true
	vm.err = err
}

func (vm *VM) fetchOpcode() uint16 {
	hi := vm.memory[vm.pc&addressMask]
	lo := vm.memory[(vm.pc+1)&addressMask]

	vm.pc = (vm.pc + InstructionSize) & addressMask

	opcode := uint16(hi)<<8 | uint16(lo) // Op code is two bytes
	return opcode
}

// DrawPending reports whether the display changed since the last Frame.
func (vm *VM) DrawPending() bool {
	return vm.drawFlag
}

// Frame copies the display into buf, row-major, one byte per pixel (0 or 1),
// and clears the draw-pending flag.
func (vm *VM) Frame(buf []byte) error {
	if len(buf) != ScreenSize {
		return fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(buf), ScreenSize)
	}

	copy(buf, vm.gfx[:])
	vm.drawFlag = false
	return nil
}

func (vm *VM) Halted() bool {
	return vm.halted
}

// Err returns the condition that halted the machine, or nil.
func (vm *VM) Err() error {
	return vm.err
}

// Waiting reports whether the machine is blocked on FX0A.
func (vm *VM) Waiting() bool {
	return vm.waiting
}

func (vm *VM) PC() uint16 {
	return vm.pc
}

func (vm *VM) DelayTimer() uint8 {
	return vm.delayTimer
}

func (vm *VM) SoundTimer() uint8 {
	return vm.soundTimer
}
