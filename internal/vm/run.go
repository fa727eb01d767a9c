package vm

import (
	"context"
	"log/slog"
)

// DefaultSpeed is the number of instructions executed per 60 Hz frame.
const DefaultSpeed = 10

// HAL is the host side of the machine: a display, a keypad and a frame clock.
type HAL interface {
	ReadInput() (Keypad, error)
	Draw(gfx []byte) error
	WaitForNextFrame() error
}

type RunConfig struct {
	// Speed is the number of instructions per frame.
	Speed int
}

// Boot resets the machine and loads program.
func (vm *VM) Boot(program []byte) (int, error) {
	vm.Reset()
	return vm.LoadROM(program)
}

// Run drives the machine one frame at a time until hal or ctx reports an
// error. Each frame executes cfg.Speed instructions, ticks the timers once,
// presents the display when it changed and latches the host keypad for the
// next frame. A halted machine keeps its last frame on screen until hal
// returns an error.
func (vm *VM) Run(ctx context.Context, hal HAL, cfg RunConfig) error {
	speed := cfg.Speed
	if speed <= 0 {
		speed = DefaultSpeed
	}

	frame := make([]byte, ScreenSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := vm.runFrame(hal, speed, frame); err != nil {
			return err
		}

		if vm.halted {
			slog.Info("program halted", "err", vm.err)
			return vm.waitForReboot(ctx, hal)
		}
	}
}

func (vm *VM) waitForReboot(ctx context.Context, hal HAL) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := hal.WaitForNextFrame(); err != nil {
			return err
		}

		if _, err := hal.ReadInput(); err != nil {
			return err
		}
	}
}

func (vm *VM) runFrame(hal HAL, speed int, frame []byte) error {
	for i := 0; i < speed && !vm.halted; i++ {
		vm.Cycle()
	}

	vm.Tick()

	if vm.drawFlag {
		if err := vm.Frame(frame); err != nil {
			return err
		}
		if err := hal.Draw(frame); err != nil {
			return err
		}
	}

	keys, err := hal.ReadInput()
	if err != nil {
		return err
	}
	vm.SetKeypad(keys)

	return hal.WaitForNextFrame()
}
