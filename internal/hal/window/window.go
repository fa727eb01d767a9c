// Package window is the SDL2 backend: a scaled window for the display and the
// host keyboard for the keypad.
package window

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/veandco/go-sdl2/sdl"
)

const DefaultScale = 16

type Options struct {
	Title string
	Scale int
}

type Window struct {
	window          *sdl.Window
	renderer        *sdl.Renderer
	texture         *sdl.Texture
	backBuffer      []uint32
	backBufferPitch int
	pacer           *hal.Pacer
}

// scancodes is indexed by vm.Key. See the layout in package hal.
var scancodes = [vm.KeyCount]sdl.Scancode{
	vm.Key0: sdl.SCANCODE_X,
	vm.Key1: sdl.SCANCODE_1,
	vm.Key2: sdl.SCANCODE_2,
	vm.Key3: sdl.SCANCODE_3,
	vm.Key4: sdl.SCANCODE_Q,
	vm.Key5: sdl.SCANCODE_W,
	vm.Key6: sdl.SCANCODE_E,
	vm.Key7: sdl.SCANCODE_A,
	vm.Key8: sdl.SCANCODE_S,
	vm.Key9: sdl.SCANCODE_D,
	vm.KeyA: sdl.SCANCODE_Z,
	vm.KeyB: sdl.SCANCODE_C,
	vm.KeyC: sdl.SCANCODE_4,
	vm.KeyD: sdl.SCANCODE_R,
	vm.KeyE: sdl.SCANCODE_F,
	vm.KeyF: sdl.SCANCODE_V,
}

func New(opts Options) (*Window, error) {
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.Title == "" {
		opts.Title = "CHIP-8"
	}

	width := int32(vm.ScreenWidth * opts.Scale)
	height := int32(vm.ScreenHeight * opts.Scale)

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("failed to init sdl: %w", err)
	}

	window, err := sdl.CreateWindow(opts.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, width, height, sdl.WINDOW_SHOWN|sdl.WINDOW_ALLOW_HIGHDPI)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("failed to create sdl window: %w", err)
	}
	slog.Debug("window: create window", "width", width, "height", height)

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		_ = window.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("failed to create sdl renderer: %w", err)
	}
	if err = renderer.SetLogicalSize(width, height); err != nil {
		_ = renderer.Destroy()
		_ = window.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("failed to resize sdl renderer: %w", err)
	}
	slog.Debug("window: create renderer")

	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, vm.ScreenWidth, vm.ScreenHeight)
	if err != nil {
		_ = renderer.Destroy()
		_ = window.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("failed to create sdl texture: %w", err)
	}
	slog.Debug("window: create texture")

	return &Window{
		window:          window,
		renderer:        renderer,
		texture:         texture,
		backBuffer:      make([]uint32, vm.ScreenSize),
		backBufferPitch: vm.ScreenWidth * int(unsafe.Sizeof(uint32(0))),
		pacer:           hal.NewPacer(hal.FrameRate),
	}, nil
}

func (w *Window) Shutdown() {
	if err := w.texture.Destroy(); err != nil {
		slog.Error("failed to destroy sdl texture", "err", err)
	}

	if err := w.renderer.Destroy(); err != nil {
		slog.Error("failed to destroy sdl renderer", "err", err)
	}

	if err := w.window.Destroy(); err != nil {
		slog.Error("failed to destroy sdl window", "err", err)
	}

	sdl.Quit()
}

// ReadInput drains pending window events and returns the keys held down
// right now. Closing the window yields hal.ErrQuit, Backspace hal.ErrReboot.
func (w *Window) ReadInput() (vm.Keypad, error) {
	for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
		switch e.GetType() {
		case sdl.QUIT:
			slog.Debug("window: exit requested")
			return vm.Keypad{}, hal.ErrQuit

		case sdl.KEYDOWN:
			if e.(*sdl.KeyboardEvent).Keysym.Scancode == sdl.SCANCODE_BACKSPACE {
				slog.Debug("window: reboot requested")
				return vm.Keypad{}, hal.ErrReboot
			}
		}
	}

	var keys vm.Keypad
	state := sdl.GetKeyboardState()
	for key, scancode := range scancodes {
		if int(scancode) < len(state) && state[scancode] != 0 {
			keys.Press(vm.Key(key))
		}
	}

	return keys, nil
}

func (w *Window) Draw(gfx []uint8) error {
	const (
		bgColor = uint32(0x000000)
		fgColor = uint32(0xbea700)
	)

	for i := range w.backBuffer {
		color := bgColor
		if gfx[i] != 0 {
			color = fgColor
		}

		w.backBuffer[i] = color
	}

	backBufferPtr := unsafe.Pointer(&w.backBuffer[0])
	if err := w.texture.Update(nil, backBufferPtr, w.backBufferPitch); err != nil {
		return fmt.Errorf("failed to update sdl texture: %w", err)
	}

	if err := w.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear sdl renderer: %w", err)
	}

	if err := w.renderer.Copy(w.texture, nil, nil); err != nil {
		return fmt.Errorf("failed to copy sdl texture to renderer: %w", err)
	}

	w.renderer.Present()
	return nil
}

func (w *Window) WaitForNextFrame() error {
	w.pacer.Wait()
	return nil
}
