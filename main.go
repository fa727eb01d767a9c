package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/kapitanov/chip8/internal/asm"
	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/hal/term"
	"github.com/kapitanov/chip8/internal/hal/window"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/spf13/cobra"
	"github.com/sqweek/dialog"
)

const (
	backendSDL  = "sdl"
	backendTerm = "term"
)

// display is what both backends provide on top of vm.HAL.
type display interface {
	vm.HAL
	Shutdown()
}

// SDL must be driven from the main thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s [PATH_TO_ROM_FILE]", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	verbose := cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	backend := cmd.Flags().StringP("backend", "b", backendSDL, "display backend: sdl or term")
	speed := cmd.Flags().IntP("speed", "s", vm.DefaultSpeed, "instructions executed per 60 Hz frame")
	scale := cmd.Flags().Int("scale", window.DefaultScale, "window pixels per CHIP-8 pixel (sdl backend)")
	seed := cmd.Flags().Uint64("seed", 0, "seed for the RND instruction, 0 picks a random seed")

	cmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		loggerOpts := &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}
		if *verbose {
			loggerOpts.Level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, loggerOpts)))
	}

	cmd.RunE = func(_ *cobra.Command, args []string) error {
		path, err := romPath(args)
		if err != nil {
			return err
		}

		bs, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to load file %q: %w: %w", path, vm.ErrNotFound, err)
		}

		var opts []vm.Option
		if *seed != 0 {
			opts = append(opts, vm.WithSeed(*seed))
		}
		machine := vm.New(opts...)

		// Reject oversized ROMs before opening a window.
		if _, err = machine.LoadROM(bs); err != nil {
			return fmt.Errorf("unable to load file %q: %w", path, err)
		}

		h, err := newDisplay(*backend, *scale, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("unable to initialize %s backend: %w", *backend, err)
		}
		defer h.Shutdown()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg := vm.RunConfig{Speed: *speed}
		for {
			if _, err = machine.Boot(bs); err != nil {
				return err
			}

			err = machine.Run(ctx, h, cfg)

			if errors.Is(err, hal.ErrReboot) {
				slog.Info("reboot")
				continue
			}

			if errors.Is(err, hal.ErrQuit) || errors.Is(err, context.Canceled) {
				return nil
			}

			return err
		}
	}

	cmd.AddCommand(newDisasmCommand(), newAsmCommand())

	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// romPath returns the ROM named on the command line, or asks for one.
func romPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	path, err := dialog.File().Title("Open CHIP-8 ROM").Filter("CHIP-8 ROM", "ch8", "c8").Filter("All files", "*").Load()
	if err != nil {
		if errors.Is(err, dialog.ErrCancelled) {
			return "", errors.New("no ROM file given")
		}
		return "", fmt.Errorf("unable to select ROM file: %w", err)
	}
	return path, nil
}

func newDisplay(backend string, scale int, title string) (display, error) {
	switch backend {
	case backendSDL:
		return window.New(window.Options{Title: "CHIP-8 - " + title, Scale: scale})
	case backendTerm:
		return term.New()
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func newDisasmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disasm PATH_TO_ROM_FILE",
		Short: "Print a listing of a ROM",
		Args:  cobra.ExactArgs(1),
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		bs, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("unable to load file %q: %w: %w", args[0], vm.ErrNotFound, err)
		}
		if len(bs) > vm.MaxProgramSize {
			return fmt.Errorf("unable to load file %q: %w", args[0], vm.ErrTooLarge)
		}

		return vm.WriteListing(cmd.OutOrStdout(), vm.Disassemble(bs, vm.ProgramStart))
	}

	return cmd
}

func newAsmCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asm SOURCE_FILE",
		Short: "Assemble a source file into a ROM",
		Args:  cobra.ExactArgs(1),
	}

	output := cmd.Flags().StringP("output", "o", "", "output ROM path (default: source with .ch8 extension)")

	cmd.RunE = func(_ *cobra.Command, args []string) error {
		src, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("unable to open source %q: %w", args[0], err)
		}
		defer src.Close()

		rom, err := asm.AssembleReader(src)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		out := *output
		if out == "" {
			out = args[0][:len(args[0])-len(filepath.Ext(args[0]))] + ".ch8"
		}

		if err := os.WriteFile(out, rom, 0o644); err != nil {
			return fmt.Errorf("unable to write ROM %q: %w", out, err)
		}

		slog.Info("assembled", "src", args[0], "out", out, "n", len(rom))
		return nil
	}

	return cmd
}
