package vm

import (
	"context"
	"fmt"
	"log/slog"
)

// Op identifies one of the canonical CHIP-8 instruction forms.
type Op uint8

const (
	OpUnknown Op = iota
	OpSYS        // 0NNN
	OpCLS        // 00E0
	OpRET        // 00EE
	OpJP         // 1NNN
	OpCALL       // 2NNN
	OpSEByte     // 3XKK
	OpSNEByte    // 4XKK
	OpSEReg      // 5XY0
	OpLDByte     // 6XKK
	OpADDByte    // 7XKK
	OpLDReg      // 8XY0
	OpOR         // 8XY1
	OpAND        // 8XY2
	OpXOR        // 8XY3
	OpADDReg     // 8XY4
	OpSUB        // 8XY5
	OpSHR        // 8XY6
	OpSUBN       // 8XY7
	OpSHL        // 8XYE
	OpSNEReg     // 9XY0
	OpLDI        // ANNN
	OpJPV0       // BNNN
	OpRND        // CXKK
	OpDRW        // DXYN
	OpSKP        // EX9E
	OpSKNP       // EXA1
	OpLDVxDT     // FX07
	OpLDVxK      // FX0A
	OpLDDTVx     // FX15
	OpLDSTVx     // FX18
	OpADDI       // FX1E
	OpLDF        // FX29
	OpLDB        // FX33
	OpLDIVx      // FX55
	OpLDVxI      // FX65

	opCount
)

// Instruction is a decoded opcode with its operand fields pre-extracted.
type Instruction struct {
	Op     Op
	Opcode uint16
	X      uint8  // second nibble
	Y      uint8  // third nibble
	N      uint8  // low nibble
	KK     uint8  // low byte
	NNN    uint16 // low 12 bits
}

// Decode maps a raw opcode to its instruction form. Encodings outside the
// canonical set decode to OpUnknown.
func Decode(opcode uint16) Instruction {
	return Instruction{
		Op:     decodeOp(opcode),
		Opcode: opcode,
		X:      uint8((opcode & 0x0F00) >> 8),
		Y:      uint8((opcode & 0x00F0) >> 4),
		N:      uint8(opcode & 0x000F),
		KK:     uint8(opcode & 0x00FF),
		NNN:    opcode & 0x0FFF,
	}
}

func decodeOp(opcode uint16) Op {
	switch opcode & 0xF000 {
	case 0x0000:
		switch opcode {
		case 0x00E0:
			// 00E0 - Clear screen
			return OpCLS

		case 0x00EE:
			// 00EE - Return from subroutine
			return OpRET
		}

		// 0NNN - Calls machine code routine at NNN
		return OpSYS

	case 0x1000:
		// 1NNN - Jumps to address NNN
		return OpJP

	case 0x2000:
		// 2NNN - Calls subroutine at NNN
		return OpCALL

	case 0x3000:
		// 3XNN - Skips the next instruction if VX equals NN
		return OpSEByte

	case 0x4000:
		// 4XNN - Skips the next instruction if VX does not equal NN
		return OpSNEByte

	case 0x5000:
		// 5XY0 - Skips the next instruction if VX equals VY
		if opcode&0x000F == 0 {
			return OpSEReg
		}

	case 0x6000:
		// 6XNN - Sets VX to NN
		return OpLDByte

	case 0x7000:
		// 7XNN - Adds NN to VX
		return OpADDByte

	case 0x8000:
		// 8XY_
		switch opcode & 0x000F {
		case 0x0000:
			// 8XY0 - Sets VX to the value of VY
			return OpLDReg

		case 0x0001:
			// 8XY1 - Sets VX to (VX OR VY)
			return OpOR

		case 0x0002:
			// 8XY2 - Sets VX to (VX AND VY)
			return OpAND

		case 0x0003:
			// 8XY3 - Sets VX to (VX XOR VY)
			return OpXOR

		case 0x0004:
			// 8XY4 - Adds VY to VX. VF is set to 1 when there's a carry, and to 0 when there isn't.
			return OpADDReg

		case 0x0005:
			// 8XY5 - VY is subtracted from VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return OpSUB

		case 0x0006:
			// 8XY6 - Shifts VX right by one. VF is set to the value of the least significant bit of VX before the shift.
			return OpSHR

		case 0x0007:
			// 8XY7 - Sets VX to VY minus VX. VF is set to 0 when there's a borrow, and 1 when there isn't.
			return OpSUBN

		case 0x000E:
			// 8XYE - Shifts VX left by one. VF is set to the value of the most significant bit of VX before the shift.
			return OpSHL
		}

	case 0x9000:
		// 9XY0 - Skips the next instruction if VX doesn't equal VY
		if opcode&0x000F == 0 {
			return OpSNEReg
		}

	case 0xA000:
		// ANNN - Sets I to the address NNN
		return OpLDI

	case 0xB000:
		// BNNN - Jumps to the address NNN plus V0
		return OpJPV0

	case 0xC000:
		// CXNN - Sets VX to a random number, masked by NN
		return OpRND

	case 0xD000:
		// DXYN - Draws an 8xN sprite from memory at I to (VX, VY)
		return OpDRW

	case 0xE000:
		switch opcode & 0x00FF {
		case 0x009E:
			// EX9E - Skips the next instruction if the key stored in VX is pressed
			return OpSKP

		case 0x00A1:
			// EXA1 - Skips the next instruction if the key stored in VX isn't pressed
			return OpSKNP
		}

	case 0xF000:
		switch opcode & 0x00FF {
		case 0x0007:
			// FX07 - Sets VX to the value of the delay timer
			return OpLDVxDT

		case 0x000A:
			// FX0A - A key press is awaited, and then stored in VX
			return OpLDVxK

		case 0x0015:
			// FX15 - Sets the delay timer to VX
			return OpLDDTVx

		case 0x0018:
			// FX18 - Sets the sound timer to VX
			return OpLDSTVx

		case 0x001E:
			// FX1E - Adds VX to I
			return OpADDI

		case 0x0029:
			// FX29 - Sets I to the location of the font sprite for the digit in VX
			return OpLDF

		case 0x0033:
			// FX33 - Stores the BCD representation of VX at I, I+1 and I+2
			return OpLDB

		case 0x0055:
			// FX55 - Stores V0 to VX in memory starting at address I
			return OpLDIVx

		case 0x0065:
			// FX65 - Reads memory starting at address I into V0...VX
			return OpLDVxI
		}
	}

	return OpUnknown
}

func (in Instruction) String() string {
	return instructions[in.Op].Name(in)
}

func (vm *VM) executeOpcode(opcode uint16) error {
	instr := Decode(opcode)

	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		slog.Debug(
			"exec",
			"pc", fmt.Sprintf("0x%04x", (vm.pc-InstructionSize)&addressMask),
			"opcode", fmt.Sprintf("0x%04x", opcode),
			"instr", instr.String(),
		)
	}

	return instructions[instr.Op].Execute(vm, instr)
}

type instruction struct {
	Name    func(in Instruction) string
	Execute func(vm *VM, in Instruction) error
}

// skipIf advances past the next instruction when cond holds.
func (vm *VM) skipIf(cond bool) {
	if cond {
		vm.pc = (vm.pc + InstructionSize) & addressMask
	}
}

func (vm *VM) push(addr uint16) error {
	if int(vm.sp) >= StackSize {
		return fmt.Errorf("%w: call depth %d", ErrStackOverflow, StackSize+1)
	}
	vm.stack[vm.sp] = addr
	vm.sp++
	return nil
}

func (vm *VM) pop() (uint16, error) {
	if vm.sp == 0 {
		return 0, ErrStackUnderflow
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

func (vm *VM) setFlag(set bool) {
	if set {
		vm.registers[0x0F] = 1
	} else {
		vm.registers[0x0F] = 0
	}
}

var instructions = [opCount]instruction{
	OpUnknown: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("DW #%04X", in.Opcode)
		},
		Execute: func(vm *VM, in Instruction) error {
			return fmt.Errorf("%w 0x%04X", ErrUnknownOpcode, in.Opcode)
		},
	},

	// 0nnn	sys nnn	machine code routine, not available outside the RCA 1802
	OpSYS: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SYS #%03X", in.NNN)
		},
		Execute: func(vm *VM, in Instruction) error {
			return fmt.Errorf("%w 0x%04X: machine code routines are not supported", ErrUnknownOpcode, in.Opcode)
		},
	},

	// 00E0	cls	Clear the screen
	OpCLS: {
		Name: func(in Instruction) string {
			return "CLS"
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.gfx = [ScreenSize]uint8{}
			vm.drawFlag = true
			return nil
		},
	},

	// 00EE	ret	return from subroutine call
	OpRET: {
		Name: func(in Instruction) string {
			return "RET"
		},
		Execute: func(vm *VM, in Instruction) error {
			pc, err := vm.pop()
			if err != nil {
				return err
			}
			vm.pc = pc
			return nil
		},
	},

	// 1nnn	jp nnn	jump to address nnn
	OpJP: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("JP #%03X", in.NNN)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.pc = in.NNN
			return nil
		},
	},

	// 2nnn	call nnn	jump to subroutine at address nnn
	OpCALL: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("CALL #%03X", in.NNN)
		},
		Execute: func(vm *VM, in Instruction) error {
			if err := vm.push(vm.pc); err != nil {
				return err
			}
			vm.pc = in.NNN
			return nil
		},
	},

	// 3xkk	se vx,kk	skip if register x = constant
	OpSEByte: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SE V%X, #%02X", in.X, in.KK)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.skipIf(vm.registers[in.X] == in.KK)
			return nil
		},
	},

	// 4xkk	sne vx,kk	skip if register x <> constant
	OpSNEByte: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SNE V%X, #%02X", in.X, in.KK)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.skipIf(vm.registers[in.X] != in.KK)
			return nil
		},
	},

	// 5xy0	se vx,vy	skip if register x = register y
	OpSEReg: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SE V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.skipIf(vm.registers[in.X] == vm.registers[in.Y])
			return nil
		},
	},

	// 6xkk	ld vx,kk	move constant to register x
	OpLDByte: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD V%X, #%02X", in.X, in.KK)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] = in.KK
			return nil
		},
	},

	// 7xkk	add vx,kk	add constant to register x, no carry generated
	OpADDByte: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("ADD V%X, #%02X", in.X, in.KK)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] += in.KK
			return nil
		},
	},

	// 8xy0	ld vx,vy	move register y into register x
	OpLDReg: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] = vm.registers[in.Y]
			return nil
		},
	},

	// 8xy1	or vx,vy	or register y into register x
	OpOR: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("OR V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] |= vm.registers[in.Y]
			return nil
		},
	},

	// 8xy2	and vx,vy	and register y into register x
	OpAND: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("AND V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] &= vm.registers[in.Y]
			return nil
		},
	},

	// 8xy3	xor vx,vy	exclusive or register y into register x
	OpXOR: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("XOR V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] ^= vm.registers[in.Y]
			return nil
		},
	},

	// 8xy4	add vx,vy	add register y to register x, carry in vf
	OpADDReg: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("ADD V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			sum := uint16(vm.registers[in.X]) + uint16(vm.registers[in.Y])

			vm.registers[in.X] = uint8(sum)
			vm.setFlag(sum > 0xFF)
			return nil
		},
	},

	// 8xy5	sub vx,vy	subtract register y from register x, vf set to 0 on borrow
	OpSUB: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SUB V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			x := vm.registers[in.X]
			y := vm.registers[in.Y]

			vm.registers[in.X] = x - y
			vm.setFlag(x >= y)
			return nil
		},
	},

	// 8xy6	shr vx	shift register x right, bit 0 goes into register vf
	OpSHR: {
		Name: func(in Instruction) string {
			if in.Y != 0 {
				return fmt.Sprintf("SHR V%X, V%X", in.X, in.Y)
			}
			return fmt.Sprintf("SHR V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			x := vm.registers[in.X]

			vm.registers[in.X] = x >> 1
			vm.registers[0x0F] = x & 0x01
			return nil
		},
	},

	// 8xy7	subn vx,vy	subtract register x from register y, result in x, vf set to 0 on borrow
	OpSUBN: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SUBN V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			x := vm.registers[in.X]
			y := vm.registers[in.Y]

			vm.registers[in.X] = y - x
			vm.setFlag(y >= x)
			return nil
		},
	},

	// 8xye	shl vx	shift register x left, bit 7 goes into register vf
	OpSHL: {
		Name: func(in Instruction) string {
			if in.Y != 0 {
				return fmt.Sprintf("SHL V%X, V%X", in.X, in.Y)
			}
			return fmt.Sprintf("SHL V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			x := vm.registers[in.X]

			vm.registers[in.X] = x << 1
			vm.registers[0x0F] = x >> 7
			return nil
		},
	},

	// 9xy0	sne vx,vy	skip if register x <> register y
	OpSNEReg: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SNE V%X, V%X", in.X, in.Y)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.skipIf(vm.registers[in.X] != vm.registers[in.Y])
			return nil
		},
	},

	// annn	ld i,nnn	load index register with constant nnn
	OpLDI: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD I, #%03X", in.NNN)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.index = in.NNN
			return nil
		},
	},

	// bnnn	jp v0,nnn	jump to address nnn + register v0
	OpJPV0: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("JP V0, #%03X", in.NNN)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.pc = (in.NNN + uint16(vm.registers[0])) & addressMask
			return nil
		},
	},

	// cxkk	rnd vx,kk	register x = random byte masked by kk
	OpRND: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("RND V%X, #%02X", in.X, in.KK)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] = uint8(vm.rng.Uint32()) & in.KK
			return nil
		},
	},

	// dxyn	drw vx,vy,n	draw sprite at screen location vx,vy height n
	// Sprites stored in memory at location in index register, 8 bits wide.
	// Wraps around the screen.
	// If when drawn, clears a pixel, vf is set to 1 otherwise it is zero.
	// All drawing is xor drawing (e.g. it toggles the screen pixels)
	OpDRW: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("DRW V%X, V%X, %d", in.X, in.Y, in.N)
		},
		Execute: func(vm *VM, in Instruction) error {
			xLocation, yLocation := uint16(vm.registers[in.X]), uint16(vm.registers[in.Y])

			hasCollision := false
			for y := uint16(0); y < uint16(in.N); y++ {
				pixel := vm.memory[(vm.index+y)&addressMask]

				const width = uint16(8)
				for x := uint16(0); x < width; x++ {
					mask := uint8(0x80 >> x)
					if pixel&mask == 0 {
						continue
					}

					screenAddr := getScreenAddr(x+xLocation, y+yLocation)
					if vm.gfx[screenAddr] != 0 {
						hasCollision = true
					}

					vm.gfx[screenAddr] ^= 1
				}
			}

			vm.setFlag(hasCollision)
			vm.drawFlag = true
			return nil
		},
	},

	// ex9e	skp vx	skip if key (register x) pressed
	OpSKP: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SKP V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.skipIf(vm.pressed(vm.registers[in.X]))
			return nil
		},
	},

	// exa1	sknp vx	skip if key (register x) not pressed
	OpSKNP: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("SKNP V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.skipIf(!vm.pressed(vm.registers[in.X]))
			return nil
		},
	},

	// fx07	ld vx,dt	get delay timer into register x
	OpLDVxDT: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD V%X, DT", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.registers[in.X] = vm.delayTimer
			return nil
		},
	},

	// fx0a	ld vx,k	wait for a keypress, put key in register x
	OpLDVxK: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD V%X, K", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.beginKeyWait(in.X)
			return nil
		},
	},

	// fx15	ld dt,vx	set the delay timer to register x
	OpLDDTVx: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD DT, V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.delayTimer = vm.registers[in.X]
			return nil
		},
	},

	// fx18	ld st,vx	set the sound timer to register x
	OpLDSTVx: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD ST, V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.soundTimer = vm.registers[in.X]
			return nil
		},
	},

	// fx1e	add i,vx	add register x to the index register
	OpADDI: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("ADD I, V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			vm.index += uint16(vm.registers[in.X])
			return nil
		},
	},

	// fx29	ld f,vx	point I to the sprite for hexadecimal character in register x
	OpLDF: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD F, V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			digit := uint16(vm.registers[in.X] & 0x0F)
			vm.index = FontStart + digit*FontGlyphSize
			return nil
		},
	},

	// fx33	ld b,vx	store the bcd representation of register x at I, I+1, I+2
	OpLDB: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD B, V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			x := vm.registers[in.X]

			vm.memory[vm.index&addressMask] = x / 100
			vm.memory[(vm.index+1)&addressMask] = (x / 10) % 10
			vm.memory[(vm.index+2)&addressMask] = x % 10
			return nil
		},
	},

	// fx55	ld [i],vx	store registers v0-vx at location I onwards, I unchanged
	OpLDIVx: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD [I], V%X", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			for i := uint16(0); i <= uint16(in.X); i++ {
				vm.memory[(vm.index+i)&addressMask] = vm.registers[i]
			}
			return nil
		},
	},

	// fx65	ld vx,[i]	load registers v0-vx from location I onwards, I unchanged
	OpLDVxI: {
		Name: func(in Instruction) string {
			return fmt.Sprintf("LD V%X, [I]", in.X)
		},
		Execute: func(vm *VM, in Instruction) error {
			for i := uint16(0); i <= uint16(in.X); i++ {
				vm.registers[i] = vm.memory[(vm.index+i)&addressMask]
			}
			return nil
		},
	},
}

func getScreenAddr(x, y uint16) uint16 {
	x %= ScreenWidth
	y %= ScreenHeight

	return ScreenWidth*y + x
}
