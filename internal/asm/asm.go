package asm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kapitanov/chip8/internal/vm"
)

var (
	ErrSyntax         = errors.New("syntax error")
	ErrUnknownLabel   = errors.New("unknown label")
	ErrDuplicateLabel = errors.New("duplicate label")
	ErrOperands       = errors.New("invalid operands")
	ErrRange          = errors.New("value out of range")
)

// Error reports the source line an assembly error occurred on.
type Error struct {
	Line int
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type sourceLine struct {
	number int
	stmt   *statement
}

type assembler struct {
	labels map[string]uint16
	lines  []sourceLine
}

// Assemble translates src into a program image loaded at vm.ProgramStart.
func Assemble(src string) ([]byte, error) {
	return AssembleReader(strings.NewReader(src))
}

func AssembleReader(r io.Reader) ([]byte, error) {
	a := &assembler{labels: make(map[string]uint16)}

	if err := a.scan(r); err != nil {
		return nil, err
	}

	var rom []byte
	for _, l := range a.lines {
		bs, err := a.encode(l.stmt)
		if err != nil {
			return nil, &Error{Line: l.number, Err: err}
		}
		rom = append(rom, bs...)
	}

	if len(rom) > vm.MaxProgramSize {
		return nil, fmt.Errorf("%w: program is %d bytes", vm.ErrTooLarge, len(rom))
	}
	return rom, nil
}

// scan parses every line and assigns addresses to labels and statements.
func (a *assembler) scan(r io.Reader) error {
	addr := vm.ProgramStart

	s := bufio.NewScanner(r)
	for n := 1; s.Scan(); n++ {
		text := s.Text()
		if i := strings.IndexByte(text, ';'); i >= 0 {
			text = text[:i]
		}
		if strings.TrimSpace(text) == "" {
			continue
		}

		parsed, err := parser.ParseString("", text)
		if err != nil {
			return &Error{Line: n, Err: fmt.Errorf("%w: %v", ErrSyntax, err)}
		}

		if parsed.Label != nil {
			name := *parsed.Label
			if _, ok := a.labels[name]; ok {
				return &Error{Line: n, Err: fmt.Errorf("%w %q", ErrDuplicateLabel, name)}
			}
			a.labels[name] = addr
		}

		if parsed.Statement == nil {
			continue
		}

		a.lines = append(a.lines, sourceLine{number: n, stmt: parsed.Statement})
		addr += statementSize(parsed.Statement)
	}

	return s.Err()
}

func statementSize(stmt *statement) uint16 {
	switch strings.ToUpper(stmt.Mnemonic) {
	case "DB":
		return uint16(len(stmt.Operands))
	case "DW":
		return uint16(2 * len(stmt.Operands))
	default:
		return vm.InstructionSize
	}
}

// Operand kinds, used to build signatures such as "R,N".
const (
	kindNumber   = 'N'
	kindRegister = 'R'
	kindI        = 'I'
	kindIndirect = '['
	kindDT       = 'D'
	kindST       = 'S'
	kindK        = 'K'
	kindF        = 'F'
	kindB        = 'B'
)

type arg struct {
	kind  byte
	value uint16
}

func (a *assembler) resolve(op *operand) (arg, error) {
	switch {
	case op.Indirect:
		return arg{kind: kindIndirect}, nil

	case op.Number != nil:
		v, err := parseNumber(*op.Number)
		if err != nil {
			return arg{}, err
		}
		return arg{kind: kindNumber, value: v}, nil
	}

	name := *op.Name
	upper := strings.ToUpper(name)

	if len(upper) == 2 && upper[0] == 'V' {
		if r, err := strconv.ParseUint(upper[1:], 16, 8); err == nil {
			return arg{kind: kindRegister, value: uint16(r)}, nil
		}
	}

	switch upper {
	case "I":
		return arg{kind: kindI}, nil
	case "DT":
		return arg{kind: kindDT}, nil
	case "ST":
		return arg{kind: kindST}, nil
	case "K":
		return arg{kind: kindK}, nil
	case "F":
		return arg{kind: kindF}, nil
	case "B":
		return arg{kind: kindB}, nil
	}

	addr, ok := a.labels[name]
	if !ok {
		return arg{}, fmt.Errorf("%w %q", ErrUnknownLabel, name)
	}
	return arg{kind: kindNumber, value: addr}, nil
}

func parseNumber(s string) (uint16, error) {
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.HasPrefix(s, "#"), strings.HasPrefix(s, "$"):
		s, base = s[1:], 16
	case strings.HasPrefix(s, "%"):
		s, base = s[1:], 2
	}

	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrRange, s)
	}
	return uint16(v), nil
}

func (a *assembler) encode(stmt *statement) ([]byte, error) {
	args := make([]arg, 0, len(stmt.Operands))
	kinds := make([]string, 0, len(stmt.Operands))
	for _, op := range stmt.Operands {
		v, err := a.resolve(op)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		kinds = append(kinds, string(v.kind))
	}

	mnemonic := strings.ToUpper(stmt.Mnemonic)
	signature := strings.Join(kinds, ",")

	switch mnemonic {
	case "DB":
		return encodeData(args, 1)
	case "DW":
		return encodeData(args, 2)
	}

	opcode, err := encodeInstruction(mnemonic, signature, args)
	if err != nil {
		return nil, err
	}
	return []byte{byte(opcode >> 8), byte(opcode)}, nil
}

func encodeData(args []arg, width int) ([]byte, error) {
	limit := uint16(0xFF)
	if width == 2 {
		limit = 0xFFFF
	}

	out := make([]byte, 0, len(args)*width)
	for _, v := range args {
		if v.kind != kindNumber {
			return nil, fmt.Errorf("%w: data must be numeric", ErrOperands)
		}
		if v.value > limit {
			return nil, fmt.Errorf("%w: 0x%X", ErrRange, v.value)
		}
		if width == 2 {
			out = append(out, byte(v.value>>8))
		}
		out = append(out, byte(v.value))
	}
	return out, nil
}

func encodeInstruction(mnemonic, signature string, args []arg) (uint16, error) {
	value := func(i int, limit uint16) (uint16, error) {
		if args[i].value > limit {
			return 0, fmt.Errorf("%w: 0x%X exceeds 0x%X", ErrRange, args[i].value, limit)
		}
		return args[i].value, nil
	}
	x := func() uint16 { return args[0].value << 8 }
	y := func(i int) uint16 { return args[i].value << 4 }

	switch mnemonic + " " + signature {
	case "CLS ":
		return 0x00E0, nil
	case "RET ":
		return 0x00EE, nil

	case "SYS N", "JP N", "CALL N", "LD I,N":
		nnn, err := value(len(args)-1, 0x0FFF)
		if err != nil {
			return 0, err
		}
		base := map[string]uint16{"SYS": 0x0000, "JP": 0x1000, "CALL": 0x2000, "LD": 0xA000}[mnemonic]
		return base | nnn, nil

	case "JP R,N":
		if args[0].value != 0 {
			return 0, fmt.Errorf("%w: JP with offset only takes V0", ErrOperands)
		}
		nnn, err := value(1, 0x0FFF)
		if err != nil {
			return 0, err
		}
		return 0xB000 | nnn, nil

	case "SE R,N", "SNE R,N", "LD R,N", "ADD R,N", "RND R,N":
		kk, err := value(1, 0xFF)
		if err != nil {
			return 0, err
		}
		base := map[string]uint16{"SE": 0x3000, "SNE": 0x4000, "LD": 0x6000, "ADD": 0x7000, "RND": 0xC000}[mnemonic]
		return base | x() | kk, nil

	case "SE R,R":
		return 0x5000 | x() | y(1), nil
	case "SNE R,R":
		return 0x9000 | x() | y(1), nil

	case "LD R,R", "OR R,R", "AND R,R", "XOR R,R", "ADD R,R", "SUB R,R", "SHR R,R", "SUBN R,R", "SHL R,R":
		n := map[string]uint16{"LD": 0x0, "OR": 0x1, "AND": 0x2, "XOR": 0x3, "ADD": 0x4, "SUB": 0x5, "SHR": 0x6, "SUBN": 0x7, "SHL": 0xE}[mnemonic]
		return 0x8000 | x() | y(1) | n, nil

	case "SHR R":
		return 0x8006 | x(), nil
	case "SHL R":
		return 0x800E | x(), nil

	case "DRW R,R,N":
		n, err := value(2, 0x0F)
		if err != nil {
			return 0, err
		}
		return 0xD000 | x() | y(1) | n, nil

	case "SKP R":
		return 0xE09E | x(), nil
	case "SKNP R":
		return 0xE0A1 | x(), nil

	case "LD R,D":
		return 0xF007 | x(), nil
	case "LD R,K":
		return 0xF00A | x(), nil
	case "LD D,R":
		return 0xF015 | args[1].value<<8, nil
	case "LD S,R":
		return 0xF018 | args[1].value<<8, nil
	case "ADD I,R":
		return 0xF01E | args[1].value<<8, nil
	case "LD F,R":
		return 0xF029 | args[1].value<<8, nil
	case "LD B,R":
		return 0xF033 | args[1].value<<8, nil
	case "LD [,R":
		return 0xF055 | args[1].value<<8, nil
	case "LD R,[":
		return 0xF065 | x(), nil
	}

	if signature == "" {
		return 0, fmt.Errorf("%w: %s takes operands or is unknown", ErrOperands, mnemonic)
	}
	return 0, fmt.Errorf("%w: %s %s", ErrOperands, mnemonic, signature)
}
