package vm

import (
	"fmt"
	"io"
)

// Line is one disassembled word of a program image.
type Line struct {
	Addr  uint16
	Bytes []byte
	Text  string
}

// Disassemble decodes rom as if it were loaded at origin. A trailing odd byte
// is rendered as a DB directive.
func Disassemble(rom []byte, origin uint16) []Line {
	lines := make([]Line, 0, (len(rom)+1)/2)

	for i := 0; i < len(rom); i += InstructionSize {
		addr := origin + uint16(i)

		if i+1 >= len(rom) {
			lines = append(lines, Line{
				Addr:  addr,
				Bytes: rom[i : i+1],
				Text:  fmt.Sprintf("DB #%02X", rom[i]),
			})
			break
		}

		opcode := uint16(rom[i])<<8 | uint16(rom[i+1])
		lines = append(lines, Line{
			Addr:  addr,
			Bytes: rom[i : i+2],
			Text:  Decode(opcode).String(),
		})
	}

	return lines
}

// WriteListing prints lines as "ADDR  WORD  TEXT" rows.
func WriteListing(w io.Writer, lines []Line) error {
	for _, l := range lines {
		word := fmt.Sprintf("%02X", l.Bytes[0])
		if len(l.Bytes) > 1 {
			word += fmt.Sprintf("%02X", l.Bytes[1])
		}

		if _, err := fmt.Fprintf(w, "%04X  %-4s  %s\n", l.Addr, word, l.Text); err != nil {
			return err
		}
	}
	return nil
}
