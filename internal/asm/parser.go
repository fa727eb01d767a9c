// Package asm assembles CHIP-8 source in the mnemonic syntax printed by the
// disassembler into a ROM image.
package asm

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// line is one source line: an optional label followed by an optional
// statement. Comments run from ';' to the end of the line.
type line struct {
	Pos lexer.Position

	Label     *string    `( @Ident ":" )?`
	Statement *statement `@@?`
}

type statement struct {
	Pos lexer.Position

	Mnemonic string     `@Ident`
	Operands []*operand `( @@ ( "," @@ )* )?`
}

type operand struct {
	Pos lexer.Position

	Indirect bool    `  @( "[" "I" "]" )`
	Number   *string `| @Number`
	Name     *string `| @Ident`
}

var asmLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "Number", Pattern: `(0[xX][0-9a-fA-F]+|[#$][0-9a-fA-F]+|%[01]+|[0-9]+)`},
	{Name: "Ident", Pattern: `[a-zA-Z_.][a-zA-Z0-9_.]*`},
	{Name: "Punct", Pattern: `[\[\],:]`},
})

var parser = participle.MustBuild[line](
	participle.Lexer(asmLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(2),
)
