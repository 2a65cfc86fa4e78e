// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import "fmt"

// Kind is the lexical class of a token.
type Kind int

const (
	EOF Kind = iota
	Ident
	String
	Number
	LBrace
	RBrace
	LBracket
	RBracket
	Colon
	Comma
	Arrow
)

var kindNames = [...]string{
	EOF:      "end of input",
	Ident:    "identifier",
	String:   "string",
	Number:   "number",
	LBrace:   `"{"`,
	RBrace:   `"}"`,
	LBracket: `"["`,
	RBracket: `"]"`,
	Colon:    `":"`,
	Comma:    `","`,
	Arrow:    `"->"`,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Pos is a source position. Offset is in bytes; Line and Col are 1-based.
type Pos struct {
	Offset int
	Line   int
	Col    int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

// Token is one lexeme. For strings Text holds the unquoted value.
type Token struct {
	Kind Kind
	Text string
	Pos  Pos
}

func (t Token) String() string {
	switch t.Kind {
	case EOF:
		return t.Kind.String()
	case Ident, Number:
		return fmt.Sprintf("%s %s", t.Kind, t.Text)
	case String:
		return fmt.Sprintf("%s %q", t.Kind, t.Text)
	default:
		return t.Kind.String()
	}
}
