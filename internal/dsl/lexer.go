// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"strconv"
	"unicode/utf8"
)

const excerptLen = 16

type lexer struct {
	src  string
	off  int
	line int
	col  int
}

// Lex splits src into tokens. The returned slice always ends with an EOF token.
func Lex(src string) ([]Token, error) {
	lx := &lexer{src: src, line: 1, col: 1}
	var toks []Token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == EOF {
			return toks, nil
		}
	}
}

func (lx *lexer) pos() Pos { return Pos{Offset: lx.off, Line: lx.line, Col: lx.col} }

func (lx *lexer) peek(n int) byte {
	if lx.off+n < len(lx.src) {
		return lx.src[lx.off+n]
	}
	return 0
}

func (lx *lexer) advance(n int) {
	for i := 0; i < n && lx.off < len(lx.src); i++ {
		if lx.src[lx.off] == '\n' {
			lx.line++
			lx.col = 1
		} else {
			lx.col++
		}
		lx.off++
	}
}

func (lx *lexer) errorf(at Pos, msg string) *LexError {
	end := at.Offset + excerptLen
	if end > len(lx.src) {
		end = len(lx.src)
	}
	return &LexError{Pos: at, Msg: msg, Excerpt: lx.src[at.Offset:end]}
}

func (lx *lexer) skipSpace() {
	for lx.off < len(lx.src) {
		switch c := lx.src[lx.off]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			lx.advance(1)
		case c == '#':
			for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
				lx.advance(1)
			}
		default:
			return
		}
	}
}

func (lx *lexer) next() (Token, error) {
	lx.skipSpace()
	start := lx.pos()
	if lx.off >= len(lx.src) {
		return Token{Kind: EOF, Pos: start}, nil
	}
	c := lx.src[lx.off]
	single := func(k Kind) (Token, error) {
		lx.advance(1)
		return Token{Kind: k, Text: string(c), Pos: start}, nil
	}
	switch {
	case c == '{':
		return single(LBrace)
	case c == '}':
		return single(RBrace)
	case c == '[':
		return single(LBracket)
	case c == ']':
		return single(RBracket)
	case c == ':':
		return single(Colon)
	case c == ',':
		return single(Comma)
	case c == '-' && lx.peek(1) == '>':
		lx.advance(2)
		return Token{Kind: Arrow, Text: "->", Pos: start}, nil
	case c == '"':
		return lx.lexString(start)
	case isDigit(c) || (c == '-' && isDigit(lx.peek(1))):
		return lx.lexNumber(start)
	case isIdentStart(c):
		return lx.lexIdent(start), nil
	}
	r, _ := utf8.DecodeRuneInString(lx.src[lx.off:])
	return Token{}, lx.errorf(start, "unexpected character "+strconv.QuoteRune(r))
}

func (lx *lexer) lexString(start Pos) (Token, error) {
	i := lx.off + 1
	for i < len(lx.src) {
		switch lx.src[i] {
		case '\\':
			i += 2
			continue
		case '\n':
			return Token{}, lx.errorf(start, "newline in string")
		case '"':
			raw := lx.src[lx.off : i+1]
			val, err := strconv.Unquote(raw)
			if err != nil {
				return Token{}, lx.errorf(start, "invalid string escape")
			}
			lx.advance(len(raw))
			return Token{Kind: String, Text: val, Pos: start}, nil
		}
		i++
	}
	return Token{}, lx.errorf(start, "unterminated string")
}

func (lx *lexer) lexNumber(start Pos) (Token, error) {
	i := lx.off
	if lx.src[i] == '-' {
		i++
	}
	digits := func() int {
		n := 0
		for i < len(lx.src) && isDigit(lx.src[i]) {
			i++
			n++
		}
		return n
	}
	digits()
	if i < len(lx.src) && lx.src[i] == '.' {
		i++
		if digits() == 0 {
			return Token{}, lx.errorf(start, "malformed number")
		}
	}
	if i < len(lx.src) && (lx.src[i] == 'e' || lx.src[i] == 'E') {
		i++
		if i < len(lx.src) && (lx.src[i] == '+' || lx.src[i] == '-') {
			i++
		}
		if digits() == 0 {
			return Token{}, lx.errorf(start, "malformed number")
		}
	}
	if i < len(lx.src) && isIdentPart(lx.src[i]) {
		return Token{}, lx.errorf(start, "malformed number")
	}
	text := lx.src[lx.off:i]
	lx.advance(len(text))
	return Token{Kind: Number, Text: text, Pos: start}, nil
}

func (lx *lexer) lexIdent(start Pos) Token {
	i := lx.off
	for i < len(lx.src) {
		c := lx.src[i]
		if c == '-' && i+1 < len(lx.src) && lx.src[i+1] == '>' {
			break
		}
		if !isIdentPart(c) && c != '-' {
			break
		}
		i++
	}
	text := lx.src[lx.off:i]
	lx.advance(len(text))
	return Token{Kind: Ident, Text: text, Pos: start}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) || c == '.' }

// isIdent reports whether s lexes as a single identifier token.
func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			if i+1 < len(s) && s[i+1] == '>' {
				return false
			}
			continue
		}
		if !isIdentPart(c) {
			return false
		}
	}
	return true
}
