// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

type nodeKind int

const (
	nodeString nodeKind = iota
	nodeNumber
	nodeIdent
	nodeObject
	nodeList
	nodeChain
	nodeBool
)

// node is the untyped syntax tree shared by the text and YAML front ends.
type node struct {
	kind    nodeKind
	tok     Token
	text    string
	members []member
	items   []*node
	chain   []string
}

type member struct {
	key Token
	val *node
}

func (n *node) describe() string {
	switch n.kind {
	case nodeString:
		return "string"
	case nodeNumber:
		return "number"
	case nodeIdent:
		return "identifier"
	case nodeObject:
		return "object"
	case nodeList:
		return "list"
	case nodeChain:
		return "link chain"
	case nodeBool:
		return "bool"
	}
	return "value"
}

type parser struct {
	toks []Token
	i    int
}

// Parse parses the text form of a pipeline definition and validates it.
// On any error no Definition is returned.
func Parse(src string) (*Definition, error) {
	toks, err := Lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	name, body, err := p.document()
	if err != nil {
		return nil, err
	}
	def, err := bind(name, body)
	if err != nil {
		return nil, err
	}
	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

func (p *parser) peek() Token { return p.toks[p.i] }

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Kind != EOF {
		p.i++
	}
	return t
}

func (p *parser) expect(kinds ...Kind) (Token, error) {
	t := p.peek()
	for _, k := range kinds {
		if t.Kind == k {
			return p.next(), nil
		}
	}
	return t, unexpected(t, kinds...)
}

func unexpected(t Token, kinds ...Kind) *ParseError {
	exp := make([]string, len(kinds))
	for i, k := range kinds {
		exp[i] = k.String()
	}
	return &ParseError{Token: t, Expected: exp}
}

func (p *parser) document() (Token, *node, error) {
	kw := p.peek()
	if kw.Kind != Ident || kw.Text != "pipeline" {
		return Token{}, nil, &ParseError{Token: kw, Expected: []string{`"pipeline"`}}
	}
	p.next()
	name, err := p.expect(Ident, String)
	if err != nil {
		return Token{}, nil, err
	}
	body, err := p.object()
	if err != nil {
		return Token{}, nil, err
	}
	if _, err := p.expect(EOF); err != nil {
		return Token{}, nil, err
	}
	return name, body, nil
}

func (p *parser) object() (*node, error) {
	open, err := p.expect(LBrace)
	if err != nil {
		return nil, err
	}
	n := &node{kind: nodeObject, tok: open}
	for {
		if p.peek().Kind == RBrace {
			p.next()
			return n, nil
		}
		key, err := p.expect(Ident, String, RBrace)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(Colon); err != nil {
			return nil, err
		}
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		if val.kind == nodeChain {
			return nil, &ParseError{Token: val.tok, Msg: "link chain outside of a list"}
		}
		n.members = append(n.members, member{key: key, val: val})
		sep, err := p.expect(Comma, RBrace)
		if err != nil {
			return nil, err
		}
		if sep.Kind == RBrace {
			return n, nil
		}
	}
}

func (p *parser) list() (*node, error) {
	open, err := p.expect(LBracket)
	if err != nil {
		return nil, err
	}
	n := &node{kind: nodeList, tok: open}
	for {
		if p.peek().Kind == RBracket {
			p.next()
			return n, nil
		}
		item, err := p.value()
		if err != nil {
			return nil, err
		}
		n.items = append(n.items, item)
		sep, err := p.expect(Comma, RBracket)
		if err != nil {
			return nil, err
		}
		if sep.Kind == RBracket {
			return n, nil
		}
	}
}

func (p *parser) value() (*node, error) {
	t := p.peek()
	switch t.Kind {
	case LBrace:
		return p.object()
	case LBracket:
		return p.list()
	case Number:
		p.next()
		return &node{kind: nodeNumber, tok: t, text: t.Text}, nil
	case String, Ident:
		p.next()
		if p.peek().Kind == Arrow {
			return p.chain(t)
		}
		if t.Kind == Ident && (t.Text == "true" || t.Text == "false") {
			return &node{kind: nodeBool, tok: t, text: t.Text}, nil
		}
		if t.Kind == String {
			return &node{kind: nodeString, tok: t, text: t.Text}, nil
		}
		return &node{kind: nodeIdent, tok: t, text: t.Text}, nil
	}
	return nil, unexpected(t, String, Number, Ident, LBrace, LBracket)
}

func (p *parser) chain(first Token) (*node, error) {
	n := &node{kind: nodeChain, tok: first, chain: []string{first.Text}}
	for p.peek().Kind == Arrow {
		p.next()
		t, err := p.expect(Ident, String)
		if err != nil {
			return nil, err
		}
		n.chain = append(n.chain, t.Text)
	}
	return n, nil
}
