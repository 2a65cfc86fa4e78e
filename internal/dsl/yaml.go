// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseYAML parses the YAML form of a pipeline definition:
//
//	pipeline: cam_motion
//	input: {device: cam1, protocol: rtsp}
//	stages:
//	  - {name: gray, kind: convert}
//	output:
//	  - {name: rec, kind: record}
//	links: ["gray -> rec"]
//
// The result is identical to what Parse returns for the equivalent text form.
func ParseYAML(data []byte) (*Definition, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Token: Token{Kind: EOF}, Msg: "invalid yaml: " + err.Error()}
	}
	if len(doc.Content) == 0 {
		return nil, &ParseError{Token: Token{Kind: EOF}, Msg: "empty document", Expected: []string{`"pipeline"`}}
	}
	body, err := fromYAML(doc.Content[0])
	if err != nil {
		return nil, err
	}
	if body.kind != nodeObject {
		return nil, typeError(body, "mapping")
	}

	var (
		name    Token
		found   bool
		members []member
	)
	for _, m := range body.members {
		switch m.key.Text {
		case "pipeline", "id":
			if found {
				return nil, &ParseError{Token: m.key, Msg: "duplicate pipeline id"}
			}
			s, err := scalar(m.val)
			if err != nil {
				return nil, err
			}
			name, found = Token{Kind: String, Text: s, Pos: m.val.tok.Pos}, true
		case "links":
			if err := yamlLinks(m.val); err != nil {
				return nil, err
			}
			members = append(members, m)
		default:
			members = append(members, m)
		}
	}
	if !found {
		return nil, &ParseError{Token: body.tok, Msg: "missing pipeline id", Expected: []string{`"pipeline"`}}
	}
	body.members = members

	def, err := bind(name, body)
	if err != nil {
		return nil, err
	}
	if err := Validate(def); err != nil {
		return nil, err
	}
	return def, nil
}

func yamlToken(y *yaml.Node, k Kind) Token {
	return Token{Kind: k, Text: y.Value, Pos: Pos{Offset: -1, Line: y.Line, Col: y.Column}}
}

func fromYAML(y *yaml.Node) (*node, error) {
	switch y.Kind {
	case yaml.DocumentNode:
		if len(y.Content) == 0 {
			return nil, &ParseError{Token: yamlToken(y, EOF), Msg: "empty document"}
		}
		return fromYAML(y.Content[0])
	case yaml.AliasNode:
		return fromYAML(y.Alias)
	case yaml.MappingNode:
		n := &node{kind: nodeObject, tok: yamlToken(y, LBrace)}
		for i := 0; i+1 < len(y.Content); i += 2 {
			k, v := y.Content[i], y.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, &ParseError{Token: yamlToken(k, LBrace), Msg: "mapping key must be a scalar"}
			}
			val, err := fromYAML(v)
			if err != nil {
				return nil, err
			}
			n.members = append(n.members, member{key: yamlToken(k, String), val: val})
		}
		return n, nil
	case yaml.SequenceNode:
		n := &node{kind: nodeList, tok: yamlToken(y, LBracket)}
		for _, c := range y.Content {
			item, err := fromYAML(c)
			if err != nil {
				return nil, err
			}
			n.items = append(n.items, item)
		}
		return n, nil
	case yaml.ScalarNode:
		return yamlScalar(y)
	}
	return nil, &ParseError{Token: yamlToken(y, EOF), Msg: "unsupported yaml node"}
}

func yamlScalar(y *yaml.Node) (*node, error) {
	tok := yamlToken(y, String)
	switch y.ShortTag() {
	case "!!str":
		return &node{kind: nodeString, tok: tok, text: y.Value}, nil
	case "!!bool":
		var b bool
		if err := y.Decode(&b); err != nil {
			return nil, &ParseError{Token: tok, Msg: err.Error()}
		}
		return &node{kind: nodeBool, tok: tok, text: strconv.FormatBool(b)}, nil
	case "!!int":
		var i int64
		if err := y.Decode(&i); err != nil {
			return nil, &ParseError{Token: tok, Msg: err.Error()}
		}
		tok.Kind = Number
		return &node{kind: nodeNumber, tok: tok, text: strconv.FormatInt(i, 10)}, nil
	case "!!float":
		var f float64
		if err := y.Decode(&f); err != nil {
			return nil, &ParseError{Token: tok, Msg: err.Error()}
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		tok.Kind = Number
		return &node{kind: nodeNumber, tok: tok, text: s}, nil
	}
	return nil, &ParseError{Token: tok, Msg: fmt.Sprintf("unsupported scalar %s", y.ShortTag())}
}

// yamlLinks rewrites "a -> b" strings and name sequences into link chains.
func yamlLinks(n *node) error {
	if n.kind != nodeList {
		return typeError(n, "list")
	}
	for i, item := range n.items {
		var names []string
		switch item.kind {
		case nodeString:
			for _, part := range strings.Split(item.text, "->") {
				names = append(names, strings.TrimSpace(part))
			}
		case nodeList:
			for _, el := range item.items {
				s, err := scalar(el)
				if err != nil {
					return err
				}
				names = append(names, s)
			}
		default:
			return typeError(item, "link chain")
		}
		if len(names) < 2 {
			return &ParseError{Token: item.tok, Msg: "link chain needs at least two names"}
		}
		for _, s := range names {
			if s == "" {
				return &ParseError{Token: item.tok, Msg: "empty name in link chain"}
			}
		}
		n.items[i] = &node{kind: nodeChain, tok: item.tok, chain: names}
	}
	return nil
}
