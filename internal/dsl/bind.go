// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var topLevelKeys = []string{`"input"`, `"stages"`, `"output"`, `"links"`, `"options"`}

// bind turns the untyped tree into a Definition with explicit stage inputs.
func bind(name Token, body *node) (*Definition, error) {
	def := &Definition{ID: name.Text}
	members, err := uniqueMembers(body)
	if err != nil {
		return nil, err
	}

	var (
		haveInput bool
		links     []*node
		explicit  = map[string]bool{}
	)
	for _, m := range members {
		switch m.key.Text {
		case "input":
			src, err := bindSource(m.val)
			if err != nil {
				return nil, err
			}
			def.Input = src
			haveInput = true
		case "stages":
			stages, err := bindStages(m.val, explicit)
			if err != nil {
				return nil, err
			}
			def.Stages = stages
		case "output", "outputs":
			outs, err := bindStages(m.val, explicit)
			if err != nil {
				return nil, err
			}
			def.Outputs = outs
		case "links":
			if m.val.kind != nodeList {
				return nil, typeError(m.val, "list")
			}
			for _, item := range m.val.items {
				if item.kind != nodeChain {
					return nil, &ParseError{Token: item.tok, Msg: "unexpected " + item.describe(), Expected: []string{"link chain"}}
				}
				links = append(links, item)
			}
		case "options":
			opts, err := bindOptions(m.val)
			if err != nil {
				return nil, err
			}
			def.Options = opts
		default:
			return nil, &ParseError{Token: m.key, Msg: fmt.Sprintf("unknown clause %q", m.key.Text), Expected: topLevelKeys}
		}
	}
	if !haveInput {
		return nil, &ParseError{Token: body.tok, Msg: "missing input clause"}
	}
	if err := applyLinks(def, links, explicit); err != nil {
		return nil, err
	}
	chainImplicit(def, explicit)
	return def, nil
}

func uniqueMembers(n *node) ([]member, error) {
	if n.kind != nodeObject {
		return nil, typeError(n, "object")
	}
	seen := make(map[string]bool, len(n.members))
	for _, m := range n.members {
		if seen[m.key.Text] {
			return nil, &ParseError{Token: m.key, Msg: fmt.Sprintf("duplicate key %q", m.key.Text)}
		}
		seen[m.key.Text] = true
	}
	return n.members, nil
}

func typeError(n *node, want string) *ParseError {
	return &ParseError{Token: n.tok, Msg: "unexpected " + n.describe(), Expected: []string{want}}
}

func scalar(n *node) (string, error) {
	if n.kind != nodeString && n.kind != nodeIdent {
		return "", typeError(n, "string")
	}
	return n.text, nil
}

func bindValue(n *node) (Value, error) {
	switch n.kind {
	case nodeString, nodeIdent:
		return StringValue(n.text), nil
	case nodeBool:
		return BoolValue(n.text == "true"), nil
	case nodeNumber:
		if strings.ContainsAny(n.text, ".eE") {
			f, err := strconv.ParseFloat(n.text, 64)
			if err != nil {
				return Value{}, &ParseError{Token: n.tok, Msg: "invalid number " + n.text}
			}
			return FloatValue(f), nil
		}
		i, err := strconv.ParseInt(n.text, 10, 64)
		if err != nil {
			return Value{}, &ParseError{Token: n.tok, Msg: "invalid integer " + n.text}
		}
		return IntValue(i), nil
	case nodeList:
		items := make([]Value, 0, len(n.items))
		for _, item := range n.items {
			v, err := bindValue(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return ListValue(items...), nil
	case nodeObject:
		members, err := uniqueMembers(n)
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, len(members))
		for _, mem := range members {
			v, err := bindValue(mem.val)
			if err != nil {
				return Value{}, err
			}
			m[mem.key.Text] = v
		}
		return MapValue(m), nil
	}
	return Value{}, typeError(n, "value")
}

// addParam records key in params, rejecting keys given twice.
func addParam(params Params, key Token, val *node) error {
	if _, dup := params[key.Text]; dup {
		return &ParseError{Token: key, Msg: fmt.Sprintf("duplicate param %q", key.Text)}
	}
	v, err := bindValue(val)
	if err != nil {
		return err
	}
	params[key.Text] = v
	return nil
}

func mergeParams(params Params, n *node) error {
	members, err := uniqueMembers(n)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := addParam(params, m.key, m.val); err != nil {
			return err
		}
	}
	return nil
}

func bindSource(n *node) (Source, error) {
	members, err := uniqueMembers(n)
	if err != nil {
		return Source{}, err
	}
	src := Source{Params: Params{}}
	var paramsNode *node
	for _, m := range members {
		var err error
		switch m.key.Text {
		case "device":
			src.Device, err = scalar(m.val)
		case "protocol":
			src.Protocol, err = scalar(m.val)
		case "kind":
			src.Kind, err = scalar(m.val)
		case "params":
			paramsNode = m.val
		default:
			err = addParam(src.Params, m.key, m.val)
		}
		if err != nil {
			return Source{}, err
		}
	}
	if paramsNode != nil {
		if err := mergeParams(src.Params, paramsNode); err != nil {
			return Source{}, err
		}
	}
	if src.Kind == "" {
		if src.Device == "" {
			return Source{}, &ParseError{Token: n.tok, Msg: "input requires a device or a kind"}
		}
		src.Kind = "stream"
	}
	return src, nil
}

func bindStages(n *node, explicit map[string]bool) ([]Stage, error) {
	var items []*node
	switch n.kind {
	case nodeList:
		items = n.items
	case nodeObject:
		items = []*node{n}
	default:
		return nil, typeError(n, "list")
	}
	stages := make([]Stage, 0, len(items))
	for _, item := range items {
		st, hasInputs, err := bindStage(item)
		if err != nil {
			return nil, err
		}
		if hasInputs {
			explicit[st.Name] = true
		}
		stages = append(stages, st)
	}
	return stages, nil
}

func bindStage(n *node) (Stage, bool, error) {
	members, err := uniqueMembers(n)
	if err != nil {
		return Stage{}, false, err
	}
	st := Stage{Params: Params{}}
	var (
		paramsNode *node
		hasInputs  bool
	)
	for _, m := range members {
		var err error
		switch m.key.Text {
		case "name":
			st.Name, err = scalar(m.val)
		case "kind":
			st.Kind, err = scalar(m.val)
		case "inputs", "input":
			st.Inputs, err = nameList(m.val)
			hasInputs = true
		case "max_retries":
			st.MaxRetries, err = intPtr(m.val)
		case "params":
			paramsNode = m.val
		default:
			err = addParam(st.Params, m.key, m.val)
		}
		if err != nil {
			return Stage{}, false, err
		}
	}
	if paramsNode != nil {
		if err := mergeParams(st.Params, paramsNode); err != nil {
			return Stage{}, false, err
		}
	}
	if st.Name == "" {
		return Stage{}, false, &ParseError{Token: n.tok, Msg: "stage without name", Expected: []string{`"name"`}}
	}
	if st.Kind == "" {
		return Stage{}, false, &ParseError{Token: n.tok, Msg: fmt.Sprintf("stage %q without kind", st.Name), Expected: []string{`"kind"`}}
	}
	return st, hasInputs, nil
}

func nameList(n *node) ([]string, error) {
	if n.kind == nodeString || n.kind == nodeIdent {
		return []string{n.text}, nil
	}
	if n.kind != nodeList {
		return nil, typeError(n, "list")
	}
	out := make([]string, 0, len(n.items))
	for _, item := range n.items {
		s, err := scalar(item)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func intPtr(n *node) (*int, error) {
	if n.kind != nodeNumber || strings.ContainsAny(n.text, ".eE") {
		return nil, typeError(n, "integer")
	}
	v, err := strconv.Atoi(n.text)
	if err != nil {
		return nil, &ParseError{Token: n.tok, Msg: "invalid integer " + n.text}
	}
	return &v, nil
}

func bindOptions(n *node) (Options, error) {
	members, err := uniqueMembers(n)
	if err != nil {
		return Options{}, err
	}
	var opts Options
	for _, m := range members {
		switch m.key.Text {
		case "queue_size":
			v, err := intPtr(m.val)
			if err != nil {
				return Options{}, err
			}
			opts.QueueSize = *v
		case "backpressure":
			s, err := scalar(m.val)
			if err != nil {
				return Options{}, err
			}
			opts.Backpressure = s
		case "block_timeout":
			d, err := duration(m.val)
			if err != nil {
				return Options{}, err
			}
			opts.BlockTimeout = d
		default:
			return Options{}, &ParseError{
				Token:    m.key,
				Msg:      fmt.Sprintf("unknown option %q", m.key.Text),
				Expected: []string{`"queue_size"`, `"backpressure"`, `"block_timeout"`},
			}
		}
	}
	return opts, nil
}

// duration accepts "250ms" style strings or integer milliseconds.
func duration(n *node) (time.Duration, error) {
	switch n.kind {
	case nodeNumber:
		v, err := intPtr(n)
		if err != nil {
			return 0, err
		}
		return time.Duration(*v) * time.Millisecond, nil
	case nodeString, nodeIdent:
		d, err := time.ParseDuration(n.text)
		if err != nil {
			return 0, &ParseError{Token: n.tok, Msg: "invalid duration " + strconv.Quote(n.text)}
		}
		return d, nil
	}
	return 0, typeError(n, "duration")
}

func applyLinks(def *Definition, links []*node, explicit map[string]bool) error {
	index := map[string]*Stage{}
	for i := range def.Stages {
		index[def.Stages[i].Name] = &def.Stages[i]
	}
	for i := range def.Outputs {
		index[def.Outputs[i].Name] = &def.Outputs[i]
	}
	for _, l := range links {
		for i := 1; i < len(l.chain); i++ {
			from, to := l.chain[i-1], l.chain[i]
			if to == SourceName {
				return &StructureError{Pipeline: def.ID, Stage: to, Reason: ReasonReservedName, Msg: "input cannot be a link target"}
			}
			st, ok := index[to]
			if !ok {
				return &StructureError{Pipeline: def.ID, Stage: to, Reason: ReasonUndeclared, Msg: fmt.Sprintf("link target %q is not declared", to)}
			}
			if !slices.Contains(st.Inputs, from) {
				st.Inputs = append(st.Inputs, from)
			}
			explicit[to] = true
		}
	}
	return nil
}

// chainImplicit wires stages without declared inputs to their predecessor.
func chainImplicit(def *Definition, explicit map[string]bool) {
	prev := SourceName
	for i := range def.Stages {
		st := &def.Stages[i]
		if !explicit[st.Name] && len(st.Inputs) == 0 {
			st.Inputs = []string{prev}
		}
		prev = st.Name
	}
	for i := range def.Outputs {
		out := &def.Outputs[i]
		if !explicit[out.Name] && len(out.Inputs) == 0 {
			out.Inputs = []string{prev}
		}
	}
}
