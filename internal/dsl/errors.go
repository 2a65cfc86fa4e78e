// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"fmt"
	"strings"

	"github.com/ManuGH/avbridge/internal/model"
)

// LexError reports an invalid character sequence.
type LexError struct {
	Pos     Pos
	Msg     string
	Excerpt string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at offset %d (line %d, col %d): %s near %q", e.Pos.Offset, e.Pos.Line, e.Pos.Col, e.Msg, e.Excerpt)
}

func (e *LexError) Is(target error) bool { return target == model.ErrConfiguration }

// ParseError reports an unexpected token together with what would have been accepted.
type ParseError struct {
	Token    Token
	Expected []string
	Msg      string
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "parse error at %s: ", e.Token.Pos)
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else {
		fmt.Fprintf(&b, "unexpected %s", e.Token)
	}
	if len(e.Expected) > 0 {
		fmt.Fprintf(&b, ", expected %s", strings.Join(e.Expected, " or "))
	}
	return b.String()
}

func (e *ParseError) Is(target error) bool { return target == model.ErrConfiguration }

// StructureError reports an invalid stage graph.
type StructureError struct {
	Pipeline string
	Stage    string
	Reason   StructureReason
	Msg      string
}

// StructureReason classifies structural failures.
type StructureReason string

const (
	ReasonDuplicateName StructureReason = "duplicate_name"
	ReasonReservedName  StructureReason = "reserved_name"
	ReasonUndeclared    StructureReason = "undeclared_input"
	ReasonCycle         StructureReason = "cycle"
	ReasonDangling      StructureReason = "dangling_stage"
	ReasonNoOutput      StructureReason = "no_output"
	ReasonInvalid       StructureReason = "invalid"
)

func (e *StructureError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("pipeline %s: stage %s: %s", e.Pipeline, e.Stage, e.Msg)
	}
	return fmt.Sprintf("pipeline %s: %s", e.Pipeline, e.Msg)
}

func (e *StructureError) Is(target error) bool { return target == model.ErrConfiguration }
