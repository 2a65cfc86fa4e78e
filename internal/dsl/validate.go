// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"fmt"
	"strings"
)

// Validate checks the stage graph of def: names are unique and not reserved,
// every input is declared, the graph is acyclic and every processing stage
// feeds at least one output.
func Validate(def *Definition) error {
	if def == nil {
		return &StructureError{Reason: ReasonInvalid, Msg: "nil definition"}
	}
	invalid := func(stage, format string, args ...any) error {
		return &StructureError{Pipeline: def.ID, Stage: stage, Reason: ReasonInvalid, Msg: fmt.Sprintf(format, args...)}
	}
	if def.ID == "" || strings.ContainsAny(def.ID, "/+#* \t\n") {
		return invalid("", "invalid pipeline id %q", def.ID)
	}
	if len(def.Outputs) == 0 {
		return &StructureError{Pipeline: def.ID, Reason: ReasonNoOutput, Msg: "no output declared"}
	}

	kind := make(map[string]bool, len(def.Stages)+len(def.Outputs)) // name -> is output
	for i, st := range append(append([]Stage{}, def.Stages...), def.Outputs...) {
		isOutput := i >= len(def.Stages)
		switch {
		case st.Name == SourceName:
			return &StructureError{Pipeline: def.ID, Stage: st.Name, Reason: ReasonReservedName, Msg: "name is reserved for the pipeline input"}
		case st.Name == "" || strings.ContainsAny(st.Name, "/+#* \t\n"):
			return invalid(st.Name, "invalid stage name")
		case st.Kind == "":
			return invalid(st.Name, "missing kind")
		case st.MaxRetries != nil && *st.MaxRetries < 0:
			return invalid(st.Name, "max_retries must not be negative")
		case len(st.Inputs) == 0:
			return invalid(st.Name, "no inputs")
		}
		if _, dup := kind[st.Name]; dup {
			return &StructureError{Pipeline: def.ID, Stage: st.Name, Reason: ReasonDuplicateName, Msg: "duplicate stage name"}
		}
		kind[st.Name] = isOutput
	}

	for _, st := range append(append([]Stage{}, def.Stages...), def.Outputs...) {
		for _, in := range st.Inputs {
			if in == SourceName {
				continue
			}
			isOutput, ok := kind[in]
			if !ok {
				return &StructureError{Pipeline: def.ID, Stage: st.Name, Reason: ReasonUndeclared, Msg: fmt.Sprintf("input %q is not declared", in)}
			}
			if isOutput {
				return invalid(st.Name, "input %q is an output", in)
			}
			if in == st.Name {
				return &StructureError{Pipeline: def.ID, Stage: st.Name, Reason: ReasonCycle, Msg: "stage consumes itself"}
			}
		}
	}

	if _, err := TopoOrder(def); err != nil {
		return err
	}
	if err := checkFeedsOutput(def); err != nil {
		return err
	}

	switch def.Options.Backpressure {
	case "", PolicyBlock, PolicyDropOldest:
	default:
		return invalid("", "unknown backpressure policy %q", def.Options.Backpressure)
	}
	if def.Options.QueueSize < 0 {
		return invalid("", "queue_size must not be negative")
	}
	if def.Options.BlockTimeout < 0 {
		return invalid("", "block_timeout must not be negative")
	}
	return nil
}

// TopoOrder returns processing stages in dependency order followed by the
// outputs in declaration order. Ties keep declaration order, so the result is
// deterministic for a given definition.
func TopoOrder(def *Definition) ([]string, error) {
	pos := make(map[string]int, len(def.Stages))
	for i, st := range def.Stages {
		pos[st.Name] = i
	}
	indeg := make([]int, len(def.Stages))
	consumers := make([][]int, len(def.Stages))
	for i, st := range def.Stages {
		for _, in := range st.Inputs {
			if j, ok := pos[in]; ok {
				indeg[i]++
				consumers[j] = append(consumers[j], i)
			}
		}
	}

	order := make([]string, 0, len(def.Stages)+len(def.Outputs))
	done := make([]bool, len(def.Stages))
	for len(order) < len(def.Stages) {
		next := -1
		for i := range def.Stages {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, st := range def.Stages {
				if !done[i] {
					stuck = append(stuck, st.Name)
				}
			}
			return nil, &StructureError{
				Pipeline: def.ID,
				Stage:    stuck[0],
				Reason:   ReasonCycle,
				Msg:      "cycle between stages " + strings.Join(stuck, ", "),
			}
		}
		done[next] = true
		order = append(order, def.Stages[next].Name)
		for _, c := range consumers[next] {
			indeg[c]--
		}
	}
	for _, out := range def.Outputs {
		order = append(order, out.Name)
	}
	return order, nil
}

func checkFeedsOutput(def *Definition) error {
	producers := make(map[string][]string, len(def.Stages)+len(def.Outputs))
	for _, st := range append(append([]Stage{}, def.Stages...), def.Outputs...) {
		producers[st.Name] = st.Inputs
	}
	live := make(map[string]bool, len(def.Stages))
	var walk func(name string)
	walk = func(name string) {
		for _, in := range producers[name] {
			if in != SourceName && !live[in] {
				live[in] = true
				walk(in)
			}
		}
	}
	for _, out := range def.Outputs {
		walk(out.Name)
	}
	for _, st := range def.Stages {
		if !live[st.Name] {
			return &StructureError{Pipeline: def.ID, Stage: st.Name, Reason: ReasonDangling, Msg: "stage does not feed any output"}
		}
	}
	return nil
}
