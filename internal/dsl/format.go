// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dsl

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Format renders def in canonical text form with explicit inputs.
// Parse(Format(def)) yields a Definition equal to def.
func Format(def *Definition) string {
	var b strings.Builder
	b.WriteString("pipeline ")
	writeKey(&b, def.ID)
	b.WriteString(" {\n")

	b.WriteString("  input: {")
	fields := []string{"kind: " + strconv.Quote(def.Input.Kind)}
	if def.Input.Device != "" {
		fields = append(fields, "device: "+strconv.Quote(def.Input.Device))
	}
	if def.Input.Protocol != "" {
		fields = append(fields, "protocol: "+strconv.Quote(def.Input.Protocol))
	}
	if len(def.Input.Params) > 0 {
		fields = append(fields, "params: "+formatValue(MapValue(def.Input.Params)))
	}
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString("},\n")

	if len(def.Stages) > 0 {
		b.WriteString("  stages: [\n")
		for _, st := range def.Stages {
			writeStage(&b, st)
		}
		b.WriteString("  ],\n")
	}
	b.WriteString("  output: [\n")
	for _, st := range def.Outputs {
		writeStage(&b, st)
	}
	b.WriteString("  ],\n")

	if opts := formatOptions(def.Options); opts != "" {
		b.WriteString("  options: {" + opts + "},\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func writeStage(b *strings.Builder, st Stage) {
	b.WriteString("    {name: ")
	b.WriteString(strconv.Quote(st.Name))
	b.WriteString(", kind: ")
	b.WriteString(strconv.Quote(st.Kind))
	b.WriteString(", inputs: [")
	for i, in := range st.Inputs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Quote(in))
	}
	b.WriteString("]")
	if st.MaxRetries != nil {
		b.WriteString(", max_retries: ")
		b.WriteString(strconv.Itoa(*st.MaxRetries))
	}
	if len(st.Params) > 0 {
		b.WriteString(", params: ")
		b.WriteString(formatValue(MapValue(st.Params)))
	}
	b.WriteString("},\n")
}

func formatOptions(o Options) string {
	var fields []string
	if o.QueueSize != 0 {
		fields = append(fields, "queue_size: "+strconv.Itoa(o.QueueSize))
	}
	if o.Backpressure != "" {
		fields = append(fields, "backpressure: "+strconv.Quote(o.Backpressure))
	}
	if o.BlockTimeout != 0 {
		fields = append(fields, "block_timeout: "+strconv.Quote(o.BlockTimeout.String()))
	}
	return strings.Join(fields, ", ")
}

func writeKey(b *strings.Builder, k string) {
	if isIdent(k) {
		b.WriteString(k)
		return
	}
	b.WriteString(strconv.Quote(k))
}

func formatValue(v Value) string {
	switch v.Kind {
	case IntKind:
		return strconv.FormatInt(v.Int, 10)
	case FloatKind:
		if math.IsInf(v.Float, 0) || math.IsNaN(v.Float) {
			// Not representable as a literal.
			return strconv.Quote(strconv.FormatFloat(v.Float, 'g', -1, 64))
		}
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case BoolKind:
		return strconv.FormatBool(v.Bool)
	case ListKind:
		parts := make([]string, len(v.List))
		for i, item := range v.List {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case MapKind:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		var b strings.Builder
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeKey(&b, k)
			b.WriteString(": ")
			b.WriteString(formatValue(v.Map[k]))
		}
		b.WriteString("}")
		return b.String()
	default:
		return strconv.Quote(v.Str)
	}
}
