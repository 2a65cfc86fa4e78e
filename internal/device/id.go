// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeID turns a discovery id hint (device path, MAC, host:port) into a
// stable, topic-safe device id: NFC, case-folded, with '/', wildcards and
// whitespace replaced by '_'.
func NormalizeID(hint string) string {
	s := norm.NFC.String(strings.TrimSpace(hint))
	s = cases.Fold().String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '/' || r == '*' || r == '#' || unicode.IsSpace(r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

func descriptorID(d Descriptor) string {
	return NormalizeID(descriptorHint(d))
}

// descriptorHint is the raw value the id is derived from: the id hint, or the
// address when the hint normalizes to nothing.
func descriptorHint(d Descriptor) string {
	if NormalizeID(d.IDHint) != "" {
		return d.IDHint
	}
	return d.Address
}
