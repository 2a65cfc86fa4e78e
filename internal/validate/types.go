// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import "strings"

// LogLevel is a level name accepted by avbridge's log.level setting.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the LogLevel constants. The logger
// also knows fatal and panic, but those would silence operational warnings.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

func (l LogLevel) String() string { return string(l) }

// ParseLogLevel accepts level names in any case with surrounding blanks.
// An empty string is info, the logger default.
func ParseLogLevel(s string) (LogLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return LogLevelInfo, nil
	}
	level := LogLevel(s)
	if !level.IsValid() {
		return "", ErrInvalidLogLevel
	}
	return level, nil
}

// ErrInvalidLogLevel is returned by ParseLogLevel.
var ErrInvalidLogLevel = &Error{
	Field:   "log.level",
	Message: "unknown log level (want trace, debug, info, warn or error)",
}

// LogLevel records an error when value does not parse as a LogLevel.
func (v *Validator) LogLevel(field, value string) {
	if _, err := ParseLogLevel(value); err != nil {
		v.AddError(field, ErrInvalidLogLevel.Message, value)
	}
}
