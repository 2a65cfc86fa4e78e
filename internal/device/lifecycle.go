// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import "github.com/ManuGH/avbridge/internal/fsm"

// Event drives the device lifecycle table.
type Event string

const (
	EvConfigure  Event = "configure"
	EvConfigured Event = "configured"
	EvStart      Event = "start"
	EvStarted    Event = "started"
	EvStop       Event = "stop"
	EvStopped    Event = "stopped"
	EvFail       Event = "fail"
)

// lifecycle lists every legal edge. No edge skips an intermediate state and
// ERROR is left only through an explicit configure or start.
var lifecycle = fsm.MustTable([]fsm.Transition[Status, Event]{
	{From: StatusDiscovered, Event: EvConfigure, To: StatusConfiguring},
	{From: StatusConfigured, Event: EvConfigure, To: StatusConfiguring},
	{From: StatusStopped, Event: EvConfigure, To: StatusConfiguring},
	{From: StatusError, Event: EvConfigure, To: StatusConfiguring},
	{From: StatusConfiguring, Event: EvConfigured, To: StatusConfigured},
	{From: StatusConfiguring, Event: EvFail, To: StatusError},

	{From: StatusConfigured, Event: EvStart, To: StatusStarting},
	{From: StatusStopped, Event: EvStart, To: StatusStarting},
	{From: StatusError, Event: EvStart, To: StatusStarting},
	{From: StatusStarting, Event: EvStarted, To: StatusRunning},
	{From: StatusStarting, Event: EvFail, To: StatusError},

	{From: StatusRunning, Event: EvStop, To: StatusStopping},
	{From: StatusRunning, Event: EvFail, To: StatusError},
	{From: StatusStopping, Event: EvStopped, To: StatusStopped},
})

// CanTransition reports whether event is legal in state from.
func CanTransition(from Status, ev Event) bool {
	return lifecycle.Can(from, ev)
}
