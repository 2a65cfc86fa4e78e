// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import "github.com/ManuGH/avbridge/internal/fsm"

// State is the lifecycle state of a pipeline instance.
type State string

const (
	StateBuilding State = "BUILDING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
	StateError    State = "ERROR"
	// StateIdle is reported for a definition without an instance.
	StateIdle State = "IDLE"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateStopped || s == StateError }

type instanceEvent string

const (
	evBuilt   instanceEvent = "built"
	evStop    instanceEvent = "stop"
	evStopped instanceEvent = "stopped"
	evFail    instanceEvent = "fail"
)

var instanceLifecycle = fsm.MustTable([]fsm.Transition[State, instanceEvent]{
	{From: StateBuilding, Event: evBuilt, To: StateRunning},
	{From: StateBuilding, Event: evFail, To: StateError},
	{From: StateRunning, Event: evStop, To: StateStopping},
	{From: StateRunning, Event: evFail, To: StateError},
	{From: StateStopping, Event: evStopped, To: StateStopped},
})
