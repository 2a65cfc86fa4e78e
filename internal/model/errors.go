// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model holds the vocabulary shared by the broker, device manager and
// pipeline executor: error classes and machine-readable reason codes.
package model

import "errors"

// Error classes. Concrete errors in each package match one of these via errors.Is.
var (
	// ErrDiscovery: discovery collaborator unreachable or timed out. Never fatal.
	ErrDiscovery = errors.New("discovery error")
	// ErrConfiguration: invalid device settings or pipeline definition. Nothing is mutated.
	ErrConfiguration = errors.New("configuration error")
	// ErrLifecycle: an illegal device state transition was attempted.
	ErrLifecycle = errors.New("device lifecycle error")
	// ErrStageExecution: a pipeline stage worker failed.
	ErrStageExecution = errors.New("stage execution error")
	// ErrProtocolAdapter: the external stream process failed or exited.
	ErrProtocolAdapter = errors.New("protocol adapter error")
	// ErrBrokerDispatch: a subscriber handler failed. Never escalated to the publisher.
	ErrBrokerDispatch = errors.New("broker dispatch error")
)
