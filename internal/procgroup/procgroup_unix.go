// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix && !windows

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
)

// Set makes cmd the leader of a new process group. Call it before Start.
// Helpers such as ffmpeg wrappers fork children of their own; signalling
// the group reaches them too.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Kill sends sig to every process in the group of cmd. A helper that
// already exited, or was never started, is not an error.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return ignoreGone(err)
	}
	return ignoreGone(syscall.Kill(-pgid, sig))
}

// ignoreGone folds ESRCH into success: the group is already empty.
func ignoreGone(err error) error {
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
