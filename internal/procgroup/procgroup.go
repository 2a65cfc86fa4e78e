// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts external helpers (exec sources, stream sinks and
// the process protocol adapter) in their own process group and tears the
// whole group down: SIGTERM, grace period, SIGKILL.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/avbridge/internal/metrics"
)

// Terminate stops the process group of cmd. It sends SIGTERM, waits up to
// grace for waitCh, then sends SIGKILL and drains waitCh. A grace of zero or
// less skips SIGTERM. waitCh must carry the result of cmd.Wait; Terminate
// consumes it and returns that result. Safe on nil or never-started commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if grace > 0 {
		metrics.IncProcTerminate("SIGTERM", signalResult(Kill(cmd, syscall.SIGTERM)))

		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case err := <-waitCh:
			if err == nil {
				metrics.IncProcWait("exit0")
			} else {
				metrics.IncProcWait("exit_nonzero")
			}
			return err
		case <-timer.C:
		}
	}

	metrics.IncProcTerminate("SIGKILL", signalResult(Kill(cmd, syscall.SIGKILL)))

	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}

// Stop terminates a helper whose Wait already runs in its own goroutine.
// done closes once Wait returned and exitErr reports its result. A helper
// that already exited is left alone. Exit statuses, including death by our
// own signal, are not errors; only signalling failures are returned.
func Stop(cmd *exec.Cmd, done <-chan struct{}, exitErr func() error, grace time.Duration) error {
	select {
	case <-done:
		return nil
	default:
	}
	waitCh := make(chan error, 1)
	go func() {
		<-done
		waitCh <- exitErr()
	}()
	err := Terminate(cmd, waitCh, grace)
	var exit *exec.ExitError
	if err != nil && !errors.As(err, &exit) {
		return err
	}
	return nil
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return "esrch"
	default:
		return "error"
	}
}
