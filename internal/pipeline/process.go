// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/procgroup"
)

const defaultProcessGrace = 2 * time.Second

// proc is an external helper process owned by one source or sink.
type proc struct {
	cmd   *exec.Cmd
	grace time.Duration
	done  chan struct{}

	mu       sync.Mutex
	waitErr  error
	termOnce sync.Once
	termErr  error
}

// commandParams reads "command" (string or list) and "grace" from p.
func commandParams(p dsl.Params) ([]string, time.Duration, error) {
	argv, err := p.Strings("command")
	if err != nil {
		return nil, 0, err
	}
	if len(argv) == 1 {
		argv = strings.Fields(argv[0])
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, 0, errors.New("command is required")
	}
	grace, err := p.Duration("grace", defaultProcessGrace)
	if err != nil {
		return nil, 0, err
	}
	return argv, grace, nil
}

// startProc starts cmd in its own process group. setup wires stdio before start.
func startProc(argv []string, grace time.Duration, setup func(*exec.Cmd) error) (*proc, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	procgroup.Set(cmd)
	if setup != nil {
		if err := setup(cmd); err != nil {
			return nil, err
		}
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	p := &proc{cmd: cmd, grace: grace, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func (p *proc) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// terminate runs SIGTERM, grace, SIGKILL once and reaps the process.
func (p *proc) terminate() error {
	p.termOnce.Do(func() {
		p.termErr = procgroup.Stop(p.cmd, p.done, p.exitErr, p.grace)
	})
	return p.termErr
}
