// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package process implements a device.ProtocolAdapter that runs one external
// command (ffmpeg, gst-launch, a vendor tool) per stream.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/ManuGH/avbridge/internal/device"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/procgroup"
	"github.com/google/uuid"
)

const stderrTail = 4 << 10

// Spec describes how to launch a stream. Every argument and the endpoint are
// text/template strings rendered against TemplateData.
type Spec struct {
	Command  []string `yaml:"command"`
	Endpoint string   `yaml:"endpoint"`
	// Settle is how long a fresh process must stay alive to count as started.
	Settle time.Duration `yaml:"settle"`
	// StopGrace bounds SIGTERM before SIGKILL.
	StopGrace time.Duration `yaml:"stopGrace"`
}

// TemplateData is the template context for Spec fields.
type TemplateData struct {
	StreamID string
	Protocol string
	Device   device.DeviceInfo
	Params   map[string]any
}

// Adapter launches processes from a Spec.
type Adapter struct {
	args     []*template.Template
	endpoint *template.Template
	settle   time.Duration
	grace    time.Duration
}

// New compiles spec. Templates use missingkey=error so typos fail at start.
func New(spec Spec) (*Adapter, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("process adapter: empty command")
	}
	a := &Adapter{settle: spec.Settle, grace: spec.StopGrace}
	if a.settle <= 0 {
		a.settle = 250 * time.Millisecond
	}
	if a.grace <= 0 {
		a.grace = 3 * time.Second
	}
	for i, arg := range spec.Command {
		t, err := template.New(fmt.Sprintf("arg%d", i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("process adapter: argument %d: %w", i, err)
		}
		a.args = append(a.args, t)
	}
	t, err := template.New("endpoint").Option("missingkey=error").Parse(spec.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("process adapter: endpoint: %w", err)
	}
	a.endpoint = t
	return a, nil
}

func render(t *template.Template, data TemplateData) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Render returns the argv and endpoint for req.
func (a *Adapter) Render(req device.StreamRequest) ([]string, string, error) {
	data := TemplateData{StreamID: req.StreamID, Protocol: req.Protocol, Device: req.Device, Params: req.Params}
	if data.Params == nil {
		data.Params = map[string]any{}
	}
	argv := make([]string, 0, len(a.args))
	for _, t := range a.args {
		s, err := render(t, data)
		if err != nil {
			return nil, "", err
		}
		argv = append(argv, s)
	}
	ep, err := render(a.endpoint, data)
	if err != nil {
		return nil, "", err
	}
	return argv, ep, nil
}

// Start launches the process. A process that exits within the settle window
// is a start failure carrying the tail of its stderr.
func (a *Adapter) Start(ctx context.Context, req device.StreamRequest) (device.StreamHandle, error) {
	argv, endpoint, err := a.Render(req)
	if err != nil {
		return nil, fmt.Errorf("render command: %w", err)
	}

	// The stream outlives ctx, so the command is not bound to it.
	cmd := exec.Command(argv[0], argv[1:]...)
	procgroup.Set(cmd)
	h := &Handle{
		id:       uuid.NewString(),
		endpoint: endpoint,
		cmd:      cmd,
		grace:    a.grace,
		done:     make(chan struct{}),
		stderr:   &tailBuffer{max: stderrTail},
	}
	cmd.Stderr = h.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}
	go h.wait()

	log.L().Debug().
		Str(log.FieldStreamID, req.StreamID).
		Int(log.FieldPID, cmd.Process.Pid).
		Str(log.FieldEndpoint, endpoint).
		Msg("stream process started")

	timer := time.NewTimer(a.settle)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil, fmt.Errorf("process exited during startup: %w", h.exitErr())
	case <-ctx.Done():
		_ = h.Close()
		return nil, ctx.Err()
	case <-timer.C:
		return h, nil
	}
}

// Stop sends SIGTERM to the process group and escalates to SIGKILL after the
// grace period or when ctx ends first.
func (a *Adapter) Stop(ctx context.Context, sh device.StreamHandle) error {
	h, ok := sh.(*Handle)
	if !ok {
		return fmt.Errorf("process adapter: foreign handle %T", sh)
	}
	grace := h.grace
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < grace {
			grace = max(left, 0)
		}
	}
	return h.terminate(grace)
}

func (a *Adapter) Status(sh device.StreamHandle) device.HandleStatus {
	h, ok := sh.(*Handle)
	if !ok {
		return device.HandleUnknown
	}
	select {
	case <-h.done:
		if h.Err() != nil {
			return device.HandleFailed
		}
		return device.HandleExited
	default:
		return device.HandleRunning
	}
}

// Handle is a running process. It implements device.StreamHandle.
type Handle struct {
	id       string
	endpoint string
	cmd      *exec.Cmd
	grace    time.Duration
	stderr   *tailBuffer

	done     chan struct{}
	mu       sync.Mutex
	waitErr  error
	stopping bool
	termOnce sync.Once
	termErr  error
}

func (h *Handle) ID() string            { return h.id }
func (h *Handle) Endpoint() string      { return h.endpoint }
func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) PID() int              { return h.cmd.Process.Pid }

// Err reports an unexpected exit. A process we stopped ourselves is not an error.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopping {
		return nil
	}
	return h.exitErrLocked()
}

func (h *Handle) exitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErrLocked()
}

func (h *Handle) exitErrLocked() error {
	if h.waitErr == nil {
		return nil
	}
	if tail := strings.TrimSpace(h.stderr.String()); tail != "" {
		return fmt.Errorf("%w: %s", h.waitErr, tail)
	}
	return h.waitErr
}

// Close kills the process group immediately and waits for it to be reaped.
func (h *Handle) Close() error {
	return h.terminate(0)
}

func (h *Handle) terminate(grace time.Duration) error {
	h.termOnce.Do(func() {
		h.mu.Lock()
		h.stopping = true
		h.mu.Unlock()

		h.termErr = procgroup.Stop(h.cmd, h.done, h.exitErr, grace)
	})
	return h.termErr
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	close(h.done)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
