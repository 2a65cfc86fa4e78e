// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/dsl"
	"github.com/ManuGH/avbridge/internal/metrics"
	"github.com/ManuGH/avbridge/internal/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var builtinSinks = map[string]SinkFactory{
	"publish": newPublishSink,
	"record":  newRecordSink,
	"webhook": newWebhookSink,
	"stream":  newStreamSink,
	"discard": newDiscardSink,
}

// framePayload is the JSON shape of a frame leaving the pipeline.
func framePayload(env Env, f Frame, includeData bool) map[string]any {
	p := map[string]any{
		"pipeline_id": env.PipelineID,
		"instance_id": env.InstanceID,
		"stage":       env.Stage,
		"seq":         f.Seq,
		"size":        len(f.Data),
		"time":        f.Time.UTC().Format(time.RFC3339Nano),
	}
	if f.StreamID != "" {
		p["stream_id"] = f.StreamID
	}
	if len(f.Meta) > 0 {
		p["meta"] = f.Meta
	}
	if includeData {
		p["data"] = f.Data
	}
	return p
}

// publishSink sends frame summaries to pipeline/{id}/output/{stage}.
type publishSink struct {
	env         Env
	topic       string
	includeData bool
}

func newPublishSink(_ context.Context, env Env, p dsl.Params) (Sink, error) {
	if env.Bus == nil {
		return nil, errors.New("publish sink needs a bus")
	}
	topic, err := p.String("topic", broker.TopicPipelineOutput(env.PipelineID, env.Stage))
	if err != nil {
		return nil, err
	}
	include, err := p.Bool("include_data", false)
	if err != nil {
		return nil, err
	}
	return &publishSink{env: env, topic: topic, includeData: include}, nil
}

func (s *publishSink) Write(ctx context.Context, f Frame) error {
	return s.env.Bus.Publish(ctx, s.topic, framePayload(s.env, f, s.includeData), SenderID)
}

func (s *publishSink) Close() error { return nil }

// recordSink writes each frame to its own file, atomically.
type recordSink struct {
	dir    string
	prefix string
	ext    string
}

func newRecordSink(_ context.Context, env Env, p dsl.Params) (Sink, error) {
	dir, err := p.String("dir", "")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, errors.New("record sink needs dir")
	}
	prefix, err := p.String("prefix", env.PipelineID+"-"+env.Stage)
	if err != nil {
		return nil, err
	}
	ext, err := p.String("ext", ".bin")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	return &recordSink{dir: dir, prefix: prefix, ext: ext}, nil
}

func (s *recordSink) Write(_ context.Context, f Frame) error {
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%010d%s", s.prefix, f.Seq, s.ext))
	if err := writeFileAtomic(path, f.Data); err != nil {
		return fmt.Errorf("record frame %d: %w", f.Seq, err)
	}
	return nil
}

func (s *recordSink) Close() error { return nil }

// webhookSink POSTs frames as JSON. A circuit breaker sheds frames while the
// endpoint keeps failing; failures before the breaker opens are stage failures.
type webhookSink struct {
	env         Env
	url         string
	client      *http.Client
	breaker     *resilience.CircuitBreaker
	includeData bool
	shed        atomic.Uint64
}

func newWebhookSink(_ context.Context, env Env, p dsl.Params) (Sink, error) {
	target, err := p.String("url", "")
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, errors.New("webhook sink needs url")
	}
	timeout, err := p.Duration("timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}
	threshold, err := p.Int("failure_threshold", 5)
	if err != nil {
		return nil, err
	}
	cooldown, err := p.Duration("cooldown", 30*time.Second)
	if err != nil {
		return nil, err
	}
	include, err := p.Bool("include_data", false)
	if err != nil {
		return nil, err
	}

	client := env.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	c := *client
	c.Timeout = timeout
	return &webhookSink{
		env:         env,
		url:         target,
		client:      &c,
		breaker:     resilience.NewCircuitBreaker(metrics.BreakerWebhookSink, int(threshold), cooldown),
		includeData: include,
	}, nil
}

func (s *webhookSink) Write(ctx context.Context, f Frame) error {
	body, err := json.Marshal(framePayload(s.env, f, s.includeData))
	if err != nil {
		return err
	}
	err = s.breaker.Execute(func() error { return s.post(ctx, body) })
	if errors.Is(err, resilience.ErrCircuitOpen) {
		if n := s.shed.Add(1); n == 1 || n%100 == 0 {
			s.env.Logger.Warn().Uint64("shed", n).Str("url", s.url).Msg("webhook circuit open, shedding frames")
		}
		return nil
	}
	return err
}

func (s *webhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", s.url, resp.StatusCode)
	}
	return nil
}

func (s *webhookSink) Close() error {
	s.breaker.Release()
	s.client.CloseIdleConnections()
	return nil
}

// streamSink pipes frame data into the stdin of an external encoder.
type streamSink struct {
	proc  *proc
	stdin io.WriteCloser

	closeOnce sync.Once
	closeErr  error
}

func newStreamSink(_ context.Context, env Env, p dsl.Params) (Sink, error) {
	argv, grace, err := commandParams(p)
	if err != nil {
		return nil, err
	}
	var stdin io.WriteCloser
	pr, err := startProc(argv, grace, func(cmd *exec.Cmd) error {
		var err error
		stdin, err = cmd.StdinPipe()
		return err
	})
	if err != nil {
		return nil, err
	}
	env.Logger.Debug().Int("pid", pr.cmd.Process.Pid).Strs("argv", argv).Msg("stream sink started")
	return &streamSink{proc: pr, stdin: stdin}, nil
}

func (s *streamSink) Write(_ context.Context, f Frame) error {
	select {
	case <-s.proc.done:
		return fmt.Errorf("stream sink process exited: %v", s.proc.exitErr())
	default:
	}
	_, err := s.stdin.Write(f.Data)
	return err
}

// Close ends stdin so the encoder can flush, then waits up to the grace
// period before terminating the process group.
func (s *streamSink) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		timer := time.NewTimer(s.proc.grace)
		defer timer.Stop()
		select {
		case <-s.proc.done:
		case <-timer.C:
		}
		s.closeErr = s.proc.terminate()
	})
	return s.closeErr
}

type discardSink struct{ frames atomic.Uint64 }

func newDiscardSink(context.Context, Env, dsl.Params) (Sink, error) { return &discardSink{}, nil }

func (s *discardSink) Write(context.Context, Frame) error {
	s.frames.Add(1)
	return nil
}

func (s *discardSink) Close() error { return nil }
