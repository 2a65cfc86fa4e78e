// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/avbridge/internal/dsl"
)

// defaultChunkSize is seven MPEG-TS packets, the usual UDP payload.
const defaultChunkSize = 1316

var builtinSources = map[string]SourceFactory{
	"stream":    newStreamSource,
	"synthetic": newSyntheticSource,
	"exec":      newExecSource,
}

func newStreamSource(ctx context.Context, env Env, src dsl.Source) (Source, error) {
	if env.Stream.StreamID == "" {
		return nil, fmt.Errorf("%w: device %s", ErrStreamNotRunning, src.Device)
	}
	if env.Opener == nil {
		return nil, errors.New("no stream opener configured")
	}
	return env.Opener.Open(ctx, env.Stream, src.Params)
}

// EndpointOpener reads raw chunks from a stream endpoint. Supported forms are
// tcp://host:port, unix:///path, file:///path and plain file paths.
type EndpointOpener struct {
	DialTimeout time.Duration
}

func (o EndpointOpener) Open(ctx context.Context, stream StreamInfo, params dsl.Params) (Source, error) {
	chunk, err := params.Int("chunk_size", defaultChunkSize)
	if err != nil {
		return nil, err
	}
	if chunk <= 0 {
		return nil, fmt.Errorf("chunk_size must be > 0, got %d", chunk)
	}
	if stream.Endpoint == "" {
		return nil, fmt.Errorf("stream %s has no endpoint", stream.StreamID)
	}

	u, err := url.Parse(stream.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	var rc io.ReadCloser
	switch u.Scheme {
	case "tcp", "unix":
		timeout := o.DialTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		d := net.Dialer{Timeout: timeout}
		addr := u.Host
		if u.Scheme == "unix" {
			addr = u.Path
		}
		rc, err = d.DialContext(ctx, u.Scheme, addr)
	case "file":
		rc, err = os.Open(u.Path)
	case "":
		rc, err = os.Open(stream.Endpoint)
	default:
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", stream.Endpoint, err)
	}
	return &readerSource{r: rc, chunk: int(chunk), streamID: stream.StreamID}, nil
}

// readerSource cuts a byte stream into frames of at most chunk bytes.
type readerSource struct {
	r        io.ReadCloser
	chunk    int
	streamID string
	seq      uint64
	// ended, when set, is consulted after EOF to report why the stream ended.
	ended func() error

	closeOnce sync.Once
	closeErr  error
}

func (s *readerSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	buf := make([]byte, s.chunk)
	n, err := io.ReadAtLeast(s.r, buf, 1)
	if n > 0 {
		s.seq++
		return Frame{Seq: s.seq, Time: time.Now(), StreamID: s.streamID, Data: buf[:n]}, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if s.ended != nil {
			if exitErr := s.ended(); exitErr != nil {
				return Frame{}, exitErr
			}
		}
		return Frame{}, io.EOF
	}
	return Frame{}, err
}

func (s *readerSource) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.r.Close() })
	return s.closeErr
}

// syntheticSource emits a test pattern at a fixed interval.
type syntheticSource struct {
	interval time.Duration
	size     int
	count    uint64
	seq      uint64
	timer    *time.Timer
}

func newSyntheticSource(_ context.Context, env Env, src dsl.Source) (Source, error) {
	interval, err := src.Params.Duration("interval", 40*time.Millisecond)
	if err != nil {
		return nil, err
	}
	size, err := src.Params.Int("size", 64)
	if err != nil {
		return nil, err
	}
	count, err := src.Params.Int("count", 0)
	if err != nil {
		return nil, err
	}
	if interval < 0 || size < 0 || count < 0 {
		return nil, errors.New("interval, size and count must not be negative")
	}
	return &syntheticSource{interval: interval, size: int(size), count: uint64(count)}, nil
}

func (s *syntheticSource) Next(ctx context.Context) (Frame, error) {
	if s.count > 0 && s.seq >= s.count {
		return Frame{}, io.EOF
	}
	if s.seq > 0 && s.interval > 0 {
		if s.timer == nil {
			s.timer = time.NewTimer(s.interval)
		} else {
			s.timer.Reset(s.interval)
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-s.timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	s.seq++
	data := make([]byte, s.size)
	for i := range data {
		data[i] = byte(s.seq + uint64(i))
	}
	return Frame{Seq: s.seq, Time: time.Now(), Data: data, Meta: map[string]any{"source": "synthetic"}}, nil
}

func (s *syntheticSource) Close() error {
	if s.timer != nil {
		s.timer.Stop()
	}
	return nil
}

// execSource reads frames from the stdout of an external process. A non-zero
// exit is reported as an error instead of a clean end of stream.
type execSource struct {
	*readerSource
	proc *proc
}

func newExecSource(_ context.Context, env Env, src dsl.Source) (Source, error) {
	argv, grace, err := commandParams(src.Params)
	if err != nil {
		return nil, err
	}
	chunk, err := src.Params.Int("chunk_size", defaultChunkSize)
	if err != nil {
		return nil, err
	}
	if chunk <= 0 {
		return nil, fmt.Errorf("chunk_size must be > 0, got %d", chunk)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	p, err := startProc(argv, grace, func(cmd *exec.Cmd) error {
		cmd.Stdout = pw
		return nil
	})
	// The child holds its own copy of the write end.
	_ = pw.Close()
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	env.Logger.Debug().Int("pid", p.cmd.Process.Pid).Strs("argv", argv).Msg("exec source started")

	rs := &readerSource{r: pr, chunk: int(chunk), streamID: env.Stream.StreamID}
	rs.ended = func() error {
		<-p.done
		if err := p.exitErr(); err != nil {
			return fmt.Errorf("exec source exited: %w", err)
		}
		return nil
	}
	return &execSource{readerSource: rs, proc: p}, nil
}

func (s *execSource) Close() error {
	termErr := s.proc.terminate()
	return errors.Join(termErr, s.readerSource.Close())
}
