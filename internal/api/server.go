// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the operator HTTP surface: health, metrics, and
// read-only views of devices, pipelines and the status board. Commands are
// relayed through the broker and never executed inline.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/avbridge/internal/broker"
	"github.com/ManuGH/avbridge/internal/device"
	"github.com/ManuGH/avbridge/internal/log"
	"github.com/ManuGH/avbridge/internal/pipeline"
	"github.com/ManuGH/avbridge/internal/statusboard"
)

// SenderID identifies messages relayed by the API.
const SenderID = "api"

type Devices interface {
	List() []device.Device
	Get(id string) (device.Device, error)
	ScanStatus() device.ScanStatus
}

type Pipelines interface {
	List() []pipeline.Status
}

type StatusBoard interface {
	Snapshot(ctx context.Context) (map[string][]statusboard.Entry, error)
}

// Bus relays commands and receives their replies.
type Bus interface {
	Publish(ctx context.Context, topic string, payload map[string]any, senderID string) error
	SubscribeChan(subscriberID, pattern string, buffer int) (*broker.ChanSubscription, error)
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	Devices   Devices
	Pipelines Pipelines
	Board     StatusBoard
	Bus       Bus
	// Ready reports nil once the daemon accepts work.
	Ready func(ctx context.Context) error
	// Gatherer backs /metrics; defaults to the global registry.
	Gatherer prometheus.Gatherer
}

type Config struct {
	// RateLimit is requests per minute per client IP on /api routes. Zero disables it.
	RateLimit int
	// TracingService names otelhttp spans; empty disables tracing.
	TracingService string
	// ReplyTimeout bounds how long a relayed command waits for its reply
	// before answering 202 Accepted.
	ReplyTimeout time.Duration
}

type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	logger zerolog.Logger
}

func New(cfg Config, deps Deps) *Server {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 5 * time.Second
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, deps: deps, logger: log.WithComponent("api")}
	s.router = s.routes()
	return s
}

// Handler returns the root handler, tracing included.
func (s *Server) Handler() http.Handler {
	if s.cfg.TracingService == "" {
		return s.router
	}
	return Tracing(s.cfg.TracingService)(s.router)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(RateLimit(RateLimitConfig{RequestLimit: s.cfg.RateLimit, WindowSize: time.Minute}))
		}
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Post("/devices/scan", s.handleScan)
		r.Post("/devices/{id}/streams", s.handleStartStream)
		r.Delete("/devices/{id}/streams", s.handleStopStream)
		r.Get("/pipelines", s.handleListPipelines)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info().
		Str(log.FieldEvent, "api.listening").
		Str(log.FieldAddress, ln.Addr().String()).
		Msg("ops API listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Str(log.FieldEvent, "api.stopped").Msg("ops API stopped")
	return nil
}
