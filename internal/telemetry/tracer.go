// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package telemetry wires OpenTelemetry tracing for avbridge. Spans cover
// stream start/stop, pipeline builds and outbound webhook calls.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Instrumentation scopes used by the avbridge subsystems.
const (
	ScopeDevice   = "avbridge/device"
	ScopePipeline = "avbridge/pipeline"
)

// DefaultServiceName is reported when Config.ServiceName is empty.
const DefaultServiceName = "avbridge"

const shutdownTimeout = 5 * time.Second

// ErrUnsupportedExporter is returned by NewProvider for an exporter other
// than "grpc" or "http".
var ErrUnsupportedExporter = errors.New("telemetry: unsupported exporter")

// Config selects where avbridge spans go. It mirrors the telemetry block
// of avbridge.yaml.
type Config struct {
	// Enabled false installs a noop provider; every span is dropped.
	Enabled bool

	// ServiceName tags the resource; defaults to DefaultServiceName.
	ServiceName    string
	ServiceVersion string

	// Environment tags the resource, e.g. "lab" or "venue".
	Environment string

	// ExporterType is "grpc" or "http".
	ExporterType string

	// Endpoint is the OTLP collector (localhost:4317 for gRPC, localhost:4318 for HTTP).
	Endpoint string

	// SamplingRate in [0, 1]. Values outside clamp to never/always.
	SamplingRate float64
}

// Provider owns the SDK tracer provider installed as the otel global.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs a global tracer provider and W3C propagator built
// from cfg. With tracing disabled it installs a noop provider instead.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return &Provider{}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// newExporter builds the OTLP exporter. The connection is plaintext; the
// collector is expected on the same host or a trusted segment.
func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case "grpc":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: grpc exporter for %q: %w", cfg.Endpoint, err)
		}
		return exp, nil
	case "http":
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("telemetry: http exporter for %q: %w", cfg.Endpoint, err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w %q (want grpc or http)", ErrUnsupportedExporter, cfg.ExporterType)
	}
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown flushes pending spans, waiting at most shutdownTimeout.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return p.tp.Shutdown(ctx)
}

// Tracer returns a tracer for one of the Scope* names.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scope)
}

// RecordError marks span as failed when err is non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
