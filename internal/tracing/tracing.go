// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracing wraps the OpenTelemetry SDK for the controller: one span
// per orchestrator phase, exported to stdout. Disabled unless LB_TRACE=1.
package tracing

import (
	"context"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the tracer lifecycle for one process.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// Enabled reports whether tracing was requested in the environment.
func Enabled() bool {
	return os.Getenv("LB_TRACE") == "1"
}

// NewProvider builds a provider. When disabled, every span operation is a
// no-op and Shutdown does nothing.
func NewProvider(serviceName, version string) (*Provider, error) {
	if !Enabled() {
		return &Provider{}, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	resource, err := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource),
	)
	return &Provider{
		provider: provider,
		tracer:   provider.Tracer("loadbench/controller"),
		enabled:  true,
	}, nil
}

// StartPhase opens a span for an orchestrator phase. The returned func ends
// it. No-op when tracing is disabled.
func (p *Provider) StartPhase(ctx context.Context, phase, runID string) (context.Context, func()) {
	if p == nil || !p.enabled {
		return ctx, func() {}
	}
	ctx, span := p.tracer.Start(ctx, phase, trace.WithAttributes(
		attribute.String("loadbench.run_id", runID),
		attribute.String("loadbench.phase", phase),
	))
	return ctx, func() { span.End() }
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
