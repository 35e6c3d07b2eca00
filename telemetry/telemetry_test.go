// Copyright 2026 Firefly Software Solutions Inc
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

package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("FIREFLY_ENV", "")
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("FIREFLY_METRICS_PORT", "")

	cfg := DefaultConfig()
	if cfg.ServiceName != "firefly-pipeline" {
		t.Errorf("unexpected service name: %q", cfg.ServiceName)
	}
	if cfg.Environment != "development" {
		t.Errorf("unexpected environment: %q", cfg.Environment)
	}
	if cfg.TraceExporter != "otlp" || cfg.MetricExporter != "prometheus" {
		t.Errorf("unexpected exporters: %q / %q", cfg.TraceExporter, cfg.MetricExporter)
	}
	if cfg.PrometheusPort != 9090 {
		t.Errorf("unexpected prometheus port: %d", cfg.PrometheusPort)
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("FIREFLY_ENV", "production")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("FIREFLY_METRICS_PORT", "9191")

	cfg := DefaultConfig()
	if cfg.Environment != "production" {
		t.Errorf("env override ignored: %q", cfg.Environment)
	}
	if cfg.TraceExporter != "stdout" || cfg.MetricExporter != "none" {
		t.Errorf("exporter overrides ignored: %q / %q", cfg.TraceExporter, cfg.MetricExporter)
	}
	if cfg.PrometheusPort != 9191 {
		t.Errorf("port override ignored: %d", cfg.PrometheusPort)
	}
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck
	_, err := Init(nil, DefaultConfig())
	if !errors.Is(err, ErrNilContext) {
		t.Errorf("expected ErrNilContext, got %v", err)
	}
}

func TestInit_NoneExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_StdoutExporters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "stdout"
	cfg.MetricExporter = "stdout"

	shutdown, err := Init(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "carrier-pigeon"
	cfg.MetricExporter = "none"

	_, err := Init(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("expected ErrUnknownExporter, got %v", err)
	}

	cfg.TraceExporter = "none"
	cfg.MetricExporter = "carrier-pigeon"
	_, err = Init(context.Background(), cfg)
	if !errors.Is(err, ErrUnknownExporter) {
		t.Errorf("expected ErrUnknownExporter, got %v", err)
	}
}
