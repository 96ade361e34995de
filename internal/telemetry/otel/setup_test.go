package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviders_EmptyEndpoint(t *testing.T) {
	ctx := context.Background()
	providers, err := NewProviders(ctx, "", "identity-test", false)
	if err != nil {
		t.Fatalf("NewProviders empty endpoint: %v", err)
	}
	if providers.TracerProvider == nil || providers.MeterProvider == nil || providers.LoggerProvider == nil {
		t.Fatal("all providers should be set")
	}
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("shutdown should be no-op for empty endpoint, got %v", err)
	}
	if err := providers.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}

func TestNewProviders_WhitespaceEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "   ", "identity-test", false); err != nil {
		t.Fatalf("NewProviders whitespace endpoint: %v", err)
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	for _, endpoint := range []string{"://invalid", "http://[invalid", "http://"} {
		t.Run(endpoint, func(t *testing.T) {
			if _, err := NewProviders(context.Background(), endpoint, "identity-test", false); err == nil {
				t.Errorf("NewProviders(%q) should return error", endpoint)
			}
		})
	}
}

func TestParseCollector(t *testing.T) {
	tests := []struct {
		endpoint     string
		force        bool
		wantTarget   string
		wantInsecure bool
	}{
		{"localhost:4317", false, "localhost:4317", true},
		{"http://collector:4317", false, "collector:4317", true},
		{"https://collector:4317", false, "collector:4317", false},
		{"https://collector:4317", true, "collector:4317", true},
		{"http://collector:4317/v1/traces", false, "collector:4317", true},
		{"http://collector:4317?x=1", false, "collector:4317", true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			col, err := parseCollector(tt.endpoint, tt.force)
			if err != nil {
				t.Fatalf("parseCollector: %v", err)
			}
			if col.target != tt.wantTarget {
				t.Errorf("target = %q, want %q", col.target, tt.wantTarget)
			}
			if col.insecure != tt.wantInsecure {
				t.Errorf("insecure = %v, want %v", col.insecure, tt.wantInsecure)
			}
		})
	}
}

func TestSetGlobal_WithProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), "", "identity-test", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	oldTP, oldMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	providers.SetGlobal()

	if otel.GetTracerProvider() == oldTP {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetMeterProvider() == oldMP {
		t.Error("MeterProvider should be updated")
	}
}

func TestSetGlobal_PartialProviders(t *testing.T) {
	ctx := context.Background()
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(ctx) }()
	oldTP, oldMP := otel.GetTracerProvider(), otel.GetMeterProvider()
	defer func() {
		otel.SetTracerProvider(oldTP)
		otel.SetMeterProvider(oldMP)
	}()

	(&Providers{TracerProvider: tp}).SetGlobal()

	if otel.GetTracerProvider() == oldTP {
		t.Error("TracerProvider should be updated")
	}
	if otel.GetMeterProvider() != oldMP {
		t.Error("MeterProvider should not be updated when nil")
	}
}
