package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	before := otel.GetTracerProvider()

	for _, cfg := range []Config{
		{Enabled: true},
		{Enabled: false, Endpoint: "http://127.0.0.1:4318"},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Setup(%+v) failed: %v", cfg, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("noop shutdown failed: %v", err)
		}
	}

	if otel.GetTracerProvider() != before {
		t.Fatal("expected disabled setup to leave the global provider alone")
	}
}

func TestSetupRejectsBadRatio(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Enabled: true, Endpoint: "http://127.0.0.1:4318", SampleRatio: 2}); err == nil {
		t.Fatal("expected ratio above 1 to fail")
	}
}

func TestSetupInstallsProvider(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	shutdown, err := Setup(context.Background(), Config{
		Enabled:     true,
		Endpoint:    "http://127.0.0.1:4318",
		ServiceName: "marketauthd-test",
		SampleRatio: 1,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected sdk provider, got %T", otel.GetTracerProvider())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}
