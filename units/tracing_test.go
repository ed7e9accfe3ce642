package units

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracedRegistry(t *testing.T) (*Registry, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	r := New(Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tracer: provider.Tracer("units-test"),
	})
	return r, recorder
}

func spanFor(t *testing.T, recorder *tracetest.SpanRecorder, unit string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range recorder.Ended() {
		for _, attr := range span.Attributes() {
			if attr.Key == "units.name" && attr.Value.AsString() == unit {
				return span
			}
		}
	}
	t.Fatalf("no ended span for unit %q", unit)
	return nil
}

func TestInstantiateSpans(t *testing.T) {
	r, recorder := newTracedRegistry(t)
	mustDefine(t, r, "lib/ok.js", func(context.Context, *Module, Exports, RequireFunc) (any, error) {
		return "fine", nil
	})
	mustDefine(t, r, "lib/broken.js", func(_ context.Context, _ *Module, _ Exports, require RequireFunc) (any, error) {
		if _, err := require("lib/ok"); err != nil {
			return nil, err
		}
		return nil, errors.New("boom")
	})

	if _, err := r.Require(context.Background(), "lib/broken"); err == nil {
		t.Fatalf("expected factory failure")
	}

	broken := spanFor(t, recorder, "lib/broken")
	if broken.Name() != "units.instantiate" {
		t.Fatalf("unexpected span name %q", broken.Name())
	}
	if broken.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", broken.Status())
	}

	ok := spanFor(t, recorder, "lib/ok")
	if ok.Status().Code == codes.Error {
		t.Fatalf("expected dependency span without error status")
	}
	if ok.Parent().SpanID() != broken.SpanContext().SpanID() {
		t.Fatalf("expected dependency span to be a child of its dependent")
	}
	want := attribute.String("units.name", "lib/ok")
	found := false
	for _, attr := range ok.Attributes() {
		if attr == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %v on span, got %v", want, ok.Attributes())
	}
}

func TestBootstrapRequireStartsFreshTrace(t *testing.T) {
	r, recorder := newTracedRegistry(t)
	var seen *Module
	mustDefine(t, r, "leaf", func(ctx context.Context, m *Module, _ Exports, _ RequireFunc) (any, error) {
		seen = r.CurrentModule(ctx)
		return "leaf-exports", nil
	})

	self := mustRequire(t, r, BootstrapName).(Exports)
	require := self["require"].(RequireFunc)
	if _, err := require("leaf"); err != nil {
		t.Fatalf("bootstrap require failed: %v", err)
	}

	if seen == nil || seen.Name != "leaf" {
		t.Fatalf("expected leaf to see its own module, got %#v", seen)
	}
	if span := spanFor(t, recorder, "leaf"); span.Parent().IsValid() {
		t.Fatalf("expected no parent span, got %v", span.Parent())
	}
}

func TestMustRequire(t *testing.T) {
	r := newTestRegistry(t)
	mustDefine(t, r, "answer", func(context.Context, *Module, Exports, RequireFunc) (any, error) {
		return 42, nil
	})
	if got := r.MustRequire(context.Background(), "answer"); got != 42 {
		t.Fatalf("expected 42, got %#v", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for a missing unit")
		}
	}()
	r.MustRequire(context.Background(), "missing")
}
