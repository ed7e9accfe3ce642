package manifest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mgomes/units/units"
)

func newTestLoader(t *testing.T) (*Loader, *units.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := units.New(units.Config{Logger: logger})
	return NewLoader(reg, logger), reg
}

func defineSettings(t *testing.T, reg *units.Registry) {
	t.Helper()
	_, err := reg.DefineNamed("settings", func(ctx context.Context, m *units.Module, exports units.Exports, require units.RequireFunc) (any, error) {
		exports["port"] = 8080
		exports["handler"] = func() {}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("define settings: %v", err)
	}
}

func TestLoadDefinesUnitsLazily(t *testing.T) {
	loader, reg := newTestLoader(t)
	names, err := loader.Load(context.Background(), "testdata/basic")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	want := "config/app,config/empty,lib/strings"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if loaded := reg.Loaded(); len(loaded) != 0 {
		t.Fatalf("expected nothing instantiated, got %v", loaded)
	}
}

func TestExportsEvaluateAgainstDeps(t *testing.T) {
	loader, reg := newTestLoader(t)
	defineSettings(t, reg)
	if _, err := loader.Load(context.Background(), "testdata/basic"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	value, err := reg.Require(context.Background(), "config/app")
	if err != nil {
		t.Fatalf("require failed: %v", err)
	}
	exports := value.(units.Exports)

	checks := map[string]any{
		"name":     "demo",
		"greeting": "hello world",
		"shout":    "WORLD",
		"joined":   "alpha,beta",
		"port":     8081.0,
		"self":     "config/app",
	}
	for key, want := range checks {
		if exports[key] != want {
			t.Fatalf("expected %s = %#v, got %#v", key, want, exports[key])
		}
	}

	loaded := strings.Join(reg.Loaded(), ",")
	if loaded != "lib/strings,settings,config/app" {
		t.Fatalf("unexpected load order %s", loaded)
	}
}

func TestUnitWithoutExportsKeepsSeededObject(t *testing.T) {
	loader, reg := newTestLoader(t)
	if _, err := loader.Load(context.Background(), "testdata/basic"); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	value, err := reg.Require(context.Background(), "config/empty")
	if err != nil {
		t.Fatalf("require failed: %v", err)
	}
	exports, ok := value.(units.Exports)
	if !ok || len(exports) != 0 {
		t.Fatalf("expected empty exports, got %#v", value)
	}
}

func TestMissingRequirementIsNotFound(t *testing.T) {
	loader, reg := newTestLoader(t)
	if _, err := loader.Load(context.Background(), "testdata/basic"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	_, err := reg.Require(context.Background(), "config/app")
	var notFound *units.NotFoundError
	if !errors.As(err, &notFound) || notFound.Request != "settings" {
		t.Fatalf("expected settings not found, got %v", err)
	}
	var factoryErr *units.FactoryError
	if !errors.As(err, &factoryErr) || factoryErr.Name != "config/app" {
		t.Fatalf("expected failure attributed to config/app, got %v", err)
	}
}

func TestManifestCycle(t *testing.T) {
	loader, reg := newTestLoader(t)
	if _, err := loader.Load(context.Background(), "testdata/cycle/loop.hcl"); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	_, err := reg.Require(context.Background(), "ping")
	var cycle *units.CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if got := strings.Join(cycle.Chain, " -> "); got != "ping -> pong -> ping" {
		t.Fatalf("unexpected chain %q", got)
	}
}

func TestLoadSkipsMissingPathsAndOtherFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a manifest"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader, _ := newTestLoader(t)
	names, err := loader.Load(context.Background(), dir, filepath.Join(dir, "absent"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no units, got %v", names)
	}
}

func TestLoadRejectsInvalidHCL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.hcl")
	if err := os.WriteFile(path, []byte(`unit "x" {`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader, _ := newTestLoader(t)
	if _, err := loader.Load(context.Background(), path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDuplicateBlockKeepsFirst(t *testing.T) {
	dir := t.TempDir()
	first := "unit \"dup\" {\n  exports = { v = 1 }\n}\n"
	second := "unit \"dup\" {\n  exports = { v = 2 }\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(first), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(second), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loader, reg := newTestLoader(t)
	names, err := loader.Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if strings.Join(names, ",") != "dup" {
		t.Fatalf("expected dup once, got %v", names)
	}
	value, err := reg.Require(context.Background(), "dup")
	if err != nil {
		t.Fatalf("require failed: %v", err)
	}
	if got := value.(units.Exports)["v"]; got != 1.0 {
		t.Fatalf("expected first definition, got %#v", got)
	}
}

func TestLoadStopsWhenContextDone(t *testing.T) {
	loader, reg := newTestLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	names, err := loader.Load(ctx, "testdata/basic")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected nothing defined, got %v", names)
	}
	if registered := strings.Join(reg.Registered(), ","); registered != "units" {
		t.Fatalf("expected only the bootstrap unit, got %s", registered)
	}
}
