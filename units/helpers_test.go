package units

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
}

func mustDefine(t *testing.T, r *Registry, origin string, factory Factory) {
	t.Helper()
	if _, err := r.Define(origin, factory); err != nil {
		t.Fatalf("define %q failed: %v", origin, err)
	}
}

func mustRequire(t *testing.T, r *Registry, name string) any {
	t.Helper()
	exports, err := r.Require(context.Background(), name)
	if err != nil {
		t.Fatalf("require %q failed: %v", name, err)
	}
	return exports
}

func sameObject(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != vb.Kind() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Slice:
		return va.Pointer() == vb.Pointer()
	default:
		return false
	}
}
