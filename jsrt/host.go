// Package jsrt hosts JavaScript units and evaluates JavaScript source against a
// units.Registry using the goja runtime. Every .js file becomes one unit whose
// body runs as a CommonJS-style factory with module, exports and require.
package jsrt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/mgomes/units/units"
)

const (
	factoryPrefix = "(function(module, exports, require) {\n"
	factorySuffix = "\n})"
	evalPrefix    = "(function(require, console) {\n"
	evalSuffix    = "\n})"
)

// EvalObserver is notified after every evaluation.
type EvalObserver interface {
	Evaluated(err error)
}

// Config wires a Host to its registry and logging.
type Config struct {
	Registry *units.Registry
	Logger   *slog.Logger
	// Recorder collects the log lines returned with each evaluation. When the
	// registry logs through the same Recorder its trace lines are included.
	Recorder *Recorder
	Observer EvalObserver
}

// Result is the outcome of one evaluation.
type Result struct {
	Value any      `json:"result"`
	Logs  []string `json:"logs"`
}

// Host owns a single goja runtime bound to a registry. All evaluation and every
// JavaScript factory run on that runtime, one at a time.
type Host struct {
	registry *units.Registry
	logger   *slog.Logger
	recorder *Recorder
	observer EvalObserver

	mu sync.Mutex
	vm *goja.Runtime
	// wrappers holds the one goja object per exports map, so every require
	// of a unit yields the same object in JavaScript.
	wrappers map[uintptr]goja.Value
	// exported holds the Go form of replaced JavaScript exports handed to
	// Go callers.
	exported map[*goja.Object]any
}

// NewHost creates a Host. The registry is required.
func NewHost(cfg Config) (*Host, error) {
	if cfg.Registry == nil {
		return nil, errors.New("jsrt: registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = NewRecorder(nil)
	}

	h := &Host{
		registry: cfg.Registry,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		vm:       goja.New(),
		wrappers: make(map[uintptr]goja.Value),
		exported: make(map[*goja.Object]any),
	}
	h.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	modules := require.NewRegistry()
	modules.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&printer{recorder: h.recorder}))
	modules.Enable(h.vm)
	console.Enable(h.vm)

	if err := h.vm.Set("require", h.requireBridge(func(name string) (any, error) {
		return h.registry.Require(context.Background(), name)
	})); err != nil {
		return nil, fmt.Errorf("jsrt: install require: %w", err)
	}
	return h, nil
}

// Registry returns the registry the host resolves units against.
func (h *Host) Registry() *units.Registry {
	return h.registry
}

// DefineSource registers a JavaScript unit. The source is compiled lazily, on
// the unit's first require.
func (h *Host) DefineSource(origin, source string) (bool, error) {
	return h.registry.Define(origin, h.factoryFor(origin, source))
}

// LoadDir registers every .js file under root as a unit, using the file's path
// relative to root as its origin. It returns the names of the units it
// registered; files whose name is already taken are skipped.
func (h *Host) LoadDir(root string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".js" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("jsrt: resolve %s: %w", path, err)
		}
		source, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("jsrt: reading %s: %w", path, err)
		}
		origin := filepath.ToSlash(rel)
		name, err := h.registry.DetectName(origin)
		if err != nil {
			return err
		}
		isNew, err := h.DefineSource(origin, string(source))
		if err != nil {
			return err
		}
		if !isNew {
			h.logger.Debug("Skipping JavaScript unit with a taken name.", "unit", name, "path", path)
			return nil
		}
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	h.logger.Debug("JavaScript units loaded.", "root", root, "count", len(names))
	return names, nil
}

// Require resolves a unit on behalf of Go code, serialized with evaluations.
// Every call for the same unit returns the same Go value: seeded exports come
// back as the registry's own map and replaced JavaScript exports are exported
// once and cached.
func (h *Host) Require(ctx context.Context, name string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	exports, err := h.registry.Require(ctx, name)
	if err != nil {
		return nil, err
	}
	return h.shared(exports), nil
}

// Eval runs source as the body of a function that receives require and
// console, and returns the function's result with the log lines recorded
// while it ran. The logs are returned on failure too.
func (h *Host) Eval(ctx context.Context, source string) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recorder.Start()
	value, err := h.eval(ctx, source)
	result := &Result{Value: value, Logs: h.recorder.Stop()}
	if result.Logs == nil {
		result.Logs = []string{}
	}
	if h.observer != nil {
		h.observer.Evaluated(err)
	}
	if err != nil {
		h.logger.Debug("Evaluation failed.", "error", err)
		return result, err
	}
	return result, nil
}

func (h *Host) eval(ctx context.Context, source string) (any, error) {
	stop := h.interruptOnDone(ctx)
	defer stop()

	fnVal, err := h.vm.RunString(evalPrefix + source + evalSuffix)
	if err != nil {
		return nil, scriptError(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, errors.New("jsrt: source did not compile to a function")
	}

	requireVal := h.vm.ToValue(h.requireBridge(func(name string) (any, error) {
		return h.registry.Require(ctx, name)
	}))
	ret, err := fn(goja.Undefined(), requireVal, h.vm.Get("console"))
	if err != nil {
		return nil, scriptError(err)
	}
	return exportValue(ret), nil
}

// IsExpression reports whether source parses as a single JavaScript
// expression.
func IsExpression(source string) bool {
	_, err := goja.Compile("", "(function() { return (\n"+source+"\n); })", false)
	return err == nil
}

func (h *Host) factoryFor(origin, source string) units.Factory {
	return func(ctx context.Context, m *units.Module, exports units.Exports, require units.RequireFunc) (any, error) {
		program, err := goja.Compile(origin, factoryPrefix+source+factorySuffix, false)
		if err != nil {
			return nil, scriptError(err)
		}
		fnVal, err := h.vm.RunProgram(program)
		if err != nil {
			return nil, scriptError(err)
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return nil, fmt.Errorf("jsrt: %s did not compile to a function", origin)
		}

		moduleObj := h.vm.NewObject()
		seeded := h.wrap(exports)
		if err := moduleObj.Set("exports", seeded); err != nil {
			return nil, err
		}
		if err := moduleObj.Set("id", m.Name); err != nil {
			return nil, err
		}

		ret, err := fn(goja.Undefined(), moduleObj, seeded, h.vm.ToValue(h.requireBridge(require)))
		if err != nil {
			return nil, scriptError(err)
		}
		if defined(ret) {
			return ret, nil
		}
		if current := moduleObj.Get("exports"); defined(current) && !current.SameAs(seeded) {
			return current, nil
		}
		return nil, nil
	}
}

func (h *Host) requireBridge(resolve units.RequireFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0)
		if !defined(name) {
			panic(h.vm.NewTypeError("require expects a unit name"))
		}
		exports, err := resolve(name.String())
		if err != nil {
			panic(h.vm.NewGoError(err))
		}
		return h.toValue(exports)
	}
}

func (h *Host) toValue(v any) goja.Value {
	switch val := v.(type) {
	case goja.Value:
		return val
	case units.Exports:
		return h.wrap(val)
	default:
		return h.vm.ToValue(v)
	}
}

func (h *Host) wrap(exports units.Exports) goja.Value {
	key := reflect.ValueOf(exports).Pointer()
	if obj, ok := h.wrappers[key]; ok {
		return obj
	}
	obj := h.vm.ToValue(map[string]any(exports))
	h.wrappers[key] = obj
	return obj
}

func (h *Host) shared(v any) any {
	obj, ok := v.(*goja.Object)
	if !ok {
		return exportValue(v)
	}
	if out, ok := h.exported[obj]; ok {
		return out
	}
	out := obj.Export()
	h.exported[obj] = out
	return out
}

func (h *Host) interruptOnDone(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			h.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		close(done)
		<-exited
		h.vm.ClearInterrupt()
	}
}

func defined(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func exportValue(v any) any {
	switch val := v.(type) {
	case goja.Value:
		if !defined(val) {
			return nil
		}
		return val.Export()
	case units.Exports:
		return map[string]any(val)
	default:
		return v
	}
}

// ScriptError is a JavaScript failure. Cause holds the Go error that was
// thrown into the script, if any, so engine errors stay reachable through
// errors.Is and errors.As.
type ScriptError struct {
	Message string
	Cause   error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error { return e.Cause }

func scriptError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return &ScriptError{Message: interrupted.Error(), Cause: cause}
		}
		return &ScriptError{Message: interrupted.Error()}
	}
	var exception *goja.Exception
	if !errors.As(err, &exception) {
		return err
	}
	message := strings.TrimSpace(exception.Error())
	if obj, ok := exception.Value().(*goja.Object); ok {
		if inner := obj.Get("value"); inner != nil {
			if cause, ok := inner.Export().(error); ok {
				return &ScriptError{Message: message, Cause: cause}
			}
		}
	}
	return &ScriptError{Message: message}
}

// printer sends console output into the active recording only. Registry
// logs already reach the recorder through slog, so console lines are not
// logged a second time.
type printer struct {
	recorder *Recorder
}

func (p *printer) Log(s string) { p.recorder.Append(s) }

func (p *printer) Info(s string) { p.recorder.Append(s) }

func (p *printer) Debug(s string) { p.recorder.Append(s) }

func (p *printer) Warn(s string) { p.recorder.Append("warn: " + s) }

func (p *printer) Error(s string) { p.recorder.Append("error: " + s) }
