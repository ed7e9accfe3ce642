package units

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mgomes/units"

var (
	defaultSourceRoots = []string{"units", "src"}
	defaultExtensions  = []string{".js", ".gs", ".go", ".hcl"}
)

// Observer receives registry lifecycle events. Implementations must not call
// back into the registry.
type Observer interface {
	UnitDefined(name string)
	UnitLoaded(name string, elapsed time.Duration, err error)
	CacheHit(name string)
}

// Config controls name detection, logging and instrumentation of a Registry.
type Config struct {
	// SourceRoots are directory prefixes stripped from origins before a name
	// is derived. Defaults to "units" and "src".
	SourceRoots []string
	// Extensions are stripped from origins and requested names. The first one
	// is re-appended when building require candidates. Defaults to .js, .gs,
	// .go and .hcl.
	Extensions []string
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Observer   Observer
}

// Registry holds unit factories, instantiated modules and the set of units
// whose factories are currently running.
type Registry struct {
	config   Config
	names    *NameResolver
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer

	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]*Module
	loading   map[string]bool
	loadStack []string
	loadOrder []string
}

// New constructs a Registry and registers its bootstrap unit.
func New(cfg Config) *Registry {
	if cfg.SourceRoots == nil {
		cfg.SourceRoots = defaultSourceRoots
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = defaultExtensions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}

	r := &Registry{
		config:    cfg,
		names:     NewNameResolver(cfg.SourceRoots, cfg.Extensions),
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		observer:  cfg.Observer,
		factories: make(map[string]Factory),
		instances: make(map[string]*Module),
		loading:   make(map[string]bool),
	}
	r.DefineNamed(BootstrapName, r.bootstrapFactory)
	return r
}

// DetectName derives a unit name from origin using the registry's source roots
// and extensions.
func (r *Registry) DetectName(origin string) (string, error) {
	return r.names.Detect(origin)
}

// Define registers factory under the name detected from origin. It returns
// false without replacing anything when that name is already registered.
func (r *Registry) Define(origin string, factory Factory) (bool, error) {
	name, err := r.names.Detect(origin)
	if err != nil {
		r.logger.Error("Unit definition rejected.", "origin", origin, "error", err)
		return false, err
	}
	return r.define(name, factory), nil
}

// DefineNamed registers factory under an explicit name, bypassing detection.
// It exists for the registry's own bootstrap unit; ordinary units should use
// Define.
func (r *Registry) DefineNamed(name string, factory Factory) (bool, error) {
	if name == "" {
		return false, &NameDetectionError{Origin: name}
	}
	return r.define(name, factory), nil
}

func (r *Registry) define(name string, factory Factory) bool {
	r.mu.Lock()
	if _, exists := r.factories[name]; exists {
		r.mu.Unlock()
		r.logger.Warn("Unit already defined, keeping the first definition.", "unit", name)
		return false
	}
	r.factories[name] = factory
	r.mu.Unlock()

	r.logger.Debug("Unit defined.", "unit", name)
	r.observer.UnitDefined(name)
	return true
}

// Registered returns every registered unit name in sorted order.
func (r *Registry) Registered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registeredLocked()
}

func (r *Registry) registeredLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Loaded returns the names of units whose factories completed successfully, in
// load order.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loadOrder...)
}

// Instances returns a snapshot of every module record, including records of
// units still loading or whose factory failed.
func (r *Registry) Instances() map[string]*Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Module, len(r.instances))
	for name, m := range r.instances {
		out[name] = m
	}
	return out
}

// IsLoading reports whether name's factory is currently running.
func (r *Registry) IsLoading(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading[name]
}

func (r *Registry) bootstrapFactory(_ context.Context, _ *Module, exports Exports, require RequireFunc) (any, error) {
	// The exported require outlives this instantiation, so it must not carry
	// its context.
	exports["require"] = RequireFunc(func(name string) (any, error) {
		return r.Require(context.Background(), name)
	})
	exports["registered"] = r.Registered
	exports["loaded"] = r.Loaded
	exports["detectName"] = r.DetectName
	return nil, nil
}

type noopObserver struct{}

func (noopObserver) UnitDefined(string)                      {}
func (noopObserver) UnitLoaded(string, time.Duration, error) {}
func (noopObserver) CacheHit(string)                         {}
