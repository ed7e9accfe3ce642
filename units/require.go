package units

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Candidates returns the keys Require tries for a requested name, in order.
func (r *Registry) Candidates(name string) []string {
	ext := r.canonicalExtension()
	seen := make(map[string]struct{}, 5)
	var out []string
	add := func(key string) {
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}

	add(name)

	normalized := strings.TrimSpace(name)
	switch {
	case strings.HasPrefix(normalized, "./"):
		normalized = normalized[2:]
	case strings.HasPrefix(normalized, "../"):
		normalized = normalized[3:]
	}
	if stripped, strippedExt := r.splitExtension(normalized); strippedExt != "" {
		normalized = stripped
		ext = strippedExt
	}
	add(normalized)
	add(normalized + ext)

	if base := path.Base(normalized); base != normalized && base != "." && base != "/" {
		add(base)
		add(base + ext)
	}
	return out
}

// Require returns the exports of the named unit, instantiating it on first use.
// It may be called from inside a factory; the require function handed to
// factories does so with the factory's context.
func (r *Registry) Require(ctx context.Context, name string) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	candidates := r.Candidates(name)

	r.mu.Lock()
	selected := ""
	for _, key := range candidates {
		if m, ok := r.instances[key]; ok {
			if r.loading[key] {
				chain := append(append([]string(nil), r.loadStack...), key)
				r.mu.Unlock()
				return nil, r.cycleError(key, chain)
			}
			exports := m.Exports
			r.mu.Unlock()
			r.logger.Debug("Unit served from cache.", "unit", key, "request", name)
			r.observer.CacheHit(key)
			return exports, nil
		}
		if _, ok := r.factories[key]; ok {
			selected = key
			break
		}
	}

	if selected == "" {
		var ambiguous []string
		selected, ambiguous = r.matchBasenameLocked(name)
		if selected == "" {
			err := &NotFoundError{
				Request:    name,
				Candidates: candidates,
				Registered: r.registeredLocked(),
				Ambiguous:  ambiguous,
			}
			r.mu.Unlock()
			r.logger.Debug("Unit not found.", "request", name, "candidates", candidates)
			return nil, err
		}
		if m, ok := r.instances[selected]; ok && !r.loading[selected] {
			exports := m.Exports
			r.mu.Unlock()
			r.logger.Debug("Unit served from cache.", "unit", selected, "request", name)
			r.observer.CacheHit(selected)
			return exports, nil
		}
	}

	if r.loading[selected] {
		chain := append(append([]string(nil), r.loadStack...), selected)
		r.mu.Unlock()
		return nil, r.cycleError(selected, chain)
	}

	factory := r.factories[selected]
	m := newModule(selected)
	r.instances[selected] = m
	r.loading[selected] = true
	r.loadStack = append(r.loadStack, selected)
	r.mu.Unlock()

	return r.instantiate(ctx, m, factory)
}

func (r *Registry) instantiate(ctx context.Context, m *Module, factory Factory) (result any, err error) {
	name := m.Name
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "units.instantiate")
	span.SetAttributes(attribute.String("units.name", name))

	completed := false
	defer func() {
		if !completed && err == nil {
			err = fmt.Errorf("factory for %q panicked", name)
		}
		r.mu.Lock()
		delete(r.loading, name)
		if n := len(r.loadStack); n > 0 && r.loadStack[n-1] == name {
			r.loadStack = r.loadStack[:n-1]
		}
		if err == nil {
			r.loadOrder = append(r.loadOrder, name)
		}
		r.mu.Unlock()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		r.observer.UnitLoaded(name, time.Since(started), err)
	}()

	r.logger.Debug("Loading unit.", "unit", name)

	ctx = WithModule(ctx, m)
	require := func(dep string) (any, error) {
		return r.Require(ctx, dep)
	}

	exports := m.seededExports()
	returned, ferr := factory(ctx, m, exports, require)
	completed = true
	if ferr != nil {
		r.logger.Debug("Unit factory failed.", "unit", name, "error", ferr)
		return nil, &FactoryError{Name: name, Err: ferr}
	}
	if returned != nil {
		r.mu.Lock()
		handedOut := m.handedOut
		m.Exports = returned
		r.mu.Unlock()
		if handedOut {
			r.logger.Warn("Unit replaced exports after CurrentModule handed out the original object.", "unit", name)
		}
	}

	r.logger.Debug("Unit loaded.", "unit", name, "elapsed", time.Since(started))
	return r.exportsOf(m), nil
}

func (r *Registry) exportsOf(m *Module) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.Exports
}

// matchBasenameLocked finds the single registered unit whose last path segment
// equals a request that has no directory part. It reports every match when
// there is more than one.
func (r *Registry) matchBasenameLocked(request string) (string, []string) {
	base := strings.TrimPrefix(strings.TrimSpace(request), "./")
	base, _ = r.splitExtension(base)
	if base == "" || strings.Contains(base, "/") {
		return "", nil
	}
	var matches []string
	for name := range r.factories {
		if path.Base(name) == base {
			matches = append(matches, name)
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	sort.Strings(matches)
	return "", matches
}

func (r *Registry) cycleError(name string, chain []string) error {
	if cycle, ok := moduleCycleFromLoadStack(chain[:len(chain)-1], name); ok {
		chain = cycle
	}
	err := &CycleError{Name: name, Chain: chain}
	r.logger.Debug("Circular dependency.", "unit", name, "chain", formatModuleCycle(chain))
	return err
}

func (r *Registry) canonicalExtension() string {
	if len(r.names.extensions) == 0 {
		return ""
	}
	return r.names.extensions[0]
}

func (r *Registry) splitExtension(name string) (string, string) {
	for _, ext := range r.names.extensions {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return strings.TrimSuffix(name, ext), ext
		}
	}
	return name, ""
}

// MustRequire is like Require but panics on error.
func (r *Registry) MustRequire(ctx context.Context, name string) any {
	exports, err := r.Require(ctx, name)
	if err != nil {
		panic(fmt.Sprintf("units: %v", err))
	}
	return exports
}
