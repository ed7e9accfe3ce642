package units

import "context"

type moduleKey struct{}

type originKey struct{}

// WithModule returns a context that carries m as the module under
// construction. Require does this for every factory it invokes.
func WithModule(ctx context.Context, m *Module) context.Context {
	return context.WithValue(ctx, moduleKey{}, m)
}

// ModuleFromContext returns the module carried by ctx, if any.
func ModuleFromContext(ctx context.Context) (*Module, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(moduleKey{}).(*Module)
	return m, ok && m != nil
}

// WithOrigin attaches an origin to ctx for CurrentModule to resolve when no
// module is in flight.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// CurrentModule returns the module currently being constructed. It is only
// meaningful inside a factory's dynamic extent. Outside of one it resolves the
// origin attached with WithOrigin, creating and registering an empty record
// under that name if needed, and falls back to the "unknown" bucket. It never
// fails.
func (r *Registry) CurrentModule(ctx context.Context) *Module {
	if m, ok := ModuleFromContext(ctx); ok {
		r.mu.Lock()
		m.handedOut = true
		r.mu.Unlock()
		return m
	}

	name := UnknownName
	if ctx != nil {
		if origin, ok := ctx.Value(originKey{}).(string); ok {
			if detected, err := r.names.Detect(origin); err == nil {
				name = detected
			} else {
				r.logger.Debug("Current module origin unrecognized, using fallback bucket.", "origin", origin, "bucket", UnknownName)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.instances[name]
	if !ok {
		m = newModule(name)
		r.instances[name] = m
		r.logger.Debug("Module record created on demand.", "unit", name)
	}
	m.handedOut = true
	return m
}
