package units

import "context"

// Exports is the pre-seeded export object handed to every factory. Factories
// may populate it in place or return a different value to replace it.
type Exports map[string]any

// Module is the record a factory populates. It is created the first time its
// unit is required and lives as long as the registry that created it.
type Module struct {
	Name    string
	Exports any

	handedOut bool
}

// RequireFunc resolves a unit name to its exports. The function given to a
// factory is bound to the registry and to the factory's load chain.
type RequireFunc func(name string) (any, error)

// Factory builds a unit. A non-nil return value becomes the module's exports,
// discarding the pre-seeded object.
type Factory func(ctx context.Context, m *Module, exports Exports, require RequireFunc) (any, error)

func newModule(name string) *Module {
	return &Module{Name: name, Exports: Exports{}}
}

func (m *Module) seededExports() Exports {
	if exports, ok := m.Exports.(Exports); ok {
		return exports
	}
	return nil
}
