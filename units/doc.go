// Package units implements a lazily evaluated unit registry. Independently
// defined units register a deferred factory and resolve each other by name on
// first use:
//   - Define derives a hierarchical name such as `group/util` from an origin
//     token (a source path or a stack-frame shaped line) supplied by the
//     packaging step, and records the factory without running it.
//   - Require normalizes the requested name into candidate keys (`./x.js`,
//     `x`, `x.js`, basename), runs the matching factory exactly once and
//     returns the same exports value to every later caller.
//   - Re-entering a unit whose factory is still running reports a
//     CycleError instead of recursing.
//   - CurrentModule gives helper code running inside a factory the module
//     record under construction, carried through context.Context.
//
// A Registry is owned by its host. Factories run synchronously on the caller's
// goroutine and hosts serialize instantiation themselves.
package units
