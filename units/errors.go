package units

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNameDetection      = errors.New("units: name detection failed")
	ErrNotFound           = errors.New("units: module not found")
	ErrCircularDependency = errors.New("units: circular dependency")
	ErrFactory            = errors.New("units: factory failed")
)

// NameDetectionError reports an origin that yielded no usable unit name.
type NameDetectionError struct {
	Origin string
}

func (e *NameDetectionError) Error() string {
	origin := strings.TrimSpace(e.Origin)
	if origin == "" {
		origin = "<empty>"
	}
	return fmt.Sprintf("define: could not detect unit name from origin:\n%s", indent(origin))
}

func (e *NameDetectionError) Is(target error) bool { return target == ErrNameDetection }

// NotFoundError reports a require that matched no registered factory. It keeps
// every candidate that was tried and the registry listing at call time.
type NotFoundError struct {
	Request    string
	Candidates []string
	Registered []string
	Ambiguous  []string
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "require: module %q not found (tried %s", e.Request, quoteList(e.Candidates))
	if len(e.Ambiguous) > 0 {
		fmt.Fprintf(&b, "; ambiguous basename matches %s", quoteList(e.Ambiguous))
	}
	fmt.Fprintf(&b, "; registered: %s)", quoteList(e.Registered))
	return b.String()
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CycleError reports a unit that was required again while its own factory was
// still running.
type CycleError struct {
	Name  string
	Chain []string
}

func (e *CycleError) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("require: circular dependency detected: %s", formatModuleCycle(e.Chain))
	}
	return fmt.Sprintf("require: circular dependency detected for module %q", e.Name)
}

func (e *CycleError) Is(target error) bool { return target == ErrCircularDependency }

// FactoryError wraps an error returned by a unit's factory.
type FactoryError struct {
	Name string
	Err  error
}

func (e *FactoryError) Error() string {
	return fmt.Sprintf("require: loading %q failed: %v", e.Name, e.Err)
}

func (e *FactoryError) Unwrap() error { return e.Err }

func (e *FactoryError) Is(target error) bool { return target == ErrFactory }

// Kind names the error class of err for hosts that report it in structured
// responses. Errors outside the engine's taxonomy report "error".
func Kind(err error) string {
	var (
		nameErr    *NameDetectionError
		notFound   *NotFoundError
		cycleErr   *CycleError
		factoryErr *FactoryError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cycleErr):
		return "CircularDependency"
	case errors.As(err, &notFound):
		return "ModuleNotFound"
	case errors.As(err, &nameErr):
		return "NameDetectionFailure"
	case errors.As(err, &factoryErr):
		return "FactoryError"
	default:
		return "error"
	}
}

func quoteList(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = "    " + line
	}
	return strings.Join(lines, "\n")
}
