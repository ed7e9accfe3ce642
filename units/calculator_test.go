package units

import (
	"context"
	"errors"
	"testing"
)

var errDivideByZero = errors.New("division by zero")

type calculator struct {
	Add      func(a, b float64) float64
	Subtract func(a, b float64) float64
	Multiply func(a, b float64) float64
	Divide   func(a, b float64) (float64, error)
}

func defineCalculator(t *testing.T, r *Registry) {
	t.Helper()
	mustDefine(t, r, "calculator", func(ctx context.Context, m *Module, exports Exports, require RequireFunc) (any, error) {
		return &calculator{
			Add:      func(a, b float64) float64 { return a + b },
			Subtract: func(a, b float64) float64 { return a - b },
			Multiply: func(a, b float64) float64 { return a * b },
			Divide: func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, errDivideByZero
				}
				return a / b, nil
			},
		}, nil
	})
}

func TestCalculatorScenario(t *testing.T) {
	r := newTestRegistry(t)
	defineCalculator(t, r)

	mustDefine(t, r, "report", func(ctx context.Context, m *Module, exports Exports, require RequireFunc) (any, error) {
		dep, err := require("calculator")
		if err != nil {
			return nil, err
		}
		calc := dep.(*calculator)
		exports["sum"] = calc.Add(2, 3)
		exports["difference"] = calc.Subtract(10, 4)
		exports["product"] = calc.Multiply(3, 4)
		return nil, nil
	})

	report := mustRequire(t, r, "report").(Exports)
	if report["sum"] != 5.0 {
		t.Fatalf("expected add(2,3) = 5, got %#v", report["sum"])
	}
	if report["difference"] != 6.0 || report["product"] != 12.0 {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestCalculatorDivideByZeroSurfacesAsFactoryError(t *testing.T) {
	r := newTestRegistry(t)
	defineCalculator(t, r)

	mustDefine(t, r, "ratio", func(ctx context.Context, m *Module, exports Exports, require RequireFunc) (any, error) {
		dep, err := require("calculator")
		if err != nil {
			return nil, err
		}
		value, err := dep.(*calculator).Divide(1, 0)
		if err != nil {
			return nil, err
		}
		exports["value"] = value
		return nil, nil
	})

	_, err := r.Require(context.Background(), "ratio")
	var factoryErr *FactoryError
	if !errors.As(err, &factoryErr) || factoryErr.Name != "ratio" {
		t.Fatalf("expected FactoryError for ratio, got %v", err)
	}
	if !errors.Is(err, errDivideByZero) {
		t.Fatalf("expected divide error to be preserved, got %v", err)
	}

	// Called directly, outside any factory, the error reaches the caller as is.
	calc := mustRequire(t, r, "calculator").(*calculator)
	if _, err := calc.Divide(1, 0); !errors.Is(err, errDivideByZero) {
		t.Fatalf("expected direct divide error, got %v", err)
	}
}
