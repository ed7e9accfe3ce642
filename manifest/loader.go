// Package manifest defines units declaratively from HCL files.
//
// A manifest holds any number of unit blocks:
//
//	unit "config/app" {
//	  requires = ["lib/strings"]
//	  exports = {
//	    name     = "demo"
//	    greeting = "hello ${deps["lib/strings"].suffix}"
//	  }
//	}
//
// Each block becomes a lazily instantiated unit. Its factory requires every
// entry of requires through the registry and evaluates exports with the
// required exports available as deps.
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/mgomes/units/units"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// fileRoot decodes the top-level blocks of a manifest file.
type fileRoot struct {
	Units  []*unitBlock `hcl:"unit,block"`
	Remain hcl.Body     `hcl:",remain"`
}

type unitBlock struct {
	Name     string         `hcl:"name,label"`
	Requires []string       `hcl:"requires,optional"`
	Exports  hcl.Expression `hcl:"exports,optional"`
}

// Loader defines units from HCL manifests.
type Loader struct {
	registry *units.Registry
	logger   *slog.Logger
}

// NewLoader creates a Loader that defines units in reg.
func NewLoader(reg *units.Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{registry: reg, logger: logger}
}

// Load parses every .hcl file found in paths and defines one unit per block.
// Nothing is evaluated until a unit is required. It returns the names of the
// units that were newly defined, and stops between files once ctx is done.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]string, error) {
	l.logger.Debug("Manifest loader started.", "path_count", len(paths))

	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	l.logger.Debug("Discovered manifest files.", "count", len(files))

	parser := hclparse.NewParser()
	var defined []string
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return defined, fmt.Errorf("manifest loading stopped before %s: %w", file, err)
		}
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", file, diags)
		}

		for _, block := range root.Units {
			isNew, err := l.registry.Define(block.Name, l.factoryFor(block))
			if err != nil {
				return nil, fmt.Errorf("manifest %s: %w", file, err)
			}
			if isNew {
				name, _ := l.registry.DetectName(block.Name)
				defined = append(defined, name)
			}
		}
	}

	sort.Strings(defined)
	l.logger.Debug("Manifest loading complete.", "units", len(defined))
	return defined, nil
}

func (l *Loader) factoryFor(block *unitBlock) units.Factory {
	return func(ctx context.Context, m *units.Module, exports units.Exports, require units.RequireFunc) (any, error) {
		deps := make(map[string]cty.Value, len(block.Requires))
		for _, dep := range block.Requires {
			value, err := require(dep)
			if err != nil {
				return nil, err
			}
			deps[dep] = toCty(value)
		}

		if block.Exports == nil {
			return nil, nil
		}
		value, diags := block.Exports.Value(evalContext(m.Name, deps))
		if diags.HasErrors() {
			return nil, fmt.Errorf("exports of %s: %w", m.Name, diags)
		}

		native, err := ctyToNative(value)
		if err != nil {
			return nil, fmt.Errorf("exports of %s: %w", m.Name, err)
		}
		switch v := native.(type) {
		case nil:
			return nil, nil
		case map[string]any:
			for k, val := range v {
				exports[k] = val
			}
			return nil, nil
		default:
			return v, nil
		}
	}
}

func evalContext(name string, deps map[string]cty.Value) *hcl.EvalContext {
	depsVal := cty.EmptyObjectVal
	if len(deps) > 0 {
		depsVal = cty.ObjectVal(deps)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"deps": depsVal,
			"unit": cty.StringVal(name),
		},
		Functions: map[string]function.Function{
			"upper":  stdlib.UpperFunc,
			"lower":  stdlib.LowerFunc,
			"join":   stdlib.JoinFunc,
			"format": stdlib.FormatFunc,
			"length": stdlib.LengthFunc,
			"concat": stdlib.ConcatFunc,
			"merge":  stdlib.MergeFunc,
		},
	}
}

// findAllHCLFiles walks all given paths and returns every .hcl file found,
// in walk order and without duplicates. Missing paths are skipped.
func findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		allFiles = append(allFiles, p)
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return allFiles, nil
}
