// Package app assembles the registry, hosts and loaders from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mgomes/units/jsrt"
	"github.com/mgomes/units/manifest"
	"github.com/mgomes/units/telemetry"
	"github.com/mgomes/units/units"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App is one fully wired runtime.
type App struct {
	Config   *Config
	Logger   *slog.Logger
	Registry *units.Registry
	Host     *jsrt.Host
	Metrics  *telemetry.Metrics
	// Gatherer exposes the metrics registered by this App.
	Gatherer prometheus.Gatherer

	tracerProvider *sdktrace.TracerProvider
}

// New wires an App that logs to logOut. Nothing is loaded until Load.
func New(cfg *Config, logOut io.Writer) (*App, error) {
	handler, err := NewLogHandler(cfg.Log, logOut)
	if err != nil {
		return nil, err
	}
	recorder := jsrt.NewRecorder(handler)
	logger := slog.New(recorder)

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(telemetry.WithRegistry(promRegistry))
	provider := newTracerProvider(cfg.Trace, logger)

	registry := units.New(units.Config{
		SourceRoots: cfg.Units.SourceRoots,
		Extensions:  cfg.Units.Extensions,
		Logger:      logger,
		Tracer:      tracerFrom(provider),
		Observer:    metrics,
	})

	host, err := jsrt.NewHost(jsrt.Config{
		Registry: registry,
		Logger:   logger,
		Recorder: recorder,
		Observer: metrics,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Host:     host,
		Metrics:  metrics,
		Gatherer: promRegistry,

		tracerProvider: provider,
	}, nil
}

// Close shuts down the tracer provider, if tracing is enabled.
func (a *App) Close(ctx context.Context) error {
	if a.tracerProvider == nil {
		return nil
	}
	return a.tracerProvider.Shutdown(ctx)
}

// Load defines every configured JavaScript unit and manifest, then requires
// the preload list.
func (a *App) Load(ctx context.Context) error {
	for _, dir := range a.Config.Units.Dirs {
		names, err := a.Host.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("load units from %s: %w", dir, err)
		}
		a.Logger.Debug("Unit directory loaded.", "dir", dir, "units", len(names))
	}

	if len(a.Config.Units.Manifests) > 0 {
		loader := manifest.NewLoader(a.Registry, a.Logger)
		if _, err := loader.Load(ctx, a.Config.Units.Manifests...); err != nil {
			return err
		}
	}

	for _, name := range a.Config.Units.Preload {
		if _, err := a.Host.Require(ctx, name); err != nil {
			return fmt.Errorf("preload %s: %w", name, err)
		}
	}
	return nil
}
