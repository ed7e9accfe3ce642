package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, used, err := LoadConfig(LoadOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if used != "" {
		t.Fatalf("expected no config file, got %s", used)
	}
	if cfg.Log.Level != "info" || cfg.Server.Addr != ":8080" || !cfg.Server.Metrics {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if strings.Join(cfg.Units.Extensions, ",") != ".js,.gs,.go,.hcl" {
		t.Fatalf("unexpected extensions %v", cfg.Units.Extensions)
	}
}

func TestLoadConfigFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "units.toml"), `
[log]
level = "debug"

[units]
dirs = ["js"]
preload = ["config"]

[server]
addr = ":9000"
`)
	t.Setenv("UNITS_SERVER_METRICS", "false")
	t.Setenv("UNITS_TRACE_ENABLED", "true")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.String("log-format", "text", "")
	if err := flags.Parse([]string{"--addr", ":7000"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, used, err := LoadConfig(LoadOptions{Dir: dir, Flags: flags})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if filepath.Base(used) != "units.toml" {
		t.Fatalf("expected units.toml to be used, got %q", used)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected file level, got %q", cfg.Log.Level)
	}
	if cfg.Server.Addr != ":7000" {
		t.Fatalf("expected flag to win, got %q", cfg.Server.Addr)
	}
	if cfg.Server.Metrics {
		t.Fatalf("expected env to disable metrics")
	}
	if !cfg.Trace.Enabled {
		t.Fatalf("expected env to enable tracing")
	}
	if strings.Join(cfg.Units.Dirs, ",") != "js" || strings.Join(cfg.Units.Preload, ",") != "config" {
		t.Fatalf("unexpected units config %+v", cfg.Units)
	}
	if cfg.Log.Format != "text" {
		t.Fatalf("expected unchanged flag default, got %q", cfg.Log.Format)
	}
}

func TestLoadConfigExplicitFileMustExist(t *testing.T) {
	_, _, err := LoadConfig(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: "log.format"},
		{name: "level", mutate: func(c *Config) { c.Log.Level = "loud" }, want: "log.level"},
		{name: "extensions", mutate: func(c *Config) { c.Units.Extensions = nil }, want: "extensions"},
		{name: "extension", mutate: func(c *Config) { c.Units.Extensions = []string{"."} }, want: "extension"},
		{name: "root", mutate: func(c *Config) { c.Units.SourceRoots = []string{"/"} }, want: "source root"},
		{name: "addr", mutate: func(c *Config) { c.Server.Addr = "" }, want: "server.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
