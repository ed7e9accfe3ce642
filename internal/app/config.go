package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigFileName is the base name searched for in the working directory.
const ConfigFileName = "units"

// Config is the full runtime configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Units  UnitsConfig  `mapstructure:"units"`
	Server ServerConfig `mapstructure:"server"`
	Trace  TraceConfig  `mapstructure:"trace"`
}

// LogConfig selects the level and output format of the charm log handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UnitsConfig lists where units come from and how their names are detected.
type UnitsConfig struct {
	// Dirs are walked for .js units.
	Dirs []string `mapstructure:"dirs"`
	// Manifests are HCL files or directories of them.
	Manifests   []string `mapstructure:"manifests"`
	SourceRoots []string `mapstructure:"source_roots"`
	Extensions  []string `mapstructure:"extensions"`
	// Preload names are required eagerly once everything is defined.
	Preload []string `mapstructure:"preload"`
}

// ServerConfig configures the serve command.
type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	Metrics bool   `mapstructure:"metrics"`
}

// TraceConfig turns on OpenTelemetry spans for unit instantiation. Ended spans
// are written to the log.
type TraceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Units: UnitsConfig{
			SourceRoots: []string{"units", "src"},
			Extensions:  []string{".js", ".gs", ".go", ".hcl"},
		},
		Server: ServerConfig{Addr: ":8080", Metrics: true},
	}
}

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	// ConfigFile is used exclusively when set and must exist.
	ConfigFile string
	// Dir is searched for units.{toml,yaml,json}. Defaults to ".".
	Dir string
	// Flags are bound over file and environment values.
	Flags *pflag.FlagSet
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"dir":        "units.dirs",
	"manifest":   "units.manifests",
	"preload":    "units.preload",
	"addr":       "server.addr",
	"metrics":    "server.metrics",
	"trace":      "trace.enabled",
}

// LoadConfig reads defaults, the config file, UNITS_* environment variables
// and flags, in increasing precedence, and validates the result.
func LoadConfig(opts LoadOptions) (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
	v.SetDefault("units.dirs", defaults.Units.Dirs)
	v.SetDefault("units.manifests", defaults.Units.Manifests)
	v.SetDefault("units.source_roots", defaults.Units.SourceRoots)
	v.SetDefault("units.extensions", defaults.Units.Extensions)
	v.SetDefault("units.preload", defaults.Units.Preload)
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.metrics", defaults.Server.Metrics)
	v.SetDefault("trace.enabled", defaults.Trace.Enabled)

	v.SetEnvPrefix("UNITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", opts.ConfigFile)
		}
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("failed to read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		dir := opts.Dir
		if dir == "" {
			dir = "."
		}
		v.SetConfigName(ConfigFileName)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, "", fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, v.ConfigFileUsed(), nil
}

// Validate checks values viper cannot type check.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("invalid log.format %q: must be text, json or logfmt", c.Log.Format)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	if len(c.Units.Extensions) == 0 {
		return errors.New("units.extensions must not be empty")
	}
	for _, ext := range c.Units.Extensions {
		if strings.Trim(ext, ".") == "" {
			return fmt.Errorf("invalid extension %q", ext)
		}
	}
	for _, root := range c.Units.SourceRoots {
		if strings.Trim(root, "/") == "" {
			return fmt.Errorf("invalid source root %q", root)
		}
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	return nil
}
