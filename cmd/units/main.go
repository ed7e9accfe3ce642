package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/mgomes/units/internal/app"
	"github.com/mgomes/units/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

type cli struct {
	stdout   io.Writer
	stderr   io.Writer
	cfgFile  string
	showLogs bool
	app      *app.App
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "units",
		Short: "Lazy unit registry with a JavaScript host",
		Long: titleStyle.Render("units") + mutedStyle.Render(" - lazy, named, cycle-checked units") + `

Units are defined from .js files and HCL manifests and instantiated
on first require. Configuration comes from units.toml (or yaml/json)
in the working directory, UNITS_* environment variables and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close(cmd.Context())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is ./units.{toml,yaml,json})")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json, logfmt)")
	flags.StringSlice("dir", nil, "directory of .js units (repeatable)")
	flags.StringSlice("manifest", nil, "HCL manifest file or directory (repeatable)")
	flags.StringSlice("preload", nil, "unit required at startup (repeatable)")
	flags.Bool("trace", false, "log an OpenTelemetry span for every unit instantiation")

	root.AddCommand(
		c.runCmd(),
		c.evalCmd(),
		c.requireCmd(),
		c.listCmd(),
		c.serveCmd(),
		c.replCmd(),
	)
	return root
}

// load resolves configuration for cmd and returns a loaded App.
func (c *cli) load(cmd *cobra.Command) (*app.App, error) {
	cfg, _, err := app.LoadConfig(app.LoadOptions{
		ConfigFile: c.cfgFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, c.stderr)
	if err != nil {
		return nil, err
	}
	c.app = a
	if err := a.Load(cmd.Context()); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file.js>",
		Short: "Evaluate a JavaScript file against the loaded units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			return c.evaluate(cmd, string(source))
		},
	}
	cmd.Flags().BoolVar(&c.showLogs, "logs", false, "print the evaluation log to stderr")
	return cmd
}

func (c *cli) evalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <source>",
		Short: "Evaluate JavaScript source given on the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.evaluate(cmd, strings.Join(args, " "))
		},
	}
	cmd.Flags().BoolVar(&c.showLogs, "logs", false, "print the evaluation log to stderr")
	return cmd
}

func (c *cli) evaluate(cmd *cobra.Command, source string) error {
	a, err := c.load(cmd)
	if err != nil {
		return err
	}
	result, err := a.Host.Eval(cmd.Context(), source)
	if result != nil && (c.showLogs || err != nil) {
		for _, line := range result.Logs {
			fmt.Fprintln(c.stderr, mutedStyle.Render("│ ")+line)
		}
	}
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	if result.Value != nil {
		fmt.Fprintln(c.stdout, formatValue(result.Value))
	}
	return nil
}

func (c *cli) requireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "require <name>",
		Short: "Require a unit and print its exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load(cmd)
			if err != nil {
				return err
			}
			exports, err := a.Host.Require(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, formatValue(exports))
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var format string
	var requires []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered and loaded units",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load(cmd)
			if err != nil {
				return err
			}
			for _, name := range requires {
				if _, err := a.Host.Require(cmd.Context(), name); err != nil {
					return err
				}
			}
			return renderListing(c.stdout, newListing(a.Registry), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, json, toml)")
	cmd.Flags().StringSliceVar(&requires, "require", nil, "require these units before listing")
	return cmd
}

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve evaluation over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load(cmd)
			if err != nil {
				return err
			}
			cfg := server.Config{
				Addr:   a.Config.Server.Addr,
				Host:   a.Host,
				Logger: a.Logger,
			}
			if a.Config.Server.Metrics {
				cfg.Gatherer = a.Gatherer
			}
			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Bool("metrics", true, "expose /metrics")
	return cmd
}

func (c *cli) replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive JavaScript session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.load(cmd)
			if err != nil {
				return err
			}
			return runREPL(a.Host)
		},
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}
