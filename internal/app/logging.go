package app

import (
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
)

func parseLevel(level string) (log.Level, error) {
	if level == "" {
		return log.InfoLevel, nil
	}
	return log.ParseLevel(strings.ToLower(level))
}

// NewLogHandler builds the charmbracelet/log handler the rest of the program
// logs through via slog.
func NewLogHandler(cfg LogConfig, w io.Writer) (slog.Handler, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	formatter := log.TextFormatter
	switch strings.ToLower(cfg.Format) {
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Prefix:          "units",
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
	}), nil
}
