package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mgomes/units/units"
	"github.com/pelletier/go-toml/v2"
)

type unitRow struct {
	Name   string `json:"name" toml:"name"`
	Loaded bool   `json:"loaded" toml:"loaded"`
}

type listing struct {
	Units  []unitRow `json:"units" toml:"units"`
	Loaded []string  `json:"load_order" toml:"load_order"`
}

func newListing(reg *units.Registry) listing {
	loaded := reg.Loaded()
	isLoaded := make(map[string]bool, len(loaded))
	for _, name := range loaded {
		isLoaded[name] = true
	}

	out := listing{Units: []unitRow{}, Loaded: loaded}
	if out.Loaded == nil {
		out.Loaded = []string{}
	}
	for _, name := range reg.Registered() {
		out.Units = append(out.Units, unitRow{Name: name, Loaded: isLoaded[name]})
	}
	return out
}

func renderListing(w io.Writer, l listing, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(l)
	case "toml":
		return toml.NewEncoder(w).Encode(l)
	case "table", "":
		_, err := fmt.Fprintln(w, renderTable(l))
		return err
	default:
		return fmt.Errorf("unknown format %q: must be table, json or toml", format)
	}
}

func renderTable(l listing) string {
	if len(l.Units) == 0 {
		return borderStyle.Render(mutedStyle.Render("No units registered"))
	}

	width := len("UNIT")
	for _, row := range l.Units {
		width = max(width, len(row.Name))
	}

	nameStyle := lipgloss.NewStyle().Foreground(highlightColor).Width(width + 2)
	lines := []string{
		headerStyle.Render(fmt.Sprintf("%-*s  %s", width, "UNIT", "STATE")),
	}
	for _, row := range l.Units {
		state := mutedStyle.Render("defined")
		if row.Loaded {
			state = resultStyle.Render("loaded")
		}
		lines = append(lines, " "+nameStyle.Render(row.Name)+state)
	}
	if len(l.Loaded) > 0 {
		lines = append(lines, "", mutedStyle.Render(" load order: "+strings.Join(l.Loaded, " → ")))
	}
	return borderStyle.Render(strings.Join(lines, "\n"))
}
