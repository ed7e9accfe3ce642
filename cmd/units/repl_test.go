package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mgomes/units/jsrt"
	"github.com/mgomes/units/units"
)

func newTestModel(t *testing.T) replModel {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	host, err := jsrt.NewHost(jsrt.Config{Registry: units.New(units.Config{Logger: logger}), Logger: logger})
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	if _, err := host.DefineSource("calc.js", `exports.double = function (n) { return n * 2; };`); err != nil {
		t.Fatalf("define: %v", err)
	}
	return newREPLModel(host)
}

func enter(t *testing.T, m replModel, input string) (replModel, tea.Cmd) {
	t.Helper()
	m.textInput.SetValue(input)
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	rm, ok := model.(replModel)
	if !ok {
		t.Fatalf("unexpected model type %T", model)
	}
	return rm, cmd
}

func TestUpdateQuitCommandReturnsQuit(t *testing.T) {
	rm, cmd := enter(t, newTestModel(t), ":quit")

	if !rm.quitting {
		t.Fatalf("quitting flag not set")
	}
	if rm.textInput.Value() != "" {
		t.Fatalf("input not cleared after quit command")
	}
	if cmd == nil {
		t.Fatalf("expected tea.Quit command")
	}
	if msg := cmd(); msg != nil {
		if _, ok := msg.(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg, got %T", msg)
		}
	}
}

func TestUpdateNonQuitCommandDoesNotReturnCmd(t *testing.T) {
	rm, cmd := enter(t, newTestModel(t), ":help")

	if cmd != nil {
		t.Fatalf("expected no command for non-quit input")
	}
	if rm.quitting {
		t.Fatalf("quitting should remain false")
	}
	if !rm.showHelp {
		t.Fatalf("help toggle should be enabled")
	}
}

func TestPanelToggles(t *testing.T) {
	rm, _ := enter(t, newTestModel(t), ":units")
	if !rm.showUnits {
		t.Fatalf("units panel should be enabled")
	}
	rm, _ = enter(t, rm, ":logs")
	if !rm.showLogs {
		t.Fatalf("logs panel should be enabled")
	}
}

func TestEvaluateExpressionUsesUnits(t *testing.T) {
	m := newTestModel(t)
	output, isErr := m.evaluate(`require("calc").double(21)`)
	if isErr {
		t.Fatalf("unexpected eval error: %s", output)
	}
	if output != "42" {
		t.Fatalf("unexpected output %q", output)
	}
}

func TestEvaluateStatementsAndGlobalsPersist(t *testing.T) {
	m := newTestModel(t)
	if output, isErr := m.evaluate(`score = 40; console.log("set")`); isErr {
		t.Fatalf("unexpected eval error: %s", output)
	}
	if len(m.lastLogs) == 0 || m.lastLogs[0] != "set" {
		t.Fatalf("expected console line recorded, got %v", m.lastLogs)
	}

	output, isErr := m.evaluate(`if (score > 10) { return score + 2; }`)
	if isErr {
		t.Fatalf("unexpected eval error: %s", output)
	}
	if output != "42" {
		t.Fatalf("unexpected output %q", output)
	}
}

func TestEvaluateDeclarationRunsAsStatement(t *testing.T) {
	m := newTestModel(t)
	output, isErr := m.evaluate(`var x = 1`)
	if isErr {
		t.Fatalf("unexpected eval error: %s", output)
	}
	if output != "undefined" {
		t.Fatalf("expected undefined, got %q", output)
	}
}

func TestEvaluateReportsMissingUnit(t *testing.T) {
	m := newTestModel(t)
	output, isErr := m.evaluate(`require("nope")`)
	if !isErr {
		t.Fatalf("expected error")
	}
	if !strings.Contains(output, "nope") {
		t.Fatalf("expected request in message, got %q", output)
	}
}

func TestRequireCommandAppendsExports(t *testing.T) {
	rm, _ := enter(t, newTestModel(t), ":require nope")
	last := rm.history[len(rm.history)-1]
	if !last.isErr {
		t.Fatalf("expected error entry, got %+v", last)
	}
}

func TestAutocompleteUnitNames(t *testing.T) {
	m := newTestModel(t)
	m.textInput.SetValue(`require("ca`)
	m = m.handleAutocomplete()
	if got := m.textInput.Value(); got != `require("calc` {
		t.Fatalf("unexpected completion %q", got)
	}
}
