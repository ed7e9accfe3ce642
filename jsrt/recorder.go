package jsrt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type recorderState struct {
	mu        sync.Mutex
	recording bool
	lines     []string
}

// Recorder is a slog.Handler that forwards every record to the next handler
// and, while a recording is active, also keeps a formatted copy of it. Hosts
// use it to return the log lines produced during one evaluation.
type Recorder struct {
	next   slog.Handler
	state  *recorderState
	attrs  []slog.Attr
	groups []string
}

// NewRecorder wraps next. A nil next only records.
func NewRecorder(next slog.Handler) *Recorder {
	return &Recorder{next: next, state: &recorderState{}}
}

func (r *Recorder) Enabled(ctx context.Context, level slog.Level) bool {
	r.state.mu.Lock()
	recording := r.state.recording
	r.state.mu.Unlock()
	if recording {
		return true
	}
	return r.next != nil && r.next.Enabled(ctx, level)
}

func (r *Recorder) Handle(ctx context.Context, record slog.Record) error {
	r.state.mu.Lock()
	if r.state.recording {
		r.state.lines = append(r.state.lines, r.format(record))
	}
	r.state.mu.Unlock()

	if r.next != nil && r.next.Enabled(ctx, record.Level) {
		return r.next.Handle(ctx, record)
	}
	return nil
}

func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *r
	clone.attrs = append(append([]slog.Attr(nil), r.attrs...), attrs...)
	if r.next != nil {
		clone.next = r.next.WithAttrs(attrs)
	}
	return &clone
}

func (r *Recorder) WithGroup(name string) slog.Handler {
	clone := *r
	clone.groups = append(append([]string(nil), r.groups...), name)
	if r.next != nil {
		clone.next = r.next.WithGroup(name)
	}
	return &clone
}

// Start begins a new recording, discarding any previous lines.
func (r *Recorder) Start() {
	r.state.mu.Lock()
	r.state.recording = true
	r.state.lines = nil
	r.state.mu.Unlock()
}

// Stop ends the recording and returns its lines.
func (r *Recorder) Stop() []string {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	lines := r.state.lines
	r.state.recording = false
	r.state.lines = nil
	return lines
}

// Append adds a raw line to the active recording.
func (r *Recorder) Append(line string) {
	r.state.mu.Lock()
	if r.state.recording {
		r.state.lines = append(r.state.lines, line)
	}
	r.state.mu.Unlock()
}

func (r *Recorder) format(record slog.Record) string {
	var b strings.Builder
	b.WriteString(record.Level.String())
	b.WriteByte(' ')
	b.WriteString(record.Message)

	prefix := ""
	if len(r.groups) > 0 {
		prefix = strings.Join(r.groups, ".") + "."
	}
	write := func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s%s=%v", prefix, a.Key, a.Value.Resolve())
		return true
	}
	for _, a := range r.attrs {
		write(a)
	}
	record.Attrs(write)
	return b.String()
}
