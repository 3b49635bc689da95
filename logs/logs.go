// Package logs builds the diagnostic sink the emulator is constructed
// with: a terminal text handler, a systemd journal handler when the
// process runs as a service, and a tee onto a scrolling frame so
// diagnostics stay visible on-screen until the framer is torn down.
package logs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"

	"covm/frame"
)

var level = new(slog.LevelVar)

// SetLevel adjusts the minimum level of every sink built by New.
func SetLevel(l slog.Level) { level.Set(l) }

// New builds the injected logger. w receives the text stream (nil
// suppresses it); f, when non-nil, receives a one-line mirror of each
// record.
func New(w io.Writer, f *frame.Frame) *slog.Logger {
	var handlers []slog.Handler

	if w != nil {
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level,
		}))
	}

	if runsAsService() {
		h, err := slogjournal.NewHandler(&slogjournal.Options{})
		if err == nil {
			handlers = append(handlers, h)
		}
	}

	if f != nil {
		handlers = append(handlers, &frameHandler{frame: f})
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

// Discard returns a logger that drops everything; tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runsAsService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.Split(string(content), ":")
	if len(parts) < 3 {
		return false
	}
	cgroup := strings.TrimSpace(parts[2])
	return strings.HasSuffix(cgroup, ".service") || strings.HasSuffix(path.Dir(cgroup), ".service")
}

// frameHandler mirrors records onto a scrolling frame, one line per
// record.
type frameHandler struct {
	mu    sync.Mutex
	frame *frame.Frame
	attrs []slog.Attr
}

func (h *frameHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

func (h *frameHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.Level, r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame.WriteLine(b.String())
	return nil
}

func (h *frameHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &frameHandler{frame: h.frame, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *frameHandler) WithGroup(string) slog.Handler { return h }
