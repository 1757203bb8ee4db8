package engine

import (
	"context"
	"log/slog"
	"sync"
)

// errorLog remembers the last error logged by each component so health
// reports can show it.
type errorLog struct {
	mu     sync.RWMutex
	byName map[string]string
}

func newErrorLog() *errorLog {
	return &errorLog{byName: make(map[string]string)}
}

func (e *errorLog) record(name, msg string) {
	e.mu.Lock()
	e.byName[name] = msg
	e.mu.Unlock()
}

func (e *errorLog) last(name string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byName[name]
}

func (e *errorLog) forget(name string) {
	e.mu.Lock()
	delete(e.byName, name)
	e.mu.Unlock()
}

// tap wraps next so error records of the named component are remembered.
func (e *errorLog) tap(name string, next slog.Handler) slog.Handler {
	return &errorTap{log: e, name: name, next: next}
}

type errorTap struct {
	log  *errorLog
	name string
	next slog.Handler
}

func (t *errorTap) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError || t.next.Enabled(ctx, level)
}

func (t *errorTap) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		msg := r.Message
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "error" {
				msg += ": " + a.Value.String()
				return false
			}
			return true
		})
		t.log.record(t.name, msg)
	}
	if !t.next.Enabled(ctx, r.Level) {
		return nil
	}
	return t.next.Handle(ctx, r)
}

func (t *errorTap) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorTap{log: t.log, name: t.name, next: t.next.WithAttrs(attrs)}
}

func (t *errorTap) WithGroup(name string) slog.Handler {
	return &errorTap{log: t.log, name: t.name, next: t.next.WithGroup(name)}
}
