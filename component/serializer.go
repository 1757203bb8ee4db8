package component

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// serializer runs a component's tasks one at a time without a goroutine
// of its own. The goroutine that submits into an idle serializer drains
// it; submissions made while a drain is running, including reentrant ones
// from inside a task, are queued behind it.
type serializer struct {
	logger    *slog.Logger
	showTrace bool

	mu      sync.Mutex
	queue   []func()
	running bool
}

func (s *serializer) submit(task func()) {
	s.mu.Lock()
	s.queue = append(s.queue, task)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.run(next)
		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()
}

// idle reports whether nothing is queued or running.
func (s *serializer) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running && len(s.queue) == 0
}

func (s *serializer) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			attrs := []any{"panic", fmt.Sprint(r)}
			if s.showTrace {
				attrs = append(attrs, "stack", string(debug.Stack()))
			}
			s.logger.Error("Component task panicked", attrs...)
		}
	}()
	task()
}
