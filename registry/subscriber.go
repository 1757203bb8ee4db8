package registry

import (
	"fmt"
	"sync"
)

// subscriber holds the ordered event queue of one subscription. Events are
// appended under the registry lock, so every queue sees registry order.
// Whichever goroutine finds the queue idle drains it; other goroutines
// only append.
type subscriber struct {
	id       Subscription
	iface    string
	filter   *Filter
	listener Listener
	local    *Local

	mu       sync.Mutex
	queue    []Event
	draining bool
	closed   bool
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

func (s *subscriber) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 && !s.closed {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.deliver(ev)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *subscriber) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.local.logger.Error("Registry listener panicked",
				"subscription", s.id, "event", ev.Type.String(), "service_id", ev.Handle.ID,
				"panic", fmt.Sprint(r))
		}
	}()
	s.local.metrics.RecordRegistryEvent(ev.Type.String())
	s.listener.ServiceChanged(ev)
}

func drainAll(subs []*subscriber) {
	for _, s := range subs {
		s.drain()
	}
}
