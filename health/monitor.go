package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Source contributes statuses collected on demand, such as the state of
// every component or of a connection.
type Source interface {
	HealthStatuses() []Status
}

// SourceFunc adapts a function to Source
type SourceFunc func() []Status

// HealthStatuses calls f.
func (f SourceFunc) HealthStatuses() []Status { return f() }

// Monitor tracks health of named parts of the runtime. Pushed statuses are
// kept until removed; sources are polled at aggregation time.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	sources  []Source
	logger   *slog.Logger
}

// NewMonitor creates a new health monitor
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		statuses: make(map[string]Status),
		logger:   logger,
	}
}

// AddSource registers a polled source
func (m *Monitor) AddSource(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
}

// Update sets the status for a named part
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy marks name healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks name unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks name degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get retrieves a pushed status
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove drops a pushed status
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// Snapshot returns pushed and polled statuses sorted by name
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sources := slices.Clone(m.sources)
	m.mu.RUnlock()

	// sources may take their own locks
	for _, src := range sources {
		out = append(out, src.HealthStatuses()...)
	}
	slices.SortFunc(out, func(a, b Status) int {
		switch {
		case a.Component < b.Component:
			return -1
		case a.Component > b.Component:
			return 1
		}
		return 0
	})
	return out
}

// AggregateHealth returns the aggregate over every status
func (m *Monitor) AggregateHealth(systemName string) Status {
	return Aggregate(systemName, m.Snapshot())
}

// Count returns the number of pushed statuses
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Handler serves the aggregate as JSON. Unhealthy answers 503, degraded
// answers 200 with the degradation in the body.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			m.logger.Error("Failed to encode health response", "error", err)
		}
	})
}

// ReadyHandler answers 200 READY when the aggregate is healthy
func (m *Monitor) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if m.AggregateHealth("ready").IsHealthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("READY"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY"))
	})
}
