// Package health provides health reporting for components and the runtime
package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/semwire/component"
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex     = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex       = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or of the runtime
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	State       string    `json:"state,omitempty"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related figures for one component
type Metrics struct {
	Uptime     time.Duration `json:"uptime,omitempty"`
	ErrorCount int           `json:"error_count"`
	Bound      int           `json:"bound"`
	Candidates int           `json:"candidates"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// sanitizeErrorMessage strips URLs, paths, addresses, ports and credentials
// from a message before it is exposed over HTTP.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := err

	// URLs before paths, URLs contain paths
	sanitized = httpURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = natsURLRegex.ReplaceAllString(sanitized, "[URL]")
	sanitized = wsURLRegex.ReplaceAllString(sanitized, "[URL]")

	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = windowsPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "key") || strings.Contains(lower, "secret") ||
		strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}

// ComponentReport is the raw material for a component's health
type ComponentReport struct {
	Name      string
	State     component.State
	Unbound   []string // mandatory references without a candidate
	Bound     int
	Candidate int
	LastError string
	Since     time.Time
}

// FromComponent derives a Status from a component's lifecycle state.
//
// Active, registered and factory components are healthy and so is a
// disabled one, which is an operator decision. An unsatisfied component
// waiting on mandatory references is degraded, as are transient states.
// A destroyed component is unhealthy.
func FromComponent(r ComponentReport) Status {
	var status Status
	switch {
	case r.State.Satisfied():
		status = NewHealthy(r.Name, "Component "+r.State.String())
	case r.State == component.StateDisabled:
		status = NewHealthy(r.Name, "Component disabled")
	case r.State == component.StateUnsatisfied:
		msg := "Component unsatisfied"
		if len(r.Unbound) > 0 {
			msg = fmt.Sprintf("Waiting for mandatory references: %s", strings.Join(r.Unbound, ", "))
		}
		status = NewDegraded(r.Name, msg)
	case r.State == component.StateDestroyed:
		status = NewUnhealthy(r.Name, "Component disposed")
	default:
		status = NewDegraded(r.Name, "Component "+r.State.String())
	}

	if r.LastError != "" && !status.IsHealthy() {
		status.Message += ": " + sanitizeErrorMessage(r.LastError)
	}
	status.State = r.State.String()

	metrics := &Metrics{Bound: r.Bound, Candidates: r.Candidate}
	if r.LastError != "" {
		metrics.ErrorCount = 1
	}
	if !r.Since.IsZero() && r.State.Satisfied() {
		metrics.Uptime = time.Since(r.Since)
	}
	return status.WithMetrics(metrics)
}
