package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semwire/component"
)

func TestStatus_Predicates(t *testing.T) {
	tests := []struct {
		status                       string
		healthy, degraded, unhealthy bool
	}{
		{StatusHealthy, true, false, false},
		{StatusDegraded, false, true, false},
		{StatusUnhealthy, false, false, true},
		{"", false, false, false},
	}
	for _, tt := range tests {
		s := Status{Status: tt.status}
		assert.Equal(t, tt.healthy, s.IsHealthy(), tt.status)
		assert.Equal(t, tt.degraded, s.IsDegraded(), tt.status)
		assert.Equal(t, tt.unhealthy, s.IsUnhealthy(), tt.status)
	}
}

func TestConstructors(t *testing.T) {
	h := NewHealthy("a", "ok")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.False(t, h.Timestamp.IsZero())

	d := NewDegraded("b", "slow")
	assert.False(t, d.Healthy)
	assert.True(t, d.IsDegraded())

	u := NewUnhealthy("c", "down")
	assert.False(t, u.Healthy)
	assert.True(t, u.IsUnhealthy())
	assert.Equal(t, "down", u.Message)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
		msg  string
	}{
		{"empty", nil, StatusHealthy, "No components"},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy, "2 components healthy"},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded, "1 of 2 components degraded"},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy, "1 of 2 components unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("system", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "system", got.Component)
			assert.Len(t, got.SubStatuses, len(tt.subs))
			assert.Equal(t, tt.msg, got.Message)
		})
	}

	subs := []Status{NewHealthy("a", "")}
	agg := Aggregate("system", subs)
	subs[0].Status = StatusUnhealthy
	assert.Equal(t, StatusHealthy, agg.SubStatuses[0].Status, "aggregate copies its inputs")
}

func TestFromComponent(t *testing.T) {
	tests := []struct {
		name   string
		report ComponentReport
		want   string
		msg    string
	}{
		{"active", ComponentReport{Name: "c", State: component.StateActive}, StatusHealthy, "Component active"},
		{"registered", ComponentReport{Name: "c", State: component.StateRegistered}, StatusHealthy, "Component registered"},
		{"factory", ComponentReport{Name: "c", State: component.StateFactory}, StatusHealthy, "Component factory"},
		{"disabled", ComponentReport{Name: "c", State: component.StateDisabled}, StatusHealthy, "Component disabled"},
		{"unsatisfied", ComponentReport{Name: "c", State: component.StateUnsatisfied, Unbound: []string{"log", "store"}},
			StatusDegraded, "Waiting for mandatory references: log, store"},
		{"activating", ComponentReport{Name: "c", State: component.StateActivating}, StatusDegraded, "Component activating"},
		{"destroyed", ComponentReport{Name: "c", State: component.StateDestroyed}, StatusUnhealthy, "Component disposed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := FromComponent(tt.report)
			assert.Equal(t, tt.want, s.Status)
			assert.Equal(t, tt.msg, s.Message)
			assert.Equal(t, tt.report.State.String(), s.State)
		})
	}
}

func TestFromComponent_ErrorAndMetrics(t *testing.T) {
	s := FromComponent(ComponentReport{
		Name:      "store",
		State:     component.StateUnsatisfied,
		LastError: "instantiation failed: open /var/lib/store.db",
		Bound:     1,
		Candidate: 3,
	})
	assert.Equal(t, "Component unsatisfied: instantiation failed: open [PATH]", s.Message)
	require.NotNil(t, s.Metrics)
	assert.Equal(t, 1, s.Metrics.ErrorCount)
	assert.Equal(t, 1, s.Metrics.Bound)
	assert.Equal(t, 3, s.Metrics.Candidates)
	assert.Zero(t, s.Metrics.Uptime)

	active := FromComponent(ComponentReport{
		Name:      "store",
		State:     component.StateActive,
		LastError: "old failure",
		Since:     time.Now().Add(-time.Minute),
	})
	assert.Equal(t, "Component active", active.Message, "healthy statuses keep their message")
	assert.GreaterOrEqual(t, active.Metrics.Uptime, time.Minute)
}
