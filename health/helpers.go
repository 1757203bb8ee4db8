package health

import (
	"fmt"
	"slices"
	"time"
)

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == StatusHealthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StatusHealthy, message)
}

// NewUnhealthy creates an unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StatusUnhealthy, message)
}

// NewDegraded creates a degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StatusDegraded, message)
}

// Aggregate rolls component statuses up into one. The worst status wins
// and the message counts how many components hold it.
func Aggregate(system string, subs []Status) Status {
	var unhealthy, degraded int
	for _, sub := range subs {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case len(subs) == 0:
		status = NewHealthy(system, "No components")
	case unhealthy > 0:
		status = NewUnhealthy(system, fmt.Sprintf("%d of %d components unhealthy", unhealthy, len(subs)))
	case degraded > 0:
		status = NewDegraded(system, fmt.Sprintf("%d of %d components degraded", degraded, len(subs)))
	default:
		status = NewHealthy(system, fmt.Sprintf("%d components healthy", len(subs)))
	}
	status.SubStatuses = slices.Clone(subs)
	return status
}
