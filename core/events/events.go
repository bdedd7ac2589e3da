// Package events defines the payloads published on the internal event bus.
package events

import (
	"time"

	"vetdispatch/core/model"
)

// RequestCreated is published once per dispatch request, after the initial
// fan-out completed.
type RequestCreated struct {
	RequestID string
	Priority  model.Priority
	Notified  int
	RadiusKm  float64
}

// VetNotified is published for each veterinarian reached during fan-out.
type VetNotified struct {
	RequestID  string
	VetID      string
	DistanceKm float64
	Channels   []model.Channel
	Err        error
}

// ResponseReceived is published for every accept/decline/request-info action.
type ResponseReceived struct {
	RequestID string
	VetID     string
	Action    model.ResponseAction
	Latency   time.Duration
}

// RequestAccepted is published when a veterinarian wins the assignment race.
type RequestAccepted struct {
	RequestID string
	VetID     string
	PatientID string
}

// RequestEscalated is published when the search radius expands.
type RequestEscalated struct {
	RequestID   string
	Tier        int
	RadiusKm    float64
	NewNotified int
}

// RequestExpired is published by the reaper for each request it expires.
type RequestExpired struct {
	RequestID string
}
