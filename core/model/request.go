package model

import "time"

// Priority classifies how quickly a dispatch request must be answered.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityUrgent
	PriorityEmergency
)

// String returns a human-readable representation of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityUrgent:
		return "urgent"
	case PriorityEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// PriorityFor derives the dispatch priority from a symptom report. An
// explicit emergency flag wins over severity.
func PriorityFor(r SymptomReport) Priority {
	if r.IsEmergency {
		return PriorityEmergency
	}
	if r.Severity == SeveritySevere {
		return PriorityUrgent
	}
	return PriorityNormal
}

// RequestStatus is the dispatch request state. Accepted and expired are
// terminal.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusExpired  RequestStatus = "expired"
)

// DispatchRequest is the matchable unit representing one animal's case
// awaiting a veterinarian. All status mutations go through the store's
// conditional transitions; the struct itself carries no locking.
type DispatchRequest struct {
	ID       string   `json:"id"`
	ReportID string   `json:"report_id"`
	AnimalID string   `json:"animal_id"`
	OwnerID  string   `json:"owner_id"`
	Priority Priority `json:"priority"`
	Location Location `json:"location"`

	Status      RequestStatus `json:"status"`
	Notified    []string      `json:"notified"` // veterinarian ids, append-only
	Declined    []string      `json:"declined"` // subset of Notified, append-only
	AssignedVet string        `json:"assigned_vet,omitempty"`

	RadiusKm       float64 `json:"radius_km"`
	EscalationTier int     `json:"escalation_tier"` // 0 = initial radius

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// Terminal reports whether the request can no longer change state.
func (r DispatchRequest) Terminal() bool {
	return r.Status != StatusPending
}

// WasNotified reports whether the veterinarian received the fan-out.
func (r DispatchRequest) WasNotified(vetID string) bool {
	for _, id := range r.Notified {
		if id == vetID {
			return true
		}
	}
	return false
}

// HasDeclined reports whether the veterinarian already declined.
func (r DispatchRequest) HasDeclined(vetID string) bool {
	for _, id := range r.Declined {
		if id == vetID {
			return true
		}
	}
	return false
}

// DeclineThresholdReached reports whether enough veterinarians declined to
// warrant escalation: all but at most one of the notified set. With a single
// notified veterinarian this fires on their first decline.
func (r DispatchRequest) DeclineThresholdReached() bool {
	return len(r.Declined) >= len(r.Notified)-1
}
