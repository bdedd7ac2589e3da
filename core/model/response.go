package model

import "time"

// ResponseAction is what a veterinarian did with a request.
type ResponseAction string

const (
	ActionAccept      ResponseAction = "accept"
	ActionDecline     ResponseAction = "decline"
	ActionRequestInfo ResponseAction = "request_info"
)

// ParseResponseAction maps the wire representation back to an action.
func ParseResponseAction(s string) (ResponseAction, bool) {
	switch ResponseAction(s) {
	case ActionAccept, ActionDecline, ActionRequestInfo:
		return ResponseAction(s), true
	}
	return "", false
}

// VeterinarianResponse is the append-only audit record of a veterinarian's
// reaction to a dispatch request. It is never mutated after creation.
type VeterinarianResponse struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	VetID     string         `json:"vet_id"`
	Action    ResponseAction `json:"action"`
	Message   string         `json:"message,omitempty"`
	Latency   time.Duration  `json:"latency"` // time between fan-out and response
	CreatedAt time.Time      `json:"created_at"`
}
