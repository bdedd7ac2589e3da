// Package notify defines the outbound notification contract. The concrete
// transport (MQTT into the platform's delivery pipeline) lives in infra/mqtt.
package notify

import (
	"context"
	"time"

	"vetdispatch/core/model"
)

// Kind distinguishes the notice templates downstream delivery renders.
type Kind string

const (
	KindCaseAvailable Kind = "case_available" // fan-out to a candidate vet
	KindCaseTaken     Kind = "case_taken"     // losing vets after assignment
	KindCaseAccepted  Kind = "case_accepted"  // owner confirmation
	KindFollowUpDue   Kind = "follow_up_due"  // owner reminder
)

// Notice is a single message addressed to one recipient. The delivery
// pipeline owns channel routing and retries; the dispatch engine only states
// which channels the priority warrants.
type Notice struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	RequestID   string          `json:"request_id,omitempty"`
	RecipientID string          `json:"recipient_id"`
	Vet         bool            `json:"vet"` // recipient is a veterinarian, not an owner
	Channels    []model.Channel `json:"channels"`
	Priority    model.Priority  `json:"priority"`
	DistanceKm  float64         `json:"distance_km,omitempty"`
	Body        string          `json:"body"`
	SentAt      time.Time       `json:"sent_at"`
}

// DeliveryResult reports what the transport did with a notice.
type DeliveryResult struct {
	NoticeID string
	Accepted bool
	Latency  time.Duration
}

// Gateway delivers notices. Send is best-effort: a returned error means the
// transport gave up, and callers log it rather than failing the triggering
// state transition.
type Gateway interface {
	Send(ctx context.Context, n Notice) (DeliveryResult, error)
}
