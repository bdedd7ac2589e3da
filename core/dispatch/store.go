package dispatch

import (
	"context"
	"time"

	"vetdispatch/core/model"
)

// Store is the durable request store. The request row is the single point of
// truth for assignment: every status mutation is a conditional transition
// that only succeeds when the stored status matches its precondition, so the
// engine never needs application-level locking.
//
// Implementations live in infra/store.
type Store interface {
	CreateRequest(ctx context.Context, req model.DispatchRequest) error
	GetRequest(ctx context.Context, id string) (model.DispatchRequest, error)

	// ListPendingForVet returns pending, unexpired requests whose notified
	// set contains the veterinarian.
	ListPendingForVet(ctx context.Context, vetID string) ([]model.DispatchRequest, error)

	// TryAssign atomically performs pending → accepted with the given
	// assignee. It returns the updated request and true when this call
	// performed the transition, or the current request and false when the
	// request was no longer pending. ErrNotFound when the id is unknown.
	TryAssign(ctx context.Context, requestID, vetID string, at time.Time) (model.DispatchRequest, bool, error)

	// AddDecline appends the veterinarian to the declined set. Idempotent:
	// declining twice leaves the set unchanged. Fails with
	// ErrRequestNotPending on terminal requests and ErrNotNotified when the
	// veterinarian is not in the notified set.
	AddDecline(ctx context.Context, requestID, vetID string) (model.DispatchRequest, error)

	// AppendNotified adds newly notified veterinarians (duplicates are
	// dropped) and records the widened radius and escalation tier. Fails
	// with ErrRequestNotPending on terminal requests.
	AppendNotified(ctx context.Context, requestID string, vetIDs []string, radiusKm float64, tier int) (model.DispatchRequest, error)

	// ExpireDue transitions every pending request whose deadline has passed
	// to expired and returns their ids. Safe to run concurrently from
	// multiple instances: each row is expired exactly once.
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)

	CreateNotification(ctx context.Context, rec model.NotificationRecord) error
	GetNotification(ctx context.Context, requestID, vetID string) (model.NotificationRecord, error)
	ListNotifications(ctx context.Context, requestID string) ([]model.NotificationRecord, error)

	// UpdateNotificationStatus advances the delivery status for the
	// (request, veterinarian) record.
	UpdateNotificationStatus(ctx context.Context, requestID, vetID string, status model.DeliveryStatus, at time.Time) error

	AppendResponse(ctx context.Context, resp model.VeterinarianResponse) error
	ListResponsesByVet(ctx context.Context, vetID string) ([]model.VeterinarianResponse, error)
}
