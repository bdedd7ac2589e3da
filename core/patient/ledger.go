// Package patient maintains the durable veterinarian-animal relationships
// created when a dispatch request is accepted.
package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vetdispatch/core/logger"
	"vetdispatch/core/model"
	"vetdispatch/core/notify"
)

var (
	// ErrNotFound is returned when the patient id is unknown.
	ErrNotFound = errors.New("patient: record not found")

	// ErrNotActive is returned when Complete is called on a record that is
	// not active.
	ErrNotActive = errors.New("patient: record not active")
)

// Store persists patient records. Implementations live in infra/store.
type Store interface {
	// AttachPatient performs a get-or-create on the (vet, animal) key. A
	// completed record is reactivated instead of duplicated; an active one
	// is returned unchanged. The second return value reports whether a new
	// record was created.
	AttachPatient(ctx context.Context, rec model.PatientRecord) (model.PatientRecord, bool, error)

	GetPatient(ctx context.Context, id string) (model.PatientRecord, error)
	ListPatientsByVet(ctx context.Context, vetID string) ([]model.PatientRecord, error)
	UpdatePatient(ctx context.Context, rec model.PatientRecord) error
	AddFollowUp(ctx context.Context, fu model.FollowUp) error
}

// Ledger is the patient-relationship service.
type Ledger struct {
	store   Store
	gateway notify.Gateway
	log     logger.Logger
	now     func() time.Time
}

// NewLedger creates a Ledger. The gateway is used for follow-up reminders
// and may be nil in contexts that never schedule them.
func NewLedger(store Store, gateway notify.Gateway, log logger.Logger) *Ledger {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Ledger{store: store, gateway: gateway, log: log, now: time.Now}
}

// Attach records that the veterinarian now cares for the animal. Repeated
// acceptances for the same pair reuse the existing record; the triggering
// request id is kept for traceability.
func (l *Ledger) Attach(ctx context.Context, vetID, animalID, ownerID, requestID string) (model.PatientRecord, error) {
	now := l.now()
	rec := model.PatientRecord{
		ID:        uuid.NewString(),
		VetID:     vetID,
		AnimalID:  animalID,
		OwnerID:   ownerID,
		Status:    model.PatientActive,
		RequestID: requestID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	attached, created, err := l.store.AttachPatient(ctx, rec)
	if err != nil {
		return model.PatientRecord{}, fmt.Errorf("attach patient: %w", err)
	}
	if created {
		l.log.Infof("patient %s created for vet %s, animal %s", attached.ID, vetID, animalID)
	} else {
		l.log.Infof("patient %s reused for vet %s, animal %s", attached.ID, vetID, animalID)
	}
	return attached, nil
}

// Complete marks the relationship finished, releasing the veterinarian from
// active-case accounting.
func (l *Ledger) Complete(ctx context.Context, patientID string) error {
	rec, err := l.store.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if rec.Status != model.PatientActive {
		return ErrNotActive
	}
	rec.Status = model.PatientCompleted
	rec.UpdatedAt = l.now()
	return l.store.UpdatePatient(ctx, rec)
}

// AddNote appends a treatment note to the record.
func (l *Ledger) AddNote(ctx context.Context, patientID, note string) error {
	rec, err := l.store.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	rec.Notes = append(rec.Notes, note)
	rec.UpdatedAt = l.now()
	return l.store.UpdatePatient(ctx, rec)
}

// ScheduleFollowUp records a future visit, updates the patient's next
// follow-up date and reminds the owner. The reminder is best-effort.
func (l *Ledger) ScheduleFollowUp(ctx context.Context, patientID string, due time.Time, typ model.FollowUpType) (model.FollowUp, error) {
	rec, err := l.store.GetPatient(ctx, patientID)
	if err != nil {
		return model.FollowUp{}, err
	}
	now := l.now()
	fu := model.FollowUp{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Type:      typ,
		Due:       due,
		CreatedAt: now,
	}
	if err := l.store.AddFollowUp(ctx, fu); err != nil {
		return model.FollowUp{}, fmt.Errorf("add follow-up: %w", err)
	}
	if rec.NextFollowUp == nil || due.Before(*rec.NextFollowUp) {
		rec.NextFollowUp = &due
	}
	rec.UpdatedAt = now
	if err := l.store.UpdatePatient(ctx, rec); err != nil {
		return model.FollowUp{}, err
	}

	if l.gateway != nil {
		notice := notify.Notice{
			ID:          uuid.NewString(),
			Kind:        notify.KindFollowUpDue,
			RecipientID: rec.OwnerID,
			Channels:    []model.Channel{model.ChannelApp},
			Body:        fmt.Sprintf("A %s follow-up for your animal is scheduled for %s.", typ, due.Format("January 2, 2006")),
			SentAt:      now,
		}
		if _, err := l.gateway.Send(ctx, notice); err != nil {
			l.log.Warnf("follow-up reminder for patient %s: %v", patientID, err)
		}
	}
	return fu, nil
}

// Get returns a patient record by id.
func (l *Ledger) Get(ctx context.Context, patientID string) (model.PatientRecord, error) {
	return l.store.GetPatient(ctx, patientID)
}

// ListByVet returns all patient records for a veterinarian.
func (l *Ledger) ListByVet(ctx context.Context, vetID string) ([]model.PatientRecord, error) {
	return l.store.ListPatientsByVet(ctx, vetID)
}
