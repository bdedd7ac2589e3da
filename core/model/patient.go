package model

import "time"

// PatientStatus is the state of an ongoing veterinarian-animal relationship.
type PatientStatus string

const (
	PatientActive      PatientStatus = "active"
	PatientCompleted   PatientStatus = "completed"
	PatientTransferred PatientStatus = "transferred"
)

// FollowUpType classifies a scheduled follow-up visit.
type FollowUpType string

const (
	FollowUpCheckup     FollowUpType = "checkup"
	FollowUpTreatment   FollowUpType = "treatment"
	FollowUpVaccination FollowUpType = "vaccination"
)

// FollowUp is a scheduled future interaction for a patient.
type FollowUp struct {
	ID        string       `json:"id"`
	PatientID string       `json:"patient_id"`
	Type      FollowUpType `json:"type"`
	Due       time.Time    `json:"due"`
	CreatedAt time.Time    `json:"created_at"`
}

// PatientRecord is the durable veterinarian-animal relationship created on
// the first accepted dispatch. Exactly one record exists per (vet, animal)
// pair; repeated consultations reactivate a completed record instead of
// duplicating it.
type PatientRecord struct {
	ID       string        `json:"id"`
	VetID    string        `json:"vet_id"`
	AnimalID string        `json:"animal_id"`
	OwnerID  string        `json:"owner_id"`
	Status   PatientStatus `json:"status"`

	// RequestID references the dispatch request that created or last
	// reactivated the record, for traceability.
	RequestID string `json:"request_id"`

	Notes        []string   `json:"notes,omitempty"`
	NextFollowUp *time.Time `json:"next_follow_up,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
