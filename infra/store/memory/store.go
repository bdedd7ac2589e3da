// Package memory provides an in-memory Store used in tests and single-node
// deployments. All conditional transitions run under one mutex, which gives
// the same linearizability per request as the Postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"vetdispatch/core/dispatch"
	"vetdispatch/core/model"
	"vetdispatch/core/patient"
)

type patientKey struct{ vetID, animalID string }

// Store implements dispatch.Store and patient.Store.
type Store struct {
	mu            sync.RWMutex
	requests      map[string]model.DispatchRequest
	notifications map[string]map[string]model.NotificationRecord
	responses     []model.VeterinarianResponse
	patients      map[string]model.PatientRecord
	patientIndex  map[patientKey]string
	followUps     map[string][]model.FollowUp
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		requests:      make(map[string]model.DispatchRequest),
		notifications: make(map[string]map[string]model.NotificationRecord),
		patients:      make(map[string]model.PatientRecord),
		patientIndex:  make(map[patientKey]string),
		followUps:     make(map[string][]model.FollowUp),
	}
}

func cloneRequest(r model.DispatchRequest) model.DispatchRequest {
	r.Notified = append([]string(nil), r.Notified...)
	r.Declined = append([]string(nil), r.Declined...)
	if r.AcceptedAt != nil {
		t := *r.AcceptedAt
		r.AcceptedAt = &t
	}
	return r
}

func clonePatient(p model.PatientRecord) model.PatientRecord {
	p.Notes = append([]string(nil), p.Notes...)
	if p.NextFollowUp != nil {
		t := *p.NextFollowUp
		p.NextFollowUp = &t
	}
	return p
}

func (s *Store) CreateRequest(_ context.Context, req model.DispatchRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *Store) GetRequest(_ context.Context, id string) (model.DispatchRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return model.DispatchRequest{}, dispatch.ErrNotFound
	}
	return cloneRequest(r), nil
}

// ListPendingForVet returns the open requests in a veterinarian's inbox:
// pending, addressed to them and not yet declined by them.
func (s *Store) ListPendingForVet(_ context.Context, vetID string) ([]model.DispatchRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.DispatchRequest
	for _, r := range s.requests {
		if r.Status == model.StatusPending && r.WasNotified(vetID) && !r.HasDeclined(vetID) {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TryAssign(_ context.Context, requestID, vetID string, at time.Time) (model.DispatchRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return model.DispatchRequest{}, false, dispatch.ErrNotFound
	}
	if r.Status != model.StatusPending {
		return cloneRequest(r), false, nil
	}
	r.Status = model.StatusAccepted
	r.AssignedVet = vetID
	r.AcceptedAt = &at
	s.requests[requestID] = r
	return cloneRequest(r), true, nil
}

func (s *Store) AddDecline(_ context.Context, requestID, vetID string) (model.DispatchRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return model.DispatchRequest{}, dispatch.ErrNotFound
	}
	if r.Status != model.StatusPending {
		return model.DispatchRequest{}, dispatch.ErrRequestNotPending
	}
	if !r.WasNotified(vetID) {
		return model.DispatchRequest{}, dispatch.ErrNotNotified
	}
	if !r.HasDeclined(vetID) {
		r.Declined = append(append([]string(nil), r.Declined...), vetID)
		s.requests[requestID] = r
	}
	return cloneRequest(r), nil
}

func (s *Store) AppendNotified(_ context.Context, requestID string, vetIDs []string, radiusKm float64, tier int) (model.DispatchRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[requestID]
	if !ok {
		return model.DispatchRequest{}, dispatch.ErrNotFound
	}
	if r.Status != model.StatusPending {
		return model.DispatchRequest{}, dispatch.ErrRequestNotPending
	}
	notified := append([]string(nil), r.Notified...)
	for _, id := range vetIDs {
		seen := false
		for _, existing := range notified {
			if existing == id {
				seen = true
				break
			}
		}
		if !seen {
			notified = append(notified, id)
		}
	}
	r.Notified = notified
	r.RadiusKm = radiusKm
	r.EscalationTier = tier
	s.requests[requestID] = r
	return cloneRequest(r), nil
}

func (s *Store) ExpireDue(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, r := range s.requests {
		if r.Status == model.StatusPending && now.After(r.ExpiresAt) {
			r.Status = model.StatusExpired
			s.requests[id] = r
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) CreateNotification(_ context.Context, rec model.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byVet, ok := s.notifications[rec.RequestID]
	if !ok {
		byVet = make(map[string]model.NotificationRecord)
		s.notifications[rec.RequestID] = byVet
	}
	byVet[rec.VetID] = rec
	return nil
}

func (s *Store) GetNotification(_ context.Context, requestID, vetID string) (model.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.notifications[requestID][vetID]
	if !ok {
		return model.NotificationRecord{}, dispatch.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListNotifications(_ context.Context, requestID string) ([]model.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byVet := s.notifications[requestID]
	out := make([]model.NotificationRecord, 0, len(byVet))
	for _, rec := range byVet {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VetID < out[j].VetID })
	return out, nil
}

func (s *Store) UpdateNotificationStatus(_ context.Context, requestID, vetID string, status model.DeliveryStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.notifications[requestID][vetID]
	if !ok {
		return dispatch.ErrNotFound
	}
	rec.Status = status
	switch status {
	case model.DeliveryDelivered:
		rec.DeliveredAt = &at
	case model.DeliveryRead:
		rec.ReadAt = &at
	case model.DeliveryResponded:
		rec.RespondedAt = &at
	}
	s.notifications[requestID][vetID] = rec
	return nil
}

func (s *Store) AppendResponse(_ context.Context, resp model.VeterinarianResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	return nil
}

func (s *Store) ListResponsesByVet(_ context.Context, vetID string) ([]model.VeterinarianResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.VeterinarianResponse
	for _, r := range s.responses {
		if r.VetID == vetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) AttachPatient(_ context.Context, rec model.PatientRecord) (model.PatientRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := patientKey{vetID: rec.VetID, animalID: rec.AnimalID}
	if id, ok := s.patientIndex[key]; ok {
		existing := s.patients[id]
		if existing.Status == model.PatientCompleted {
			existing.Status = model.PatientActive
			existing.RequestID = rec.RequestID
			existing.UpdatedAt = rec.UpdatedAt
			s.patients[id] = existing
		}
		return clonePatient(existing), false, nil
	}
	s.patients[rec.ID] = clonePatient(rec)
	s.patientIndex[key] = rec.ID
	return clonePatient(rec), true, nil
}

func (s *Store) GetPatient(_ context.Context, id string) (model.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return model.PatientRecord{}, patient.ErrNotFound
	}
	return clonePatient(p), nil
}

func (s *Store) ListPatientsByVet(_ context.Context, vetID string) ([]model.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.PatientRecord
	for _, p := range s.patients {
		if p.VetID == vetID {
			out = append(out, clonePatient(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdatePatient(_ context.Context, rec model.PatientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[rec.ID]; !ok {
		return patient.ErrNotFound
	}
	s.patients[rec.ID] = clonePatient(rec)
	return nil
}

func (s *Store) AddFollowUp(_ context.Context, fu model.FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUps[fu.PatientID] = append(s.followUps[fu.PatientID], fu)
	return nil
}

// ListFollowUps returns the follow-ups scheduled for a patient.
func (s *Store) ListFollowUps(_ context.Context, patientID string) ([]model.FollowUp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.FollowUp(nil), s.followUps[patientID]...), nil
}
