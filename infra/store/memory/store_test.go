package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vetdispatch/core/dispatch"
	"vetdispatch/core/model"
	"vetdispatch/core/patient"
)

func pendingRequest(id string, notified ...string) model.DispatchRequest {
	return model.DispatchRequest{
		ID:        id,
		Status:    model.StatusPending,
		Notified:  notified,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestTryAssignOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateRequest(ctx, pendingRequest("r1", "v1", "v2")); err != nil {
		t.Fatal(err)
	}

	req, won, err := s.TryAssign(ctx, "r1", "v1", time.Now())
	if err != nil || !won {
		t.Fatalf("first assign: won=%v err=%v", won, err)
	}
	if req.Status != model.StatusAccepted || req.AssignedVet != "v1" || req.AcceptedAt == nil {
		t.Fatalf("request = %+v", req)
	}

	req, won, err = s.TryAssign(ctx, "r1", "v2", time.Now())
	if err != nil || won {
		t.Fatalf("second assign: won=%v err=%v", won, err)
	}
	if req.AssignedVet != "v1" {
		t.Fatalf("winner overwritten: %+v", req)
	}

	if _, _, err := s.TryAssign(ctx, "ghost", "v1", time.Now()); !errors.Is(err, dispatch.ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestTryAssignConcurrent(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateRequest(ctx, pendingRequest("r1")); err != nil {
		t.Fatal(err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, won, err := s.TryAssign(ctx, "r1", string(rune('a'+n)), time.Now()); err == nil && won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d", wins)
	}
}

func TestAddDecline(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateRequest(ctx, pendingRequest("r1", "v1", "v2")); err != nil {
		t.Fatal(err)
	}

	req, err := s.AddDecline(ctx, "r1", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Declined) != 1 {
		t.Fatalf("declined = %v", req.Declined)
	}

	// Idempotent.
	req, err = s.AddDecline(ctx, "r1", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Declined) != 1 {
		t.Fatalf("declined = %v", req.Declined)
	}

	if _, err := s.AddDecline(ctx, "r1", "stranger"); !errors.Is(err, dispatch.ErrNotNotified) {
		t.Fatalf("stranger decline: %v", err)
	}

	if _, _, err := s.TryAssign(ctx, "r1", "v2", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddDecline(ctx, "r1", "v2"); !errors.Is(err, dispatch.ErrRequestNotPending) {
		t.Fatalf("decline on accepted: %v", err)
	}
}

func TestAppendNotified(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateRequest(ctx, pendingRequest("r1", "v1")); err != nil {
		t.Fatal(err)
	}

	req, err := s.AppendNotified(ctx, "r1", []string{"v1", "v2", "v2", "v3"}, 100, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(req.Notified) != 3 {
		t.Fatalf("notified = %v", req.Notified)
	}
	if req.RadiusKm != 100 || req.EscalationTier != 1 {
		t.Fatalf("request = %+v", req)
	}

	if _, _, err := s.TryAssign(ctx, "r1", "v1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendNotified(ctx, "r1", []string{"v4"}, 200, 2); !errors.Is(err, dispatch.ErrRequestNotPending) {
		t.Fatalf("append on accepted: %v", err)
	}
}

func TestExpireDue(t *testing.T) {
	ctx := context.Background()
	s := New()

	overdue := pendingRequest("overdue")
	overdue.ExpiresAt = time.Now().Add(-time.Minute)
	fresh := pendingRequest("fresh")
	accepted := pendingRequest("accepted")
	accepted.ExpiresAt = time.Now().Add(-time.Minute)
	for _, r := range []model.DispatchRequest{overdue, fresh, accepted} {
		if err := s.CreateRequest(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := s.TryAssign(ctx, "accepted", "v1", time.Now()); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ExpireDue(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "overdue" {
		t.Fatalf("expired = %v", ids)
	}

	// Accepted requests are never expired, even when overdue.
	got, _ := s.GetRequest(ctx, "accepted")
	if got.Status != model.StatusAccepted {
		t.Fatalf("accepted request = %+v", got)
	}
}

func TestNotificationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec := model.NotificationRecord{
		ID:        "n1",
		RequestID: "r1",
		VetID:     "v1",
		Status:    model.DeliverySent,
		SentAt:    time.Now(),
	}
	if err := s.CreateNotification(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateNotificationStatus(ctx, "r1", "v1", model.DeliveryRead, time.Now()); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetNotification(ctx, "r1", "v1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.DeliveryRead || got.ReadAt == nil {
		t.Fatalf("record = %+v", got)
	}

	if err := s.UpdateNotificationStatus(ctx, "r1", "ghost", model.DeliveryRead, time.Now()); !errors.Is(err, dispatch.ErrNotFound) {
		t.Fatalf("unknown record: %v", err)
	}
}

func TestAttachPatient(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	rec := model.PatientRecord{
		ID: "p1", VetID: "v1", AnimalID: "a1", OwnerID: "o1",
		Status: model.PatientActive, RequestID: "r1",
		CreatedAt: now, UpdatedAt: now,
	}
	got, created, err := s.AttachPatient(ctx, rec)
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}

	// Same pair again: reused, not recreated.
	dup := rec
	dup.ID = "p2"
	dup.RequestID = "r2"
	got, created, err = s.AttachPatient(ctx, dup)
	if err != nil || created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if got.ID != "p1" || got.RequestID != "r1" {
		t.Fatalf("record = %+v", got)
	}

	// Completed records are reactivated and pick up the new request id.
	got.Status = model.PatientCompleted
	if err := s.UpdatePatient(ctx, got); err != nil {
		t.Fatal(err)
	}
	got, created, err = s.AttachPatient(ctx, dup)
	if err != nil || created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if got.Status != model.PatientActive || got.RequestID != "r2" {
		t.Fatalf("record = %+v", got)
	}
}

func TestPatientErrors(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.GetPatient(ctx, "ghost"); !errors.Is(err, patient.ErrNotFound) {
		t.Fatalf("get: %v", err)
	}
	if err := s.UpdatePatient(ctx, model.PatientRecord{ID: "ghost"}); !errors.Is(err, patient.ErrNotFound) {
		t.Fatalf("update: %v", err)
	}
}

func TestListPendingForVet(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := pendingRequest("r1", "v1")
	first.CreatedAt = time.Now().Add(-time.Minute)
	second := pendingRequest("r2", "v1", "v2")
	declined := pendingRequest("r3", "v1")
	declined.Declined = []string{"v1"}
	other := pendingRequest("r4", "v2")
	for _, r := range []model.DispatchRequest{first, second, declined, other} {
		if err := s.CreateRequest(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListPendingForVet(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "r1" || got[1].ID != "r2" {
		t.Fatalf("pending = %+v", got)
	}
}

func TestCopyOutIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.CreateRequest(ctx, pendingRequest("r1", "v1")); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetRequest(ctx, "r1")
	got.Notified[0] = "mutated"

	again, _ := s.GetRequest(ctx, "r1")
	if again.Notified[0] != "v1" {
		t.Fatal("caller mutation leaked into the store")
	}
}
