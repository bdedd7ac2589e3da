package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vetdispatch/core/dispatch"
	"vetdispatch/core/model"
	"vetdispatch/core/patient"
)

// Store implements dispatch.Store and patient.Store on Postgres.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const requestColumns = `id, report_id, animal_id, owner_id, priority, lat, lon, address,
	status, notified, declined, assigned_vet, radius_km, escalation_tier,
	created_at, expires_at, accepted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (model.DispatchRequest, error) {
	var (
		r                  model.DispatchRequest
		notified, declined []byte
		acceptedAt         sql.NullTime
	)
	err := row.Scan(
		&r.ID, &r.ReportID, &r.AnimalID, &r.OwnerID, &r.Priority,
		&r.Location.Lat, &r.Location.Lon, &r.Location.Address,
		&r.Status, &notified, &declined, &r.AssignedVet,
		&r.RadiusKm, &r.EscalationTier,
		&r.CreatedAt, &r.ExpiresAt, &acceptedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.DispatchRequest{}, dispatch.ErrNotFound
		}
		return model.DispatchRequest{}, err
	}
	if err := json.Unmarshal(notified, &r.Notified); err != nil {
		return model.DispatchRequest{}, fmt.Errorf("decode notified: %w", err)
	}
	if err := json.Unmarshal(declined, &r.Declined); err != nil {
		return model.DispatchRequest{}, fmt.Errorf("decode declined: %w", err)
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		r.AcceptedAt = &t
	}
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, req model.DispatchRequest) error {
	notified, err := json.Marshal(req.Notified)
	if err != nil {
		return err
	}
	declined, err := json.Marshal(req.Declined)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dispatch_requests (`+requestColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		req.ID, req.ReportID, req.AnimalID, req.OwnerID, req.Priority,
		req.Location.Lat, req.Location.Lon, req.Location.Address,
		req.Status, notified, declined, req.AssignedVet,
		req.RadiusKm, req.EscalationTier,
		req.CreatedAt, req.ExpiresAt, nullTime(req.AcceptedAt),
	)
	return err
}

func (s *Store) GetRequest(ctx context.Context, id string) (model.DispatchRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM dispatch_requests WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (s *Store) ListPendingForVet(ctx context.Context, vetID string) ([]model.DispatchRequest, error) {
	vet, err := json.Marshal([]string{vetID})
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM dispatch_requests
		WHERE status = 'pending' AND notified @> $1 AND NOT declined @> $1
		ORDER BY created_at ASC
	`, vet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DispatchRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TryAssign is a single conditional UPDATE. Of any number of concurrent
// callers exactly one sees a row transition; the rest read back the winner's
// row.
func (s *Store) TryAssign(ctx context.Context, requestID, vetID string, at time.Time) (model.DispatchRequest, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE dispatch_requests
		SET status = 'accepted', assigned_vet = $2, accepted_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING `+requestColumns+`
	`, requestID, vetID, at)
	req, err := scanRequest(row)
	if err == nil {
		return req, true, nil
	}
	if err != dispatch.ErrNotFound {
		return model.DispatchRequest{}, false, err
	}
	// Lost the race or unknown id; read the current row to tell which.
	req, err = s.GetRequest(ctx, requestID)
	if err != nil {
		return model.DispatchRequest{}, false, err
	}
	return req, false, nil
}

func (s *Store) AddDecline(ctx context.Context, requestID, vetID string) (model.DispatchRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DispatchRequest{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM dispatch_requests WHERE id = $1 FOR UPDATE
	`, requestID)
	req, err := scanRequest(row)
	if err != nil {
		return model.DispatchRequest{}, err
	}
	if req.Status != model.StatusPending {
		return model.DispatchRequest{}, dispatch.ErrRequestNotPending
	}
	if !req.WasNotified(vetID) {
		return model.DispatchRequest{}, dispatch.ErrNotNotified
	}
	if !req.HasDeclined(vetID) {
		req.Declined = append(req.Declined, vetID)
		declined, err := json.Marshal(req.Declined)
		if err != nil {
			return model.DispatchRequest{}, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE dispatch_requests SET declined = $2 WHERE id = $1
		`, requestID, declined); err != nil {
			return model.DispatchRequest{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.DispatchRequest{}, err
	}
	return req, nil
}

func (s *Store) AppendNotified(ctx context.Context, requestID string, vetIDs []string, radiusKm float64, tier int) (model.DispatchRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DispatchRequest{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM dispatch_requests WHERE id = $1 FOR UPDATE
	`, requestID)
	req, err := scanRequest(row)
	if err != nil {
		return model.DispatchRequest{}, err
	}
	if req.Status != model.StatusPending {
		return model.DispatchRequest{}, dispatch.ErrRequestNotPending
	}
	for _, id := range vetIDs {
		if !req.WasNotified(id) {
			req.Notified = append(req.Notified, id)
		}
	}
	req.RadiusKm = radiusKm
	req.EscalationTier = tier
	notified, err := json.Marshal(req.Notified)
	if err != nil {
		return model.DispatchRequest{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE dispatch_requests
		SET notified = $2, radius_km = $3, escalation_tier = $4
		WHERE id = $1
	`, requestID, notified, radiusKm, tier); err != nil {
		return model.DispatchRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.DispatchRequest{}, err
	}
	return req, nil
}

func (s *Store) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE dispatch_requests
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) CreateNotification(ctx context.Context, rec model.NotificationRecord) error {
	channels, err := json.Marshal(rec.Channels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (
			id, request_id, vet_id, channels, distance_km, status,
			sent_at, delivered_at, read_at, responded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		rec.ID, rec.RequestID, rec.VetID, channels, rec.DistanceKm, rec.Status,
		rec.SentAt, nullTime(rec.DeliveredAt), nullTime(rec.ReadAt), nullTime(rec.RespondedAt),
	)
	return err
}

func scanNotification(row rowScanner) (model.NotificationRecord, error) {
	var (
		rec                              model.NotificationRecord
		channels                         []byte
		deliveredAt, readAt, respondedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.RequestID, &rec.VetID, &channels, &rec.DistanceKm, &rec.Status,
		&rec.SentAt, &deliveredAt, &readAt, &respondedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.NotificationRecord{}, dispatch.ErrNotFound
		}
		return model.NotificationRecord{}, err
	}
	if err := json.Unmarshal(channels, &rec.Channels); err != nil {
		return model.NotificationRecord{}, fmt.Errorf("decode channels: %w", err)
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		rec.DeliveredAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		rec.ReadAt = &t
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		rec.RespondedAt = &t
	}
	return rec, nil
}

func (s *Store) GetNotification(ctx context.Context, requestID, vetID string) (model.NotificationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, vet_id, channels, distance_km, status,
			sent_at, delivered_at, read_at, responded_at
		FROM notifications
		WHERE request_id = $1 AND vet_id = $2
	`, requestID, vetID)
	return scanNotification(row)
}

func (s *Store) ListNotifications(ctx context.Context, requestID string) ([]model.NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, vet_id, channels, distance_km, status,
			sent_at, delivered_at, read_at, responded_at
		FROM notifications
		WHERE request_id = $1
		ORDER BY vet_id ASC
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.NotificationRecord, 0)
	for rows.Next() {
		rec, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, requestID, vetID string, status model.DeliveryStatus, at time.Time) error {
	var column string
	switch status {
	case model.DeliveryDelivered:
		column = "delivered_at"
	case model.DeliveryRead:
		column = "read_at"
	case model.DeliveryResponded:
		column = "responded_at"
	default:
		column = ""
	}
	query := `UPDATE notifications SET status = $3 WHERE request_id = $1 AND vet_id = $2`
	args := []any{requestID, vetID, status}
	if column != "" {
		query = `UPDATE notifications SET status = $3, ` + column + ` = $4 WHERE request_id = $1 AND vet_id = $2`
		args = append(args, at)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return dispatch.ErrNotFound
	}
	return nil
}

func (s *Store) AppendResponse(ctx context.Context, resp model.VeterinarianResponse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO responses (id, request_id, vet_id, action, message, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`,
		resp.ID, resp.RequestID, resp.VetID, resp.Action, resp.Message,
		resp.Latency.Milliseconds(), resp.CreatedAt,
	)
	return err
}

func (s *Store) ListResponsesByVet(ctx context.Context, vetID string) ([]model.VeterinarianResponse, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, vet_id, action, message, latency_ms, created_at
		FROM responses
		WHERE vet_id = $1
		ORDER BY created_at ASC
	`, vetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VeterinarianResponse
	for rows.Next() {
		var (
			r         model.VeterinarianResponse
			latencyMs int64
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.VetID, &r.Action, &r.Message, &latencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Latency = time.Duration(latencyMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// AttachPatient inserts the record or, on a (vet, animal) conflict,
// reactivates a completed record. The xmax trick distinguishes a fresh insert
// from a conflict update.
func (s *Store) AttachPatient(ctx context.Context, rec model.PatientRecord) (model.PatientRecord, bool, error) {
	notes, err := json.Marshal(rec.Notes)
	if err != nil {
		return model.PatientRecord{}, false, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO patients (
			id, vet_id, animal_id, owner_id, status, request_id,
			notes, next_follow_up, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (vet_id, animal_id) DO UPDATE SET
			status = CASE WHEN patients.status = 'completed' THEN 'active' ELSE patients.status END,
			request_id = CASE WHEN patients.status = 'completed' THEN EXCLUDED.request_id ELSE patients.request_id END,
			updated_at = CASE WHEN patients.status = 'completed' THEN EXCLUDED.updated_at ELSE patients.updated_at END
		RETURNING id, vet_id, animal_id, owner_id, status, request_id,
			notes, next_follow_up, created_at, updated_at, (xmax = 0) AS created
	`,
		rec.ID, rec.VetID, rec.AnimalID, rec.OwnerID, rec.Status, rec.RequestID,
		notes, nullTime(rec.NextFollowUp), rec.CreatedAt, rec.UpdatedAt,
	)
	var created bool
	out, err := scanPatientWith(row, &created)
	if err != nil {
		return model.PatientRecord{}, false, err
	}
	return out, created, nil
}

func scanPatient(row rowScanner) (model.PatientRecord, error) {
	return scanPatientWith(row, nil)
}

func scanPatientWith(row rowScanner, created *bool) (model.PatientRecord, error) {
	var (
		p            model.PatientRecord
		notes        []byte
		nextFollowUp sql.NullTime
	)
	dest := []any{
		&p.ID, &p.VetID, &p.AnimalID, &p.OwnerID, &p.Status, &p.RequestID,
		&notes, &nextFollowUp, &p.CreatedAt, &p.UpdatedAt,
	}
	if created != nil {
		dest = append(dest, created)
	}
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return model.PatientRecord{}, patient.ErrNotFound
		}
		return model.PatientRecord{}, err
	}
	if err := json.Unmarshal(notes, &p.Notes); err != nil {
		return model.PatientRecord{}, fmt.Errorf("decode notes: %w", err)
	}
	if nextFollowUp.Valid {
		t := nextFollowUp.Time
		p.NextFollowUp = &t
	}
	return p, nil
}

func (s *Store) GetPatient(ctx context.Context, id string) (model.PatientRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, vet_id, animal_id, owner_id, status, request_id,
			notes, next_follow_up, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (s *Store) ListPatientsByVet(ctx context.Context, vetID string) ([]model.PatientRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vet_id, animal_id, owner_id, status, request_id,
			notes, next_follow_up, created_at, updated_at
		FROM patients
		WHERE vet_id = $1
		ORDER BY created_at ASC
	`, vetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PatientRecord
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePatient(ctx context.Context, rec model.PatientRecord) error {
	notes, err := json.Marshal(rec.Notes)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE patients
		SET status = $2, request_id = $3, notes = $4, next_follow_up = $5, updated_at = $6
		WHERE id = $1
	`, rec.ID, rec.Status, rec.RequestID, notes, nullTime(rec.NextFollowUp), rec.UpdatedAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return patient.ErrNotFound
	}
	return nil
}

func (s *Store) AddFollowUp(ctx context.Context, fu model.FollowUp) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (id, patient_id, type, due, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, fu.ID, fu.PatientID, fu.Type, fu.Due, fu.CreatedAt)
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
