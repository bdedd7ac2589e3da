// Package stats aggregates per-veterinarian dashboard figures from the
// dispatch and patient stores.
package stats

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/stat"

	"vetdispatch/core/dispatch"
	"vetdispatch/core/model"
	"vetdispatch/core/patient"
)

// Summary is the dashboard snapshot for one veterinarian.
type Summary struct {
	VetID                 string  `json:"vet_id"`
	PendingRequests       int     `json:"pending_requests"`
	ActivePatients        int     `json:"active_patients"`
	Accepted              int     `json:"accepted"`
	Declined              int     `json:"declined"`
	MeanResponseSeconds   float64 `json:"mean_response_seconds"`
	MedianResponseSeconds float64 `json:"median_response_seconds"`
	P95ResponseSeconds    float64 `json:"p95_response_seconds"`
}

// Service computes summaries. Read-only over both stores.
type Service struct {
	requests dispatch.Store
	patients patient.Store
}

// NewService creates a stats Service.
func NewService(requests dispatch.Store, patients patient.Store) *Service {
	return &Service{requests: requests, patients: patients}
}

// Summarize builds the dashboard snapshot for a veterinarian.
func (s *Service) Summarize(ctx context.Context, vetID string) (Summary, error) {
	sum := Summary{VetID: vetID}

	pending, err := s.requests.ListPendingForVet(ctx, vetID)
	if err != nil {
		return Summary{}, err
	}
	sum.PendingRequests = len(pending)

	pats, err := s.patients.ListPatientsByVet(ctx, vetID)
	if err != nil {
		return Summary{}, err
	}
	for _, p := range pats {
		if p.Status == model.PatientActive {
			sum.ActivePatients++
		}
	}

	resps, err := s.requests.ListResponsesByVet(ctx, vetID)
	if err != nil {
		return Summary{}, err
	}
	var latencies []float64
	for _, r := range resps {
		switch r.Action {
		case model.ActionAccept:
			sum.Accepted++
		case model.ActionDecline:
			sum.Declined++
		}
		if r.Latency > 0 {
			latencies = append(latencies, r.Latency.Seconds())
		}
	}
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		sum.MeanResponseSeconds = stat.Mean(latencies, nil)
		sum.MedianResponseSeconds = stat.Quantile(0.5, stat.Empirical, latencies, nil)
		sum.P95ResponseSeconds = stat.Quantile(0.95, stat.Empirical, latencies, nil)
	}
	return sum, nil
}
