// Package geo locates eligible veterinarians around a case.
package geo

import (
	"context"
	"sort"

	"vetdispatch/core/logger"
	"vetdispatch/core/model"
)

// Directory lists the veterinarians known to the platform. It is backed by
// the external veterinarian-profile service; this package only consumes it.
type Directory interface {
	ListVeterinarians(ctx context.Context) ([]model.Veterinarian, error)
}

// Candidate is a veterinarian eligible for a request together with the
// distance to the case location.
type Candidate struct {
	VetID      string
	DistanceKm float64
}

// Matcher ranks directory entries by great-circle distance.
type Matcher struct {
	dir Directory
	log logger.Logger
}

// NewMatcher creates a Matcher over the given directory.
func NewMatcher(dir Directory, log logger.Logger) *Matcher {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Matcher{dir: dir, log: log}
}

// FindEligible returns candidates within radiusKm of loc, sorted by distance
// ascending with vet id as tiebreak. Veterinarians must be verified; for
// emergency requests emergency availability replaces general availability.
// Directory records with malformed coordinates are skipped, not fatal. An
// empty result is an expected condition, not an error.
func (m *Matcher) FindEligible(ctx context.Context, loc model.Location, radiusKm float64, emergency bool, exclude map[string]bool) ([]Candidate, error) {
	vets, err := m.dir.ListVeterinarians(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(vets))
	for _, v := range vets {
		if exclude[v.ID] || !v.EligibleFor(emergency) {
			continue
		}
		if err := v.Location.Validate(); err != nil {
			m.log.Warnf("skipping vet %s: %v", v.ID, err)
			continue
		}
		d := loc.DistanceKm(v.Location)
		if d <= radiusKm {
			candidates = append(candidates, Candidate{VetID: v.ID, DistanceKm: d})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].VetID < candidates[j].VetID
	})
	return candidates, nil
}
