package model

// Veterinarian is the directory entry the matcher works against. The
// directory itself (profiles, licensing, working hours) is owned by an
// external service; only the matching-relevant fields appear here.
type Veterinarian struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Location           Location `json:"location"`
	Verified           bool     `json:"verified"`
	Available          bool     `json:"available"`
	EmergencyAvailable bool     `json:"emergency_available"`
}

// EligibleFor reports whether the veterinarian can be matched for the given
// urgency. Emergency requests bypass general availability: an on-call
// emergency vet who is otherwise unavailable must still be reachable.
func (v Veterinarian) EligibleFor(emergency bool) bool {
	if !v.Verified {
		return false
	}
	if emergency {
		return v.EmergencyAvailable
	}
	return v.Available
}
