package model

import "time"

// Severity grades a symptom report.
type Severity int

const (
	SeverityMild Severity = iota
	SeverityModerate
	SeveritySevere
)

// String returns a human-readable representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityMild:
		return "mild"
	case SeverityModerate:
		return "moderate"
	case SeveritySevere:
		return "severe"
	default:
		return "unknown"
	}
}

// ParseSeverity maps the wire representation back to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch s {
	case "mild":
		return SeverityMild, true
	case "moderate":
		return SeverityModerate, true
	case "severe":
		return SeveritySevere, true
	}
	return SeverityMild, false
}

// ReportStatus tracks the lifecycle of a symptom report.
type ReportStatus string

const (
	ReportSubmitted ReportStatus = "submitted"
	ReportNotified  ReportStatus = "notified"
	ReportAccepted  ReportStatus = "accepted"
	ReportCompleted ReportStatus = "completed"
)

// SymptomReport is the inbound case description produced by the
// health-assessment module. It is immutable once veterinarians have been
// notified.
type SymptomReport struct {
	ID          string       `json:"id"`
	AnimalID    string       `json:"animal_id"`
	OwnerID     string       `json:"owner_id"`
	Symptoms    string       `json:"symptoms"`
	Severity    Severity     `json:"severity"`
	IsEmergency bool         `json:"is_emergency"`
	Predictions []string     `json:"predictions,omitempty"` // AI disease prediction summaries
	Location    Location     `json:"location"`
	Status      ReportStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
}
