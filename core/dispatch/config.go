package dispatch

// Config defines the engine's matching parameters.
type Config struct {
	InitialRadiusKm       float64 `json:"initial_radius_km"`
	MaxRadiusKm           float64 `json:"max_radius_km"`
	MaxEscalations        int     `json:"max_escalations"`
	ReaperIntervalSeconds int     `json:"reaper_interval_seconds"`
}

// SetDefaults fills unset fields: 50 km initial radius doubling up to 200 km
// over at most two escalations, reaper sweep every minute.
func (c *Config) SetDefaults() {
	if c.InitialRadiusKm <= 0 {
		c.InitialRadiusKm = 50
	}
	if c.MaxRadiusKm <= 0 {
		c.MaxRadiusKm = 200
	}
	if c.MaxEscalations <= 0 {
		c.MaxEscalations = 2
	}
	if c.ReaperIntervalSeconds <= 0 {
		c.ReaperIntervalSeconds = 60
	}
}
