package model

import (
	"math"
	"testing"
)

func TestLocationValidate(t *testing.T) {
	cases := []struct {
		name    string
		loc     Location
		wantErr bool
	}{
		{"valid", Location{Lat: 46.2, Lon: 6.1}, false},
		{"null island", Location{}, true},
		{"lat too high", Location{Lat: 91, Lon: 10}, true},
		{"lat too low", Location{Lat: -91, Lon: 10}, true},
		{"lon too high", Location{Lat: 10, Lon: 181}, true},
		{"lon too low", Location{Lat: 10, Lon: -181}, true},
		{"poles are fine", Location{Lat: 90, Lon: 1}, false},
	}
	for _, c := range cases {
		err := c.loc.Validate()
		if (err != nil) != c.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", c.name, err, c.wantErr)
		}
	}
}

func TestDistanceKm(t *testing.T) {
	paris := Location{Lat: 48.8566, Lon: 2.3522}
	london := Location{Lat: 51.5074, Lon: -0.1278}

	d := paris.DistanceKm(london)
	if math.Abs(d-344) > 5 {
		t.Fatalf("Paris-London distance = %.1f km, want ~344", d)
	}
	if rev := london.DistanceKm(paris); math.Abs(rev-d) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", d, rev)
	}
	if self := paris.DistanceKm(paris); self != 0 {
		t.Fatalf("distance to self = %v, want 0", self)
	}
}
