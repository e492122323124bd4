package main

import (
	"testing"

	"github.com/kjstillabower/weather-dashboard/internal/geocode"
)

// TestWarmingCities verifies the popular-city fallback when no warming cities
// are configured. The rest of main is wiring covered by the internal packages.
func TestWarmingCities(t *testing.T) {
	configured := []string{"London", "Oslo"}
	got := warmingCities(configured)
	if len(got) != 2 || got[0] != "London" || got[1] != "Oslo" {
		t.Errorf("warmingCities(configured) = %v, want configured list", got)
	}

	got = warmingCities(nil)
	if len(got) != len(geocode.PopularCities) {
		t.Errorf("warmingCities(nil) returned %d cities, want the %d popular cities", len(got), len(geocode.PopularCities))
	}
}
