// Package geocode resolves city names to coordinates via the OpenWeatherMap
// geocoding API, backing dashboard autocomplete and city comparison.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// Geocoder resolves free-text city queries to candidate cities.
type Geocoder interface {
	Search(ctx context.Context, query string, limit int) ([]models.City, error)
}

// ErrQueryTooShort is returned when the query has fewer than MinQueryLength runes.
var ErrQueryTooShort = errors.New("query too short")

// MinQueryLength is the minimum query length before an upstream call is made.
const MinQueryLength = 2

// DefaultLimit caps autocomplete result counts when the caller passes zero.
const DefaultLimit = 10

// Client talks to the OpenWeatherMap geocoding API (geo/1.0).
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a geocoding client. baseURL is the geocoding API root
// (e.g. "https://api.openweathermap.org/geo/1.0").
func NewClient(apiKey, baseURL string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("geocode: API key is required")
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type geocodeResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

// Search returns up to limit candidate cities for the query. Queries shorter
// than MinQueryLength fail with ErrQueryTooShort without an upstream call.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.City, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinQueryLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrQueryTooShort, MinQueryLength)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	u, err := url.Parse(c.baseURL + "/direct")
	if err != nil {
		return nil, fmt.Errorf("invalid geocoding URL: %w", err)
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("appid", c.apiKey)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		observability.GeocodingCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()
	observability.GeocodingDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode != http.StatusOK {
		observability.GeocodingCallsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("geocoding failed: HTTP %d", resp.StatusCode)
	}
	observability.GeocodingCallsTotal.WithLabelValues("success").Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var results []geocodeResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	cities := make([]models.City, 0, len(results))
	for _, r := range results {
		cities = append(cities, models.City{
			Name:        r.Name,
			State:       r.State,
			Country:     r.Country,
			Lat:         r.Lat,
			Lon:         r.Lon,
			DisplayName: formatDisplayName(r),
		})
	}
	return cities, nil
}

// formatDisplayName renders "Name, State, Country" and drops the state when
// absent or redundant with the name.
func formatDisplayName(r geocodeResult) string {
	if r.State != "" && r.State != r.Name {
		return r.Name + ", " + r.State + ", " + r.Country
	}
	return r.Name + ", " + r.Country
}

// PopularCities is the curated list of suggestion cities shown before the
// user searches; also used for cache warming.
var PopularCities = []string{
	"London", "New York", "Tokyo", "Paris", "Sydney", "Dubai",
	"Singapore", "Mumbai", "São Paulo", "Cairo", "Moscow", "Beijing",
	"Los Angeles", "Chicago", "Toronto", "Berlin", "Rome", "Madrid",
	"Amsterdam", "Bangkok", "Seoul", "Mexico City", "Buenos Aires",
	"Johannesburg", "Istanbul", "Hong Kong", "Colombo", "Delhi",
	"Shanghai", "Kuala Lumpur", "Manila", "Jakarta", "Ho Chi Minh City",
}

// Suggestions returns up to limit popular city names, for autocomplete before
// the user has typed a searchable query. limit <= 0 returns the full list.
func Suggestions(limit int) []string {
	if limit <= 0 || limit >= len(PopularCities) {
		limit = len(PopularCities)
	}
	out := make([]string, limit)
	copy(out, PopularCities[:limit])
	return out
}
