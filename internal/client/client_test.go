package client

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const testAPIKey = "0123456789abcdef"

const currentBody = `{
	"coord": {"lat": 51.51, "lon": -0.13},
	"main": {"temp": 15.5, "feels_like": 14.2, "humidity": 72, "pressure": 1012},
	"weather": [{"main": "Clouds", "description": "broken clouds", "icon": "04d"}],
	"wind": {"speed": 4.1, "deg": 250},
	"visibility": 10000,
	"sys": {"country": "GB", "sunrise": 1717217400, "sunset": 1717276500},
	"dt": 1717250000,
	"name": "London"
}`

const forecastBody = `{
	"city": {"name": "London"},
	"list": [
		{"dt": 1717250400, "main": {"temp": 15.0, "feels_like": 14.0, "humidity": 70, "pressure": 1012},
		 "weather": [{"main": "Clouds", "description": "few clouds", "icon": "02d"}],
		 "wind": {"speed": 3.5}, "pop": 0.2},
		{"dt": 1717261200, "main": {"temp": 16.5, "feels_like": 15.8, "humidity": 65, "pressure": 1011},
		 "weather": [{"main": "Rain", "description": "light rain", "icon": "10d"}],
		 "wind": {"speed": 4.0}, "pop": 0.65}
	]
}`

// newTestClient builds a client pointed at the test server with no retry delay.
func newTestClient(t *testing.T, serverURL string) *OpenWeatherClient {
	t.Helper()
	c, err := NewOpenWeatherClientWithRetry(testAPIKey, serverURL, time.Second, 3, time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewOpenWeatherClientWithRetry returned error: %v", err)
	}
	return c
}

// TestNewOpenWeatherClient_RejectsBadKeys verifies constructor API key validation.
func TestNewOpenWeatherClient_RejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "short"} {
		if _, err := NewOpenWeatherClient(key, "http://example.test", time.Second); !errors.Is(err, ErrInvalidAPIKey) {
			t.Errorf("NewOpenWeatherClient(%q) error = %v, want ErrInvalidAPIKey", key, err)
		}
	}
}

// TestCurrentWeather_MapsResponse verifies response reshaping into CurrentConditions.
func TestCurrentWeather_MapsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("units"); got != "metric" {
			t.Errorf("units = %q, want metric", got)
		}
		if got := r.URL.Query().Get("appid"); got != testAPIKey {
			t.Errorf("appid = %q, want %q", got, testAPIKey)
		}
		w.Write([]byte(currentBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.CurrentWeather(context.Background(), 51.5074, -0.1278)
	if err != nil {
		t.Fatalf("CurrentWeather returned error: %v", err)
	}

	if got.City != "London" || got.Country != "GB" {
		t.Errorf("city = %s,%s, want London,GB", got.City, got.Country)
	}
	if got.Temperature != 15.5 || got.Humidity != 72 {
		t.Errorf("temp/humidity = %v/%v, want 15.5/72", got.Temperature, got.Humidity)
	}
	if math.Abs(got.VisibilityKm-10) > 1e-9 {
		t.Errorf("VisibilityKm = %v, want 10", got.VisibilityKm)
	}
	if got.Conditions != "Clouds" || got.Description != "broken clouds" {
		t.Errorf("conditions = %q/%q", got.Conditions, got.Description)
	}
}

// TestForecast_MapsSeries verifies forecast reshaping, including PoP scaling to percent.
func TestForecast_MapsSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(forecastBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.Forecast(context.Background(), 51.5074, -0.1278)
	if err != nil {
		t.Fatalf("Forecast returned error: %v", err)
	}

	if got.Location != "london" {
		t.Errorf("Location = %q, want london (normalized)", got.Location)
	}
	if len(got.Samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(got.Samples))
	}
	if math.Abs(got.Samples[1].PrecipProbability-65) > 1e-9 {
		t.Errorf("PrecipProbability = %v, want 65", got.Samples[1].PrecipProbability)
	}
	if got.Samples.Interval() != 3*time.Hour {
		t.Errorf("Interval = %v, want 3h", got.Samples.Interval())
	}
}

// TestCurrentWeather_ErrorMapping verifies HTTP status to typed error mapping.
func TestCurrentWeather_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrInvalidAPIKey},
		{name: "not found", status: http.StatusNotFound, wantErr: ErrLocationNotFound},
		{name: "rate limited retries then fails", status: http.StatusTooManyRequests, wantErr: ErrRateLimited},
		{name: "server error retries then fails", status: http.StatusInternalServerError, wantErr: ErrUpstreamFailure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.CurrentWeather(context.Background(), 0, 0)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

// TestCurrentWeather_RetriesTransientFailures verifies that a 5xx followed by
// success resolves without surfacing the transient error.
func TestCurrentWeather_RetriesTransientFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(currentBody))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.CurrentWeather(context.Background(), 51.5, -0.13)
	if err != nil {
		t.Fatalf("CurrentWeather returned error: %v", err)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
	if got.City != "London" {
		t.Errorf("City = %q, want London", got.City)
	}
}

// TestCurrentWeather_DoesNotRetryNotFound verifies non-retryable errors fail fast.
func TestCurrentWeather_DoesNotRetryNotFound(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.CurrentWeather(context.Background(), 0, 0); !errors.Is(err, ErrLocationNotFound) {
		t.Fatalf("error = %v, want ErrLocationNotFound", err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (no retry)", calls)
	}
}

// TestCategorizeError verifies stable category labels for typed and wrapped errors.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{name: "nil", err: nil, want: ""},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrorCategoryTimeout},
		{name: "api key", err: ErrInvalidAPIKey, want: ErrorCategoryInvalidAPIKey},
		{name: "not found", err: ErrLocationNotFound, want: ErrorCategoryLocationNotFound},
		{name: "rate limited", err: ErrRateLimited, want: ErrorCategoryRateLimited},
		{name: "upstream", err: ErrUpstreamFailure, want: ErrorCategoryUpstream5xx},
		{name: "parse", err: errors.New("parse response: bad json"), want: ErrorCategoryParsing},
		{name: "connection", err: errors.New("dial tcp: connection refused"), want: ErrorCategoryNetwork},
		{name: "other", err: errors.New("mystery"), want: ErrorCategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategorizeError(tc.err); got != tc.want {
				t.Errorf("CategorizeError = %q, want %q", got, tc.want)
			}
		})
	}
}
