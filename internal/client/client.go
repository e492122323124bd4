// Package client talks to the OpenWeatherMap data API: current conditions and
// the 5-day/3-hour forecast, both addressed by coordinates.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/circuitbreaker"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// WeatherClient fetches weather data for coordinates.
type WeatherClient interface {
	CurrentWeather(ctx context.Context, lat, lon float64) (models.CurrentConditions, error)
	Forecast(ctx context.Context, lat, lon float64) (models.ForecastData, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// OpenWeatherClient implements WeatherClient against api.openweathermap.org.
type OpenWeatherClient struct {
	apiKey         string
	baseURL        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient creates a client with default retry settings.
func NewOpenWeatherClient(apiKey, baseURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, baseURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

// NewOpenWeatherClientWithRetry creates a client with explicit retry settings.
// baseURL is the data API root (e.g. "https://api.openweathermap.org/data/2.5").
func NewOpenWeatherClientWithRetry(apiKey, baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		baseURL:        strings.TrimRight(baseURL, "/"),
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker attaches a circuit breaker protecting upstream calls.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type currentResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   int     `json:"deg"`
	} `json:"wind"`
	Visibility int `json:"visibility"`
	Sys        struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Dt   int64  `json:"dt"`
	Name string `json:"name"`
}

type forecastResponse struct {
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			Humidity  int     `json:"humidity"`
			Pressure  float64 `json:"pressure"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Pop float64 `json:"pop"` // 0-1
	} `json:"list"`
}

// CurrentWeather fetches current conditions for the coordinates, retrying
// retryable failures with exponential backoff.
func (c *OpenWeatherClient) CurrentWeather(ctx context.Context, lat, lon float64) (models.CurrentConditions, error) {
	body, err := c.fetchWithRetry(ctx, "weather", lat, lon)
	if err != nil {
		return models.CurrentConditions{}, err
	}
	var apiResp currentResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.CurrentConditions{}, fmt.Errorf("parse response: %w", err)
	}
	return mapCurrent(apiResp), nil
}

// Forecast fetches the 5-day/3-hour forecast for the coordinates.
func (c *OpenWeatherClient) Forecast(ctx context.Context, lat, lon float64) (models.ForecastData, error) {
	body, err := c.fetchWithRetry(ctx, "forecast", lat, lon)
	if err != nil {
		return models.ForecastData{}, err
	}
	var apiResp forecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.ForecastData{}, fmt.Errorf("parse response: %w", err)
	}
	return mapForecast(apiResp), nil
}

// fetchWithRetry runs the endpoint call through retry and the optional circuit breaker.
func (c *OpenWeatherClient) fetchWithRetry(ctx context.Context, endpoint string, lat, lon float64) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var body []byte
		call := func() error {
			var callErr error
			body, callErr = c.callAPI(ctx, endpoint, lat, lon)
			return callErr
		}
		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, call)
		} else {
			err = call()
		}
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

// callAPI performs one HTTP request against the endpoint and records metrics.
func (c *OpenWeatherClient) callAPI(ctx context.Context, endpoint string, lat, lon float64) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, endpoint, lat, lon)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") || strings.Contains(errStr, "context canceled") {
		return true
	}

	return false
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, endpoint string, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.baseURL + "/" + endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func mapCurrent(apiResp currentResponse) models.CurrentConditions {
	conditions := ""
	description := ""
	icon := ""
	if len(apiResp.Weather) > 0 {
		conditions = apiResp.Weather[0].Main
		description = apiResp.Weather[0].Description
		icon = apiResp.Weather[0].Icon
	}

	return models.CurrentConditions{
		City:    apiResp.Name,
		Country: apiResp.Sys.Country,
		Coordinates: models.Coordinates{
			Lat: apiResp.Coord.Lat,
			Lon: apiResp.Coord.Lon,
		},
		Temperature:   apiResp.Main.Temp,
		FeelsLike:     apiResp.Main.FeelsLike,
		Humidity:      apiResp.Main.Humidity,
		Pressure:      apiResp.Main.Pressure,
		WindSpeed:     apiResp.Wind.Speed,
		WindDirection: apiResp.Wind.Deg,
		VisibilityKm:  float64(apiResp.Visibility) / 1000,
		Conditions:    conditions,
		Description:   description,
		Icon:          icon,
		Sunrise:       time.Unix(apiResp.Sys.Sunrise, 0).UTC(),
		Sunset:        time.Unix(apiResp.Sys.Sunset, 0).UTC(),
		Timestamp:     time.Unix(apiResp.Dt, 0).UTC(),
	}
}

func mapForecast(apiResp forecastResponse) models.ForecastData {
	samples := make(models.TimeSeries, 0, len(apiResp.List))
	for _, item := range apiResp.List {
		conditions := ""
		description := ""
		icon := ""
		if len(item.Weather) > 0 {
			conditions = item.Weather[0].Main
			description = item.Weather[0].Description
			icon = item.Weather[0].Icon
		}
		samples = append(samples, models.WeatherSample{
			Timestamp:         time.Unix(item.Dt, 0).UTC(),
			Temperature:       item.Main.Temp,
			FeelsLike:         item.Main.FeelsLike,
			Humidity:          item.Main.Humidity,
			Pressure:          item.Main.Pressure,
			WindSpeed:         item.Wind.Speed,
			PrecipProbability: item.Pop * 100,
			Conditions:        conditions,
			Description:       description,
			Icon:              icon,
		})
	}
	return models.ForecastData{
		Location: strings.ToLower(apiResp.City.Name),
		Fetched:  time.Now().UTC(),
		Samples:  samples,
	}
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey probes the current-weather endpoint with fixed coordinates
// (London) to confirm the API key is active.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "weather", 51.5074, -0.1278)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
