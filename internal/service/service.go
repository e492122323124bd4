// Package service orchestrates the dashboard data flows: geocoding, cached
// weather and forecast retrieval, trend prediction, and multi-city comparison.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/geocode"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/predictor"
)

// ErrCityNotFound is returned when geocoding yields no candidates for a query.
var ErrCityNotFound = errors.New("city not found")

// ErrTooManyCities is returned when a comparison request exceeds the configured cap.
var ErrTooManyCities = errors.New("too many cities to compare")

// Config holds service-level tunables.
type Config struct {
	WeatherTTL      time.Duration // current conditions cache TTL
	ForecastTTL     time.Duration // forecast cache TTL
	SearchTTL       time.Duration // geocoding cache TTL (longer; cities move rarely)
	StaleTTL        time.Duration // maximum age for stale fallback (0 = disabled)
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	Predictor       predictor.Options
	DefaultHorizon  int // horizon used when the caller does not specify one
	MaxCompare      int // maximum cities in one comparison
}

// DashboardService is the orchestration layer behind the HTTP handlers.
// Cache-aside with upstream fallback for every data type; predictions are
// recomputed per request and never cached.
type DashboardService struct {
	weather  client.WeatherClient
	geocoder geocode.Geocoder
	cache    cache.Cache
	cfg      Config

	stampede          *stampedeTracker
	weatherCoalescer  *requestCoalescer[models.CurrentConditions]
	forecastCoalescer *requestCoalescer[models.ForecastData]
}

// NewDashboardService creates a DashboardService with the provided dependencies.
func NewDashboardService(weather client.WeatherClient, geocoder geocode.Geocoder, cacheSvc cache.Cache, cfg Config) *DashboardService {
	if cfg.DefaultHorizon <= 0 {
		cfg.DefaultHorizon = 8
	}
	if cfg.MaxCompare <= 0 {
		cfg.MaxCompare = 5
	}
	s := &DashboardService{
		weather:  weather,
		geocoder: geocoder,
		cache:    cacheSvc,
		cfg:      cfg,
		stampede: newStampedeTracker(),
	}
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		s.weatherCoalescer = newRequestCoalescer[models.CurrentConditions](cfg.CoalesceTimeout)
		s.forecastCoalescer = newRequestCoalescer[models.ForecastData](cfg.CoalesceTimeout)
	}
	return s
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// Current returns current conditions for the best geocoding match of query.
// Cache-aside over the weather TTL with stale fallback on upstream failure.
func (s *DashboardService) Current(ctx context.Context, query string) (models.CurrentConditions, error) {
	city, err := s.resolveCity(ctx, query)
	if err != nil {
		return models.CurrentConditions{}, err
	}
	observability.RecordCityQuery(city.Name)

	key := "weather:" + normalizeQuery(query)
	return fetchCached(ctx, s, "weather", key, s.cfg.WeatherTTL, s.weatherCoalescer,
		func(ctx context.Context) (models.CurrentConditions, error) {
			return s.weather.CurrentWeather(ctx, city.Lat, city.Lon)
		},
		func(c *models.CurrentConditions) time.Time { return c.Timestamp },
		func(c *models.CurrentConditions) { c.Stale = true },
	)
}

// Forecast returns the 5-day forecast for the best geocoding match of query.
func (s *DashboardService) Forecast(ctx context.Context, query string) (models.ForecastData, error) {
	city, err := s.resolveCity(ctx, query)
	if err != nil {
		return models.ForecastData{}, err
	}

	key := "forecast:" + normalizeQuery(query)
	return fetchCached(ctx, s, "forecast", key, s.cfg.ForecastTTL, s.forecastCoalescer,
		func(ctx context.Context) (models.ForecastData, error) {
			return s.weather.Forecast(ctx, city.Lat, city.Lon)
		},
		func(f *models.ForecastData) time.Time { return f.Fetched },
		func(f *models.ForecastData) { f.Stale = true },
	)
}

// PredictTrend fetches the forecast series for query and runs the trend
// predictor over it. A zero horizon selects the configured default; any other
// value is range-checked by the predictor.
func (s *DashboardService) PredictTrend(ctx context.Context, query string, horizon int) (models.TrendReport, error) {
	if horizon == 0 {
		horizon = s.cfg.DefaultHorizon
	}

	forecast, err := s.Forecast(ctx, query)
	if err != nil {
		return models.TrendReport{}, err
	}

	predictions, err := predictor.Predict(forecast.Samples, horizon, s.cfg.Predictor)
	if err != nil {
		observability.PredictionsTotal.WithLabelValues(predictionStatus(err)).Inc()
		return models.TrendReport{}, err
	}
	analysis, err := predictor.Analyze(forecast.Samples)
	if err != nil {
		observability.PredictionsTotal.WithLabelValues(predictionStatus(err)).Inc()
		return models.TrendReport{}, err
	}

	observability.PredictionsTotal.WithLabelValues("success").Inc()
	observability.PredictionConfidence.Observe(predictions[0].Confidence)
	if logger := loggerFromContext(ctx); logger != nil {
		logger.Debug("trend predicted",
			zap.String("location", forecast.Location),
			zap.Int("horizon", horizon),
			zap.Float64("confidence", predictions[0].Confidence),
			zap.String("trend", analysis.Trend))
	}

	return models.TrendReport{
		Location:    forecast.Location,
		SampleCount: len(forecast.Samples),
		Horizon:     horizon,
		Predictions: predictions,
		Analysis:    analysis,
	}, nil
}

// predictionStatus maps predictor errors to a stable metric label.
func predictionStatus(err error) string {
	switch {
	case errors.Is(err, predictor.ErrInvalidHorizon):
		return "invalid_horizon"
	case errors.Is(err, predictor.ErrInsufficientData):
		return "insufficient_data"
	default:
		return "error"
	}
}

// Compare fetches current conditions for each query concurrently. A failing
// city is reported in its entry; it never fails the whole set.
func (s *DashboardService) Compare(ctx context.Context, queries []string) ([]models.ComparisonEntry, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: no cities given", ErrCityNotFound)
	}
	if len(queries) > s.cfg.MaxCompare {
		return nil, fmt.Errorf("%w: %d exceeds maximum %d", ErrTooManyCities, len(queries), s.cfg.MaxCompare)
	}

	entries := make([]models.ComparisonEntry, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		i, q := i, q
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries[i] = s.compareOne(ctx, q)
		}()
	}
	wg.Wait()
	return entries, nil
}

// compareOne resolves and fetches a single comparison entry.
func (s *DashboardService) compareOne(ctx context.Context, query string) models.ComparisonEntry {
	entry := models.ComparisonEntry{Query: query}
	city, err := s.resolveCity(ctx, query)
	if err != nil {
		entry.Error = "city not found"
		return entry
	}
	entry.City = &city
	conditions, err := s.Current(ctx, query)
	if err != nil {
		entry.Error = "weather unavailable"
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Warn("comparison entry failed", zap.String("query", query), zap.Error(err))
		}
		return entry
	}
	entry.Conditions = &conditions
	return entry
}

// Search returns geocoding candidates for query, cached over the search TTL.
func (s *DashboardService) Search(ctx context.Context, query string, limit int) ([]models.City, error) {
	if limit <= 0 {
		limit = geocode.DefaultLimit
	}
	key := "cities:" + normalizeQuery(query) + ":" + strconv.Itoa(limit)

	raw, ok, err := s.cacheGet(ctx, key, "cities")
	if err == nil && ok {
		var cities []models.City
		if jsonErr := json.Unmarshal(raw, &cities); jsonErr == nil {
			return cities, nil
		}
	}

	cities, err := s.geocoder.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if raw, jsonErr := json.Marshal(cities); jsonErr == nil {
		s.cacheSet(ctx, key, raw, s.cfg.SearchTTL)
	}
	return cities, nil
}

// resolveCity returns the best geocoding match for query, using the cached
// single-result search path.
func (s *DashboardService) resolveCity(ctx context.Context, query string) (models.City, error) {
	cities, err := s.Search(ctx, query, 1)
	if err != nil {
		if errors.Is(err, geocode.ErrQueryTooShort) {
			return models.City{}, fmt.Errorf("%w: %q", ErrCityNotFound, query)
		}
		return models.City{}, err
	}
	if len(cities) == 0 {
		return models.City{}, fmt.Errorf("%w: %q", ErrCityNotFound, query)
	}
	return cities[0], nil
}

// fetchCached is the shared cache-aside path: cache get, coalesced upstream
// fetch on miss, stale fallback on upstream failure, cache set on success.
// storedAt extracts the payload's own timestamp for stale-age metrics and
// markStale flags a payload served past its TTL.
func fetchCached[T any](
	ctx context.Context,
	s *DashboardService,
	dataType, key string,
	ttl time.Duration,
	coalescer *requestCoalescer[T],
	fetch func(context.Context) (T, error),
	storedAt func(*T) time.Time,
	markStale func(*T),
) (T, error) {
	var zero T
	start := time.Now()
	logger := loggerFromContext(ctx)

	raw, ok, err := s.cacheGet(ctx, key, dataType)
	if err == nil && ok {
		var value T
		if jsonErr := json.Unmarshal(raw, &value); jsonErr == nil {
			if logger != nil {
				logger.Debug("cache hit", zap.String("key", key), zap.Duration("duration", time.Since(start)))
			}
			return value, nil
		}
	}

	concurrentMisses := s.stampede.RecordMiss(key)
	defer s.stampede.RecordResolved(key)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", key))
	}

	var value T
	var upstreamErr error
	if coalescer != nil {
		coalesceStart := time.Now()
		value, upstreamErr = coalescer.GetOrDo(ctx, key, func() (T, error) {
			return fetch(ctx)
		})
		coalesceWait := time.Since(coalesceStart)
		if upstreamErr == nil {
			// Wait time over ~10ms implies we piggybacked on an in-flight call.
			if coalesceWait > 10*time.Millisecond {
				observability.RequestCoalescingHitsTotal.Inc()
			}
			observability.RequestCoalescingWaitSeconds.Observe(coalesceWait.Seconds())
		}
	} else {
		value, upstreamErr = fetch(ctx)
	}
	if upstreamErr != nil {
		if s.cfg.StaleTTL > 0 {
			staleRaw, ok, staleErr := s.cache.GetStale(ctx, key, s.cfg.StaleTTL)
			if staleErr == nil && ok {
				var stale T
				if jsonErr := json.Unmarshal(staleRaw, &stale); jsonErr == nil {
					staleAge := time.Since(storedAt(&stale))
					observability.StaleCacheServesTotal.WithLabelValues(dataType).Inc()
					observability.StaleCacheAgeSeconds.Observe(staleAge.Seconds())
					markStale(&stale)
					if logger != nil {
						logger.Info("serving stale cache", zap.String("key", key), zap.Duration("age", staleAge))
					}
					return stale, nil
				}
			}
		}
		return zero, fmt.Errorf("fetch %s for %s: %w", dataType, key, upstreamErr)
	}

	if raw, jsonErr := json.Marshal(value); jsonErr == nil {
		s.cacheSet(ctx, key, raw, ttl)
	}
	if logger != nil {
		logger.Debug("served from upstream", zap.String("key", key), zap.Duration("duration", time.Since(start)))
	}
	return value, nil
}

// cacheGet wraps Cache.Get with hit and error metrics.
func (s *DashboardService) cacheGet(ctx context.Context, key, dataType string) ([]byte, bool, error) {
	start := time.Now()
	raw, ok, err := s.cache.Get(ctx, key)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(duration)
		return nil, false, err
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
	if ok {
		observability.CacheHitsTotal.WithLabelValues(dataType).Inc()
	}
	return raw, ok, nil
}

// cacheSet wraps Cache.Set with error metrics. Failures are recorded, not surfaced.
func (s *DashboardService) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	start := time.Now()
	if err := s.cache.Set(ctx, key, value, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(start).Seconds())
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		}
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(start).Seconds())
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// normalizeQuery normalizes city queries by trimming whitespace and lowercasing.
// Ensures consistent cache keys regardless of input format.
func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
