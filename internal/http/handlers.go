package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/geocode"
	"github.com/kjstillabower/weather-dashboard/internal/health"
	"github.com/kjstillabower/weather-dashboard/internal/predictor"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	RateLimitBurst         int // 0 when rate limiter disabled
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dashboard        *service.DashboardService
	client           client.WeatherClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	rateLimiter      *rate.Limiter
	locationMinLen   int
	locationMaxLen   int
	searchLimitMax   int
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	dashboard *service.DashboardService,
	weatherClient client.WeatherClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
	rateLimiter *rate.Limiter,
	locationMinLen, locationMaxLen int,
) *Handler {
	return &Handler{
		dashboard:      dashboard,
		client:         weatherClient,
		healthConfig:   healthConfig,
		logger:         logger,
		rateLimiter:    rateLimiter,
		locationMinLen: locationMinLen,
		locationMaxLen: locationMaxLen,
		searchLimitMax: 25,
	}
}

// GetWeather handles GET /weather/{location}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r)
	if !ok {
		return
	}

	result, err := h.dashboard.Current(r.Context(), location)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetForecast handles GET /forecast/{location}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r)
	if !ok {
		return
	}

	result, err := h.dashboard.Forecast(r.Context(), location)
	if err != nil {
		h.writeLookupError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// GetPredict handles GET /predict/{location}?horizon=N.
func (h *Handler) GetPredict(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r)
	if !ok {
		return
	}
	horizon, err := validation.ParseHorizon(r.URL.Query().Get("horizon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_HORIZON", err.Error())
		return
	}

	report, err := h.dashboard.PredictTrend(r.Context(), location, horizon)
	if err != nil {
		switch {
		case errors.Is(err, predictor.ErrInvalidHorizon):
			writeError(w, r, http.StatusBadRequest, "INVALID_HORIZON", err.Error())
		case errors.Is(err, predictor.ErrInsufficientData):
			writeError(w, r, http.StatusUnprocessableEntity, "INSUFFICIENT_DATA", "not enough forecast samples to predict a trend")
		default:
			h.writeLookupError(w, r, err)
		}
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, report)
}

// SearchCities handles GET /cities?q=query&limit=n. Short queries return an
// empty list so autocomplete stays quiet while the user types.
func (h *Handler) SearchCities(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, err := validation.ParseLimit(r.URL.Query().Get("limit"), h.searchLimitMax)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
		return
	}

	cities, err := h.dashboard.Search(r.Context(), query, limit)
	if err != nil {
		if errors.Is(err, geocode.ErrQueryTooShort) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"cities":      []struct{}{},
				"suggestions": geocode.Suggestions(limit),
			})
			return
		}
		h.writeLookupError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{"cities": cities})
}

// CompareCities handles GET /compare?cities=a,b,c.
func (h *Handler) CompareCities(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("cities")
	var queries []string
	for _, q := range strings.Split(raw, ",") {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITIES", "cities parameter is required (comma-separated)")
		return
	}

	entries, err := h.dashboard.Compare(r.Context(), queries)
	if err != nil {
		if errors.Is(err, service.ErrTooManyCities) {
			writeError(w, r, http.StatusBadRequest, "TOO_MANY_CITIES", err.Error())
			return
		}
		h.writeLookupError(w, r, err)
		return
	}
	health.RecordSuccess()
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// location extracts and validates the {location} path variable. Writes the
// error response itself and returns false when invalid.
func (h *Handler) location(w http.ResponseWriter, r *http.Request) (string, bool) {
	location, err := validation.ValidateLocation(mux.Vars(r)["location"], h.locationMinLen, h.locationMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return "", false
	}
	return location, true
}

// writeLookupError maps service lookup failures to HTTP responses and records
// the outcome for degraded-state tracking.
func (h *Handler) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrCityNotFound) {
		health.RecordSuccess() // user error, not a service fault
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "no matching city found")
		return
	}
	health.RecordError()
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-dashboard",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status by evaluating
// conditions in priority order: shutting-down > API key invalid > overloaded >
// idle > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if health.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if threshold > 0 && float64(health.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if health.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := health.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
