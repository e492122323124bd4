package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env, and the process env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string // data API root, e.g. https://api.openweathermap.org/data/2.5
	WeatherAPITimeout time.Duration

	GeocodingURL     string // geocoding API root, e.g. https://api.openweathermap.org/geo/1.0
	GeocodingTimeout time.Duration

	RequestTimeout time.Duration

	CacheBackend string // "in_memory" or "memcached"
	WeatherTTL   time.Duration
	ForecastTTL  time.Duration
	SearchTTL    time.Duration
	StaleTTL     time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	PredictorDecayFactor          float64
	PredictorMaxHorizon           int
	PredictorDefaultHorizon       int
	PredictorFlatSeriesConfidence float64

	CompareMaxCities int

	WarmingEnabled  bool
	WarmingInterval time.Duration
	WarmingCities   []string

	ShutdownTimeout time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int

	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Geocoding struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"geocoding"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend     string `yaml:"backend"`
		WeatherTTL  string `yaml:"weather_ttl"`
		ForecastTTL string `yaml:"forecast_ttl"`
		SearchTTL   string `yaml:"search_ttl"`
		StaleTTL    string `yaml:"stale_ttl"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CoalesceEnabled  *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout  string `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`

	Predictor struct {
		DecayFactor          float64 `yaml:"decay_factor"`
		MaxHorizon           int     `yaml:"max_horizon"`
		DefaultHorizon       int     `yaml:"default_horizon"`
		FlatSeriesConfidence float64 `yaml:"flat_series_confidence"`
	} `yaml:"predictor"`

	Compare struct {
		MaxCities int `yaml:"max_cities"`
	} `yaml:"compare"`

	Warming struct {
		Enabled  *bool    `yaml:"enabled"`
		Interval string   `yaml:"interval"`
		Cities   []string `yaml:"cities"`
	} `yaml:"warming"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). The API
// key comes from the WEATHER_API_KEY env var, a .env file in the working
// directory, or config/secrets.yaml, in that order. Call from project root.
func Load() (*Config, error) {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.WeatherAPIKey = sec.WeatherAPIKey
		}
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env, or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second)

	cfg.GeocodingURL = fc.Geocoding.URL
	if cfg.GeocodingURL == "" {
		cfg.GeocodingURL = "https://api.openweathermap.org/geo/1.0"
	}
	cfg.GeocodingTimeout = parseDuration(fc.Geocoding.Timeout, 2*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.WeatherTTL = parseDuration(fc.Cache.WeatherTTL, 10*time.Minute)
	cfg.ForecastTTL = parseDuration(fc.Cache.ForecastTTL, 30*time.Minute)
	cfg.SearchTTL = parseDuration(fc.Cache.SearchTTL, 24*time.Hour)
	cfg.StaleTTL = parseDuration(fc.Cache.StaleTTL, 6*time.Hour)

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.CoalesceEnabled = true
	if fc.Reliability.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.CoalesceEnabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 10*time.Second)

	cfg.PredictorDecayFactor = fc.Predictor.DecayFactor
	if cfg.PredictorDecayFactor <= 0 || cfg.PredictorDecayFactor > 1 {
		cfg.PredictorDecayFactor = 0.9
	}
	cfg.PredictorMaxHorizon = fc.Predictor.MaxHorizon
	if cfg.PredictorMaxHorizon <= 0 {
		cfg.PredictorMaxHorizon = 10
	}
	cfg.PredictorDefaultHorizon = fc.Predictor.DefaultHorizon
	if cfg.PredictorDefaultHorizon <= 0 {
		cfg.PredictorDefaultHorizon = 8
	}
	cfg.PredictorFlatSeriesConfidence = fc.Predictor.FlatSeriesConfidence
	if cfg.PredictorFlatSeriesConfidence <= 0 || cfg.PredictorFlatSeriesConfidence > 1 {
		cfg.PredictorFlatSeriesConfidence = 1.0
	}

	cfg.CompareMaxCities = fc.Compare.MaxCities
	if cfg.CompareMaxCities <= 0 {
		cfg.CompareMaxCities = 5
	}

	cfg.WarmingEnabled = false
	if fc.Warming.Enabled != nil {
		cfg.WarmingEnabled = *fc.Warming.Enabled
	}
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, 15*time.Minute)
	cfg.WarmingCities = fc.Warming.Cities

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 5
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	cfg.TrackedCities = fc.Metrics.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. Ensures WeatherAPITimeout is
// positive, RequestTimeout exceeds it, the default horizon fits under the cap,
// and CacheBackend is a known value.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.PredictorDefaultHorizon > cfg.PredictorMaxHorizon {
		return fmt.Errorf("predictor.default_horizon (%d) exceeds predictor.max_horizon (%d)",
			cfg.PredictorDefaultHorizon, cfg.PredictorMaxHorizon)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
