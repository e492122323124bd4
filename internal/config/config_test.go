package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Unsetenv("WEATHER_API_KEY")
	defer func() {
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Unsetenv("WEATHER_API_KEY")
	defer func() {
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoad_SucceedsWithDotEnvFile(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Unsetenv("WEATHER_API_KEY")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHER_API_KEY=key-from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-dotenv" {
		t.Errorf("WeatherAPIKey = %q, want key from .env file", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	savedEnv := os.Getenv("ENV_NAME")
	os.Setenv("ENV_NAME", "nonexistent")
	defer func() {
		os.Setenv("ENV_NAME", savedEnv)
	}()

	origWd, _ := os.Getwd()
	os.Chdir(findProjectRoot(t))
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") && !strings.Contains(err.Error(), "config file") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	emptyDurationYAML := `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: ""
request:
  timeout: "5s"
cache:
  weather_ttl: "10m"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`
	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, emptyDurationYAML)
	writeSecretsFile(t, dir, "weather_api_key: key\n")
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPITimeout <= 0 {
		t.Error("Load() with empty duration should fall back to default (2s for weather_api.timeout)")
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	invalidDurationYAML := `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  weather_ttl: "invalid"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`
	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, invalidDurationYAML)
	writeSecretsFile(t, dir, "weather_api_key: key\n")
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}
	if cfg.WeatherTTL <= 0 {
		t.Error("Load() with invalid duration should fall back to default WeatherTTL")
	}
}

func TestLoad_ValidationFailsWhenWeatherAPITimeoutZero(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	zeroTimeoutYAML := `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: "0s"
request:
  timeout: "5s"
shutdown:
  timeout: "10s"
`
	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, zeroTimeoutYAML)
	writeSecretsFile(t, dir, "weather_api_key: key\n")
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when WeatherAPITimeout is zero, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Load() error = %v, want message about weather_api.timeout", err)
	}
}

func TestLoad_ValidationFailsWhenDefaultHorizonExceedsCap(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	badHorizonYAML := minimalEnvYAML + `
predictor:
  max_horizon: 5
  default_horizon: 9
`
	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, badHorizonYAML)
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when default_horizon exceeds max_horizon, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "default_horizon") {
		t.Errorf("Load() error = %v, want message about default_horizon", err)
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Unsetenv("WEATHER_API_KEY")
	defer func() {
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "not valid: yaml: [[[")
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid secrets YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse") && !strings.Contains(err.Error(), "secrets") {
		t.Errorf("Load() error = %v, want message about parse or secrets", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	origWd, _ := os.Getwd()
	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte("not: valid: yaml: [[["), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "parse") && !strings.Contains(err.Error(), "config") {
		t.Errorf("Load() error = %v, want message about parse or config", err)
	}
}

func TestLoad_SucceedsWithEnvVar(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	origWd, _ := os.Getwd()
	os.Chdir(findProjectRoot(t))
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}
	if cfg.WeatherAPIKey != "test-key-1234567890" {
		t.Errorf("WeatherAPIKey = %q, want test key", cfg.WeatherAPIKey)
	}
	if cfg.WeatherAPIURL == "" || cfg.ServerPort == "" {
		t.Errorf("Load() did not populate config from config/dev.yaml")
	}
}

func TestLoad_PredictorDefaults(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PredictorDecayFactor != 0.9 {
		t.Errorf("PredictorDecayFactor = %v, want 0.9", cfg.PredictorDecayFactor)
	}
	if cfg.PredictorMaxHorizon != 10 {
		t.Errorf("PredictorMaxHorizon = %d, want 10", cfg.PredictorMaxHorizon)
	}
	if cfg.PredictorDefaultHorizon != 8 {
		t.Errorf("PredictorDefaultHorizon = %d, want 8", cfg.PredictorDefaultHorizon)
	}
	if cfg.PredictorFlatSeriesConfidence != 1.0 {
		t.Errorf("PredictorFlatSeriesConfidence = %v, want 1.0", cfg.PredictorFlatSeriesConfidence)
	}
	if cfg.CompareMaxCities != 5 {
		t.Errorf("CompareMaxCities = %d, want 5", cfg.CompareMaxCities)
	}
	if !cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = false, want true by default")
	}
	if cfg.WarmingEnabled {
		t.Error("WarmingEnabled = true, want false by default")
	}
}

func TestLoad_PredictorOverrides(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	predictorYAML := minimalEnvYAML + `
predictor:
  decay_factor: 0.8
  max_horizon: 12
  default_horizon: 6
  flat_series_confidence: 0.95
compare:
  max_cities: 3
warming:
  enabled: true
  interval: "20m"
  cities:
    - London
    - Tokyo
`
	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, predictorYAML)
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PredictorDecayFactor != 0.8 {
		t.Errorf("PredictorDecayFactor = %v, want 0.8", cfg.PredictorDecayFactor)
	}
	if cfg.PredictorMaxHorizon != 12 {
		t.Errorf("PredictorMaxHorizon = %d, want 12", cfg.PredictorMaxHorizon)
	}
	if cfg.PredictorDefaultHorizon != 6 {
		t.Errorf("PredictorDefaultHorizon = %d, want 6", cfg.PredictorDefaultHorizon)
	}
	if cfg.PredictorFlatSeriesConfidence != 0.95 {
		t.Errorf("PredictorFlatSeriesConfidence = %v, want 0.95", cfg.PredictorFlatSeriesConfidence)
	}
	if cfg.CompareMaxCities != 3 {
		t.Errorf("CompareMaxCities = %d, want 3", cfg.CompareMaxCities)
	}
	if !cfg.WarmingEnabled {
		t.Error("WarmingEnabled = false, want true")
	}
	if cfg.WarmingInterval != 20*time.Minute {
		t.Errorf("WarmingInterval = %v, want 20m", cfg.WarmingInterval)
	}
	if len(cfg.WarmingCities) != 2 {
		t.Errorf("WarmingCities = %v, want 2 entries", cfg.WarmingCities)
	}
}

func TestLoad_CacheTTLs(t *testing.T) {
	savedKey := os.Getenv("WEATHER_API_KEY")
	os.Setenv("WEATHER_API_KEY", "test-key")
	defer func() {
		os.Unsetenv("WEATHER_API_KEY")
		if savedKey != "" {
			os.Setenv("WEATHER_API_KEY", savedKey)
		}
	}()

	ttlYAML := minimalEnvYAML + `
lifecycle:
  overload_window: "30s"
  overload_threshold_pct: 90
  idle_threshold_req_per_min: 3
  idle_window: "2m"
  minimum_lifespan: "1m"
  degraded_window: "60s"
  degraded_error_pct: 10
`
	origWd, _ := os.Getwd()
	dir := t.TempDir()
	writeEnvFile(t, dir, ttlYAML)
	os.Chdir(dir)
	defer os.Chdir(origWd)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherTTL != 10*time.Minute {
		t.Errorf("WeatherTTL = %v, want 10m", cfg.WeatherTTL)
	}
	if cfg.ForecastTTL != 30*time.Minute {
		t.Errorf("ForecastTTL = %v, want 30m", cfg.ForecastTTL)
	}
	if cfg.SearchTTL != 24*time.Hour {
		t.Errorf("SearchTTL = %v, want 24h", cfg.SearchTTL)
	}
	if cfg.StaleTTL != 6*time.Hour {
		t.Errorf("StaleTTL = %v, want 6h", cfg.StaleTTL)
	}
	if cfg.OverloadWindow != 30*time.Second {
		t.Errorf("OverloadWindow = %v, want 30s", cfg.OverloadWindow)
	}
	if cfg.DegradedErrorPct != 10 {
		t.Errorf("DegradedErrorPct = %d, want 10", cfg.DegradedErrorPct)
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com/data/2.5"
  timeout: "2s"
request:
  timeout: "5s"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
