package models

import "time"

// WeatherSample is a single observed or forecast data point for one location.
// Samples are immutable once fetched from the upstream provider.
type WeatherSample struct {
	Timestamp         time.Time `json:"timestamp"`
	Temperature       float64   `json:"temperature"`
	FeelsLike         float64   `json:"feelsLike"`
	Humidity          int       `json:"humidity"`
	Pressure          float64   `json:"pressure"`
	WindSpeed         float64   `json:"windSpeed"`
	PrecipProbability float64   `json:"precipProbability"` // 0-100
	Conditions        string    `json:"conditions"`
	Description       string    `json:"description"`
	Icon              string    `json:"icon"`
}

// TimeSeries is a chronological, gap-free sequence of samples for one location.
// Owned by the caller; the predictor only reads it.
type TimeSeries []WeatherSample

// Temperatures returns the temperature column of the series.
func (ts TimeSeries) Temperatures() []float64 {
	out := make([]float64, len(ts))
	for i, s := range ts {
		out[i] = s.Temperature
	}
	return out
}

// Interval returns the spacing between the last two samples, or zero when the
// series has fewer than two. The series is assumed evenly sampled.
func (ts TimeSeries) Interval() time.Duration {
	if len(ts) < 2 {
		return 0
	}
	return ts[len(ts)-1].Timestamp.Sub(ts[len(ts)-2].Timestamp)
}

// Prediction is one extrapolated future data point.
type Prediction struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Confidence  float64   `json:"confidence"` // [0,1]
}

// Coordinates is a lat/lon pair in degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// City is a geocoding result.
type City struct {
	Name        string  `json:"name"`
	State       string  `json:"state,omitempty"`
	Country     string  `json:"country"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DisplayName string  `json:"displayName"`
}

// CurrentConditions is the reshaped current-weather payload for one city.
type CurrentConditions struct {
	City          string      `json:"city"`
	Country       string      `json:"country"`
	Coordinates   Coordinates `json:"coordinates"`
	Temperature   float64     `json:"temperature"`
	FeelsLike     float64     `json:"feelsLike"`
	Humidity      int         `json:"humidity"`
	Pressure      float64     `json:"pressure"`
	WindSpeed     float64     `json:"windSpeed"`
	WindDirection int         `json:"windDirection"`
	VisibilityKm  float64     `json:"visibilityKm"`
	Conditions    string      `json:"conditions"`
	Description   string      `json:"description"`
	Icon          string      `json:"icon"`
	Sunrise       time.Time   `json:"sunrise"`
	Sunset        time.Time   `json:"sunset"`
	Timestamp     time.Time   `json:"timestamp"`
	Stale         bool        `json:"stale,omitempty"` // Indicates data served from stale cache
}

// ForecastData is the 5-day/3-hour forecast for one location.
type ForecastData struct {
	Location string     `json:"location"`
	Fetched  time.Time  `json:"fetched"`
	Samples  TimeSeries `json:"samples"`
	Stale    bool       `json:"stale,omitempty"`
}

// TrendAnalysis summarizes weather patterns over a forecast series.
type TrendAnalysis struct {
	Trend             string  `json:"trend"`             // warming, cooling, stable
	RainLikelihood    float64 `json:"rainLikelihood"`    // mean PoP, 0-100
	MaxRainProb       float64 `json:"maxRainProb"`       // max PoP, 0-100
	ConditionCount    int     `json:"conditionCount"`    // distinct condition types
	DominantCondition string  `json:"dominantCondition"` // most frequent condition
}

// TrendReport bundles a prediction run over a forecast series.
type TrendReport struct {
	Location    string        `json:"location"`
	SampleCount int           `json:"sampleCount"`
	Horizon     int           `json:"horizon"`
	Predictions []Prediction  `json:"predictions"`
	Analysis    TrendAnalysis `json:"analysis"`
}

// ComparisonEntry is one city's slot in a multi-city comparison. Error is set
// and Conditions nil when that city's lookup failed.
type ComparisonEntry struct {
	Query      string             `json:"query"`
	City       *City              `json:"city,omitempty"`
	Conditions *CurrentConditions `json:"conditions,omitempty"`
	Error      string             `json:"error,omitempty"`
}
