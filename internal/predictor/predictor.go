// Package predictor extrapolates short-horizon temperature trends from a
// forecast time series. The fit is a closed-form ordinary least-squares
// regression of temperature over the sample index; no numeric library is
// involved so the core stays self-contained and allocation-light.
package predictor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// ErrInsufficientData is returned when the series has fewer than two samples.
var ErrInsufficientData = errors.New("insufficient data for prediction")

// ErrInvalidHorizon is returned when the horizon is zero, negative, or above the cap.
var ErrInvalidHorizon = errors.New("invalid prediction horizon")

// Defaults for Options fields left at zero.
const (
	DefaultDecayFactor          = 0.9
	DefaultMaxHorizon           = 10
	DefaultFlatSeriesConfidence = 1.0
)

// Options tunes the confidence heuristic. The constants are UI-facing knobs,
// not contract values; zero fields fall back to the defaults above.
type Options struct {
	// DecayFactor multiplies confidence once per extrapolation step past the
	// first. Must be in (0, 1].
	DecayFactor float64
	// MaxHorizon caps how far ahead a single call may extrapolate.
	MaxHorizon int
	// FlatSeriesConfidence is the fit quality assigned when the observed
	// temperatures have zero variance and R² is undefined.
	FlatSeriesConfidence float64
}

// withDefaults resolves zero fields to package defaults.
func (o Options) withDefaults() Options {
	if o.DecayFactor <= 0 || o.DecayFactor > 1 {
		o.DecayFactor = DefaultDecayFactor
	}
	if o.MaxHorizon <= 0 {
		o.MaxHorizon = DefaultMaxHorizon
	}
	if o.FlatSeriesConfidence <= 0 || o.FlatSeriesConfidence > 1 {
		o.FlatSeriesConfidence = DefaultFlatSeriesConfidence
	}
	return o
}

// Predict fits a linear trend to the series temperatures and extrapolates
// horizon steps past the last observed sample at the input's sampling
// interval. Confidence for step k is clamp01(R²) * DecayFactor^(k-1), so the
// first step carries the raw goodness of fit and each further step decays.
//
// The series must be sorted by time ascending; Predict never mutates it.
// Deterministic and free of I/O.
func Predict(series models.TimeSeries, horizon int, opts Options) ([]models.Prediction, error) {
	opts = opts.withDefaults()
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: horizon must be positive, got %d", ErrInvalidHorizon, horizon)
	}
	if horizon > opts.MaxHorizon {
		return nil, fmt.Errorf("%w: horizon %d exceeds maximum %d", ErrInvalidHorizon, horizon, opts.MaxHorizon)
	}
	n := len(series)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", ErrInsufficientData, n)
	}

	slope, intercept, fit := fitLine(series.Temperatures(), opts.FlatSeriesConfidence)

	interval := series.Interval()
	last := series[n-1].Timestamp

	predictions := make([]models.Prediction, horizon)
	confidence := fit
	for k := 1; k <= horizon; k++ {
		idx := float64(n - 1 + k)
		predictions[k-1] = models.Prediction{
			Timestamp:   last.Add(time.Duration(k) * interval),
			Temperature: intercept + slope*idx,
			Confidence:  confidence,
		}
		confidence *= opts.DecayFactor
	}
	return predictions, nil
}

// fitLine computes the least-squares line y = intercept + slope*x over
// x = 0..n-1 together with a [0,1] fit quality (R², clamped). A zero-variance
// series yields a flat line with the provided fallback quality.
func fitLine(temps []float64, flatConfidence float64) (slope, intercept, quality float64) {
	n := float64(len(temps))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range temps {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		// Single x value cannot happen for n >= 2 with index regressors, but
		// guard the division anyway.
		return 0, sumY / n, flatConfidence
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, y := range temps {
		fitted := intercept + slope*float64(i)
		ssRes += (y - fitted) * (y - fitted)
		ssTot += (y - meanY) * (y - meanY)
	}
	if ssTot == 0 {
		return slope, intercept, flatConfidence
	}
	return slope, intercept, clamp01(1 - ssRes/ssTot)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
