package predictor

import (
	"fmt"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// Trend labels produced by Analyze.
const (
	TrendWarming = "warming"
	TrendCooling = "cooling"
	TrendStable  = "stable"
)

// trendThreshold is the first-to-last temperature delta (°C) beyond which a
// series is labeled warming or cooling.
const trendThreshold = 2.0

// Analyze summarizes weather patterns over a forecast series: overall
// temperature trend, precipitation likelihood, and condition diversity.
func Analyze(series models.TimeSeries) (models.TrendAnalysis, error) {
	if len(series) < 2 {
		return models.TrendAnalysis{}, fmt.Errorf("%w: need at least 2 samples, got %d", ErrInsufficientData, len(series))
	}

	analysis := models.TrendAnalysis{Trend: TrendStable}
	delta := series[len(series)-1].Temperature - series[0].Temperature
	if delta > trendThreshold {
		analysis.Trend = TrendWarming
	} else if delta < -trendThreshold {
		analysis.Trend = TrendCooling
	}

	counts := make(map[string]int)
	var popSum float64
	for _, s := range series {
		popSum += s.PrecipProbability
		if s.PrecipProbability > analysis.MaxRainProb {
			analysis.MaxRainProb = s.PrecipProbability
		}
		counts[s.Conditions]++
	}
	analysis.RainLikelihood = popSum / float64(len(series))
	analysis.ConditionCount = len(counts)

	// Mode of the condition column. Earliest occurrence wins ties so the
	// result is deterministic.
	best := -1
	for _, s := range series {
		if counts[s.Conditions] > best {
			best = counts[s.Conditions]
			analysis.DominantCondition = s.Conditions
		}
	}
	return analysis, nil
}
