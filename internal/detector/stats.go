package detector

import (
	"math"

	"github.com/cinar/indicator"
)

// zScoreEpsilon guards the z-score division when a history has zero variance.
const zScoreEpsilon = 1e-9

// rollingMeanStd returns the mean and standard deviation of the full sample
// history.
func rollingMeanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	period := len(values)
	mean := indicator.Sma(period, values)
	std := indicator.Std(period, values)
	return mean[period-1], std[period-1]
}

// zScore measures how far current sits from the history in standard
// deviations.
func zScore(current float64, history []float64) float64 {
	mean, std := rollingMeanStd(history)
	return (current - mean) / (std + zScoreEpsilon)
}

// coefficientOfVariation returns std/mean as a scale-free dispersion measure.
// A zero-mean sample reports zero dispersion only when every value is zero.
func coefficientOfVariation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := rollingMeanStd(values)
	if math.Abs(mean) < zScoreEpsilon {
		if std < zScoreEpsilon {
			return 0
		}
		return math.Inf(1)
	}
	return std / math.Abs(mean)
}
