package sensor

import "math"

// DefaultTrendWindow is how many recent readings feed the predictor.
const DefaultTrendWindow = 10

// PredictNext fits an ordinary least-squares line through the series
// (index as the independent variable, oldest first) and evaluates it
// one step past the end, rounded to two decimals. Fewer than two
// points cannot fit a line: the last value is echoed, or 0 for an
// empty series.
func PredictNext(series []float64) float64 {
	n := len(series)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return series[0]
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range series {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return round2(series[n-1])
	}

	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn

	next := intercept + slope*fn
	return math.Round(next*100) / 100
}
