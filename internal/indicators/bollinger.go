package indicators

import "math"

// Bands is a Bollinger reading: middle SMA with upper/lower envelopes.
type Bands struct {
	Middle float64
	Upper  float64
	Lower  float64
}

// Bollinger computes bands over the last period values using the
// population standard deviation.
func Bollinger(values []float64, period int, k float64) (Bands, bool) {
	if period <= 0 || len(values) < period {
		return Bands{}, false
	}

	mean := SMA(values, period)
	variance := 0.0
	for _, v := range values[len(values)-period:] {
		d := v - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))

	return Bands{
		Middle: mean,
		Upper:  mean + k*std,
		Lower:  mean - k*std,
	}, true
}
