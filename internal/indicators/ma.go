package indicators

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// EMA returns the exponential moving average series seeded with the SMA of
// the first period values. out[i] lines up with values[i+period-1].
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	prev := SMA(values[:period], period)
	out = append(out, prev)
	for _, v := range values[period:] {
		prev = v*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}
