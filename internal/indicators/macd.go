package indicators

// MACDValue is the latest reading of a MACD(fast, slow, signal) study.
type MACDValue struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// MACD computes the MACD line (fast EMA - slow EMA), its signal EMA and the
// histogram for the last value. ok is false until slow+signal-1 values exist.
func MACD(values []float64, fast, slow, signal int) (MACDValue, bool) {
	if fast <= 0 || slow <= fast || signal <= 0 || len(values) < slow+signal-1 {
		return MACDValue{}, false
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)

	// slowEMA[i] aligns with values[i+slow-1]; fastEMA needs the same offset.
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}

	sig := EMA(line, signal)
	if len(sig) == 0 {
		return MACDValue{}, false
	}

	v := MACDValue{
		Line:   line[len(line)-1],
		Signal: sig[len(sig)-1],
	}
	v.Histogram = v.Line - v.Signal
	return v, true
}
