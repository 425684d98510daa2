package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSMA(t *testing.T) {
	assert.Equal(t, 0.0, SMA([]float64{1, 2}, 3))
	assert.InDelta(t, 4.0, SMA([]float64{1, 2, 3, 4, 5}, 3), 1e-9)
}

func TestEMASeedsWithSMA(t *testing.T) {
	out := EMA([]float64{2, 4, 6, 8}, 3)
	require.Len(t, out, 2)
	assert.InDelta(t, 4.0, out[0], 1e-9)
	// k = 0.5: 8*0.5 + 4*0.5
	assert.InDelta(t, 6.0, out[1], 1e-9)

	assert.Nil(t, EMA([]float64{1}, 3))
}

func TestRSI(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		check  func(t *testing.T, v float64)
	}{
		{"too short", []float64{1, 2, 3}, func(t *testing.T, v float64) { assert.Equal(t, 0.0, v) }},
		{"flat is neutral", flat(20, 100), func(t *testing.T, v float64) { assert.Equal(t, 50.0, v) }},
		{"only gains", []float64{1, 2, 3, 4, 5, 6}, func(t *testing.T, v float64) { assert.Equal(t, 100.0, v) }},
		{"only losses", []float64{6, 5, 4, 3, 2, 1}, func(t *testing.T, v float64) { assert.Equal(t, 0.0, v) }},
		{"balanced", []float64{10, 11, 10, 11, 10, 11}, func(t *testing.T, v float64) { assert.InDelta(t, 50, v, 15) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, RSI(tt.values, 4))
		})
	}
}

// wilderCloses is the 14-period worked example from StockCharts' RSI
// article; wilderRSI holds its published readings from the 15th close on.
// The published column rounds intermediate averages, hence the 0.1 delta.
var (
	wilderCloses = []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08,
		45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64,
		46.21, 46.25, 45.71, 46.45, 45.78, 45.35, 44.03, 44.18, 44.22, 44.57,
		43.42, 42.66, 43.13,
	}
	wilderRSI = []float64{
		70.53, 66.32, 66.55, 69.41, 66.36, 57.97, 62.93, 63.26, 56.06, 62.38,
		54.71, 50.42, 39.99, 41.46, 41.87, 45.46, 37.30, 33.08, 37.77,
	}
)

func TestRSIMatchesWilderReference(t *testing.T) {
	require.Len(t, wilderRSI, len(wilderCloses)-14)
	for i, want := range wilderRSI {
		n := 15 + i
		assert.InDelta(t, want, RSI(wilderCloses[:n], 14), 0.1, "close #%d", n)
	}
}

func TestMACDNeedsEnoughValues(t *testing.T) {
	_, ok := MACD(flat(33, 100), 12, 26, 9)
	assert.False(t, ok)

	v, ok := MACD(flat(34, 100), 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, 0, v.Line, 1e-9)
	assert.InDelta(t, 0, v.Signal, 1e-9)
}

func TestMACDTracksTrend(t *testing.T) {
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	v, ok := MACD(up, 12, 26, 9)
	require.True(t, ok)
	// Linear trend: fast EMA lags by 5.5 steps, slow by 12.5.
	assert.InDelta(t, 7.0, v.Line, 0.05)
	assert.Greater(t, v.Line, 0.0)

	_, ok = MACD(up, 26, 12, 9)
	assert.False(t, ok, "fast must be shorter than slow")
}

func TestBollinger(t *testing.T) {
	values := append(flat(20, 100), 80)
	b, ok := Bollinger(values, 20, 2)
	require.True(t, ok)
	assert.InDelta(t, 99, b.Middle, 1e-9)
	assert.InDelta(t, 99-2*math.Sqrt(19), b.Lower, 1e-9)
	assert.InDelta(t, 99+2*math.Sqrt(19), b.Upper, 1e-9)

	_, ok = Bollinger(values[:5], 20, 2)
	assert.False(t, ok)
}

func TestMACDAtCrossover(t *testing.T) {
	// 30 flat closes at 100, 20 falling by 2, then a 0.1 drift down. The
	// line crosses above its signal on the 57th close.
	values := flat(30, 100)
	for i := 1; i <= 20; i++ {
		values = append(values, 100-2*float64(i))
	}
	for i := 1; i <= 7; i++ {
		values = append(values, 60-0.1*float64(i))
	}
	require.Len(t, values, 57)

	before, ok := MACD(values[:56], 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, -8.5940, before.Line, 1e-3)
	assert.InDelta(t, -8.5207, before.Signal, 1e-3)
	assert.Less(t, before.Histogram, 0.0)

	at, ok := MACD(values, 12, 26, 9)
	require.True(t, ok)
	assert.InDelta(t, -8.3038, at.Line, 1e-3)
	assert.InDelta(t, -8.4774, at.Signal, 1e-3)
	assert.InDelta(t, 0.1736, at.Histogram, 1e-3)
}
