package market

import (
	"sort"
	"sync"
)

// SeriesStore keeps a bounded, time-ordered window of bars per symbol.
// One periodic writer and any number of readers may use it concurrently.
type SeriesStore struct {
	mu        sync.RWMutex
	series    map[string][]Bar
	retention int
}

// NewSeriesStore builds a store keeping at most retention bars per symbol.
func NewSeriesStore(retention int) *SeriesStore {
	if retention <= 0 {
		retention = 500
	}
	return &SeriesStore{
		series:    make(map[string][]Bar),
		retention: retention,
	}
}

// Append adds bars that are newer than the current tail. Older or duplicate
// timestamps are ignored so a re-fetched window never reorders the series.
// It returns the number of bars actually appended.
func (s *SeriesStore) Append(symbol string, bars ...Bar) int {
	if len(bars) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	arr := s.series[symbol]
	added := 0
	for _, b := range bars {
		if n := len(arr); n > 0 && !b.Time.After(arr[n-1].Time) {
			continue
		}
		arr = append(arr, b)
		added++
	}
	if len(arr) > s.retention {
		// Copy so the trimmed prefix can be collected.
		trimmed := make([]Bar, s.retention)
		copy(trimmed, arr[len(arr)-s.retention:])
		arr = trimmed
	}
	s.series[symbol] = arr
	return added
}

// Backfill merges history fetched on demand into the window. Bars already
// held keep their values; only missing timestamps are inserted.
func (s *SeriesStore) Backfill(symbol string, bars []Bar) int {
	if len(bars) == 0 {
		return 0
	}
	incoming := make([]Bar, len(bars))
	copy(incoming, bars)
	sort.Slice(incoming, func(i, j int) bool { return incoming[i].Time.Before(incoming[j].Time) })

	s.mu.Lock()
	defer s.mu.Unlock()

	arr := s.series[symbol]
	merged := make([]Bar, 0, len(arr)+len(incoming))
	added := 0
	i, j := 0, 0
	for i < len(arr) || j < len(incoming) {
		switch {
		case j >= len(incoming):
			merged = append(merged, arr[i])
			i++
		case i >= len(arr):
			if n := len(merged); n == 0 || incoming[j].Time.After(merged[n-1].Time) {
				merged = append(merged, incoming[j])
				added++
			}
			j++
		case incoming[j].Time.Before(arr[i].Time):
			if n := len(merged); n == 0 || incoming[j].Time.After(merged[n-1].Time) {
				merged = append(merged, incoming[j])
				added++
			}
			j++
		case incoming[j].Time.Equal(arr[i].Time):
			j++
		default:
			merged = append(merged, arr[i])
			i++
		}
	}
	if len(merged) > s.retention {
		merged = merged[len(merged)-s.retention:]
	}
	s.series[symbol] = merged
	return added
}

// Series returns a copy of the newest limit bars, oldest first.
// limit <= 0 returns the whole window.
func (s *SeriesStore) Series(symbol string, limit int) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.series[symbol]
	if limit > 0 && len(arr) > limit {
		arr = arr[len(arr)-limit:]
	}
	out := make([]Bar, len(arr))
	copy(out, arr)
	return out
}

// Len returns how many bars are held for symbol.
func (s *SeriesStore) Len(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[symbol])
}

// Latest returns the newest bar of symbol.
func (s *SeriesStore) Latest(symbol string) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.series[symbol]
	if len(arr) == 0 {
		return Bar{}, false
	}
	return arr[len(arr)-1], true
}

// Symbols lists every symbol that has data.
func (s *SeriesStore) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	return out
}
