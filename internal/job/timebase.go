package job

import (
	"sort"
)

// densityLimit is the longest average gap between samples, in seconds, for
// a host's data to count as complete.
const densityLimit = 720

// sampledDensely reports whether n samples cover the walltime densely.
func sampledDensely(start, end int64, n int) bool {
	if n == 0 {
		return false
	}
	return (end-start)/int64(n) < densityLimit
}

// timeBase is the result of choosing the job time vector.
type timeBase struct {
	times  []float64
	minLen int
	maxLen int
}

// chooseTimeBase picks a list of median length, the upper median for an even
// count, preferring the earliest such list in input order. The result is
// sorted and made strictly increasing. ok is false when that list is empty.
func chooseTimeBase(lists [][]float64) (tb timeBase, ok bool) {
	if len(lists) == 0 {
		return tb, false
	}
	byLen := append([][]float64(nil), lists...)
	sort.SliceStable(byLen, func(i, j int) bool { return len(byLen[i]) < len(byLen[j]) })

	tb.minLen = len(byLen[0])
	tb.maxLen = len(byLen[len(byLen)-1])
	want := len(byLen[len(byLen)/2])
	if want == 0 {
		return tb, false
	}
	var mid []float64
	for _, l := range lists {
		if len(l) == want {
			mid = l
			break
		}
	}

	times := append([]float64(nil), mid...)
	sort.Float64s(times)
	tmin := 0.0
	for i, t := range times {
		if t < tmin {
			t = tmin
		}
		times[i] = t
		tmin = t + 1
	}
	tb.times = times
	return tb, true
}
