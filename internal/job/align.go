package job

import (
	"math"

	"github.com/tinytelemetry/hpcjob/internal/hostlog"
)

// aligned is a device series resampled onto the job time base.
type aligned struct {
	m       *Matrix
	chosen  []float64
	rotates map[int]bool
	jitter  float64
}

// align picks, for every canonical time, the raw sample closest to it. The
// cursor only moves forward, so ties go to the later sample. Rows whose
// chosen sample directly follows a log rotation are flagged.
func align(times []float64, raw []hostlog.Sample, cols int, rotateTimes []float64) aligned {
	out := aligned{
		m:       NewMatrix(len(times), cols),
		chosen:  make([]float64, len(times)),
		rotates: make(map[int]bool),
	}
	if len(raw) == 0 {
		return out
	}

	rotated := make(map[float64]bool, len(rotateTimes))
	for _, t := range rotateTimes {
		rotated[t] = true
	}

	k := 0
	var sum float64
	for i, t := range times {
		for k+1 < len(raw) && math.Abs(raw[k+1].Time-t) <= math.Abs(raw[k].Time-t) {
			k++
		}
		d := raw[k].Time - t
		sum += d * d
		copy(out.m.Row(i), raw[k].Values)
		out.chosen[i] = raw[k].Time
		if rotated[raw[k].Time] {
			out.rotates[i] = true
		}
	}
	if len(times) > 0 {
		out.jitter = math.Sqrt(sum / float64(len(times)))
	}
	return out
}
