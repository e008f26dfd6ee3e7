package events

import (
	"math"

	"github.com/jexlab/jex/pkg/models"
)

// phaseRange is the [start, end] slice of the 0-100 progress scale a
// phase occupies.
type phaseRange struct {
	start float64
	end   float64
}

var phaseRanges = map[string]phaseRange{
	models.PhaseEvaluation:    {0, 10},
	models.PhaseInquiry:       {10, 20},
	models.PhasePlanning:      {20, 40},
	models.PhaseCollaboration: {40, 70},
	models.PhaseIntegration:   {70, 90},
	models.PhaseFinalization:  {90, 100},
}

// Progress maps a phase and a fractional position within it to the
// 0-100 scale: round(start + (end-start)*fraction). Fractions are
// clamped to [0, 1]; unknown phases map over the full scale. The
// result is not monotonic across calls, the runtime keeps a per-task
// high-water mark and emits max(last, computed).
func Progress(phase string, fraction float64) int {
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	r, ok := phaseRanges[phase]
	if !ok {
		r = phaseRange{0, 100}
	}
	return int(math.Round(r.start + (r.end-r.start)*fraction))
}
