package diffusive

import (
	"math"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// likelihood is a log-likelihood value with a tiebreaker, so that points on
// a likelihood plateau can still be ordered.
type likelihood struct {
	value      float64
	tiebreaker float64
}

func (a likelihood) less(b likelihood) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return a.tiebreaker < b.tiebreaker
}

// level is one diffusive likelihood stratum together with the counters used
// to estimate its enclosed prior mass.
type level struct {
	logX      float64
	threshold likelihood
	accepts   int64
	tries     int64
	exceeds   int64
	visits    int64
}

func priorLevel() level {
	return level{logX: 0, threshold: likelihood{value: math.Inf(-1)}}
}

func (l level) info() sampling.LevelInfo {
	return sampling.LevelInfo{
		LogX:          l.logX,
		LogLikelihood: l.threshold.value,
		Tiebreaker:    l.threshold.tiebreaker,
		Accepts:       l.accepts,
		Tries:         l.tries,
		Exceeds:       l.exceeds,
		Visits:        l.visits,
	}
}

func levelThreshold(l sampling.LevelInfo) likelihood {
	return likelihood{value: l.LogLikelihood, tiebreaker: l.Tiebreaker}
}

// recalculateLogX re-estimates the enclosed prior mass of every level from
// the exceeds/visits ratio of the level below, regularised toward the
// nominal compression.
func recalculateLogX(levels []level, compression, regularisation float64) {
	levels[0].logX = 0
	for i := 1; i < len(levels); i++ {
		below := levels[i-1]
		ratio := (float64(below.exceeds) + regularisation/compression) /
			(float64(below.visits) + regularisation)
		levels[i].logX = below.logX + math.Log(ratio)
	}
}

// renormaliseVisits caps the counters at the regularisation scale so that
// the early, level-building phase does not dominate later estimates.
func renormaliseVisits(levels []level, regularisation int64) {
	for i := range levels {
		l := &levels[i]
		if l.tries >= regularisation {
			l.accepts = int64(float64(l.accepts+1) / float64(l.tries+1) * float64(regularisation))
			l.tries = regularisation
		}
		if l.visits >= regularisation {
			l.exceeds = int64(float64(l.exceeds+1) / float64(l.visits+1) * float64(regularisation))
			l.visits = regularisation
		}
	}
}
