package diffusive

import (
	"math"
	"math/rand/v2"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// Perturber moves one coordinate at a time within the estimated support of
// each parameter.
//
// Coordinates are wrapped into [center-width/2, center+width/2], where width
// and center come from a finite number of prior draws. For priors with
// unbounded support this truncates the tails beyond the sampled range.
type Perturber struct {
	widths  []float64
	centers []float64
}

// NewPerturber estimates the support of each parameter from draws prior
// samples.
func NewPerturber(params []sampling.SampledParameter, rng *rand.Rand, draws int) *Perturber {
	p := &Perturber{
		widths:  make([]float64, len(params)),
		centers: make([]float64, len(params)),
	}
	for i, param := range params {
		p.widths[i], p.centers[i] = param.Support(rng, draws)
	}
	return p
}

// NewPerturberFromBounds builds a Perturber from explicit widths and centers.
func NewPerturberFromBounds(widths, centers []float64) *Perturber {
	return &Perturber{
		widths:  append([]float64(nil), widths...),
		centers: append([]float64(nil), centers...),
	}
}

// Bounds returns the wrap interval of dimension i.
func (p *Perturber) Bounds(i int) (lo, hi float64) {
	return p.centers[i] - 0.5*p.widths[i], p.centers[i] + 0.5*p.widths[i]
}

// Width returns the estimated support width of dimension i.
func (p *Perturber) Width(i int) float64 { return p.widths[i] }

// Center returns the estimated support center of dimension i.
func (p *Perturber) Center(i int) float64 { return p.centers[i] }

// Perturb modifies one randomly chosen coordinate in place and returns the
// log of the proposal correction, which is always zero because the wrapped
// move is symmetric.
func (p *Perturber) Perturb(rng *rand.Rand, coords []float64) float64 {
	i := rng.IntN(len(coords))
	coords[i] += p.widths[i] * (rng.Float64() - 0.5)
	lo, hi := p.Bounds(i)
	coords[i] = wrap(coords[i], lo, hi)
	return 0
}

// wrap maps x into [lo, hi] periodically.
func wrap(x, lo, hi float64) float64 {
	span := hi - lo
	if span <= 0 {
		return lo
	}
	y := math.Mod(x-lo, span)
	if y < 0 {
		y += span
	}
	y += lo
	// Round-off can leave y one ulp outside the interval.
	if y > hi {
		y = hi
	}
	if y < lo {
		y = lo
	}
	return y
}

// randh draws from a heavy-tailed distribution spanning several orders of
// magnitude, used to jitter tiebreakers.
func randh(rng *rand.Rand) float64 {
	t := rng.NormFloat64() / math.Sqrt(-math.Log(1-rng.Float64()))
	return math.Pow(10, 1.5-3*math.Abs(t)) * rng.NormFloat64()
}
