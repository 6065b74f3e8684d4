package diffusive

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// logFloor stands in for the log prior mass below the top level.
const logFloor = -1e300

// evidence is the outcome of integrating a trace over its levels
type evidence struct {
	logZ  float64
	h     float64
	probs []float64
}

// Estimate integrates the trace and returns the evidence estimate. The
// result is computed once; later calls return the same value.
func (s *Sampler) Estimate() (*sampling.EstimationResult, error) {
	if err := s.ready("Estimate"); err != nil {
		return nil, err
	}
	s.estimateOnce.Do(func() {
		s.result, s.estimateErr = s.finalize()
	})
	return s.result, s.estimateErr
}

// finalize computes the evidence, writes posterior weights and equal-weight
// samples to the backend and closes it
func (s *Sampler) finalize() (*sampling.EstimationResult, error) {
	const op = "Estimate"
	defer func() {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("Failed to close backend")
		}
	}()

	snaps := s.backend.Snapshots()
	ev, err := integrate(s.levelInfos(), flattenInfo(snaps))
	if err != nil {
		return nil, sampling.WrapError(err, "failed to integrate trace").
			WithComponent("diffusive_sampler").WithOperation(op)
	}

	res, err := sampling.NewEstimationResult(ev.logZ, ev.h, s.config.PopulationSize)
	if err != nil {
		return nil, err
	}

	if err := s.backend.WriteWeights(snapshotWeights(snaps, ev.probs)); err != nil {
		return nil, sampling.WrapError(err, "failed to write weights").
			WithComponent("diffusive_sampler").WithOperation(op)
	}

	rng := rand.New(rand.NewPCG(s.seed+1, s.seed^0xbf58476d1ce4e5b9))
	s.posterior = resample(rng, flattenCoords(snaps), ev.probs)
	s.probs = ev.probs
	if err := s.backend.WritePosterior(s.posterior); err != nil {
		return nil, sampling.WrapError(err, "failed to write posterior samples").
			WithComponent("diffusive_sampler").WithOperation(op)
	}
	return res, nil
}

// integrate assigns every sample a prior mass by interpolating within the
// highest level it exceeds, and returns the evidence, the information and
// the normalised posterior weight of each sample.
func integrate(levels []sampling.LevelInfo, info []sampling.SampleInfo) (evidence, error) {
	if len(levels) == 0 || len(info) == 0 {
		return evidence{}, sampling.WrapError(sampling.ErrNumerical, "trace is empty")
	}

	// Sandwich each sample between the levels around it
	members := make([][]int, len(levels))
	for i, si := range info {
		lvl := si.Level
		if lvl < 0 {
			lvl = 0
		}
		if lvl >= len(levels) {
			lvl = len(levels) - 1
		}
		l := likelihood{value: si.LogLikelihood, tiebreaker: si.Tiebreaker}
		for lvl+1 < len(levels) && levelThreshold(levels[lvl+1]).less(l) {
			lvl++
		}
		members[lvl] = append(members[lvl], i)
	}

	logp := make([]float64, len(info))
	for k, idx := range members {
		if len(idx) == 0 {
			continue
		}
		sort.Slice(idx, func(a, b int) bool {
			la := likelihood{value: info[idx[a]].LogLikelihood, tiebreaker: info[idx[a]].Tiebreaker}
			lb := likelihood{value: info[idx[b]].LogLikelihood, tiebreaker: info[idx[b]].Tiebreaker}
			return la.less(lb)
		})

		logxMax := levels[k].LogX
		logxMin := logFloor
		if k+1 < len(levels) {
			logxMin = levels[k+1].LogX
		}
		umin := math.Exp(logxMin - logxMax)

		n := float64(len(idx))
		logx := make([]float64, len(idx))
		for j := range idx {
			logx[j] = logxMax + math.Log(umin+(1-umin)*(n-float64(j))/(n+1))
		}
		for j, i := range idx {
			right := logxMax
			if j > 0 {
				right = logx[j-1]
			}
			left := logxMin
			if j+1 < len(idx) {
				left = logx[j+1]
			}
			logp[i] = math.Log(0.5) + logDiffExp(right, left)
		}
	}

	norm := floats.LogSumExp(logp)
	floats.AddConst(-norm, logp)

	logL := make([]float64, len(info))
	for i, si := range info {
		logL[i] = si.LogLikelihood
	}
	terms := make([]float64, len(info))
	floats.AddTo(terms, logp, logL)
	logZ := floats.LogSumExp(terms)
	if math.IsInf(logZ, 0) || math.IsNaN(logZ) {
		return evidence{}, sampling.WrapErrorf(sampling.ErrNumerical, "log evidence is %v", logZ)
	}

	probs := make([]float64, len(info))
	h := 0.0
	for i := range probs {
		probs[i] = math.Exp(terms[i] - logZ)
		if probs[i] > 0 {
			h += probs[i] * (logL[i] - logZ)
		}
	}
	if math.IsNaN(h) {
		return evidence{}, sampling.WrapError(sampling.ErrNumerical, "information is NaN")
	}
	return evidence{logZ: logZ, h: h, probs: probs}, nil
}

// logDiffExp returns log(exp(a) - exp(b)) for a >= b
func logDiffExp(a, b float64) float64 {
	if b >= a {
		return math.Inf(-1)
	}
	return a + math.Log1p(-math.Exp(b-a))
}

// effectiveSampleSize is the exponential of the entropy of probs
func effectiveSampleSize(probs []float64) float64 {
	ent := 0.0
	for _, p := range probs {
		ent -= p * math.Log(p+1e-300)
	}
	return math.Exp(ent)
}

// resample draws an equal-weight posterior sample from the weighted rows by
// rejection, with as many rows as the effective sample size
func resample(rng *rand.Rand, rows [][]float64, probs []float64) [][]float64 {
	n := int(effectiveSampleSize(probs))
	if n < 1 {
		n = 1
	}
	maxP := floats.Max(probs)
	out := make([][]float64, 0, n)
	for len(out) < n {
		r := rng.IntN(len(rows))
		if rng.Float64() <= probs[r]/maxP {
			out = append(out, append([]float64(nil), rows[r]...))
		}
	}
	return out
}

// snapshotWeights splits probs by snapshot and normalises each share
func snapshotWeights(snaps []sampling.Snapshot, probs []float64) [][]float64 {
	out := make([][]float64, len(snaps))
	row := 0
	for i, snap := range snaps {
		w := append([]float64(nil), probs[row:row+snap.Len()]...)
		row += snap.Len()
		if sum := floats.Sum(w); sum > 0 {
			floats.Scale(1/sum, w)
		} else if len(w) > 0 {
			for j := range w {
				w[j] = 1 / float64(len(w))
			}
		}
		out[i] = w
	}
	return out
}

func flattenInfo(snaps []sampling.Snapshot) []sampling.SampleInfo {
	var out []sampling.SampleInfo
	for _, s := range snaps {
		out = append(out, s.Info...)
	}
	return out
}

func flattenCoords(snaps []sampling.Snapshot) [][]float64 {
	var out [][]float64
	for _, s := range snaps {
		out = append(out, s.Coords...)
	}
	return out
}
