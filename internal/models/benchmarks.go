// Package models provides benchmark problems with known evidence and a
// registry of simple candidate model families for selection.
package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// Benchmark is a likelihood and priors with a reference log evidence
type Benchmark struct {
	Name       string
	Parameters []sampling.SampledParameter
	LogL       sampling.LogLikelihood
	// LogEvidence is the reference value; NaN when unknown
	LogEvidence float64
}

func paramNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("x%d", i)
	}
	return names
}

// Gaussian is an ndim standard normal likelihood under a uniform prior of
// the given width centred on zero. Its log evidence is
// ndim * (ln erf(width / (2 sqrt 2)) - ln width).
func Gaussian(ndim int, width float64) Benchmark {
	params := make([]sampling.SampledParameter, ndim)
	for i, name := range paramNames(ndim) {
		params[i] = sampling.MustSampledParameter(name, distuv.Uniform{Min: -width / 2, Max: width / 2})
	}
	norm := -0.5 * float64(ndim) * math.Log(2*math.Pi)
	return Benchmark{
		Name:       fmt.Sprintf("gaussian-%dd", ndim),
		Parameters: params,
		LogL: func(theta []float64) (float64, error) {
			return norm - 0.5*floats.Dot(theta, theta), nil
		},
		LogEvidence: float64(ndim) * (math.Log(math.Erf(width/(2*math.Sqrt2))) - math.Log(width)),
	}
}

// MultimodalPositions are the mode locations of Multimodal1D
var MultimodalPositions = []float64{0.1, 0.2, 0.5, 0.55, 0.9, 1.1}

// MultimodalWidth is the standard deviation of every mode of Multimodal1D
const MultimodalWidth = 0.01

// Multimodal1D is an equal mixture of six narrow normal densities under a
// U(0, 2) prior. Every mode lies well inside the prior so the evidence is
// 1/2.
func Multimodal1D() Benchmark {
	modes := make([]distuv.Normal, len(MultimodalPositions))
	for i, mu := range MultimodalPositions {
		modes[i] = distuv.Normal{Mu: mu, Sigma: MultimodalWidth}
	}
	logW := -math.Log(float64(len(modes)))
	return Benchmark{
		Name: "multimodal-1d",
		Parameters: []sampling.SampledParameter{
			sampling.MustSampledParameter("x", distuv.Uniform{Min: 0, Max: 2}),
		},
		LogL: func(theta []float64) (float64, error) {
			terms := make([]float64, len(modes))
			for i, m := range modes {
				terms[i] = logW + m.LogProb(theta[0])
			}
			return floats.LogSumExp(terms), nil
		},
		LogEvidence: math.Log(0.5),
	}
}

// EggCartonLogEvidence is the reference log evidence of EggCarton
const EggCartonLogEvidence = 235.88

// EggCarton is the two dimensional egg carton problem,
// ln L = (2 + cos x cos y)^5 under U(0, 10 pi) priors.
func EggCarton() Benchmark {
	params := make([]sampling.SampledParameter, 2)
	for i, name := range paramNames(2) {
		params[i] = sampling.MustSampledParameter(name, distuv.Uniform{Min: 0, Max: 10 * math.Pi})
	}
	return Benchmark{
		Name:       "eggcarton",
		Parameters: params,
		LogL: func(theta []float64) (float64, error) {
			chi := 1.0
			for _, x := range theta {
				chi *= math.Cos(x)
			}
			return math.Pow(2+chi, 5), nil
		},
		LogEvidence: EggCartonLogEvidence,
	}
}

// LookupBenchmark returns a benchmark by name
func LookupBenchmark(name string, ndim int) (Benchmark, error) {
	switch name {
	case "gaussian":
		if ndim < 1 {
			ndim = 2
		}
		return Gaussian(ndim, 10), nil
	case "multimodal", "multimodal-1d":
		return Multimodal1D(), nil
	case "eggcarton":
		return EggCarton(), nil
	}
	return Benchmark{}, sampling.WrapErrorf(sampling.ErrInvalidConfig, "unknown benchmark %q", name).
		WithComponent("models")
}
