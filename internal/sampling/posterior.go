package sampling

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Marginal is a density-normalised histogram estimate of one parameter's
// posterior marginal distribution.
type Marginal struct {
	Weights []float64
	Centers []float64
	Edges   []float64
}

// BinWidth returns the width of the histogram bins.
func (m Marginal) BinWidth() float64 {
	if len(m.Edges) < 2 {
		return 0
	}
	return (m.Edges[len(m.Edges)-1] - m.Edges[0]) / float64(len(m.Edges)-1)
}

// Moments holds the first four standardised moments of a marginal.
type Moments struct {
	Mean       float64
	Variance   float64
	Skew       float64
	ExKurtosis float64
}

// BinCount returns the number of histogram bins for n equal-weight samples:
// twice the integer cube root, and at least one.
func BinCount(n int) int {
	bins := 2 * int(math.Cbrt(float64(n)))
	if bins < 1 {
		bins = 1
	}
	return bins
}

// Histogram builds a density-normalised histogram of x with the given number
// of equal-width bins spanning [min(x), max(x)]. A degenerate range is
// widened to [x-0.5, x+0.5].
func Histogram(x []float64, bins int) Marginal {
	if len(x) == 0 {
		return Marginal{}
	}
	if bins < 1 {
		bins = 1
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)

	dividers := append([]float64(nil), edges...)
	// stat.Histogram treats the last divider as an exclusive bound.
	dividers[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	width := (hi - lo) / float64(bins)
	norm := float64(len(sorted)) * width
	weights := make([]float64, bins)
	centers := make([]float64, bins)
	for i := range weights {
		weights[i] = counts[i] / norm
		centers[i] = (edges[i] + edges[i+1]) / 2
	}
	return Marginal{Weights: weights, Centers: centers, Edges: edges}
}

// Marginals computes a histogram per column of the equal-weight samples,
// keyed by parameter name.
func Marginals(params []SampledParameter, samples [][]float64) map[string]Marginal {
	out := make(map[string]Marginal, len(params))
	bins := BinCount(len(samples))
	for j, p := range params {
		out[p.Name()] = Histogram(Column(samples, j), bins)
	}
	return out
}

// PosteriorMoments computes mean, variance, skew and excess kurtosis per
// column of the equal-weight samples, keyed by parameter name.
func PosteriorMoments(params []SampledParameter, samples [][]float64) map[string]Moments {
	out := make(map[string]Moments, len(params))
	for j, p := range params {
		col := Column(samples, j)
		mean, variance := stat.MeanVariance(col, nil)
		out[p.Name()] = Moments{
			Mean:       mean,
			Variance:   variance,
			Skew:       stat.Skew(col, nil),
			ExKurtosis: stat.ExKurtosis(col, nil),
		}
	}
	return out
}

// Column extracts column j of a row-major sample set.
func Column(samples [][]float64, j int) []float64 {
	col := make([]float64, len(samples))
	for i, row := range samples {
		col[i] = row[j]
	}
	return col
}
