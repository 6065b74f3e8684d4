// Package sampling defines the shared vocabulary for Nested Sampling runs:
// sampled parameters and their priors, the sampling trace, evidence results
// and posterior marginals.
package sampling

import (
	"context"
	"math"
)

// NestedSampler defines the interface for Nested Sampling engines
type NestedSampler interface {
	// Run executes the sampler to completion and returns the natural log of
	// the evidence and its estimated error.
	Run(ctx context.Context) (logZ, logZErr float64, err error)

	// Estimate returns the evidence estimate of a finished run
	Estimate() (*EstimationResult, error)

	// Posteriors returns the histogram estimate of each parameter's
	// posterior marginal, keyed by parameter name
	Posteriors() (map[string]Marginal, error)

	// AkaikeIC returns the Akaike information criterion
	AkaikeIC() (float64, error)

	// BayesianIC returns the Bayesian information criterion for nData
	// observed data points
	BayesianIC(nData int) (float64, error)

	// DevianceIC returns the deviance information criterion
	DevianceIC() (float64, error)

	// State reports where the sampler is in its lifecycle
	State() State
}

// LogLikelihood evaluates the natural log of the likelihood at theta.
// Implementations should return math.Inf(-1) for degenerate inputs; a
// returned error aborts the run.
type LogLikelihood func(theta []float64) (float64, error)

// State is the lifecycle state of a sampler.
type State int

const (
	// Initialized means the live population has been drawn from the prior.
	Initialized State = iota
	// Exploring means the run is in progress or was interrupted.
	Exploring
	// Finalized means the trace is complete and results can be derived.
	Finalized
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Exploring:
		return "exploring"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// SanitizeLogLikelihood maps NaN to negative infinity.
func SanitizeLogLikelihood(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}
