// Package criteria computes information criteria from the final live sample
// of a Nested Sampling run.
package criteria

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// MaxLogLikelihood returns the largest log-likelihood in the live sample.
func MaxLogLikelihood(live sampling.Snapshot) (float64, error) {
	if len(live.Info) == 0 {
		return 0, sampling.NotReady("criteria", "MaxLogLikelihood", "live sample is empty")
	}
	return floats.Max(live.LogLikelihoods()), nil
}

// Akaike computes AIC = 2k - 2 Lmax, where k is the number of sampled
// parameters and Lmax the maximum log-likelihood in the live sample.
func Akaike(k int, live sampling.Snapshot) (float64, error) {
	ml, err := MaxLogLikelihood(live)
	if err != nil {
		return 0, err
	}
	return 2.0*float64(k) - 2.0*ml, nil
}

// Bayesian computes BIC = ln(n) k - 2 Lmax for n observed data points.
// A non-positive n has no defined criterion and is rejected.
func Bayesian(k, nData int, live sampling.Snapshot) (float64, error) {
	if nData <= 0 {
		return 0, sampling.WrapErrorf(sampling.ErrUndefinedInput, "number of data points must be positive, got %d", nData).
			WithComponent("criteria").WithOperation("Bayesian")
	}
	ml, err := MaxLogLikelihood(live)
	if err != nil {
		return 0, err
	}
	return math.Log(float64(nData))*float64(k) - 2.0*ml, nil
}

// Deviance computes DIC = p_D + D_bar, where D(theta) = -2 ln L(theta),
// D_bar is the posterior-weighted mean deviance of the live sample and
// p_D = D_bar - D(theta_bar) for the weighted mean parameter vector
// theta_bar. logL is evaluated once, at theta_bar.
func Deviance(live sampling.Snapshot, logL sampling.LogLikelihood) (float64, error) {
	const op = "Deviance"
	n := live.Len()
	if n == 0 || len(live.Info) != n {
		return 0, sampling.NotReady("criteria", op, "live sample is empty")
	}
	weights := live.Weights
	if len(weights) != n {
		return 0, sampling.NotReady("criteria", op, "live sample has no weights")
	}

	var wsum, dbar float64
	thetaBar := make([]float64, len(live.Coords[0]))
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		wsum += w
		dbar += w * (-2.0 * live.Info[i].LogLikelihood)
		floats.AddScaled(thetaBar, w, live.Coords[i])
	}
	if wsum == 0 {
		return 0, sampling.WrapError(sampling.ErrNumerical, "live sample weights sum to zero").
			WithComponent("criteria").WithOperation(op)
	}
	dbar /= wsum
	floats.Scale(1/wsum, thetaBar)

	ll, err := logL(thetaBar)
	if err != nil {
		return 0, sampling.WrapError(err, "failed to evaluate log-likelihood at posterior mean").
			WithComponent("criteria").WithOperation(op)
	}
	dThetaBar := -2.0 * sampling.SanitizeLogLikelihood(ll)
	pD := dbar - dThetaBar
	return pD + dbar, nil
}
