package sampling

import (
	"fmt"
	"math/rand/v2"
)

// DefaultSupportDraws is the number of prior draws used to estimate a
// parameter's support.
const DefaultSupportDraws = 10000

// Prior is a distribution that can be sampled by inverse transform.
// Every continuous distribution in gonum's stat/distuv satisfies it.
type Prior interface {
	Quantile(p float64) float64
}

// SampledParameter is a named parameter sampled from its prior.
type SampledParameter struct {
	name  string
	prior Prior
}

// NewSampledParameter creates a new sampled parameter.
func NewSampledParameter(name string, prior Prior) (SampledParameter, error) {
	if name == "" {
		return SampledParameter{}, WrapError(ErrInvalidConfig, "parameter name must not be empty").
			WithComponent("sampled_parameter")
	}
	if prior == nil {
		return SampledParameter{}, WrapErrorf(ErrInvalidConfig, "parameter %q has no prior", name).
			WithComponent("sampled_parameter")
	}
	return SampledParameter{name: name, prior: prior}, nil
}

// MustSampledParameter is like NewSampledParameter but panics on error.
func MustSampledParameter(name string, prior Prior) SampledParameter {
	p, err := NewSampledParameter(name, prior)
	if err != nil {
		panic(err)
	}
	return p
}

// Name returns the parameter name.
func (p SampledParameter) Name() string { return p.name }

// Prior returns the parameter's prior distribution.
func (p SampledParameter) Prior() Prior { return p.prior }

// Rvs draws n values from the prior.
func (p SampledParameter) Rvs(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p.Rand(rng)
	}
	return out
}

// Rand draws a single value from the prior.
func (p SampledParameter) Rand(rng *rand.Rand) float64 {
	u := rng.Float64()
	for u == 0 {
		u = rng.Float64()
	}
	return p.prior.Quantile(u)
}

// Support estimates the width and center of the prior from n draws.
// The estimate is a soft bound: heavy tailed priors are represented by the
// range of the draws, not by their true support.
func (p SampledParameter) Support(rng *rand.Rand, n int) (width, center float64) {
	if n < 1 {
		n = DefaultSupportDraws
	}
	lo, hi := 0.0, 0.0
	for i := 0; i < n; i++ {
		v := p.Rand(rng)
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	return hi - lo, (hi + lo) / 2
}

func (p SampledParameter) String() string {
	return fmt.Sprintf("SampledParameter(%s)", p.name)
}

// Names returns the names of params in order.
func Names(params []SampledParameter) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.name
	}
	return names
}

// ValidateParameters checks that params is non-empty and names are unique.
func ValidateParameters(params []SampledParameter) error {
	if len(params) == 0 {
		return WrapError(ErrInvalidConfig, "at least one sampled parameter is required").
			WithComponent("sampled_parameter")
	}
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if p.prior == nil {
			return WrapErrorf(ErrInvalidConfig, "parameter %q has no prior", p.name).
				WithComponent("sampled_parameter")
		}
		if _, dup := seen[p.name]; dup {
			return WrapErrorf(ErrInvalidConfig, "duplicate parameter name %q", p.name).
				WithComponent("sampled_parameter")
		}
		seen[p.name] = struct{}{}
	}
	return nil
}
