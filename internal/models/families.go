package models

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/nsel/internal/sampling"
	"github.com/copyleftdev/nsel/internal/selection"
)

// DefaultObservable is the name of the series simulated by every family
const DefaultObservable = "y"

type curve func(t float64, theta []float64) float64

// Family is a parametric curve y(t) fitted to a single observable
type Family struct {
	name       string
	observable string
	params     []sampling.SampledParameter
	eval       curve
}

var _ selection.Candidate = (*Family)(nil)

// Name returns the family name
func (f *Family) Name() string { return f.name }

// Parameters returns the sampled parameters of the family
func (f *Family) Parameters() []sampling.SampledParameter { return f.params }

// Observable returns the name of the simulated series
func (f *Family) Observable() string { return f.observable }

// Simulate evaluates the curve at every timespan point
func (f *Family) Simulate(cfg selection.SolverConfig, theta []float64) (map[string][]float64, error) {
	y := make([]float64, len(cfg.Timespan))
	for i, t := range cfg.Timespan {
		y[i] = f.eval(t, theta)
	}
	return map[string][]float64{f.observable: y}, nil
}

func uniform(name string, lo, hi float64) sampling.SampledParameter {
	return sampling.MustSampledParameter(name, distuv.Uniform{Min: lo, Max: hi})
}

// Constant is y = c with c ~ U(-scale, scale)
func Constant(scale float64) *Family {
	return &Family{
		name:       "constant",
		observable: DefaultObservable,
		params:     []sampling.SampledParameter{uniform("c", -scale, scale)},
		eval:       func(_ float64, th []float64) float64 { return th[0] },
	}
}

// Linear is y = a + b t
func Linear(scale float64) *Family {
	return &Family{
		name:       "linear",
		observable: DefaultObservable,
		params: []sampling.SampledParameter{
			uniform("a", -scale, scale),
			uniform("b", -scale, scale),
		},
		eval: func(t float64, th []float64) float64 { return th[0] + th[1]*t },
	}
}

// Quadratic is y = a + b t + c t^2
func Quadratic(scale float64) *Family {
	return &Family{
		name:       "quadratic",
		observable: DefaultObservable,
		params: []sampling.SampledParameter{
			uniform("a", -scale, scale),
			uniform("b", -scale, scale),
			uniform("c", -scale, scale),
		},
		eval: func(t float64, th []float64) float64 { return th[0] + th[1]*t + th[2]*t*t },
	}
}

// ExpDecay is y = A exp(-k t) with A ~ U(0, scale) and k ~ U(0, 5)
func ExpDecay(scale float64) *Family {
	return &Family{
		name:       "exp-decay",
		observable: DefaultObservable,
		params: []sampling.SampledParameter{
			uniform("A", 0, scale),
			uniform("k", 0, 5),
		},
		eval: func(t float64, th []float64) float64 { return th[0] * math.Exp(-th[1]*t) },
	}
}

var families = map[string]func(scale float64) *Family{
	"constant":  Constant,
	"linear":    Linear,
	"quadratic": Quadratic,
	"exp-decay": ExpDecay,
}

// FamilyNames returns the registered family names in sorted order
func FamilyNames() []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named family with coefficient priors of the given
// scale. A non-positive scale defaults to 10.
func Lookup(name string, scale float64) (*Family, error) {
	ctor, ok := families[name]
	if !ok {
		return nil, sampling.WrapErrorf(sampling.ErrInvalidConfig, "unknown model family %q", name).
			WithComponent("models")
	}
	if scale <= 0 {
		scale = 10
	}
	return ctor(scale), nil
}

// Candidates looks up every named family
func Candidates(names []string, scale float64) ([]selection.Candidate, error) {
	out := make([]selection.Candidate, 0, len(names))
	for _, name := range names {
		f, err := Lookup(name, scale)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
