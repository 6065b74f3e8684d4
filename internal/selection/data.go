package selection

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/nsel/internal/sampling"
)

// SolverConfig is passed to every candidate simulation
type SolverConfig struct {
	// Timespan holds the time points at which observables are simulated
	Timespan []float64
	// Options carries solver specific settings
	Options map[string]float64
}

// Candidate is one model competing in a selection
type Candidate interface {
	// Name identifies the model
	Name() string

	// Parameters returns the ordered sampled parameters of the model
	Parameters() []sampling.SampledParameter

	// Simulate evaluates the model at theta and returns the simulated
	// series of each observable, one value per timespan point
	Simulate(cfg SolverConfig, theta []float64) (map[string][]float64, error)
}

// Observation is the data observed for one observable.
type Observation struct {
	// Values are the observed data points
	Values []float64
	// StdDevs are the standard deviations of Values. Nil means unit
	// standard deviation.
	StdDevs []float64
	// Index selects the timespan points that Values correspond to. Nil
	// means Values cover the whole simulated series.
	Index []int
}

// Validate checks that the observation is consistent
func (o Observation) Validate() error {
	if len(o.Values) == 0 {
		return fmt.Errorf("observation has no values")
	}
	if o.StdDevs != nil && len(o.StdDevs) != len(o.Values) {
		return fmt.Errorf("got %d standard deviations for %d values", len(o.StdDevs), len(o.Values))
	}
	for i, sd := range o.StdDevs {
		if !(sd > 0) {
			return fmt.Errorf("standard deviation %d must be positive, got %v", i, sd)
		}
	}
	if o.Index != nil && len(o.Index) != len(o.Values) {
		return fmt.Errorf("got %d indices for %d values", len(o.Index), len(o.Values))
	}
	for _, idx := range o.Index {
		if idx < 0 {
			return fmt.Errorf("negative index %d", idx)
		}
	}
	return nil
}

// ObservableData maps observable names to their observed data
type ObservableData map[string]Observation

// NData returns the total number of observed data points
func (d ObservableData) NData() int {
	n := 0
	for _, o := range d {
		n += len(o.Values)
	}
	return n
}

// Names returns the observable names in sorted order
func (d ObservableData) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks every observation
func (d ObservableData) Validate() error {
	if len(d) == 0 {
		return sampling.WrapError(sampling.ErrInvalidConfig, "no observable data").
			WithComponent("selector")
	}
	for _, name := range d.Names() {
		if err := d[name].Validate(); err != nil {
			return sampling.WrapErrorf(sampling.ErrInvalidConfig, "observable %q: %v", name, err).
				WithComponent("selector")
		}
	}
	return nil
}

// LikelihoodKind selects how the distance between simulation and data is
// turned into a log-likelihood
type LikelihoodKind string

const (
	// LikelihoodLogPDF sums normal log densities of the data points
	LikelihoodLogPDF LikelihoodKind = "logpdf"
	// LikelihoodMSE is the negative mean squared error
	LikelihoodMSE LikelihoodKind = "mse"
	// LikelihoodSSE is the negative sum of squared errors
	LikelihoodSSE LikelihoodKind = "sse"
)

// Valid reports whether k is a known likelihood kind
func (k LikelihoodKind) Valid() bool {
	switch k {
	case LikelihoodLogPDF, LikelihoodMSE, LikelihoodSSE:
		return true
	}
	return false
}

// NewLogLikelihood binds candidate c to the observed data. The returned
// function simulates c at theta and compares every observable with its data.
// A simulation error is returned unchanged; non-finite simulated values give
// a log-likelihood of -Inf.
func NewLogLikelihood(c Candidate, data ObservableData, solver SolverConfig, kind LikelihoodKind) (sampling.LogLikelihood, error) {
	if kind == "" {
		kind = LikelihoodLogPDF
	}
	if !kind.Valid() {
		return nil, sampling.WrapErrorf(sampling.ErrInvalidConfig, "unknown likelihood %q", kind).
			WithComponent("selector")
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	names := data.Names()

	return func(theta []float64) (float64, error) {
		sim, err := c.Simulate(solver, theta)
		if err != nil {
			return 0, err
		}

		total := 0.0
		for _, name := range names {
			obs := data[name]
			series, ok := sim[name]
			if !ok {
				return 0, sampling.WrapErrorf(sampling.ErrInvalidConfig, "model %s did not simulate observable %q", c.Name(), name).
					WithComponent("selector")
			}

			var sum float64
			for i, y := range obs.Values {
				j := i
				if obs.Index != nil {
					j = obs.Index[i]
				}
				if j >= len(series) {
					return 0, sampling.WrapErrorf(sampling.ErrInvalidConfig, "observable %q: index %d outside simulated series of length %d", name, j, len(series)).
						WithComponent("selector")
				}
				x := series[j]
				if math.IsNaN(x) || math.IsInf(x, 0) {
					return math.Inf(-1), nil
				}

				switch kind {
				case LikelihoodLogPDF:
					sd := 1.0
					if obs.StdDevs != nil {
						sd = obs.StdDevs[i]
					}
					sum += distuv.Normal{Mu: y, Sigma: sd}.LogProb(x)
				default:
					d := x - y
					sum -= d * d
				}
			}
			if kind == LikelihoodMSE {
				sum /= float64(len(obs.Values))
			}
			total += sum
		}
		return sampling.SanitizeLogLikelihood(total), nil
	}, nil
}
