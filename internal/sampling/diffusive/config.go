package diffusive

import (
	"go.uber.org/zap"

	"github.com/copyleftdev/nsel/internal/sampling/backend"
)

// Defaults applied by New to zero-valued Config fields.
const (
	DefaultPopulationPerDim = 25
	DefaultLevels           = 20
	DefaultNumSteps         = 1000
	DefaultNumPerStep       = 10000
	DefaultNewLevelInterval = 10000
	DefaultLambda           = 10.0
	DefaultBeta             = 100.0
	DefaultProgressInterval = 100
)

// ProgressFunc receives the running log-evidence estimate during verbose runs.
type ProgressFunc func(iteration int, logZ float64)

// Config contains configuration for the diffusive sampler
type Config struct {
	// Number of live particles. Defaults to 25 per sampled parameter.
	PopulationSize int

	// Number of diffusive likelihood levels, including the prior level
	Levels int

	// Number of outer iterations; one snapshot is saved per iteration
	NumSteps int

	// Number of Monte Carlo moves per outer iteration
	NumPerStep int

	// Number of above-threshold likelihoods collected before a new level
	// is created
	NewLevelInterval int

	// Backtracking scale length while levels are being built
	Lambda float64

	// Strength of the uniform-exploration correction once all levels exist
	Beta float64

	// Random seed; zero seeds from the clock
	Seed uint64

	// Number of prior draws used to estimate parameter supports
	SupportDraws int

	// Trace storage
	Backend backend.Kind

	// Directory and file prefix for persisted backends
	OutputDir       string
	OutputNamespace string

	// Field delimiter for persisted backends
	Separator rune

	// Report the running evidence every ProgressInterval iterations
	Verbose          bool
	ProgressInterval int
	Progress         ProgressFunc
}

// withDefaults fills zero-valued fields for a problem of nDims parameters.
func (c Config) withDefaults(nDims int) Config {
	if c.PopulationSize < 1 {
		c.PopulationSize = DefaultPopulationPerDim * nDims
	}
	if c.Levels < 1 {
		c.Levels = DefaultLevels
	}
	if c.NumSteps < 1 {
		c.NumSteps = DefaultNumSteps
	}
	if c.NumPerStep < 1 {
		c.NumPerStep = DefaultNumPerStep
	}
	if c.NewLevelInterval < 1 {
		c.NewLevelInterval = DefaultNewLevelInterval
	}
	if c.Lambda <= 0 {
		c.Lambda = DefaultLambda
	}
	if c.Beta < 0 {
		c.Beta = 0
	} else if c.Beta == 0 {
		c.Beta = DefaultBeta
	}
	if c.ProgressInterval < 1 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.Backend == "" {
		c.Backend = backend.KindMemory
	}
	return c
}

// Option customises a Sampler.
type Option func(*Sampler)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger.Named("diffusive_sampler")
		}
	}
}

// WithBackend replaces the backend selected by Config.Backend.
func WithBackend(b backend.Backend) Option {
	return func(s *Sampler) {
		s.backend = b
	}
}
