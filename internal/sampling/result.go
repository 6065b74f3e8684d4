package sampling

import (
	"fmt"
	"math"
)

// EstimationResult is the evidence estimate of a finished run.
// Its fields are derived once and can only be read.
type EstimationResult struct {
	logEvidence      float64
	logEvidenceError float64
	information      float64
	evidence         float64
	evidenceError    float64
	populationSize   int
}

// NewEstimationResult derives the evidence errors from the log evidence, the
// information H and the population size. A negative H from round-off is
// clamped to zero.
func NewEstimationResult(logZ, information float64, populationSize int) (*EstimationResult, error) {
	if populationSize < 1 {
		return nil, WrapErrorf(ErrInvalidConfig, "population size must be positive, got %d", populationSize).
			WithComponent("estimator")
	}
	if math.IsNaN(logZ) || math.IsNaN(information) {
		return nil, WrapError(ErrNumerical, "evidence estimate is NaN").WithComponent("estimator")
	}
	if information < 0 {
		information = 0
	}
	logZErr := math.Sqrt(information / float64(populationSize))
	return &EstimationResult{
		logEvidence:      logZ,
		logEvidenceError: logZErr,
		information:      information,
		evidence:         math.Exp(logZ),
		evidenceError:    math.Exp(logZErr),
		populationSize:   populationSize,
	}, nil
}

// LogEvidence is the natural log of the evidence, ln(Z).
func (r *EstimationResult) LogEvidence() float64 { return r.logEvidence }

// LogEvidenceError is sqrt(H/N).
func (r *EstimationResult) LogEvidenceError() float64 { return r.logEvidenceError }

// Information is the Kullback-Leibler divergence H of posterior from prior.
func (r *EstimationResult) Information() float64 { return r.information }

// Evidence is Z.
func (r *EstimationResult) Evidence() float64 { return r.evidence }

// EvidenceError is exp(LogEvidenceError).
func (r *EstimationResult) EvidenceError() float64 { return r.evidenceError }

// PopulationSize is the number of live particles used in the run.
func (r *EstimationResult) PopulationSize() int { return r.populationSize }

func (r *EstimationResult) String() string {
	return fmt.Sprintf("ln(Z) = %.4f +- %.4f (H = %.4f)", r.logEvidence, r.logEvidenceError, r.information)
}
