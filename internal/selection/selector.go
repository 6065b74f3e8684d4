// Package selection ranks competing models by running Nested Sampling on
// each of them and comparing their evidences and information criteria.
package selection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/nsel/internal/sampling"
	"github.com/copyleftdev/nsel/internal/sampling/diffusive"
)

// SamplerKind names a Nested Sampling engine
type SamplerKind string

const (
	// SamplerDiffusive is Diffusive Nested Sampling
	SamplerDiffusive SamplerKind = "dnest4"
	// SamplerClassic is classic Nested Sampling
	SamplerClassic SamplerKind = "classic"
	// SamplerMultiNest is the MultiNest engine
	SamplerMultiNest SamplerKind = "multinest"
	// SamplerPolyChord is the PolyChord engine
	SamplerPolyChord SamplerKind = "polychord"
	// SamplerNestle is the Nestle engine
	SamplerNestle SamplerKind = "nestle"
)

// Policy decides what happens to a batch when one model run fails
type Policy int

const (
	// SkipAndContinue records the failure and runs the remaining models
	SkipAndContinue Policy = iota
	// FailFast cancels the batch on the first failure
	FailFast
)

func (p Policy) String() string {
	switch p {
	case SkipAndContinue:
		return "skip-and-continue"
	case FailFast:
		return "fail-fast"
	default:
		return "unknown"
	}
}

// ParsePolicy parses a policy name
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "skip-and-continue", "skip":
		return SkipAndContinue, nil
	case "fail-fast", "failfast":
		return FailFast, nil
	}
	return 0, sampling.WrapErrorf(sampling.ErrInvalidConfig, "unknown failure policy %q", s).
		WithComponent("selector")
}

// RunObserver is notified when a model run finishes. It may be called
// concurrently from several workers.
type RunObserver func(h RunHandle, logZ float64, err error, elapsed time.Duration)

// Options configures a Selector
type Options struct {
	// Workers bounds the number of models sampled concurrently; 1 runs them
	// sequentially
	Workers int
	// Policy applies when a model run fails
	Policy Policy
	// BaseSeed derives the seed of every model; zero seeds from the clock
	BaseSeed uint64
	// OutputDir is the directory for persisted backends
	OutputDir string
	// OnRunComplete, if set, observes every finished run
	OnRunComplete RunObserver
}

// PrepareConfig configures the samplers built by Prepare
type PrepareConfig struct {
	Solver        SolverConfig
	Sampler       SamplerKind
	SamplerConfig diffusive.Config
	Likelihood    LikelihoodKind
}

// RunHandle identifies one prepared model run
type RunHandle struct {
	Index     int
	Label     string
	Model     string
	Namespace string
	Seed      uint64
}

// Row is one entry of the evidence table
type Row struct {
	Model            string
	Name             string
	LogEvidence      float64
	LogEvidenceError float64
}

// Table lists completed runs sorted by descending log evidence
type Table []Row

// CriterionRow is one entry of an information criterion table
type CriterionRow struct {
	Model string
	Name  string
	Value float64
}

// CriterionTable lists completed runs sorted by ascending criterion value
type CriterionTable []CriterionRow

// BayesFactorMatrix holds exp(logZ_i - logZ_j) at (i, j). Excluded lists
// the labels of prepared runs that did not complete and have no row.
type BayesFactorMatrix struct {
	Labels   []string
	Values   *mat.Dense
	Excluded []string
}

// Partial reports whether some prepared runs are missing from the matrix
func (m BayesFactorMatrix) Partial() bool {
	return len(m.Excluded) > 0
}

// At returns the Bayes factor of model i over model j
func (m BayesFactorMatrix) At(i, j int) float64 {
	return m.Values.At(i, j)
}

// RunFailure records a model run that did not complete
type RunFailure struct {
	Model string
	Name  string
	Err   error
}

func (f RunFailure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Model, f.Name, f.Err)
}

// Unwrap exposes both ErrRunFailed and the underlying cause
func (f RunFailure) Unwrap() []error {
	return []error{sampling.ErrRunFailed, f.Err}
}

type run struct {
	handle  RunHandle
	sampler *diffusive.Sampler

	logZ    float64
	logZErr float64
	err     error
	done    bool
}

// Selector runs Nested Sampling for every candidate model
type Selector struct {
	opts   Options
	logger *zap.Logger

	mu        sync.Mutex
	running   bool
	runs      []*run
	data      ObservableData
	completed bool
	selection Table
	failures  []RunFailure
}

// New creates a Selector. It has no side effects.
func New(opts Options, logger *zap.Logger) *Selector {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		opts:   opts,
		logger: logger.Named("selector"),
	}
}

// Prepare builds one independent sampler per candidate, bound to the
// candidate's own likelihood. Every sampler gets its own output namespace
// and random seed. Preparing again discards previous runs.
func (s *Selector) Prepare(candidates []Candidate, data ObservableData, cfg PrepareConfig) ([]RunHandle, error) {
	const op = "Prepare"
	if len(candidates) == 0 {
		return nil, sampling.WrapError(sampling.ErrInvalidConfig, "no candidate models").
			WithComponent("selector").WithOperation(op)
	}
	if err := checkSampler(cfg.Sampler); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, sampling.WrapError(sampling.ErrImmutable, "selection is running").
			WithComponent("selector").WithOperation(op)
	}

	base := s.opts.BaseSeed
	if base == 0 {
		base = uint64(time.Now().UnixNano())
	}

	runs := make([]*run, 0, len(candidates))
	handles := make([]RunHandle, 0, len(candidates))
	for i, c := range candidates {
		h := RunHandle{
			Index:     i,
			Label:     fmt.Sprintf("model_%d", i),
			Model:     c.Name(),
			Namespace: fmt.Sprintf("model_%d_", i),
			Seed:      deriveSeed(base, i),
		}

		logL, err := NewLogLikelihood(c, data, cfg.Solver, cfg.Likelihood)
		if err != nil {
			closeRuns(runs)
			return nil, err
		}

		sc := cfg.SamplerConfig
		sc.Seed = h.Seed
		sc.OutputNamespace = h.Namespace
		if sc.OutputDir == "" {
			sc.OutputDir = s.opts.OutputDir
		}

		sampler, err := diffusive.New(c.Parameters(), logL, sc,
			diffusive.WithLogger(s.logger.With(zap.String("model", h.Label))))
		if err != nil {
			closeRuns(runs)
			return nil, sampling.WrapErrorf(err, "failed to prepare %s (%s)", h.Label, h.Model).
				WithComponent("selector").WithOperation(op)
		}

		runs = append(runs, &run{handle: h, sampler: sampler})
		handles = append(handles, h)
	}

	closeRuns(s.runs)
	s.runs = runs
	s.data = data
	s.completed = false
	s.selection = nil
	s.failures = nil

	s.logger.Info("Prepared samplers",
		zap.Int("models", len(runs)),
		zap.String("sampler", string(SamplerDiffusive)),
	)
	return append([]RunHandle(nil), handles...), nil
}

// RunAll samples every prepared model on a bounded worker pool and returns
// the evidence table. Under SkipAndContinue failed runs are recorded and
// the remaining models still run; under FailFast the batch is cancelled and
// the first failure is returned.
func (s *Selector) RunAll(ctx context.Context) (Table, error) {
	const op = "RunAll"

	s.mu.Lock()
	if len(s.runs) == 0 {
		s.mu.Unlock()
		return nil, sampling.NotReady("selector", op, "no prepared samplers")
	}
	if s.running || s.completed {
		s.mu.Unlock()
		return nil, sampling.WrapError(sampling.ErrImmutable, "prepared samplers have already run").
			WithComponent("selector").WithOperation(op)
	}
	s.running = true
	runs := s.runs
	s.mu.Unlock()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for _, r := range runs {
		r := r
		g.Go(func() error {
			t0 := time.Now()
			logZ, logZErr, err := r.sampler.Run(gctx)
			if s.opts.OnRunComplete != nil {
				s.opts.OnRunComplete(r.handle, logZ, err, time.Since(t0))
			}
			if err != nil {
				r.err = RunFailure{Model: r.handle.Label, Name: r.handle.Model, Err: err}
				s.logger.Warn("Model run failed",
					zap.String("model", r.handle.Label),
					zap.String("name", r.handle.Model),
					zap.Error(err),
				)
				if s.opts.Policy == FailFast {
					return r.err
				}
				return nil
			}
			r.logZ, r.logZErr, r.done = logZ, logZErr, true
			s.logger.Debug("Model run finished",
				zap.String("model", r.handle.Label),
				zap.Float64("log_evidence", logZ),
			)
			return nil
		})
	}
	waitErr := g.Wait()

	table := make(Table, 0, len(runs))
	var failures []RunFailure
	for _, r := range runs {
		if r.done {
			table = append(table, Row{
				Model:            r.handle.Label,
				Name:             r.handle.Model,
				LogEvidence:      r.logZ,
				LogEvidenceError: r.logZErr,
			})
			continue
		}
		var f RunFailure
		if errors.As(r.err, &f) {
			failures = append(failures, f)
		}
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].LogEvidence > table[j].LogEvidence })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.failures = failures

	if waitErr != nil {
		return nil, waitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, sampling.WrapError(err, "selection cancelled").
			WithComponent("selector").WithOperation(op)
	}

	s.completed = true
	s.selection = table
	s.logger.Info("Selection finished",
		zap.Int("completed", len(table)),
		zap.Int("failed", len(failures)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return append(Table(nil), table...), nil
}

// Selection returns the evidence table of the last RunAll
func (s *Selector) Selection() (Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.completed {
		return nil, sampling.NotReady("selector", "Selection", "RunAll has not completed")
	}
	return append(Table(nil), s.selection...), nil
}

// Failures returns the runs that did not complete
func (s *Selector) Failures() []RunFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RunFailure(nil), s.failures...)
}

// Runs returns the handles of the prepared runs
func (s *Selector) Runs() []RunHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunHandle, len(s.runs))
	for i, r := range s.runs {
		out[i] = r.handle
	}
	return out
}

// Sampler returns the sampler of the run with the given label
func (s *Selector) Sampler(label string) (*diffusive.Sampler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.handle.Label == label {
			return r.sampler, true
		}
	}
	return nil, false
}

// NData returns the number of observed data points backing the likelihoods
func (s *Selector) NData() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.NData()
}

// BayesFactors returns the Bayes factor matrix of the completed runs,
// ordered by model index
func (s *Selector) BayesFactors() (BayesFactorMatrix, error) {
	done, err := s.completedRuns("BayesFactors")
	if err != nil {
		return BayesFactorMatrix{}, err
	}

	n := len(done)
	labels := make([]string, n)
	m := mat.NewDense(n, n, nil)
	for i, ri := range done {
		labels[i] = ri.handle.Label
		for j, rj := range done {
			if i == j {
				m.Set(i, j, 1)
				continue
			}
			m.Set(i, j, math.Exp(ri.logZ-rj.logZ))
		}
	}
	return BayesFactorMatrix{Labels: labels, Values: m, Excluded: s.incompleteLabels()}, nil
}

// AkaikeIC returns the Akaike information criterion of every completed run
func (s *Selector) AkaikeIC() (CriterionTable, error) {
	return s.criterion("AkaikeIC", func(d *diffusive.Sampler) (float64, error) {
		return d.AkaikeIC()
	})
}

// BayesianIC returns the Bayesian information criterion of every completed
// run for nData observed data points
func (s *Selector) BayesianIC(nData int) (CriterionTable, error) {
	return s.criterion("BayesianIC", func(d *diffusive.Sampler) (float64, error) {
		return d.BayesianIC(nData)
	})
}

// DevianceIC returns the deviance information criterion of every completed
// run
func (s *Selector) DevianceIC() (CriterionTable, error) {
	return s.criterion("DevianceIC", func(d *diffusive.Sampler) (float64, error) {
		return d.DevianceIC()
	})
}

func (s *Selector) criterion(op string, eval func(*diffusive.Sampler) (float64, error)) (CriterionTable, error) {
	done, err := s.completedRuns(op)
	if err != nil {
		return nil, err
	}
	table := make(CriterionTable, 0, len(done))
	for _, r := range done {
		v, err := eval(r.sampler)
		if err != nil {
			return nil, sampling.WrapErrorf(err, "%s", r.handle.Label).
				WithComponent("selector").WithOperation(op)
		}
		table = append(table, CriterionRow{Model: r.handle.Label, Name: r.handle.Model, Value: v})
	}
	sort.SliceStable(table, func(i, j int) bool { return table[i].Value < table[j].Value })
	return table, nil
}

func (s *Selector) completedRuns(op string) ([]*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.completed {
		return nil, sampling.NotReady("selector", op, "RunAll has not completed")
	}
	var done []*run
	for _, r := range s.runs {
		if r.done {
			done = append(done, r)
		}
	}
	if len(done) == 0 {
		return nil, sampling.NotReady("selector", op, "no model run completed")
	}
	return done, nil
}

func (s *Selector) incompleteLabels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var labels []string
	for _, r := range s.runs {
		if !r.done {
			labels = append(labels, r.handle.Label)
		}
	}
	return labels
}

// checkSampler fails fast for engines that are not built in
func checkSampler(kind SamplerKind) error {
	switch kind {
	case "", SamplerDiffusive:
		return nil
	case SamplerClassic, SamplerMultiNest, SamplerPolyChord, SamplerNestle:
		return sampling.WrapErrorf(sampling.ErrUnavailable, "%s sampler is not available", kind).
			WithComponent("selector").WithOperation("Prepare")
	default:
		return sampling.WrapErrorf(sampling.ErrUnavailable, "unknown sampler %q", kind).
			WithComponent("selector").WithOperation("Prepare")
	}
}

// deriveSeed mixes the base seed with the model index (splitmix64)
func deriveSeed(base uint64, i int) uint64 {
	z := base + uint64(i+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31
	if z == 0 {
		z = 1
	}
	return z
}

func closeRuns(runs []*run) {
	for _, r := range runs {
		_ = r.sampler.Close()
	}
}
