// Package diffusive implements Diffusive Nested Sampling (Brewer, Pártay &
// Csányi 2011; Brewer & Foreman-Mackey 2018).
package diffusive

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/nsel/internal/sampling"
	"github.com/copyleftdev/nsel/internal/sampling/backend"
	"github.com/copyleftdev/nsel/internal/sampling/criteria"
)

// compression is the nominal prior mass ratio between successive levels.
const compression = math.E

// Sampler implements Diffusive Nested Sampling
type Sampler struct {
	// Configuration
	config Config

	// Sampled parameters and the model log-likelihood
	params []sampling.SampledParameter
	logL   sampling.LogLikelihood

	// Random number generator
	rng  *rand.Rand
	seed uint64

	// Proposal move and scratch vectors
	perturber *Perturber
	pool      *CoordPool

	// Live particles
	particles   [][]float64
	likelihoods []likelihood
	assignments []int

	// Diffusive levels and the likelihoods collected above the top level
	levels []level
	above  []likelihood

	// Trace storage
	backend backend.Backend

	state sampling.State

	// Lazily derived results
	estimateOnce sync.Once
	result       *sampling.EstimationResult
	estimateErr  error
	posterior    [][]float64
	probs        []float64

	posteriorOnce sync.Once
	marginals     map[string]sampling.Marginal

	logger *zap.Logger
}

// New draws the initial population from the priors and evaluates its
// likelihood
func New(params []sampling.SampledParameter, logL sampling.LogLikelihood, config Config, opts ...Option) (*Sampler, error) {
	const op = "New"

	if err := sampling.ValidateParameters(params); err != nil {
		return nil, err
	}
	if logL == nil {
		return nil, sampling.WrapError(sampling.ErrInvalidConfig, "log-likelihood function is required").
			WithComponent("diffusive_sampler").WithOperation(op)
	}
	config = config.withDefaults(len(params))
	if config.Levels < 2 {
		return nil, sampling.WrapErrorf(sampling.ErrInvalidConfig, "at least 2 levels are required, got %d", config.Levels).
			WithComponent("diffusive_sampler").WithOperation(op)
	}

	// Initialize random number generator
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	s := &Sampler{
		config:      config,
		params:      params,
		logL:        logL,
		rng:         rng,
		seed:        seed,
		pool:        NewCoordPool(len(params), 2),
		particles:   make([][]float64, config.PopulationSize),
		likelihoods: make([]likelihood, config.PopulationSize),
		assignments: make([]int, config.PopulationSize),
		levels:      []level{priorLevel()},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		b, err := backend.New(config.Backend, backend.Options{
			Dir:       config.OutputDir,
			Namespace: config.OutputNamespace,
			Separator: config.Separator,
		})
		if err != nil {
			return nil, err
		}
		s.backend = b
	}

	s.perturber = NewPerturber(params, rng, config.SupportDraws)

	for i := range s.particles {
		x := make([]float64, len(params))
		for j, p := range params {
			x[j] = p.Rand(rng)
		}
		v, err := s.evaluate(x)
		if err != nil {
			_ = s.backend.Close()
			return nil, sampling.WrapError(err, "failed to evaluate initial particle").
				WithComponent("diffusive_sampler").WithOperation(op)
		}
		s.particles[i] = x
		s.likelihoods[i] = likelihood{value: v, tiebreaker: rng.Float64()}
	}

	s.logger.Debug("Initialized particles",
		zap.Int("particles", config.PopulationSize),
		zap.Int("dims", len(params)),
		zap.Int("levels", config.Levels),
	)
	return s, nil
}

// Run explores the diffusive levels for the configured number of iterations
// and returns the log evidence and its error
func (s *Sampler) Run(ctx context.Context) (float64, float64, error) {
	const op = "Run"
	if s.state != sampling.Initialized {
		return 0, 0, sampling.WrapErrorf(sampling.ErrImmutable, "sampler is already %s", s.state).
			WithComponent("diffusive_sampler").WithOperation(op)
	}
	s.state = sampling.Exploring
	start := time.Now()

	for iter := 1; iter <= s.config.NumSteps; iter++ {
		select {
		case <-ctx.Done():
			_ = s.backend.Close()
			return 0, 0, sampling.WrapError(ctx.Err(), "run cancelled").
				WithComponent("diffusive_sampler").WithOperation(op)
		default:
		}

		for k := 0; k < s.config.NumPerStep; k++ {
			if err := s.step(); err != nil {
				_ = s.backend.Close()
				return 0, 0, sampling.WrapErrorf(err, "iteration %d", iter).
					WithComponent("diffusive_sampler").WithOperation(op)
			}
		}
		s.bookkeeping()

		if err := s.save(iter); err != nil {
			_ = s.backend.Close()
			return 0, 0, sampling.WrapError(err, "failed to save snapshot").
				WithComponent("diffusive_sampler").WithOperation(op)
		}

		if s.config.Verbose && iter%s.config.ProgressInterval == 0 {
			s.reportProgress(iter)
		}
	}

	s.state = sampling.Finalized
	res, err := s.Estimate()
	if err != nil {
		return 0, 0, err
	}

	s.logger.Info("Run finished",
		zap.Float64("log_evidence", res.LogEvidence()),
		zap.Float64("log_evidence_error", res.LogEvidenceError()),
		zap.Float64("information", res.Information()),
		zap.Int("levels", len(s.levels)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res.LogEvidence(), res.LogEvidenceError(), nil
}

// step performs one Monte Carlo move of a randomly chosen particle, updating
// its coordinates and its level assignment in random order
func (s *Sampler) step() error {
	which := s.rng.IntN(len(s.particles))
	if s.rng.Float64() <= 0.5 {
		if err := s.updateParticle(which); err != nil {
			return err
		}
		s.updateLevelAssignment(which)
	} else {
		s.updateLevelAssignment(which)
		if err := s.updateParticle(which); err != nil {
			return err
		}
	}

	if !s.enoughLevels() && s.levels[len(s.levels)-1].threshold.less(s.likelihoods[which]) {
		s.above = append(s.above, s.likelihoods[which])
	}
	return nil
}

// updateParticle proposes a perturbed position and accepts it if it lies
// above the particle's current level
func (s *Sampler) updateParticle(which int) error {
	proposal := s.pool.Get()
	copy(proposal, s.particles[which])

	logH := s.perturber.Perturb(s.rng, proposal)
	if logH > 0 {
		logH = 0
	}

	v, err := s.evaluate(proposal)
	if err != nil {
		s.pool.Put(proposal)
		return err
	}
	prop := likelihood{
		value:      v,
		tiebreaker: wrap(s.likelihoods[which].tiebreaker+randh(s.rng), 0, 1),
	}

	current := &s.levels[s.assignments[which]]
	if s.rng.Float64() <= math.Exp(logH) && current.threshold.less(prop) {
		s.particles[which], proposal = proposal, s.particles[which]
		s.likelihoods[which] = prop
		current.accepts++
	}
	current.tries++
	s.pool.Put(proposal)

	// Count visits and exceeds
	for j := s.assignments[which]; j < len(s.levels)-1; j++ {
		s.levels[j].visits++
		if !s.levels[j+1].threshold.less(s.likelihoods[which]) {
			break
		}
		s.levels[j].exceeds++
	}
	return nil
}

// updateLevelAssignment proposes a jump to another level
func (s *Sampler) updateLevelAssignment(which int) {
	current := s.assignments[which]
	proposal := current + int(math.Round(math.Pow(10, 2*s.rng.Float64())*s.rng.NormFloat64()))
	if proposal == current {
		if s.rng.Float64() < 0.5 {
			proposal--
		} else {
			proposal++
		}
	}
	n := len(s.levels)
	proposal = ((proposal % n) + n) % n

	logA := s.levels[current].logX - s.levels[proposal].logX
	logA += s.logPush(proposal) - s.logPush(current)
	if s.enoughLevels() {
		logA += s.config.Beta * math.Log(float64(s.levels[current].tries+1)/float64(s.levels[proposal].tries+1))
	}
	if logA > 0 {
		logA = 0
	}

	if s.rng.Float64() <= math.Exp(logA) && s.levels[proposal].threshold.less(s.likelihoods[which]) {
		s.assignments[which] = proposal
	}
}

// logPush favours the top level while levels are still being created
func (s *Sampler) logPush(j int) float64 {
	if s.enoughLevels() {
		return 0
	}
	return float64(j-(len(s.levels)-1)) / s.config.Lambda
}

func (s *Sampler) enoughLevels() bool {
	return len(s.levels) >= s.config.Levels
}

// bookkeeping creates a new level once enough likelihoods have been seen
// above the current top level, and re-estimates every level's prior mass
func (s *Sampler) bookkeeping() {
	interval := s.config.NewLevelInterval
	if !s.enoughLevels() && len(s.above) >= interval {
		sort.Slice(s.above, func(i, j int) bool { return s.above[i].less(s.above[j]) })
		idx := int((1 - 1/compression) * float64(len(s.above)))
		top := s.levels[len(s.levels)-1]
		s.levels = append(s.levels, level{logX: top.logX - 1, threshold: s.above[idx]})

		s.logger.Debug("Created level",
			zap.Int("level", len(s.levels)-1),
			zap.Float64("log_likelihood", s.above[idx].value),
		)

		if s.enoughLevels() {
			renormaliseVisits(s.levels, int64(interval))
			s.above = nil
			s.logger.Info("Done creating levels", zap.Int("levels", len(s.levels)))
		} else {
			s.killLaggingParticles()
			s.above = append(s.above[:0], s.above[idx+1:]...)
		}
	}

	recalculateLogX(s.levels, compression, float64(interval))
}

// killLaggingParticles replaces particles stuck far below the top level
// with copies of better ones
func (s *Sampler) killLaggingParticles() {
	good := make([]bool, len(s.particles))
	maxPush := math.Inf(-1)
	nBad := 0
	for i := range s.particles {
		push := s.logPush(s.assignments[i])
		if push > maxPush {
			maxPush = push
		}
		good[i] = push >= -5
		if !good[i] {
			nBad++
		}
	}
	if nBad == len(s.particles) {
		s.logger.Warn("All particles lagging")
		return
	}

	for i := range s.particles {
		if good[i] {
			continue
		}
		var c int
		for {
			c = s.rng.IntN(len(s.particles))
			if good[c] && s.rng.Float64() < math.Exp(s.logPush(s.assignments[c])-maxPush) {
				break
			}
		}
		copy(s.particles[i], s.particles[c])
		s.likelihoods[i] = s.likelihoods[c]
		s.assignments[i] = s.assignments[c]
	}
	s.logger.Debug("Replaced lagging particles", zap.Int("count", nBad))
}

// save appends the live population and the level table to the backend
func (s *Sampler) save(iter int) error {
	snap := sampling.Snapshot{
		Iteration: iter,
		Coords:    s.particles,
		Info:      make([]sampling.SampleInfo, len(s.particles)),
	}
	for i, l := range s.likelihoods {
		snap.Info[i] = sampling.SampleInfo{
			Level:         s.assignments[i],
			LogLikelihood: l.value,
			Tiebreaker:    l.tiebreaker,
		}
	}
	if err := s.backend.WriteSnapshot(snap); err != nil {
		return err
	}
	return s.backend.WriteLevels(s.levelInfos())
}

func (s *Sampler) reportProgress(iter int) {
	ev, err := integrate(s.levelInfos(), flattenInfo(s.backend.Snapshots()))
	if err != nil {
		s.logger.Debug("Progress estimate unavailable", zap.Int("iteration", iter), zap.Error(err))
		return
	}
	s.logger.Info("Progress",
		zap.Int("iteration", iter),
		zap.Float64("log_Z", ev.logZ),
		zap.Int("levels", len(s.levels)),
	)
	if s.config.Progress != nil {
		s.config.Progress(iter, ev.logZ)
	}
}

// evaluate calls the log-likelihood and maps NaN to -Inf
func (s *Sampler) evaluate(x []float64) (float64, error) {
	v, err := s.logL(x)
	if err != nil {
		return 0, err
	}
	return sampling.SanitizeLogLikelihood(v), nil
}

func (s *Sampler) levelInfos() []sampling.LevelInfo {
	out := make([]sampling.LevelInfo, len(s.levels))
	for i, l := range s.levels {
		out[i] = l.info()
	}
	return out
}

// State returns the lifecycle state
func (s *Sampler) State() sampling.State {
	return s.state
}

// Config returns the effective configuration after defaults
func (s *Sampler) Config() Config {
	return s.config
}

// Parameters returns the sampled parameters
func (s *Sampler) Parameters() []sampling.SampledParameter {
	return s.params
}

// Perturber returns the proposal move
func (s *Sampler) Perturber() *Perturber {
	return s.perturber
}

// Backend returns the trace storage
func (s *Sampler) Backend() backend.Backend {
	return s.backend
}

// Levels returns the current level table
func (s *Sampler) Levels() []sampling.LevelInfo {
	return s.levelInfos()
}

func (s *Sampler) ready(op string) error {
	if s.state != sampling.Finalized {
		return sampling.NotReady("diffusive_sampler", op, "run has not finished")
	}
	return nil
}

// Posteriors returns the histogram estimate of each parameter's posterior
// marginal. The histograms are computed once and cached.
func (s *Sampler) Posteriors() (map[string]sampling.Marginal, error) {
	if _, err := s.Estimate(); err != nil {
		return nil, err
	}
	s.posteriorOnce.Do(func() {
		s.marginals = sampling.Marginals(s.params, s.posterior)
	})
	return s.marginals, nil
}

// PosteriorSamples returns the equal-weight posterior samples
func (s *Sampler) PosteriorSamples() ([][]float64, error) {
	if _, err := s.Estimate(); err != nil {
		return nil, err
	}
	return s.backend.PosteriorSamples()
}

// PosteriorMoments returns mean, variance, skew and excess kurtosis of each
// parameter's posterior
func (s *Sampler) PosteriorMoments() (map[string]sampling.Moments, error) {
	if _, err := s.Estimate(); err != nil {
		return nil, err
	}
	return sampling.PosteriorMoments(s.params, s.posterior), nil
}

// LastLive returns the final live sample with its posterior weights
func (s *Sampler) LastLive() (sampling.Snapshot, error) {
	if _, err := s.Estimate(); err != nil {
		return sampling.Snapshot{}, err
	}
	return s.backend.Last()
}

// AkaikeIC estimates the Akaike information criterion from the final live
// sample
func (s *Sampler) AkaikeIC() (float64, error) {
	live, err := s.LastLive()
	if err != nil {
		return 0, err
	}
	return criteria.Akaike(len(s.params), live)
}

// BayesianIC estimates the Bayesian information criterion for nData observed
// data points
func (s *Sampler) BayesianIC(nData int) (float64, error) {
	live, err := s.LastLive()
	if err != nil {
		return 0, err
	}
	return criteria.Bayesian(len(s.params), nData, live)
}

// DevianceIC estimates the deviance information criterion from the final
// live sample
func (s *Sampler) DevianceIC() (float64, error) {
	live, err := s.LastLive()
	if err != nil {
		return 0, err
	}
	return criteria.Deviance(live, s.logL)
}

// BestFitLikelihood returns the trace sample with the largest log-likelihood
func (s *Sampler) BestFitLikelihood() ([]float64, float64, error) {
	if err := s.ready("BestFitLikelihood"); err != nil {
		return nil, 0, err
	}
	var best []float64
	bestL := math.Inf(-1)
	for _, snap := range s.backend.Snapshots() {
		for i, info := range snap.Info {
			if best == nil || info.LogLikelihood > bestL {
				best, bestL = snap.Coords[i], info.LogLikelihood
			}
		}
	}
	if best == nil {
		return nil, 0, sampling.NotReady("diffusive_sampler", "BestFitLikelihood", "trace is empty")
	}
	return append([]float64(nil), best...), bestL, nil
}

// BestFitPosterior returns the trace sample with the largest posterior
// weight and the posterior standard deviation of each parameter
func (s *Sampler) BestFitPosterior() ([]float64, []float64, error) {
	if _, err := s.Estimate(); err != nil {
		return nil, nil, err
	}
	snaps := s.backend.Snapshots()
	bestRow, row := -1, 0
	var best []float64
	for _, snap := range snaps {
		for i := range snap.Coords {
			if bestRow < 0 || s.probs[row] > s.probs[bestRow] {
				bestRow, best = row, snap.Coords[i]
			}
			row++
		}
	}
	moments := sampling.PosteriorMoments(s.params, s.posterior)
	spread := make([]float64, len(s.params))
	for j, p := range s.params {
		spread[j] = math.Sqrt(moments[p.Name()].Variance)
	}
	return append([]float64(nil), best...), spread, nil
}

// Close releases backend resources of a run that will not be finished
func (s *Sampler) Close() error {
	return s.backend.Close()
}

var _ sampling.NestedSampler = (*Sampler)(nil)
