package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/nsel/internal/logging"
	"github.com/copyleftdev/nsel/internal/models"
	"github.com/copyleftdev/nsel/internal/sampling/diffusive"
)

type benchOptions struct {
	ndim       int
	population int
	levels     int
	steps      int
	perStep    int
	interval   int
	seed       uint64
	verbose    bool
}

func newBenchCmd(root *rootOptions) *cobra.Command {
	opts := &benchOptions{}
	cmd := &cobra.Command{
		Use:       "bench [gaussian|multimodal|eggcarton]",
		Short:     "Compare the estimated log evidence of a benchmark with its analytic value",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"gaussian", "multimodal", "eggcarton"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, root, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.ndim, "ndim", 2, "dimension of the gaussian benchmark")
	flags.IntVar(&opts.population, "population", 0, "live particles (default from SAMPLER_POPULATION_SIZE)")
	flags.IntVar(&opts.levels, "levels", 0, "diffusive levels (default from SAMPLER_LEVELS)")
	flags.IntVar(&opts.steps, "steps", 0, "outer iterations (default from SAMPLER_NUM_STEPS)")
	flags.IntVar(&opts.perStep, "per-step", 0, "moves per iteration (default from SAMPLER_NUM_PER_STEP)")
	flags.IntVar(&opts.interval, "new-level-interval", 0, "likelihoods collected per new level")
	flags.Uint64Var(&opts.seed, "seed", 1, "random seed")
	flags.BoolVar(&opts.verbose, "verbose", false, "print the running evidence estimate")
	return cmd
}

func runBench(cmd *cobra.Command, root *rootOptions, opts *benchOptions, name string) error {
	cfg, logger, err := root.setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	b, err := models.LookupBenchmark(strings.ToLower(name), opts.ndim)
	if err != nil {
		return err
	}

	sc := cfg.SamplerConfig()
	sc.Seed = opts.seed
	if opts.population > 0 {
		sc.PopulationSize = opts.population
	}
	if opts.levels > 0 {
		sc.Levels = opts.levels
	}
	if opts.steps > 0 {
		sc.NumSteps = opts.steps
	}
	if opts.perStep > 0 {
		sc.NumPerStep = opts.perStep
	}
	if opts.interval > 0 {
		sc.NewLevelInterval = opts.interval
	}

	out := cmd.OutOrStdout()
	if opts.verbose {
		sc.Verbose = true
		sc.ProgressInterval = max(1, sc.NumSteps/10)
		sc.Progress = func(iteration int, logZ float64) {
			fmt.Fprintf(out, "iteration %d: log Z = %.4f\n", iteration, logZ)
		}
	}

	sampler, err := diffusive.New(b.Parameters, b.LogL, sc,
		diffusive.WithLogger(logging.NewZapLogger(logger, "bench")))
	if err != nil {
		return err
	}
	defer func() { _ = sampler.Close() }()

	start := time.Now()
	logZ, logZErr, err := sampler.Run(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "benchmark:      %s (%d parameters)\n", b.Name, len(b.Parameters))
	fmt.Fprintf(out, "levels:         %d\n", len(sampler.Levels()))
	fmt.Fprintf(out, "log Z:          %.4f +/- %.4f\n", logZ, logZErr)
	fmt.Fprintf(out, "analytic log Z: %.4f\n", b.LogEvidence)
	fmt.Fprintf(out, "difference:     %.4f\n", math.Abs(logZ-b.LogEvidence))
	fmt.Fprintf(out, "elapsed:        %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}
