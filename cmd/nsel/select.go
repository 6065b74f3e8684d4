package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/nsel/internal/config"
	"github.com/copyleftdev/nsel/internal/logging"
	"github.com/copyleftdev/nsel/internal/models"
	"github.com/copyleftdev/nsel/internal/selection"
)

type selectOptions struct {
	workers   int
	seed      uint64
	policy    string
	outputDir string
	timeout   time.Duration
}

func newSelectCmd(root *rootOptions) *cobra.Command {
	opts := &selectOptions{}
	cmd := &cobra.Command{
		Use:   "select [run-file]",
		Short: "Rank the models of a YAML run file by evidence",
		Long: `select runs Diffusive Nested Sampling for every model listed in the run
file and prints the evidence table, the Bayes factor matrix and the AIC,
BIC and DIC of every completed run. The run file defaults to $NSEL_CONFIG,
then nsel.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetEnv("NSEL_CONFIG", "nsel.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			return runSelect(cmd, root, opts, path)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.workers, "workers", 0, "concurrent model runs (overrides the run file)")
	flags.Uint64Var(&opts.seed, "seed", 0, "base random seed (overrides the run file)")
	flags.StringVar(&opts.policy, "policy", "", "failure policy: skip-and-continue or fail-fast")
	flags.StringVar(&opts.outputDir, "output-dir", "", "directory for persisted traces")
	flags.DurationVar(&opts.timeout, "timeout", 0, "cancel the selection after this long")
	return cmd
}

func runSelect(cmd *cobra.Command, root *rootOptions, opts *selectOptions, path string) error {
	cfg, logger, err := root.setup(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rf, err := config.LoadRunFile(path)
	if err != nil {
		return err
	}
	if opts.workers > 0 {
		rf.Workers = opts.workers
	}
	if opts.seed != 0 {
		rf.Seed = opts.seed
	}
	if opts.policy != "" {
		rf.Policy = opts.policy
	}
	if opts.outputDir != "" {
		rf.OutputDir = opts.outputDir
	}
	if err := rf.Validate(); err != nil {
		return err
	}

	candidates, err := models.Candidates(rf.Models, rf.PriorScale)
	if err != nil {
		return err
	}

	sel := selection.New(rf.OptionsWith(cfg.SelectionOptions()), logging.NewZapLogger(logger, "nsel"))
	handles, err := sel.Prepare(candidates, rf.Data(), rf.PrepareConfigWith(selection.PrepareConfig{
		SamplerConfig: cfg.SamplerConfig(),
		Likelihood:    selection.LikelihoodKind(cfg.Selection.Likelihood),
	}))
	if err != nil {
		return err
	}
	logger.Info("Running selection", map[string]interface{}{
		"run_file": path,
		"models":   len(handles),
	})

	ctx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	table, err := sel.RunAll(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printTable(out, table)
	printFailures(out, sel.Failures())

	if bf, err := sel.BayesFactors(); err == nil {
		printBayesFactors(out, bf)
	}

	aic, aicErr := sel.AkaikeIC()
	bic, bicErr := sel.BayesianIC(sel.NData())
	dic, dicErr := sel.DevianceIC()
	if aicErr == nil && bicErr == nil && dicErr == nil {
		printCriteria(out, table, aic, bic, dic)
	}
	return nil
}

func printTable(out io.Writer, table selection.Table) {
	fmt.Fprintln(out, "Evidence")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "rank\tlabel\tmodel\tlog Z\terror")
	for i, row := range table {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%.4f\n", i+1, row.Model, row.Name, row.LogEvidence, row.LogEvidenceError)
	}
	_ = w.Flush()
}

func printFailures(out io.Writer, failures []selection.RunFailure) {
	if len(failures) == 0 {
		return
	}
	fmt.Fprintln(out, "\nFailed runs")
	for _, f := range failures {
		fmt.Fprintf(out, "  %s (%s): %v\n", f.Model, f.Name, f.Err)
	}
}

func printBayesFactors(out io.Writer, bf selection.BayesFactorMatrix) {
	fmt.Fprintln(out, "\nBayes factors (row over column)")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\t"+strings.Join(bf.Labels, "\t"))
	for i, label := range bf.Labels {
		cells := make([]string, len(bf.Labels))
		for j := range bf.Labels {
			cells[j] = fmt.Sprintf("%.4g", bf.At(i, j))
		}
		fmt.Fprintln(w, label+"\t"+strings.Join(cells, "\t"))
	}
	_ = w.Flush()
	if bf.Partial() {
		fmt.Fprintf(out, "excluded (run did not complete): %s\n", strings.Join(bf.Excluded, ", "))
	}
}

func printCriteria(out io.Writer, table selection.Table, aic, bic, dic selection.CriterionTable) {
	byLabel := func(ct selection.CriterionTable) map[string]float64 {
		m := make(map[string]float64, len(ct))
		for _, row := range ct {
			m[row.Model] = row.Value
		}
		return m
	}
	a, b, d := byLabel(aic), byLabel(bic), byLabel(dic)

	fmt.Fprintln(out, "\nInformation criteria")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "label\tmodel\tAIC\tBIC\tDIC")
	for _, row := range table {
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\t%.4f\n", row.Model, row.Name, a[row.Model], b[row.Model], d[row.Model])
	}
	_ = w.Flush()
}
