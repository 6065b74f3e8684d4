// Command nsel ranks candidate models by Diffusive Nested Sampling evidence
// and checks the sampler against analytic benchmarks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/nsel/internal/config"
	"github.com/copyleftdev/nsel/internal/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "nsel",
		Short: "Bayesian model selection with Diffusive Nested Sampling",
		Long: `nsel estimates the evidence of every candidate model with Diffusive
Nested Sampling and ranks the models by evidence, Bayes factors and
information criteria.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", config.GetEnv("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", config.GetEnv("LOG_FORMAT", "console"), "log format (json, console)")

	cmd.AddCommand(newSelectCmd(opts), newBenchCmd(opts))
	return cmd
}

// setup loads the environment configuration and a stderr logger
func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  o.logLevel,
		Format: o.logFormat,
		Output: "stderr",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.WithField("command", cmd.Name()), nil
}
