package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
	"github.com/danielpatrickdp/flavorfit/internal/config"
	"github.com/danielpatrickdp/flavorfit/internal/metrics"
	"github.com/danielpatrickdp/flavorfit/internal/runner"
	"github.com/danielpatrickdp/flavorfit/internal/store"
)

// #region commands
func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run prerun and main phase, checkpointing every chunk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, g, func(ctx context.Context, r *runner.Runner) (runner.Result, error) {
				return r.Run(ctx)
			})
		},
	}
}

func newResumeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue the main phase from the last checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, g, func(ctx context.Context, r *runner.Runner) (runner.Result, error) {
				return r.Resume(ctx)
			})
		},
	}
}

// #endregion commands

// #region execute
func execute(cmd *cobra.Command, g *globalFlags, phase func(context.Context, *runner.Runner) (runner.Result, error)) error {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	shutdown, err := setupTracing(g.trace)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("trace shutdown", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer srv.Close()
	}

	st, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	c, err := buildChain(cfg, logger)
	if err != nil {
		return err
	}
	r := runner.New(c, st, cfg, runner.WithLogger(logger), runner.WithMetrics(m))

	res, err := phase(ctx, r)
	if err != nil {
		return err
	}
	printSummary(cmd, cfg, res)
	return nil
}

func buildChain(cfg config.Config, logger *slog.Logger) (*chain.Chain, error) {
	a, err := cfg.Analysis()
	if err != nil {
		return nil, err
	}
	k, err := cfg.Kernel()
	if err != nil {
		return nil, err
	}
	return chain.New(a, cfg.Seed, k, chain.WithLogger(logger))
}

func printSummary(cmd *cobra.Command, cfg config.Config, res runner.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "base:        %s\n", cfg.Base)
	fmt.Fprintf(out, "samples:     %d (%d chunks this session)\n", res.Samples, res.MainChunks)
	fmt.Fprintf(out, "efficiency:  %.3f\n", res.Stats.Efficiency())
	fmt.Fprintf(out, "mode:        %.6g at %v\n", res.Stats.ModeOfPosterior, res.Stats.ParametersAtMode)
	for i, p := range cfg.Parameters {
		if i >= len(res.Stats.MeanOfParameters) {
			break
		}
		fmt.Fprintf(out, "  %-16s mean %.5g  sd %.5g\n", p.Name,
			res.Stats.MeanOfParameters[i], math.Sqrt(res.Stats.VarianceOfParameters[i]))
	}
	if res.Density != nil {
		fmt.Fprintf(out, "density at mode: %.6g\n", res.Density.Value())
	}
}

// #endregion execute
