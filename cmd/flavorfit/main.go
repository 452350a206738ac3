package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
	"github.com/danielpatrickdp/flavorfit/internal/config"
	"github.com/danielpatrickdp/flavorfit/internal/logging"
)

// #region main
type globalFlags struct {
	configPath  string
	dbPath      string
	base        string
	seed        uint64
	logLevel    string
	noColor     bool
	metricsAddr string
	trace       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "flavorfit",
		Short:         "Single-chain Metropolis-Hastings sampler with SQLite checkpoints",
		Version:       chain.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&g.dbPath, "db", "", "checkpoint database (overrides store.path)")
	pf.StringVar(&g.base, "base", "", "data set base name (overrides base)")
	pf.Uint64Var(&g.seed, "seed", 0, "chain seed (overrides seed)")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colored log output")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.BoolVar(&g.trace, "trace", false, "print OpenTelemetry spans to stdout")

	root.AddCommand(newRunCmd(g), newResumeCmd(g), newInspectCmd(g))
	return root
}

// #endregion main

// #region setup
// loadConfig reads the configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command, g *globalFlags) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.Store.Path = g.dbPath
	}
	if flags.Changed("base") {
		cfg.Base = g.base
	}
	if flags.Changed("seed") {
		cfg.Seed = g.seed
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = g.logLevel
	}
	if flags.Changed("no-color") {
		cfg.Log.Color = !g.noColor
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = g.metricsAddr
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(os.Stderr, level, cfg.Log.Color), nil
}

// #endregion setup
