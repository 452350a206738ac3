package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/flavorfit/internal/analysis"
	"github.com/danielpatrickdp/flavorfit/internal/chain"
	"github.com/danielpatrickdp/flavorfit/internal/proposal"
)

// #region types
// Config is the full description of one sampling job.
type Config struct {
	Store       StoreConfig        `yaml:"store"`
	Base        string             `yaml:"base"`
	Seed        uint64             `yaml:"seed"`
	Log         LogConfig          `yaml:"log"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Prerun      PrerunConfig       `yaml:"prerun"`
	Main        MainConfig         `yaml:"main"`
	Parameters  []ParameterConfig  `yaml:"parameters"`
	Constraints []ConstraintConfig `yaml:"constraints"`
	Proposal    ProposalConfig     `yaml:"proposal"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// PrerunConfig controls the burn-in phase. Chunks run until the acceptance
// efficiency lands inside [EfficiencyMin, EfficiencyMax] or MaxChunks is hit.
type PrerunConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	MaxChunks     int     `yaml:"max_chunks"`
	EfficiencyMin float64 `yaml:"efficiency_min"`
	EfficiencyMax float64 `yaml:"efficiency_max"`
	Adapt         bool    `yaml:"adapt"`
}

// MainConfig controls the sampling phase. One checkpoint is written per chunk.
type MainConfig struct {
	Chunks                      int  `yaml:"chunks"`
	ChunkSize                   int  `yaml:"chunk_size"`
	KeepObservablesAndProposals bool `yaml:"keep_observables_and_proposals"`
	DensityEvaluations          int  `yaml:"density_evaluations"`
}

type ParameterConfig struct {
	Name     string  `yaml:"name"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Nuisance bool    `yaml:"nuisance"`
}

type ConstraintConfig struct {
	Name      string  `yaml:"name"`
	Parameter string  `yaml:"parameter"`
	Mean      float64 `yaml:"mean"`
	Sigma     float64 `yaml:"sigma"`
}

// ProposalConfig holds per-parameter step sizes. Missing steps default to a
// tenth of the parameter range.
type ProposalConfig struct {
	Steps []float64 `yaml:"steps"`
}

// #endregion types

// #region defaults
// Default returns a configuration with every knob except the model set.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "flavorfit.db"},
		Base:  "/chain #0",
		Seed:  1,
		Log:   LogConfig{Level: "info", Color: true},
		Prerun: PrerunConfig{
			ChunkSize:     1000,
			MaxChunks:     10,
			EfficiencyMin: 0.15,
			EfficiencyMax: 0.35,
			Adapt:         true,
		},
		Main: MainConfig{Chunks: 10, ChunkSize: 1000},
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults, applies FLAVORFIT_* environment
// overrides and validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Store.Path = envOr("FLAVORFIT_DB", c.Store.Path)
	c.Base = envOr("FLAVORFIT_BASE", c.Base)
	c.Log.Level = envOr("FLAVORFIT_LOG_LEVEL", c.Log.Level)
	c.Metrics.Addr = envOr("FLAVORFIT_METRICS_ADDR", c.Metrics.Addr)
	if v := envOr("FLAVORFIT_SEED", ""); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FLAVORFIT_SEED: %w", err)
		}
		c.Seed = seed
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate
// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Base == "" {
		return fmt.Errorf("base must be set")
	}
	if c.Prerun.ChunkSize < 0 || c.Prerun.MaxChunks < 0 {
		return fmt.Errorf("prerun chunk_size and max_chunks must be non-negative")
	}
	if c.Prerun.EfficiencyMin < 0 || c.Prerun.EfficiencyMax > 1 || c.Prerun.EfficiencyMin > c.Prerun.EfficiencyMax {
		return fmt.Errorf("prerun efficiency window [%g, %g] invalid", c.Prerun.EfficiencyMin, c.Prerun.EfficiencyMax)
	}
	if c.Main.Chunks <= 0 || c.Main.ChunkSize <= 0 {
		return fmt.Errorf("main chunks and chunk_size must be positive")
	}
	if c.Main.DensityEvaluations < 0 {
		return fmt.Errorf("main.density_evaluations must be non-negative")
	}
	if len(c.Parameters) == 0 {
		return fmt.Errorf("at least one parameter is required")
	}
	seen := make(map[string]bool, len(c.Parameters))
	for _, p := range c.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameter without a name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true
		if math.IsNaN(p.Min) || math.IsNaN(p.Max) || !(p.Max > p.Min) {
			return fmt.Errorf("parameter %q has empty range [%g, %g]", p.Name, p.Min, p.Max)
		}
	}
	for _, ct := range c.Constraints {
		if !seen[ct.Parameter] {
			return fmt.Errorf("constraint %q refers to unknown parameter %q", ct.Name, ct.Parameter)
		}
		if !(ct.Sigma > 0) {
			return fmt.Errorf("constraint %q has non-positive sigma %g", ct.Name, ct.Sigma)
		}
	}
	if n := len(c.Proposal.Steps); n != 0 && n != len(c.Parameters) {
		return fmt.Errorf("proposal has %d steps for %d parameters", n, len(c.Parameters))
	}
	return nil
}

// #endregion validate

// #region builders
// Descriptors returns the parameter table.
func (c Config) Descriptors() []chain.ParameterDescriptor {
	out := make([]chain.ParameterDescriptor, len(c.Parameters))
	for i, p := range c.Parameters {
		out[i] = chain.ParameterDescriptor{Name: p.Name, Min: p.Min, Max: p.Max, Nuisance: p.Nuisance}
	}
	return out
}

// Analysis builds the Gaussian analysis described by the configuration.
func (c Config) Analysis() (*analysis.Gaussian, error) {
	index := make(map[string]int, len(c.Parameters))
	for i, p := range c.Parameters {
		index[p.Name] = i
	}
	constraints := make([]analysis.Constraint, len(c.Constraints))
	for i, ct := range c.Constraints {
		idx, ok := index[ct.Parameter]
		if !ok {
			return nil, fmt.Errorf("constraint %q refers to unknown parameter %q", ct.Name, ct.Parameter)
		}
		constraints[i] = analysis.Constraint{Name: ct.Name, Parameter: idx, Mean: ct.Mean, Sigma: ct.Sigma}
	}
	return analysis.NewGaussian(c.Descriptors(), constraints)
}

// Kernel builds the Gaussian proposal kernel.
func (c Config) Kernel() (*proposal.Gaussian, error) {
	steps := append([]float64(nil), c.Proposal.Steps...)
	if len(steps) == 0 {
		steps = make([]float64, len(c.Parameters))
		for i, p := range c.Parameters {
			steps[i] = 0.1 * (p.Max - p.Min)
		}
	}
	return proposal.NewGaussian(steps)
}

// #endregion builders
