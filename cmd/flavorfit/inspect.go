package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
	"github.com/danielpatrickdp/flavorfit/internal/config"
	"github.com/danielpatrickdp/flavorfit/internal/logging"
	"github.com/danielpatrickdp/flavorfit/internal/store"
)

// #region inspect
type inspectFlags struct {
	jsonOut bool
	last    int
}

func newInspectCmd(g *globalFlags) *cobra.Command {
	f := &inspectFlags{}
	cmd := &cobra.Command{
		Use:   "inspect [base...]",
		Short: "Summarize the chains stored in a checkpoint database",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := inspectDBPath(g)
			if err != nil {
				return err
			}
			st, err := store.NewStore(path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			bases := args
			if len(bases) == 0 {
				if bases, err = st.ListBases(); err != nil {
					return err
				}
			}
			if len(bases) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no chains found")
				return nil
			}

			summaries := make([]baseSummary, 0, len(bases))
			for _, b := range bases {
				s, err := summarize(st, b, f.last)
				if err != nil {
					return err
				}
				summaries = append(summaries, s)
			}
			if f.jsonOut {
				return printJSON(cmd.OutOrStdout(), summaries)
			}
			for _, s := range summaries {
				printSummaryTable(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "output as JSON instead of table")
	cmd.Flags().IntVar(&f.last, "last", 5, "show N most recent checkpoints")
	return cmd
}

// inspectDBPath resolves the database without requiring a full model configuration.
func inspectDBPath(g *globalFlags) (string, error) {
	if g.dbPath != "" {
		return g.dbPath, nil
	}
	if g.configPath != "" {
		cfg, err := config.Load(g.configPath)
		if err != nil {
			return "", err
		}
		return cfg.Store.Path, nil
	}
	if v := os.Getenv("FLAVORFIT_DB"); v != "" {
		return v, nil
	}
	return config.Default().Store.Path, nil
}

// #endregion inspect

// #region summary
type parameterSummary struct {
	Name     string  `json:"name"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Nuisance bool    `json:"nuisance"`
	Prior    string  `json:"prior,omitempty"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"stddev"`
	AtMode   float64 `json:"at_mode"`
}

type baseSummary struct {
	Base        string                    `json:"base"`
	Version     string                    `json:"version"`
	Samples     int                       `json:"samples"`
	Mode        float64                   `json:"mode"`
	Parameters  []parameterSummary        `json:"parameters"`
	Constraints []string                  `json:"constraints"`
	Checkpoints []logging.CheckpointEntry `json:"checkpoints"`
}

func summarize(st *store.Store, base string, last int) (baseSummary, error) {
	d, err := chain.ReadDescription(st, base)
	if err != nil {
		return baseSummary{}, err
	}
	dim := len(d.Parameters)
	h, err := chain.ReadHistory(st, base, dim)
	if err != nil {
		return baseSummary{}, err
	}

	s := baseSummary{
		Base:        base,
		Version:     d.Version,
		Samples:     h.Len(),
		Constraints: d.Constraints,
	}
	var mean, variance []float64
	if h.Len() > 0 {
		if mean, variance, err = h.MeanAndVariance(0, h.Len()); err != nil {
			return baseSummary{}, err
		}
	}
	var atMode []float64
	if h.Len() > 0 {
		stats, err := chain.ReadStats(st, base, dim)
		if err != nil {
			return baseSummary{}, err
		}
		s.Mode = stats.ModeOfPosterior
		atMode = stats.ParametersAtMode
	}
	for i, p := range d.Parameters {
		ps := parameterSummary{Name: p.Name, Min: p.Min, Max: p.Max, Nuisance: p.Nuisance}
		if i < len(d.Priors) {
			ps.Prior = d.Priors[i]
		}
		if mean != nil {
			ps.Mean = mean[i]
			ps.StdDev = math.Sqrt(variance[i])
		}
		if atMode != nil {
			ps.AtMode = atMode[i]
		}
		s.Parameters = append(s.Parameters, ps)
	}

	entries, err := logging.ListCheckpoints(st.DB(), base)
	if err != nil {
		return baseSummary{}, err
	}
	if last >= 0 && len(entries) > last {
		entries = entries[len(entries)-last:]
	}
	s.Checkpoints = entries
	return s, nil
}

func printSummaryTable(w io.Writer, s baseSummary) {
	fmt.Fprintf(w, "Base:     %s\n", s.Base)
	fmt.Fprintf(w, "Version:  %s\n", s.Version)
	fmt.Fprintf(w, "Samples:  %d\n", s.Samples)
	fmt.Fprintf(w, "Mode:     %.6g\n\n", s.Mode)

	fmt.Fprintf(w, "%-16s  %10s  %10s  %10s  %10s  %s\n", "Parameter", "Mean", "Std Dev", "At Mode", "Range", "Prior")
	for _, p := range s.Parameters {
		name := p.Name
		if p.Nuisance {
			name += " *"
		}
		fmt.Fprintf(w, "%-16s  %10.5g  %10.5g  %10.5g  [%g,%g]  %s\n",
			name, p.Mean, p.StdDev, p.AtMode, p.Min, p.Max, p.Prior)
	}

	if len(s.Checkpoints) > 0 {
		fmt.Fprintf(w, "\n%-10s  %-6s  %8s  %10s  %12s  %s\n", "Checkpoint", "Phase", "Samples", "Efficiency", "Mode", "Time")
		for _, e := range s.Checkpoints {
			fmt.Fprintf(w, "%-10s  %-6s  %8d  %10.3f  %12.6g  %s\n",
				shortID(e.CheckpointID), e.Phase, e.SamplesTotal, e.Efficiency, e.Mode,
				e.CreatedAt.Format("2006-01-02T15:04:05Z"))
		}
	}
	fmt.Fprintln(w)
}

// #endregion summary

// #region helpers
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion helpers
