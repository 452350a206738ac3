package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
)

// #region types
// Constraint is a Gaussian measurement of one parameter.
type Constraint struct {
	Name      string
	Parameter int
	Mean      float64
	Sigma     float64
}

// Gaussian is an analysis with flat priors on every parameter range and
// independent Gaussian constraints. Its parameter bindings are live: the
// densities are computed from whatever was last set.
type Gaussian struct {
	params      []chain.ParameterDescriptor
	constraints []Constraint
	values      []float64
}

// #endregion types

// #region constructor
// NewGaussian validates the parameter table and constraints. Bindings start
// at the centre of each range.
func NewGaussian(params []chain.ParameterDescriptor, constraints []Constraint) (*Gaussian, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: analysis needs at least one parameter", chain.ErrConfiguration)
	}
	names := make(map[string]bool, len(params))
	for _, p := range params {
		if names[p.Name] {
			return nil, fmt.Errorf("%w: duplicate parameter %q", chain.ErrConfiguration, p.Name)
		}
		names[p.Name] = true
		if !(p.Max > p.Min) {
			return nil, fmt.Errorf("%w: parameter %q has empty range [%g, %g]", chain.ErrConfiguration, p.Name, p.Min, p.Max)
		}
	}
	for _, c := range constraints {
		if c.Parameter < 0 || c.Parameter >= len(params) {
			return nil, fmt.Errorf("%w: constraint %q refers to parameter %d of %d", chain.ErrConfiguration, c.Name, c.Parameter, len(params))
		}
		if !(c.Sigma > 0) {
			return nil, fmt.Errorf("%w: constraint %q has non-positive width %g", chain.ErrConfiguration, c.Name, c.Sigma)
		}
	}

	g := &Gaussian{
		params:      append([]chain.ParameterDescriptor(nil), params...),
		constraints: append([]Constraint(nil), constraints...),
		values:      make([]float64, len(params)),
	}
	for i, p := range params {
		g.values[i] = 0.5 * (p.Min + p.Max)
	}
	return g, nil
}

// #endregion constructor

// #region analysis
func (g *Gaussian) Parameters() []chain.ParameterDescriptor { return g.params }
func (g *Gaussian) Parameter(i int) float64                 { return g.values[i] }
func (g *Gaussian) SetParameter(i int, v float64)           { g.values[i] = v }

// LogPrior is the flat log density, -Inf outside the box.
func (g *Gaussian) LogPrior() float64 {
	var sum float64
	for i, p := range g.params {
		sum += distuv.Uniform{Min: p.Min, Max: p.Max}.LogProb(g.values[i])
	}
	return sum
}

// LogLikelihood sums the Gaussian constraint log densities.
func (g *Gaussian) LogLikelihood() float64 {
	var sum float64
	for _, c := range g.constraints {
		sum += distuv.Normal{Mu: c.Mean, Sigma: c.Sigma}.LogProb(g.values[c.Parameter])
	}
	return sum
}

// Clone returns an analysis with its own bindings.
func (g *Gaussian) Clone() chain.Analysis {
	return &Gaussian{
		params:      append([]chain.ParameterDescriptor(nil), g.params...),
		constraints: append([]Constraint(nil), g.constraints...),
		values:      append([]float64(nil), g.values...),
	}
}

// #endregion analysis

// #region describe
func (g *Gaussian) PriorDescription(i int) string {
	p := g.params[i]
	return fmt.Sprintf("Parameter: %s, prior type: flat, range: [%g,%g]", p.Name, p.Min, p.Max)
}

func (g *Gaussian) ConstraintNames() []string {
	names := make([]string, len(g.constraints))
	for i, c := range g.constraints {
		names[i] = c.Name
	}
	return names
}

// ObservableNames lists one prediction per constraint.
func (g *Gaussian) ObservableNames() []string {
	names := make([]string, len(g.constraints))
	for i, c := range g.constraints {
		names[i] = c.Name + "::prediction"
	}
	return names
}

// ObservableValues returns the predictions at the current bindings.
func (g *Gaussian) ObservableValues() []float64 {
	out := make([]float64, len(g.constraints))
	for i, c := range g.constraints {
		out[i] = g.values[c.Parameter]
	}
	return out
}

// #endregion describe

var (
	_ chain.Analysis         = (*Gaussian)(nil)
	_ chain.Describer        = (*Gaussian)(nil)
	_ chain.ObservableSource = (*Gaussian)(nil)
)
