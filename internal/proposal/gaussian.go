package proposal

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
)

// GaussianType names the Gaussian kernel in stored kernel states.
const GaussianType = "Gaussian"

// #region gaussian
// Gaussian is a random walk with independent normal steps per dimension.
// It is symmetric, so its transition densities cancel in the acceptance ratio.
type Gaussian struct {
	steps []float64
	scale float64
}

// NewGaussian returns a kernel with the given per-dimension step sizes.
func NewGaussian(steps []float64) (*Gaussian, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: gaussian kernel needs at least one step size", chain.ErrConfiguration)
	}
	for i, s := range steps {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: step size %d is %g, must be positive and finite", chain.ErrConfiguration, i, s)
		}
	}
	return &Gaussian{
		steps: append([]float64(nil), steps...),
		scale: 2.38 / math.Sqrt(float64(len(steps))),
	}, nil
}

// Steps returns a copy of the current step sizes.
func (g *Gaussian) Steps() []float64 { return append([]float64(nil), g.steps...) }

// Propose draws dst.Point around from.Point.
func (g *Gaussian) Propose(dst *chain.State, from chain.State, rng chain.Source) {
	for i, x := range from.Point {
		dst.Point[i] = x + g.steps[i]*rng.NormFloat64()
	}
	dst.HyperParameter = from.HyperParameter
}

// TransitionLogDensity is log q(to | from).
func (g *Gaussian) TransitionLogDensity(from, to chain.State) float64 {
	var sum float64
	for i, x := range from.Point {
		sum += distuv.Normal{Mu: x, Sigma: g.steps[i]}.LogProb(to.Point[i])
	}
	return sum
}

// Clone returns an independent copy.
func (g *Gaussian) Clone() chain.Kernel {
	return &Gaussian{steps: append([]float64(nil), g.steps...), scale: g.scale}
}

// #endregion gaussian

// #region adapt
// Adapt rescales the walk after a prerun. The shape follows the sample
// standard deviation of states where it is available; the overall scale
// shrinks below the efficiency window and grows above it.
func (g *Gaussian) Adapt(states []chain.State, efficiency, efficiencyMin, efficiencyMax float64) error {
	if efficiencyMin > efficiencyMax {
		return fmt.Errorf("%w: efficiency window [%g, %g] is empty", chain.ErrConfiguration, efficiencyMin, efficiencyMax)
	}
	factor := 1.0
	switch {
	case efficiency < efficiencyMin:
		factor = shrink
	case efficiency > efficiencyMax:
		factor = grow
	}
	g.scale *= factor

	column := make([]float64, len(states))
	for i := range g.steps {
		sd := 0.0
		if len(states) >= 2 {
			for j, s := range states {
				column[j] = s.Point[i]
			}
			sd = stat.StdDev(column, nil)
		}
		if sd > 0 && !math.IsInf(sd, 0) {
			g.steps[i] = g.scale * sd
		} else {
			g.steps[i] *= factor
		}
	}
	return nil
}

const (
	shrink = 0.7
	grow   = 1.4
)

// #endregion adapt

// #region state
// DumpState encodes the step sizes and scale as a protobuf Struct.
func (g *Gaussian) DumpState() (chain.KernelState, error) {
	steps := make([]any, len(g.steps))
	for i, s := range g.steps {
		steps[i] = s
	}
	st, err := structpb.NewStruct(map[string]any{
		"sigma": steps,
		"scale": g.scale,
	})
	if err != nil {
		return chain.KernelState{}, fmt.Errorf("encode gaussian state: %w", err)
	}
	payload, err := proto.Marshal(st)
	if err != nil {
		return chain.KernelState{}, fmt.Errorf("marshal gaussian state: %w", err)
	}
	return chain.KernelState{Type: GaussianType, Dimension: len(g.steps), Payload: payload}, nil
}

func loadGaussian(ks chain.KernelState) (*Gaussian, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(ks.Payload, &st); err != nil {
		return nil, fmt.Errorf("unmarshal gaussian state: %w", err)
	}
	values := st.GetFields()["sigma"].GetListValue().GetValues()
	if len(values) != ks.Dimension {
		return nil, fmt.Errorf("gaussian state holds %d step sizes, want %d", len(values), ks.Dimension)
	}
	steps := make([]float64, len(values))
	for i, v := range values {
		steps[i] = v.GetNumberValue()
	}
	g, err := NewGaussian(steps)
	if err != nil {
		return nil, err
	}
	if sc, ok := st.GetFields()["scale"]; ok && sc.GetNumberValue() > 0 {
		g.scale = sc.GetNumberValue()
	}
	return g, nil
}

// #endregion state

// #region factory
// Make rebuilds a kernel from its stored state.
func Make(ks chain.KernelState) (chain.Kernel, error) {
	switch ks.Type {
	case GaussianType:
		return loadGaussian(ks)
	default:
		return nil, fmt.Errorf("unknown proposal kernel type %q", ks.Type)
	}
}

// #endregion factory

var (
	_ chain.Kernel  = (*Gaussian)(nil)
	_ chain.Adapter = (*Gaussian)(nil)
)
