package chain

// #region analysis
// Analysis evaluates the unnormalized log posterior at its bound parameters.
//
// Parameter bindings are live: SetParameter changes what the next LogPrior and
// LogLikelihood calls see. Each Chain owns a private clone.
type Analysis interface {
	Parameters() []ParameterDescriptor
	Parameter(i int) float64
	SetParameter(i int, v float64)
	LogPrior() float64
	LogLikelihood() float64
	Clone() Analysis
}

// Describer is implemented by analyses that can describe their priors and
// likelihood terms for DumpDescription.
type Describer interface {
	PriorDescription(i int) string
	ConstraintNames() []string
}

// ObservableSource exposes the observable values computed by the most recent
// likelihood evaluation.
type ObservableSource interface {
	ObservableNames() []string
	ObservableValues() []float64
}

// #endregion analysis

// #region kernel
// Kernel proposes candidate points and supplies the transition density
// needed by the Metropolis-Hastings correction.
type Kernel interface {
	// Propose fills dst.Point (and optionally dst.HyperParameter) with a
	// candidate drawn around from. It must not touch the log fields.
	Propose(dst *State, from State, rng Source)

	// TransitionLogDensity is log q(to | from).
	TransitionLogDensity(from, to State) float64

	Clone() Kernel

	DumpState() (KernelState, error)
}

// Adapter is implemented by kernels that tune themselves on prerun history.
type Adapter interface {
	Adapt(states []State, efficiency, efficiencyMin, efficiencyMax float64) error
}

// KernelState is the opaque persisted form of a kernel.
type KernelState struct {
	Type      string
	Dimension int
	Payload   []byte
}

// KernelFactory rebuilds a kernel from its persisted state.
type KernelFactory func(KernelState) (Kernel, error)

// #endregion kernel

// #region source
// Source is the random stream handed to kernels.
type Source interface {
	// UniformOpen01 returns a uniform draw from (0, 1).
	UniformOpen01() float64
	NormFloat64() float64
}

// #endregion source
