package chain

import (
	"fmt"
	"log/slog"
	"math"
)

// #region chain-struct
// Chain is a single Metropolis-Hastings random walk over the posterior of a
// privately cloned Analysis. A Chain is not safe for concurrent use; run one
// Chain per goroutine.
type Chain struct {
	analysis Analysis
	kernel   Kernel
	params   []ParameterDescriptor
	rng      *Rand
	logger   *slog.Logger

	current  State
	proposal State
	accepted bool

	currentIteration int
	runIterations    int

	stats   runningStats
	history History

	keepObservablesAndProposals bool
	proposalHistory             []ProposalRecord
	observableHistory           []ObservableRecord
}

// Option configures a Chain at construction.
type Option func(*Chain)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) {
		if l != nil {
			c.logger = l
		}
	}
}

// #endregion chain-struct

// #region outcome
type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeRejected
	outcomeInvalid
)

// #endregion outcome

// #region constructor
// New clones the analysis and the kernel, draws a starting point uniformly
// inside the parameter ranges and evaluates it.
func New(a Analysis, seed uint64, k Kernel, opts ...Option) (*Chain, error) {
	if a == nil {
		return nil, configErrorf("chain needs a non-nil analysis")
	}
	if k == nil {
		return nil, configErrorf("chain needs a non-empty proposal kernel")
	}

	analysis := a.Clone()
	params := append([]ParameterDescriptor(nil), analysis.Parameters()...)
	if len(params) == 0 {
		return nil, configErrorf("number of parameters does not exceed 0")
	}
	for _, p := range params {
		if p.Discrete {
			return nil, configErrorf("parameter %q is discrete; discrete parameters are not sampled by this chain", p.Name)
		}
		if math.IsNaN(p.Min) || math.IsNaN(p.Max) || math.IsInf(p.Min, 0) || math.IsInf(p.Max, 0) || p.Min > p.Max {
			return nil, configErrorf("parameter %q has invalid range [%g, %g]", p.Name, p.Min, p.Max)
		}
	}

	c := &Chain{
		analysis: analysis,
		kernel:   k.Clone(),
		params:   params,
		rng:      NewRand(seed),
		logger:   slog.Default(),
		current:  NewState(len(params)),
		proposal: NewState(len(params)),
		stats:    newRunningStats(len(params)),
		history:  History{Keep: true},
	}
	for _, opt := range opts {
		opt(c)
	}

	// Draw from the ranges, not the priors, so a narrow prior does not
	// collapse the starting point.
	for i, p := range c.params {
		c.current.Point[i] = p.Min + c.rng.UniformOpen01()*(p.Max-p.Min)
	}
	c.evaluate(&c.current)
	c.proposal.copyFrom(c.current)
	c.stats.trackMode(c.current)

	c.logger.Debug("starting chain", "seed", seed, "state", c.current.String())
	return c, nil
}

// #endregion constructor

// #region run
// Run performs n iterations. Per-run counters are cleared first; running
// statistics and history carry over from earlier runs.
func (c *Chain) Run(n int) error {
	if n < 0 {
		return configErrorf("negative iteration count %d", n)
	}
	c.Reset(false)
	if err := c.selfCheck(); err != nil {
		return err
	}
	c.logger.Debug("running chain", "iterations", n)

	for c.currentIteration = 0; c.currentIteration < n; c.currentIteration++ {
		c.kernel.Propose(&c.proposal, c.current, c.rng)

		out, err := c.accept()
		if err != nil {
			c.revert()
			c.stats.IterationsTotal += c.currentIteration
			c.runIterations = c.currentIteration
			return fmt.Errorf("run: %w", err)
		}

		switch out {
		case outcomeAccepted:
			c.current.copyFrom(c.proposal)
			c.stats.IterationsAccepted++
		case outcomeRejected:
			c.revert()
			c.stats.IterationsRejected++
		case outcomeInvalid:
			c.stats.IterationsInvalid++
		}
		c.accepted = out == outcomeAccepted

		c.update()
	}

	c.stats.IterationsTotal += n
	c.runIterations = n
	return nil
}

func (c *Chain) selfCheck() error {
	if len(c.params) == 0 {
		return configErrorf("number of parameters does not exceed 0")
	}
	if c.kernel == nil {
		return configErrorf("chain needs a non-empty proposal kernel")
	}
	return nil
}

// #endregion run

// #region accept
// accept range-checks the proposal, evaluates it if in range and draws the
// Metropolis-Hastings decision. Out-of-range proposals are never evaluated.
func (c *Chain) accept() (outcome, error) {
	for i, p := range c.params {
		if !p.Contains(c.proposal.Point[i]) {
			return outcomeInvalid, nil
		}
	}

	c.evaluate(&c.proposal)

	logU := math.Log(c.rng.UniformOpen01())
	logRPost := c.proposal.LogPosterior - c.current.LogPosterior
	logRProp := c.kernel.TransitionLogDensity(c.proposal, c.current) - c.kernel.TransitionLogDensity(c.current, c.proposal)
	logR := logRPost + logRProp

	if math.IsNaN(logR) || math.IsInf(logR, 0) {
		return outcomeRejected, &NumericalError{
			Iteration:     c.currentIteration,
			PosteriorTerm: logRPost,
			ProposalTerm:  logRProp,
		}
	}

	if logU < logR {
		return outcomeAccepted, nil
	}
	return outcomeRejected, nil
}

// evaluate binds s.Point to the analysis and fills the log densities.
func (c *Chain) evaluate(s *State) {
	for i, v := range s.Point {
		c.analysis.SetParameter(i, v)
	}
	s.LogLikelihood = c.analysis.LogLikelihood()
	s.LogPrior = c.analysis.LogPrior()
	s.LogPosterior = s.LogPrior + s.LogLikelihood
}

// revert restores the analysis bindings to the current point.
func (c *Chain) revert() {
	for i, v := range c.current.Point {
		c.analysis.SetParameter(i, v)
	}
}

// #endregion accept

// #region update
// update stores the current state and folds it into the running statistics,
// whatever the outcome of the iteration.
func (c *Chain) update() {
	c.history.push(c.current)

	if c.keepObservablesAndProposals {
		logPosterior := c.proposal.LogPosterior
		if !c.inRange(c.proposal.Point) {
			logPosterior = math.Inf(-1)
		}
		c.proposalHistory = append(c.proposalHistory, ProposalRecord{
			Accepted:     c.accepted,
			LogPosterior: logPosterior,
			Point:        append([]float64(nil), c.proposal.Point...),
		})

		rec := ObservableRecord{LogLikelihood: c.proposal.LogLikelihood}
		if src, ok := c.analysis.(ObservableSource); ok {
			rec.Values = append([]float64(nil), src.ObservableValues()...)
		}
		c.observableHistory = append(c.observableHistory, rec)
	}

	c.stats.observe(c.current)
}

func (c *Chain) inRange(point []float64) bool {
	for i, p := range c.params {
		if !p.Contains(point[i]) {
			return false
		}
	}
	return true
}

// #endregion update

// #region reset
// Reset clears the per-run counters. A hard reset also clears the running
// means, variances and the mode, e.g. between prerun and main run.
// Neither changes the current point or the history.
func (c *Chain) Reset(hard bool) {
	c.currentIteration = 0
	c.stats.softReset()
	if hard {
		c.stats.hardReset()
	}
}

// Clear drops the history and the shadow histories.
func (c *Chain) Clear() {
	c.history.States = nil
	c.proposalHistory = nil
	c.observableHistory = nil
}

// KeepHistory controls what runs to come retain.
func (c *Chain) KeepHistory(keep, keepObservablesAndProposals bool) {
	c.history.Keep = keep
	c.keepObservablesAndProposals = keepObservablesAndProposals
}

// #endregion reset

// #region set-point
// SetPoint moves the chain to point. It validates dimension and ranges before
// touching any state, then re-evaluates and updates the mode.
func (c *Chain) SetPoint(point []float64, hp HyperParameter) error {
	if len(point) != len(c.params) {
		return configErrorf("set point: dimension %d does not match analysis dimension %d", len(point), len(c.params))
	}
	for i, p := range c.params {
		if !p.Contains(point[i]) {
			return configErrorf("set point: parameter %q = %g out of range [%g, %g]", p.Name, point[i], p.Min, p.Max)
		}
	}

	copy(c.current.Point, point)
	c.evaluate(&c.current)
	c.current.HyperParameter = hp
	c.proposal.copyFrom(c.current)
	c.stats.trackMode(c.current)

	c.logger.Debug("set chain point", "state", c.current.String())
	return nil
}

// SetMode overrides the stored mode with a point found outside the chain.
func (c *Chain) SetMode(point []float64, logPosterior float64) error {
	if len(point) != len(c.params) {
		return configErrorf("set mode: dimension %d does not match analysis dimension %d", len(point), len(c.params))
	}
	copy(c.stats.ParametersAtMode, point)
	c.stats.ModeOfPosterior = logPosterior
	return nil
}

// #endregion set-point

// #region accessors
// CurrentState returns a copy of the current state.
func (c *Chain) CurrentState() State { return c.current.Clone() }

// ProposedState returns a copy of the most recent proposal.
func (c *Chain) ProposedState() State { return c.proposal.Clone() }

// ProposalAccepted reports whether the most recent proposal was accepted.
func (c *Chain) ProposalAccepted() bool { return c.accepted }

// CurrentIteration is the number of iterations completed in the current run.
func (c *Chain) CurrentIteration() int { return c.currentIteration }

// IterationsLastRun is the size of the most recent run.
func (c *Chain) IterationsLastRun() int { return c.runIterations }

// Statistics returns a copy of the running statistics.
func (c *Chain) Statistics() Stats { return c.stats.Stats.clone() }

// History returns the chain history. Callers must not modify it.
func (c *Chain) History() *History { return &c.history }

// ProposalHistory returns the proposed-points shadow history.
func (c *Chain) ProposalHistory() []ProposalRecord { return c.proposalHistory }

// ObservableHistory returns the observable shadow history.
func (c *Chain) ObservableHistory() []ObservableRecord { return c.observableHistory }

// KeepsObservablesAndProposals reports whether shadow histories are recorded.
func (c *Chain) KeepsObservablesAndProposals() bool { return c.keepObservablesAndProposals }

// Parameters returns the parameter descriptors of the analysis.
func (c *Chain) Parameters() []ParameterDescriptor {
	return append([]ParameterDescriptor(nil), c.params...)
}

// Dimension is the number of sampled parameters.
func (c *Chain) Dimension() int { return len(c.params) }

// Analysis returns the chain's private analysis. Its bindings equal the
// current point between iterations.
func (c *Chain) Analysis() Analysis { return c.analysis }

// Kernel returns the proposal kernel.
func (c *Chain) Kernel() Kernel { return c.kernel }

// SetKernel replaces the proposal kernel.
func (c *Chain) SetKernel(k Kernel) error {
	if k == nil {
		return configErrorf("chain needs a non-empty proposal kernel")
	}
	c.kernel = k
	return nil
}

// #endregion accessors
