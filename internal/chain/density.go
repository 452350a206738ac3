package chain

import "math"

// #region normalized-density
// NormalizedDensity estimates the posterior density at point, normalized
// against the chain's stationary distribution, by bridge sampling between
// the stored history and `evaluations` fresh kernel draws around point.
//
// The estimate is numerator/denominator. The chain's current and proposed
// states and the analysis bindings are restored before returning; the RNG
// stream advances.
func (c *Chain) NormalizedDensity(point []float64, evaluations int) (numerator, denominator float64, err error) {
	if len(point) != len(c.params) {
		return 0, 0, configErrorf("normalized density: dimension %d does not match analysis dimension %d", len(point), len(c.params))
	}
	if !c.inRange(point) {
		return 0, 0, configErrorf("normalized density: point %v outside the parameter ranges", point)
	}
	if evaluations <= 0 {
		return 0, 0, configErrorf("normalized density: need a positive number of evaluations, got %d", evaluations)
	}
	if len(c.history.States) == 0 {
		return 0, 0, configErrorf("normalized density: history is empty")
	}

	savedCurrent := c.current.Clone()
	savedProposal := c.proposal.Clone()
	defer func() {
		c.current.copyFrom(savedCurrent)
		c.proposal.copyFrom(savedProposal)
		c.revert()
	}()

	thetaStar := State{Point: append([]float64(nil), point...)}
	c.evaluate(&thetaStar)

	// Numerator: proposal density into theta* times acceptance, averaged over history.
	for _, s := range c.history.States {
		logQ := c.kernel.TransitionLogDensity(s, thetaStar)
		logAlpha := math.Min(0,
			(thetaStar.LogPosterior+c.kernel.TransitionLogDensity(thetaStar, s))-
				(s.LogPosterior+logQ))
		numerator += math.Exp(logQ + logAlpha)
	}
	numerator /= float64(len(c.history.States))

	// Denominator: acceptance of moves away from theta*, averaged over fresh draws.
	// Out-of-range draws contribute zero.
	for j := 0; j < evaluations; j++ {
		c.kernel.Propose(&c.proposal, thetaStar, c.rng)
		if !c.inRange(c.proposal.Point) {
			continue
		}
		c.evaluate(&c.proposal)
		logAlpha := math.Min(0,
			(c.proposal.LogPosterior+c.kernel.TransitionLogDensity(c.proposal, thetaStar))-
				(thetaStar.LogPosterior+c.kernel.TransitionLogDensity(thetaStar, c.proposal)))
		denominator += math.Exp(logAlpha)
	}
	denominator /= float64(evaluations)

	return numerator, denominator, nil
}

// #endregion normalized-density
