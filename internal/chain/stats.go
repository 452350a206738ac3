package chain

import "math"

// #region stats
// Stats summarizes the evolution of a chain.
//
// The accepted, rejected and invalid counters cover the most recent run only
// and are disjoint. Means, variances and the mode cover every iteration since
// the last hard reset.
type Stats struct {
	IterationsTotal    int
	IterationsAccepted int
	IterationsRejected int
	IterationsInvalid  int

	MeanOfParameters     []float64
	VarianceOfParameters []float64
	MeanOfPosterior      float64
	VarianceOfPosterior  float64

	ModeOfPosterior  float64
	ParametersAtMode []float64
}

// Efficiency is the accepted fraction of the most recent run.
func (s Stats) Efficiency() float64 {
	n := s.IterationsAccepted + s.IterationsRejected + s.IterationsInvalid
	if n == 0 {
		return 0
	}
	return float64(s.IterationsAccepted) / float64(n)
}

func (s Stats) clone() Stats {
	out := s
	out.MeanOfParameters = append([]float64(nil), s.MeanOfParameters...)
	out.VarianceOfParameters = append([]float64(nil), s.VarianceOfParameters...)
	out.ParametersAtMode = append([]float64(nil), s.ParametersAtMode...)
	return out
}

// #endregion stats

// #region welford
// welford is a streaming mean/variance accumulator.
type welford struct {
	count int
	mean  float64
	m2    float64
}

func (w *welford) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

// variance is the unbiased sample variance, zero below two samples.
func (w welford) variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count-1)
}

// #endregion welford

// #region running-statistics
// runningStats owns the accumulators behind Stats.
type runningStats struct {
	Stats
	parameters []welford
	posterior  welford
}

func newRunningStats(dim int) runningStats {
	var r runningStats
	r.parameters = make([]welford, dim)
	r.hardReset()
	return r
}

// softReset clears the per-run counters.
func (r *runningStats) softReset() {
	r.IterationsAccepted = 0
	r.IterationsRejected = 0
	r.IterationsInvalid = 0
}

// hardReset clears everything, including the accumulators and the mode.
func (r *runningStats) hardReset() {
	r.softReset()
	dim := len(r.parameters)
	r.IterationsTotal = 0
	for i := range r.parameters {
		r.parameters[i] = welford{}
	}
	r.posterior = welford{}
	r.MeanOfParameters = make([]float64, dim)
	r.VarianceOfParameters = make([]float64, dim)
	r.MeanOfPosterior = 0
	r.VarianceOfPosterior = 0
	r.ModeOfPosterior = -math.MaxFloat64
	r.ParametersAtMode = make([]float64, dim)
}

// observe folds the current state into the accumulators and the mode.
func (r *runningStats) observe(current State) {
	r.trackMode(current)
	for i, x := range current.Point {
		r.parameters[i].add(x)
		r.MeanOfParameters[i] = r.parameters[i].mean
		r.VarianceOfParameters[i] = r.parameters[i].variance()
	}
	r.posterior.add(current.LogPosterior)
	r.MeanOfPosterior = r.posterior.mean
	r.VarianceOfPosterior = r.posterior.variance()
}

// trackMode replaces the stored mode if s strictly exceeds it.
func (r *runningStats) trackMode(s State) bool {
	if s.LogPosterior > r.ModeOfPosterior {
		r.ModeOfPosterior = s.LogPosterior
		copy(r.ParametersAtMode, s.Point)
		return true
	}
	return false
}

// samples is the number of states folded in since the last hard reset.
func (r *runningStats) samples() int {
	return r.posterior.count
}

// #endregion running-statistics
