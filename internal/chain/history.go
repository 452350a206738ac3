package chain

import "fmt"

// #region history
// History is the append-only record of current states, one per iteration.
// When Keep is false the chain runs without retaining states.
type History struct {
	Keep   bool
	States []State
}

// Len returns the number of stored states.
func (h *History) Len() int { return len(h.States) }

// Last returns the most recent state.
func (h *History) Last() (State, bool) {
	if len(h.States) == 0 {
		return State{}, false
	}
	return h.States[len(h.States)-1], true
}

func (h *History) push(s State) {
	if h.Keep {
		h.States = append(h.States, s.Clone())
	}
}

func (h *History) checkRange(lo, hi int) error {
	if lo < 0 || hi > len(h.States) || lo >= hi {
		return fmt.Errorf("history range [%d, %d) invalid for %d states", lo, hi, len(h.States))
	}
	return nil
}

// #endregion history

// #region local-mode
// LocalMode returns the state with the highest posterior in States[lo:hi].
func (h *History) LocalMode(lo, hi int) (State, error) {
	if err := h.checkRange(lo, hi); err != nil {
		return State{}, err
	}
	best := lo
	for i := lo + 1; i < hi; i++ {
		if h.States[i].LogPosterior > h.States[best].LogPosterior {
			best = i
		}
	}
	return h.States[best], nil
}

// #endregion local-mode

// #region mean-and-variance
// MeanAndVariance computes per-parameter mean and sample variance over
// States[lo:hi] with Welford's method.
func (h *History) MeanAndVariance(lo, hi int) (mean, variance []float64, err error) {
	if err := h.checkRange(lo, hi); err != nil {
		return nil, nil, err
	}
	dim := len(h.States[lo].Point)
	acc := make([]welford, dim)
	for _, s := range h.States[lo:hi] {
		for i, x := range s.Point {
			acc[i].add(x)
		}
	}
	mean = make([]float64, dim)
	variance = make([]float64, dim)
	for i := range acc {
		mean[i] = acc[i].mean
		variance[i] = acc[i].variance()
	}
	return mean, variance, nil
}

// MeanAndCovariance computes the mean and the row-major dim*dim sample
// covariance over States[lo:hi].
func (h *History) MeanAndCovariance(lo, hi int) (mean, covariance []float64, err error) {
	mean, variance, err := h.MeanAndVariance(lo, hi)
	if err != nil {
		return nil, nil, err
	}
	dim := len(mean)
	covariance = make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		covariance[i*dim+i] = variance[i]
	}
	n := hi - lo
	if n < 2 {
		return mean, covariance, nil
	}
	for _, s := range h.States[lo:hi] {
		for i := 0; i < dim; i++ {
			for j := i + 1; j < dim; j++ {
				c := (s.Point[i] - mean[i]) * (s.Point[j] - mean[j])
				covariance[i*dim+j] += c
				covariance[j*dim+i] += c
			}
		}
	}
	for i := 0; i < dim; i++ {
		for j := i + 1; j < dim; j++ {
			covariance[i*dim+j] /= float64(n - 1)
			covariance[j*dim+i] /= float64(n - 1)
		}
	}
	return mean, covariance, nil
}

// #endregion mean-and-variance
