package chain

import (
	"fmt"
	"strings"
)

// #region parameter-descriptor
// ParameterDescriptor describes one dimension of the sampled parameter space.
// The interval [Min, Max] is closed.
type ParameterDescriptor struct {
	Name     string
	Min      float64
	Max      float64
	Nuisance bool
	Discrete bool
}

// Contains reports whether v lies inside [Min, Max].
func (p ParameterDescriptor) Contains(v float64) bool {
	return v >= p.Min && v <= p.Max
}

// #endregion parameter-descriptor

// #region hyper-parameter
// HyperParameter tags a state with the proposal component that generated it.
// Only adaptive kernels read it.
type HyperParameter struct {
	Component uint32
}

// #endregion hyper-parameter

// #region state
// State is a point in parameter space together with its log densities.
// For an evaluated state LogPosterior == LogPrior + LogLikelihood.
type State struct {
	Point          []float64
	LogPrior       float64
	LogLikelihood  float64
	LogPosterior   float64
	HyperParameter HyperParameter
}

// NewState returns a zero state of the given dimension.
func NewState(dim int) State {
	return State{Point: make([]float64, dim)}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Point = append([]float64(nil), s.Point...)
	return out
}

// copyFrom overwrites s with src without reallocating s.Point.
func (s *State) copyFrom(src State) {
	if len(s.Point) != len(src.Point) {
		s.Point = make([]float64, len(src.Point))
	}
	copy(s.Point, src.Point)
	s.LogPrior = src.LogPrior
	s.LogLikelihood = src.LogLikelihood
	s.LogPosterior = src.LogPosterior
	s.HyperParameter = src.HyperParameter
}

func (s State) String() string {
	var b strings.Builder
	b.WriteString("point = ( ")
	for _, v := range s.Point {
		fmt.Fprintf(&b, "%g ", v)
	}
	fmt.Fprintf(&b, "), prior = %g, likelihood = %g, posterior = %g", s.LogPrior, s.LogLikelihood, s.LogPosterior)
	return b.String()
}

// #endregion state

// #region shadow-records
// ProposalRecord is one entry of the proposed-points shadow history.
type ProposalRecord struct {
	Accepted     bool
	LogPosterior float64
	Point        []float64
}

// ObservableRecord holds the observable cache read out after a proposal.
type ObservableRecord struct {
	LogLikelihood float64
	Values        []float64
}

// #endregion shadow-records
