package chain

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	// ErrConfiguration marks errors the caller must fix before building a new chain.
	ErrConfiguration = errors.New("chain configuration error")

	// ErrNumerical marks a non-finite Metropolis-Hastings ratio.
	ErrNumerical = errors.New("chain numerical error")

	// ErrPersistence marks an invalid checkpoint request or unreadable checkpoint.
	ErrPersistence = errors.New("chain persistence error")
)

// #endregion sentinels

// #region numerical-error
// NumericalError reports which term of the acceptance ratio was not finite.
type NumericalError struct {
	Iteration     int
	PosteriorTerm float64
	ProposalTerm  float64
}

func (e *NumericalError) Error() string {
	return fmt.Sprintf("non-finite acceptance ratio in iteration %d: posterior ratio %.6g, proposal ratio %.6g; "+
		"a non-finite proposal ratio usually means the proposal covariance is not invertible",
		e.Iteration, e.PosteriorTerm, e.ProposalTerm)
}

func (e *NumericalError) Unwrap() error { return ErrNumerical }

// #endregion numerical-error

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func persistErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPersistence, fmt.Sprintf(format, args...))
}
