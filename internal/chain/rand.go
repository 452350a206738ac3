package chain

import (
	"fmt"
	"math/rand/v2"
)

// #region rand
// Rand is the chain-private generator: a PCG stream seeded from the chain seed.
// Its state can be persisted so a resumed chain continues the same stream.
type Rand struct {
	pcg *rand.PCG
	r   *rand.Rand
}

// NewRand creates a generator for the given seed.
func NewRand(seed uint64) *Rand {
	pcg := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Rand{pcg: pcg, r: rand.New(pcg)}
}

// UniformOpen01 returns a uniform draw from the open interval (0, 1).
func (g *Rand) UniformOpen01() float64 {
	for {
		if u := g.r.Float64(); u > 0 {
			return u
		}
	}
}

// NormFloat64 returns a standard normal draw.
func (g *Rand) NormFloat64() float64 {
	return g.r.NormFloat64()
}

// MarshalBinary encodes the generator state.
func (g *Rand) MarshalBinary() ([]byte, error) {
	return g.pcg.MarshalBinary()
}

// UnmarshalBinary restores a state produced by MarshalBinary.
func (g *Rand) UnmarshalBinary(b []byte) error {
	if err := g.pcg.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("restore rng: %w", err)
	}
	return nil
}

// #endregion rand
