package chain

import (
	"fmt"
	"runtime/debug"
)

// Version identifies the build that wrote a checkpoint. Overridden at link
// time with -ldflags "-X .../internal/chain.Version=...".
var Version = ""

// #region store-contract
// Description is the immutable per-run table written once by DumpDescription.
type Description struct {
	Parameters  []ParameterDescriptor
	Priors      []string
	Constraints []string
	Observables []string
	Version     string
}

// HistoryRecord is everything one DumpHistory call appends. A sample row is
// (point[0..D-1], log posterior); Mode has the same shape.
type HistoryRecord struct {
	Samples     [][]float64
	Mode        []float64
	Proposed    []ProposalRecord
	Observables []ObservableRecord
}

// Writer is the write side of the structured checkpoint store. Data sets
// are grouped under a base name, one base per chain.
type Writer interface {
	WriteDescription(base string, d Description) error
	AppendHistory(base string, rec HistoryRecord) error
	WriteProposal(base string, ks KernelState) error
	WriteRNG(base string, state []byte) error
}

// Reader is the read side of the structured checkpoint store.
type Reader interface {
	ReadDescription(base string) (Description, error)
	ReadSamples(base string, dimension int) ([][]float64, error)
	ReadMode(base string, dimension int) ([]float64, error)
	ReadProposal(base string) (KernelState, error)
	ReadRNG(base string) ([]byte, error)
}

// Store combines both sides.
type Store interface {
	Writer
	Reader
}

// #endregion store-contract

// #region dump
// DumpDescription writes the parameter table, the likelihood term names and,
// when shadow histories are kept, the observable names.
func (c *Chain) DumpDescription(w Writer, base string) error {
	d := Description{
		Parameters: c.Parameters(),
		Priors:     make([]string, len(c.params)),
		Version:    buildVersion(),
	}
	if desc, ok := c.analysis.(Describer); ok {
		for i := range c.params {
			d.Priors[i] = desc.PriorDescription(i)
		}
		d.Constraints = append([]string(nil), desc.ConstraintNames()...)
	}
	if c.keepObservablesAndProposals {
		if src, ok := c.analysis.(ObservableSource); ok {
			d.Observables = append([]string(nil), src.ObservableNames()...)
		}
	}
	if err := w.WriteDescription(base, d); err != nil {
		return fmt.Errorf("dump description: %w", err)
	}
	return nil
}

// DumpHistory appends the last `last` states of the history and overwrites
// the mode record. Nothing is written if the request exceeds what is held.
func (c *Chain) DumpHistory(w Writer, base string, last int) error {
	if last < 0 {
		return persistErrorf("dump history: negative iteration count %d", last)
	}
	if last > len(c.history.States) {
		return persistErrorf("dump history: cannot store more samples (%d) than there are in history (%d)", last, len(c.history.States))
	}
	if c.keepObservablesAndProposals {
		if last > len(c.proposalHistory) || last > len(c.observableHistory) {
			return persistErrorf("dump history: cannot store %d proposals, only %d proposals and %d observable records held",
				last, len(c.proposalHistory), len(c.observableHistory))
		}
	}

	rec := HistoryRecord{
		Samples: make([][]float64, 0, last),
		Mode:    sampleRow(c.stats.ParametersAtMode, c.stats.ModeOfPosterior),
	}
	for _, s := range c.history.States[len(c.history.States)-last:] {
		rec.Samples = append(rec.Samples, sampleRow(s.Point, s.LogPosterior))
	}
	if c.keepObservablesAndProposals {
		rec.Proposed = c.proposalHistory[len(c.proposalHistory)-last:]
		rec.Observables = c.observableHistory[len(c.observableHistory)-last:]
	}

	if err := w.AppendHistory(base, rec); err != nil {
		return fmt.Errorf("dump history: %w", err)
	}
	return nil
}

// DumpProposal stores the kernel state.
func (c *Chain) DumpProposal(w Writer, base string) error {
	ks, err := c.kernel.DumpState()
	if err != nil {
		return fmt.Errorf("dump proposal: %w", err)
	}
	if err := w.WriteProposal(base, ks); err != nil {
		return fmt.Errorf("dump proposal: %w", err)
	}
	return nil
}

// DumpRNG stores the generator state so a resumed chain continues the same stream.
func (c *Chain) DumpRNG(w Writer, base string) error {
	b, err := c.rng.MarshalBinary()
	if err != nil {
		return fmt.Errorf("dump rng: %w", err)
	}
	if err := w.WriteRNG(base, b); err != nil {
		return fmt.Errorf("dump rng: %w", err)
	}
	return nil
}

func sampleRow(point []float64, logPosterior float64) []float64 {
	row := make([]float64, len(point)+1)
	copy(row, point)
	row[len(point)] = logPosterior
	return row
}

func buildVersion() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
		if info.Main.Version != "" {
			return info.Main.Version
		}
	}
	return "unknown"
}

// #endregion dump

// #region read
// ReadDescription reads the parameter table written by DumpDescription.
func ReadDescription(r Reader, base string) (Description, error) {
	d, err := r.ReadDescription(base)
	if err != nil {
		return Description{}, fmt.Errorf("%w: read description: %w", ErrPersistence, err)
	}
	return d, nil
}

// ReadHistory rebuilds a history from the stored samples. Only the point and
// the log posterior are persisted.
func ReadHistory(r Reader, base string, dimension int) (History, error) {
	rows, err := r.ReadSamples(base, dimension)
	if err != nil {
		return History{}, fmt.Errorf("%w: read history: %w", ErrPersistence, err)
	}
	h := History{Keep: true, States: make([]State, 0, len(rows))}
	for i, row := range rows {
		if len(row) != dimension+1 {
			return History{}, persistErrorf("read history: sample %d has width %d, want %d", i, len(row), dimension+1)
		}
		h.States = append(h.States, State{
			Point:        append([]float64(nil), row[:dimension]...),
			LogPosterior: row[dimension],
		})
	}
	return h, nil
}

// ReadProposal rebuilds the kernel with factory and returns it with its type name.
func ReadProposal(r Reader, base string, factory KernelFactory) (Kernel, string, error) {
	k, ks, err := readKernel(r, base, factory)
	if err != nil {
		return nil, "", err
	}
	return k, ks.Type, nil
}

func readKernel(r Reader, base string, factory KernelFactory) (Kernel, KernelState, error) {
	ks, err := r.ReadProposal(base)
	if err != nil {
		return nil, KernelState{}, fmt.Errorf("%w: read proposal: %w", ErrPersistence, err)
	}
	k, err := factory(ks)
	if err != nil {
		return nil, KernelState{}, fmt.Errorf("%w: rebuild proposal %q: %w", ErrPersistence, ks.Type, err)
	}
	return k, ks, nil
}

// ReadStats restores the mode. Running means and variances are not persisted.
func ReadStats(r Reader, base string, dimension int) (Stats, error) {
	row, err := r.ReadMode(base, dimension)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: read stats: %w", ErrPersistence, err)
	}
	if len(row) != dimension+1 {
		return Stats{}, persistErrorf("read stats: mode record has width %d, want %d", len(row), dimension+1)
	}
	return Stats{
		ModeOfPosterior:  row[dimension],
		ParametersAtMode: append([]float64(nil), row[:dimension]...),
	}, nil
}

// ReadRNG returns the stored generator state.
func ReadRNG(r Reader, base string) ([]byte, error) {
	b, err := r.ReadRNG(base)
	if err != nil {
		return nil, fmt.Errorf("%w: read rng: %w", ErrPersistence, err)
	}
	return b, nil
}

// #endregion read

// #region checkpoint
// Checkpoint bundles what is needed to resume a chain.
type Checkpoint struct {
	History    History
	Kernel     Kernel
	KernelType string
	Stats      Stats
	RNGState   []byte
}

// ReadCheckpoint reads history, proposal, stats and RNG state under base.
// The dimension is taken from the stored kernel state.
func ReadCheckpoint(r Reader, base string, factory KernelFactory) (Checkpoint, error) {
	k, ks, err := readKernel(r, base, factory)
	if err != nil {
		return Checkpoint{}, err
	}
	h, err := ReadHistory(r, base, ks.Dimension)
	if err != nil {
		return Checkpoint{}, err
	}
	st, err := ReadStats(r, base, ks.Dimension)
	if err != nil {
		return Checkpoint{}, err
	}
	rng, err := ReadRNG(r, base)
	if err != nil {
		return Checkpoint{}, err
	}
	return Checkpoint{History: h, Kernel: k, KernelType: ks.Type, Stats: st, RNGState: rng}, nil
}

// Restore continues the chain from the last checkpointed sample with the
// checkpointed kernel, mode and random stream.
func (c *Chain) Restore(cp Checkpoint) error {
	last, ok := cp.History.Last()
	if !ok {
		return persistErrorf("restore: checkpoint holds no samples")
	}
	if cp.Kernel != nil {
		if err := c.SetKernel(cp.Kernel); err != nil {
			return err
		}
	}
	if err := c.SetPoint(last.Point, last.HyperParameter); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if len(cp.Stats.ParametersAtMode) > 0 {
		if err := c.SetMode(cp.Stats.ParametersAtMode, cp.Stats.ModeOfPosterior); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		c.stats.trackMode(c.current)
	}
	if len(cp.RNGState) > 0 {
		if err := c.rng.UnmarshalBinary(cp.RNGState); err != nil {
			return fmt.Errorf("%w: restore: %w", ErrPersistence, err)
		}
	}
	return nil
}

// #endregion checkpoint
