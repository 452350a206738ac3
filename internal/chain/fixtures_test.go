package chain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// #region analyses
// testAnalysis is a configurable analysis with live bindings.
type testAnalysis struct {
	params   []ParameterDescriptor
	values   []float64
	logLike  func(x []float64) float64
	logPrior func(x []float64) float64
	evals    *int
}

func newTestAnalysis(params []ParameterDescriptor, logLike func([]float64) float64) *testAnalysis {
	return &testAnalysis{
		params:   params,
		values:   make([]float64, len(params)),
		logLike:  logLike,
		logPrior: func([]float64) float64 { return 0 },
		evals:    new(int),
	}
}

func (a *testAnalysis) Parameters() []ParameterDescriptor { return a.params }
func (a *testAnalysis) Parameter(i int) float64           { return a.values[i] }
func (a *testAnalysis) SetParameter(i int, v float64)     { a.values[i] = v }
func (a *testAnalysis) LogPrior() float64                 { return a.logPrior(a.values) }

func (a *testAnalysis) LogLikelihood() float64 {
	*a.evals++
	return a.logLike(a.values)
}

func (a *testAnalysis) Clone() Analysis {
	out := *a
	out.params = append([]ParameterDescriptor(nil), a.params...)
	out.values = append([]float64(nil), a.values...)
	return &out
}

func (a *testAnalysis) PriorDescription(i int) string {
	return fmt.Sprintf("flat [%g, %g]", a.params[i].Min, a.params[i].Max)
}

func (a *testAnalysis) ConstraintNames() []string { return []string{"toy::likelihood"} }

func (a *testAnalysis) ObservableNames() []string {
	names := make([]string, len(a.params))
	for i, p := range a.params {
		names[i] = "obs::" + p.Name
	}
	return names
}

func (a *testAnalysis) ObservableValues() []float64 { return append([]float64(nil), a.values...) }

func flat(x []float64) float64 { return 0 }

func standardNormal(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += -0.5*v*v - 0.5*math.Log(2*math.Pi)
	}
	return s
}

func params1D(min, max float64) []ParameterDescriptor {
	return []ParameterDescriptor{{Name: "x", Min: min, Max: max}}
}

// #endregion analyses

// #region kernels
// gaussKernel is a symmetric Gaussian random walk.
type gaussKernel struct {
	Sigma []float64 `json:"sigma"`
}

func (k *gaussKernel) Propose(dst *State, from State, rng Source) {
	for i := range from.Point {
		dst.Point[i] = from.Point[i] + k.Sigma[i]*rng.NormFloat64()
	}
}

func (k *gaussKernel) TransitionLogDensity(from, to State) float64 {
	var s float64
	for i := range from.Point {
		z := (to.Point[i] - from.Point[i]) / k.Sigma[i]
		s += -0.5*z*z - math.Log(k.Sigma[i]) - 0.5*math.Log(2*math.Pi)
	}
	return s
}

func (k *gaussKernel) Clone() Kernel {
	return &gaussKernel{Sigma: append([]float64(nil), k.Sigma...)}
}

func (k *gaussKernel) DumpState() (KernelState, error) {
	b, err := json.Marshal(k)
	if err != nil {
		return KernelState{}, err
	}
	return KernelState{Type: "TestGaussian", Dimension: len(k.Sigma), Payload: b}, nil
}

func makeTestKernel(ks KernelState) (Kernel, error) {
	if ks.Type != "TestGaussian" {
		return nil, fmt.Errorf("unknown kernel type %q", ks.Type)
	}
	var k gaussKernel
	if err := json.Unmarshal(ks.Payload, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// scriptKernel proposes the given points in order, cycling, with a flat
// transition density.
type scriptKernel struct {
	points [][]float64
	next   *int
	logQ   float64
}

func newScriptKernel(points ...[]float64) *scriptKernel {
	return &scriptKernel{points: points, next: new(int)}
}

func (k *scriptKernel) Propose(dst *State, _ State, _ Source) {
	copy(dst.Point, k.points[*k.next%len(k.points)])
	*k.next++
}

func (k *scriptKernel) TransitionLogDensity(_, _ State) float64 { return k.logQ }
func (k *scriptKernel) Clone() Kernel                           { return k }
func (k *scriptKernel) DumpState() (KernelState, error) {
	return KernelState{Type: "Script", Dimension: len(k.points[0])}, nil
}

// probeKernel wraps a kernel and calls probe before every proposal.
type probeKernel struct {
	Kernel
	probe func()
}

func (k *probeKernel) Propose(dst *State, from State, rng Source) {
	if k.probe != nil {
		k.probe()
	}
	k.Kernel.Propose(dst, from, rng)
}

func (k *probeKernel) Clone() Kernel { return k }

// #endregion kernels

// #region mem-store
// memStore is an in-memory Store.
type memStore struct {
	descriptions map[string]Description
	samples      map[string][][]float64
	modes        map[string][]float64
	proposed     map[string][]ProposalRecord
	observables  map[string][]ObservableRecord
	proposals    map[string]KernelState
	rngs         map[string][]byte
	appends      int
}

func newMemStore() *memStore {
	return &memStore{
		descriptions: map[string]Description{},
		samples:      map[string][][]float64{},
		modes:        map[string][]float64{},
		proposed:     map[string][]ProposalRecord{},
		observables:  map[string][]ObservableRecord{},
		proposals:    map[string]KernelState{},
		rngs:         map[string][]byte{},
	}
}

func (m *memStore) WriteDescription(base string, d Description) error {
	if _, ok := m.descriptions[base]; ok {
		return fmt.Errorf("description for %s exists", base)
	}
	m.descriptions[base] = d
	return nil
}

func (m *memStore) AppendHistory(base string, rec HistoryRecord) error {
	m.appends++
	m.samples[base] = append(m.samples[base], rec.Samples...)
	m.modes[base] = rec.Mode
	m.proposed[base] = append(m.proposed[base], rec.Proposed...)
	m.observables[base] = append(m.observables[base], rec.Observables...)
	return nil
}

func (m *memStore) WriteProposal(base string, ks KernelState) error {
	m.proposals[base] = ks
	return nil
}

func (m *memStore) WriteRNG(base string, state []byte) error {
	m.rngs[base] = append([]byte(nil), state...)
	return nil
}

func (m *memStore) ReadDescription(base string) (Description, error) {
	d, ok := m.descriptions[base]
	if !ok {
		return Description{}, fmt.Errorf("no description for %s", base)
	}
	return d, nil
}

func (m *memStore) ReadSamples(base string, _ int) ([][]float64, error) {
	return m.samples[base], nil
}

func (m *memStore) ReadMode(base string, _ int) ([]float64, error) {
	row, ok := m.modes[base]
	if !ok {
		return nil, fmt.Errorf("no mode for %s", base)
	}
	return row, nil
}

func (m *memStore) ReadProposal(base string) (KernelState, error) {
	ks, ok := m.proposals[base]
	if !ok {
		return KernelState{}, fmt.Errorf("no proposal for %s", base)
	}
	return ks, nil
}

func (m *memStore) ReadRNG(base string) ([]byte, error) {
	b, ok := m.rngs[base]
	if !ok {
		return nil, fmt.Errorf("no rng state for %s", base)
	}
	return b, nil
}

// #endregion mem-store

func mustChain(t interface {
	Helper()
	Fatalf(string, ...any)
}, a Analysis, seed uint64, k Kernel) *Chain {
	t.Helper()
	c, err := New(a, seed, k)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
