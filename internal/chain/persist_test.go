package chain

import (
	"errors"
	"testing"
)

func TestDumpHistory_TooManySamples(t *testing.T) {
	a := newTestAnalysis(params1D(-1, 1), standardNormal)
	c := mustChain(t, a, 5, &gaussKernel{Sigma: []float64{0.3}})
	if err := c.Run(20); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := newMemStore()

	if err := c.DumpHistory(m, "/chain0", 21); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if err := c.DumpHistory(m, "/chain0", -1); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if m.appends != 0 {
		t.Fatalf("rejected dump wrote %d records", m.appends)
	}
}

func TestDumpHistory_ShadowHistoriesTooShort(t *testing.T) {
	a := newTestAnalysis(params1D(-1, 1), standardNormal)
	c := mustChain(t, a, 5, &gaussKernel{Sigma: []float64{0.3}})
	if err := c.Run(10); err != nil {
		t.Fatalf("Run: %v", err)
	}
	c.KeepHistory(true, true)
	if err := c.Run(5); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := newMemStore()
	if err := c.DumpHistory(m, "/chain0", 10); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if err := c.DumpHistory(m, "/chain0", 5); err != nil {
		t.Fatalf("DumpHistory: %v", err)
	}
	if len(m.proposed["/chain0"]) != 5 || len(m.observables["/chain0"]) != 5 {
		t.Fatalf("expected 5 shadow records, got %d and %d", len(m.proposed["/chain0"]), len(m.observables["/chain0"]))
	}
}

func TestDumpHistory_AppendsAndOverwritesMode(t *testing.T) {
	a := newTestAnalysis(params1D(-1, 1), standardNormal)
	c := mustChain(t, a, 5, &gaussKernel{Sigma: []float64{0.3}})
	m := newMemStore()
	for i := 0; i < 3; i++ {
		if err := c.Run(10); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if err := c.DumpHistory(m, "/chain0", 10); err != nil {
			t.Fatalf("DumpHistory: %v", err)
		}
	}
	rows := m.samples["/chain0"]
	if len(rows) != 30 {
		t.Fatalf("expected 30 rows, got %d", len(rows))
	}
	for i, s := range c.History().States {
		if rows[i][0] != s.Point[0] || rows[i][1] != s.LogPosterior {
			t.Fatalf("row %d = %v, want (%g, %g)", i, rows[i], s.Point[0], s.LogPosterior)
		}
	}
	st := c.Statistics()
	if mode := m.modes["/chain0"]; len(mode) != 2 || mode[0] != st.ParametersAtMode[0] || mode[1] != st.ModeOfPosterior {
		t.Fatalf("mode row %v does not match statistics", mode)
	}
}

func TestDumpDescription(t *testing.T) {
	params := []ParameterDescriptor{{Name: "mass", Min: 0, Max: 2}, {Name: "width", Min: 1, Max: 3, Nuisance: true}}
	a := newTestAnalysis(params, flat)
	c := mustChain(t, a, 5, &gaussKernel{Sigma: []float64{0.1, 0.1}})
	m := newMemStore()

	if err := c.DumpDescription(m, "/chain0"); err != nil {
		t.Fatalf("DumpDescription: %v", err)
	}
	d, err := ReadDescription(m, "/chain0")
	if err != nil {
		t.Fatalf("ReadDescription: %v", err)
	}
	if len(d.Parameters) != 2 || d.Parameters[1].Name != "width" || !d.Parameters[1].Nuisance {
		t.Fatalf("unexpected parameters %+v", d.Parameters)
	}
	if d.Priors[0] != "flat [0, 2]" || d.Constraints[0] != "toy::likelihood" {
		t.Fatalf("unexpected priors %v constraints %v", d.Priors, d.Constraints)
	}
	if len(d.Observables) != 0 {
		t.Fatalf("observables written without shadow histories: %v", d.Observables)
	}
	if d.Version == "" {
		t.Fatal("empty version")
	}

	c.KeepHistory(true, true)
	if err := c.DumpDescription(m, "/chain1"); err != nil {
		t.Fatalf("DumpDescription: %v", err)
	}
	d, _ = ReadDescription(m, "/chain1")
	if len(d.Observables) != 2 || d.Observables[0] != "obs::mass" {
		t.Fatalf("unexpected observables %v", d.Observables)
	}
	if err := c.DumpDescription(m, "/chain1"); err == nil {
		t.Fatal("expected error writing a description twice")
	}
}

func TestReadHistory_WidthMismatch(t *testing.T) {
	m := newMemStore()
	m.samples["/chain0"] = [][]float64{{1, 2, 3}}
	if _, err := ReadHistory(m, "/chain0", 1); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, err := ReadStats(m, "/chain0", 1); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence for missing mode, got %v", err)
	}
}

func TestReadProposal_UnknownType(t *testing.T) {
	m := newMemStore()
	m.proposals["/chain0"] = KernelState{Type: "Mystery", Dimension: 1}
	if _, _, err := ReadProposal(m, "/chain0", makeTestKernel); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestCheckpoint_RoundTripAndResume(t *testing.T) {
	a := newTestAnalysis([]ParameterDescriptor{{Name: "x", Min: -10, Max: 10}, {Name: "y", Min: -10, Max: 10}}, standardNormal)
	c := mustChain(t, a, 1234, &gaussKernel{Sigma: []float64{0.8, 0.5}})
	if err := c.Run(1000); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m := newMemStore()
	if err := c.DumpDescription(m, "/chain0"); err != nil {
		t.Fatalf("DumpDescription: %v", err)
	}
	if err := c.DumpHistory(m, "/chain0", 1000); err != nil {
		t.Fatalf("DumpHistory: %v", err)
	}
	if err := c.DumpProposal(m, "/chain0"); err != nil {
		t.Fatalf("DumpProposal: %v", err)
	}
	if err := c.DumpRNG(m, "/chain0"); err != nil {
		t.Fatalf("DumpRNG: %v", err)
	}

	cp, err := ReadCheckpoint(m, "/chain0", makeTestKernel)
	if err != nil {
		t.Fatalf("ReadCheckpoint: %v", err)
	}
	if cp.KernelType != "TestGaussian" || cp.History.Len() != 1000 {
		t.Fatalf("unexpected checkpoint: type %q, %d samples", cp.KernelType, cp.History.Len())
	}
	last, _ := cp.History.Last()
	cur := c.CurrentState()
	if last.Point[0] != cur.Point[0] || last.Point[1] != cur.Point[1] || last.LogPosterior != cur.LogPosterior {
		t.Fatalf("last sample %v does not match current state %v", last, cur)
	}
	st := c.Statistics()
	if cp.Stats.ModeOfPosterior != st.ModeOfPosterior || cp.Stats.ParametersAtMode[1] != st.ParametersAtMode[1] {
		t.Fatalf("mode %v does not match %g at %v", cp.Stats, st.ModeOfPosterior, st.ParametersAtMode)
	}

	resumed := mustChain(t, a, 99, &gaussKernel{Sigma: []float64{5, 5}})
	if err := resumed.Restore(cp); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if resumed.Statistics().ModeOfPosterior != st.ModeOfPosterior {
		t.Fatal("restored mode differs")
	}
	if err := c.Run(100); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := resumed.Run(100); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want, got := c.CurrentState(), resumed.CurrentState()
	if want.Point[0] != got.Point[0] || want.Point[1] != got.Point[1] {
		t.Fatalf("resumed walk diverged: %v vs %v", got.Point, want.Point)
	}
}

func TestRestore_EmptyCheckpoint(t *testing.T) {
	a := newTestAnalysis(params1D(-1, 1), standardNormal)
	c := mustChain(t, a, 5, &gaussKernel{Sigma: []float64{0.3}})
	if err := c.Restore(Checkpoint{}); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}
