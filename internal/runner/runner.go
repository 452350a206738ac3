package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
	"github.com/danielpatrickdp/flavorfit/internal/config"
	"github.com/danielpatrickdp/flavorfit/internal/logging"
	"github.com/danielpatrickdp/flavorfit/internal/metrics"
	"github.com/danielpatrickdp/flavorfit/internal/proposal"
)

var tracer = otel.Tracer("flavorfit/runner")

// #region types
// Store is the checkpoint store plus the database holding the checkpoint log.
// Atomic must make every write fn performs visible together or not at all.
type Store interface {
	chain.Store
	Atomic(fn func(w chain.Writer) error) error
	DB() *sql.DB
}

// Runner drives one chain through prerun and main run, writing a checkpoint
// after every main chunk.
type Runner struct {
	chain   *chain.Chain
	store   Store
	base    string
	prerun  config.PrerunConfig
	main    config.MainConfig
	logger  *slog.Logger
	metrics *metrics.ChainMetrics
	factory chain.KernelFactory
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.ChainMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithKernelFactory sets the factory used to rebuild kernels on resume.
func WithKernelFactory(f chain.KernelFactory) Option {
	return func(r *Runner) {
		if f != nil {
			r.factory = f
		}
	}
}

// Result summarizes a finished job.
type Result struct {
	PrerunChunks    int
	PrerunConverged bool
	MainChunks      int
	Samples         int
	Checkpoints     []string
	Stats           chain.Stats
	Density         *Density
}

// Density is the bridge-sampling estimate at the mode after the last chunk.
type Density struct {
	Point       []float64
	Numerator   float64
	Denominator float64
}

// Value is Numerator / Denominator.
func (d Density) Value() float64 { return d.Numerator / d.Denominator }

// #endregion types

// #region constructor
// New wires a runner for c. Checkpoints go to st under cfg.Base.
func New(c *chain.Chain, st Store, cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		chain:   c,
		store:   st,
		base:    cfg.Base,
		prerun:  cfg.Prerun,
		main:    cfg.Main,
		logger:  slog.Default(),
		factory: proposal.Make,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Chain returns the driven chain.
func (r *Runner) Chain() *chain.Chain { return r.chain }

// #endregion constructor

// #region run
// Run writes the description, runs the prerun, hard-resets the chain and
// runs the main phase. Cancellation is honoured between chunks.
func (r *Runner) Run(ctx context.Context) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "runner.Run", trace.WithAttributes(attribute.String("base", r.base)))
	defer func() { endSpan(span, err) }()

	r.chain.KeepHistory(true, r.main.KeepObservablesAndProposals)
	if err := r.chain.DumpDescription(r.store, r.base); err != nil {
		return res, fmt.Errorf("runner: %w", err)
	}

	res.PrerunChunks, res.PrerunConverged, err = r.runPrerun(ctx)
	if err != nil {
		return res, err
	}
	r.chain.Reset(true)
	r.chain.Clear()

	return r.runMain(ctx, 0, res)
}

// Resume rebuilds the chain from the last checkpoint under the base and
// finishes the remaining main chunks. The prerun is not repeated.
func (r *Runner) Resume(ctx context.Context) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "runner.Resume", trace.WithAttributes(attribute.String("base", r.base)))
	defer func() { endSpan(span, err) }()

	cp, err := chain.ReadCheckpoint(r.store, r.base, r.factory)
	if err != nil {
		return res, fmt.Errorf("runner: resume: %w", err)
	}
	if err := r.chain.Restore(cp); err != nil {
		return res, fmt.Errorf("runner: resume: %w", err)
	}
	r.chain.KeepHistory(true, r.main.KeepObservablesAndProposals)
	r.chain.Clear()

	if cp.History.Len()%r.main.ChunkSize != 0 {
		return res, fmt.Errorf("runner: resume: %d stored samples are not a whole number of %d-sample chunks: %w",
			cp.History.Len(), r.main.ChunkSize, chain.ErrConfiguration)
	}
	done := cp.History.Len() / r.main.ChunkSize
	r.logger.Info("resuming chain", "base", r.base, "samples", cp.History.Len(),
		"chunks_done", done, "kernel", cp.KernelType)
	span.SetAttributes(attribute.Int("chunks_done", done))
	if done >= r.main.Chunks {
		res.Samples = cp.History.Len()
		res.Stats = r.chain.Statistics()
		return res, nil
	}
	res.Samples = done * r.main.ChunkSize
	return r.runMain(ctx, done, res)
}

// #endregion run

// #region prerun
// runPrerun runs chunks until the efficiency lands inside the window,
// adapting the kernel after each chunk when enabled.
func (r *Runner) runPrerun(ctx context.Context) (chunks int, converged bool, err error) {
	ctx, span := tracer.Start(ctx, "runner.prerun")
	defer func() {
		span.SetAttributes(attribute.Int("chunks", chunks), attribute.Bool("converged", converged))
		endSpan(span, err)
	}()

	if r.prerun.ChunkSize == 0 || r.prerun.MaxChunks == 0 {
		return 0, false, nil
	}
	r.logger.Info("prerun", "base", r.base, "chunk_size", r.prerun.ChunkSize, "max_chunks", r.prerun.MaxChunks)

	for chunks < r.prerun.MaxChunks {
		if err := ctx.Err(); err != nil {
			return chunks, false, fmt.Errorf("runner: prerun chunk %d: %w", chunks, err)
		}
		if err := r.chain.Run(r.prerun.ChunkSize); err != nil {
			return chunks, false, fmt.Errorf("runner: prerun chunk %d: %w", chunks, err)
		}
		chunks++

		st := r.chain.Statistics()
		eff := st.Efficiency()
		r.metrics.Observe(r.base, st)
		r.logger.Debug("prerun chunk", "chunk", chunks, "efficiency", eff, "mode", st.ModeOfPosterior)

		if eff >= r.prerun.EfficiencyMin && eff <= r.prerun.EfficiencyMax {
			r.logger.Info("prerun converged", "chunks", chunks, "efficiency", eff)
			return chunks, true, nil
		}
		if r.prerun.Adapt {
			if a, ok := r.chain.Kernel().(chain.Adapter); ok {
				h := r.chain.History()
				states := h.States[h.Len()-r.prerun.ChunkSize:]
				if err := a.Adapt(states, eff, r.prerun.EfficiencyMin, r.prerun.EfficiencyMax); err != nil {
					return chunks, false, fmt.Errorf("runner: adapt: %w", err)
				}
			}
		}
	}
	r.logger.Warn("prerun did not converge", "chunks", chunks,
		"efficiency", r.chain.Statistics().Efficiency(),
		"window", fmt.Sprintf("[%g, %g]", r.prerun.EfficiencyMin, r.prerun.EfficiencyMax))
	return chunks, false, nil
}

// #endregion prerun

// #region main
func (r *Runner) runMain(ctx context.Context, from int, res Result) (Result, error) {
	r.logger.Info("main run", "base", r.base, "chunks", r.main.Chunks, "chunk_size", r.main.ChunkSize, "from", from)

	for i := from; i < r.main.Chunks; i++ {
		if err := ctx.Err(); err != nil {
			res.Stats = r.chain.Statistics()
			return res, fmt.Errorf("runner: main chunk %d: %w", i, err)
		}
		if err := r.chain.Run(r.main.ChunkSize); err != nil {
			res.Stats = r.chain.Statistics()
			return res, fmt.Errorf("runner: main chunk %d: %w", i, err)
		}
		id, err := r.checkpoint(ctx, "main", i)
		if err != nil {
			return res, err
		}
		res.Checkpoints = append(res.Checkpoints, id)
		res.MainChunks++
		res.Samples += r.main.ChunkSize

		if i == r.main.Chunks-1 && r.main.DensityEvaluations > 0 {
			d, err := r.density()
			if err != nil {
				return res, err
			}
			res.Density = d
		}
		r.chain.Clear()
	}

	res.Stats = r.chain.Statistics()
	r.logger.Info("main run done", "base", r.base, "samples", res.Samples,
		"mode", res.Stats.ModeOfPosterior, "efficiency", res.Stats.Efficiency())
	return res, nil
}

func (r *Runner) density() (*Density, error) {
	st := r.chain.Statistics()
	num, den, err := r.chain.NormalizedDensity(st.ParametersAtMode, r.main.DensityEvaluations)
	if err != nil {
		return nil, fmt.Errorf("runner: density: %w", err)
	}
	d := &Density{Point: st.ParametersAtMode, Numerator: num, Denominator: den}
	r.logger.Info("posterior density at mode", "numerator", num, "denominator", den, "value", d.Value())
	return d, nil
}

// #endregion main

// #region checkpoint
// checkpoint dumps the last chunk, the kernel and the RNG state in one
// transaction, then logs the checkpoint in the provenance table.
func (r *Runner) checkpoint(ctx context.Context, phase string, chunk int) (id string, err error) {
	_, span := tracer.Start(ctx, "runner.checkpoint", trace.WithAttributes(
		attribute.String("base", r.base), attribute.Int("chunk", chunk)))
	defer func() { endSpan(span, err) }()

	err = r.store.Atomic(func(w chain.Writer) error {
		if err := r.chain.DumpHistory(w, r.base, r.main.ChunkSize); err != nil {
			return err
		}
		if err := r.chain.DumpProposal(w, r.base); err != nil {
			return err
		}
		return r.chain.DumpRNG(w, r.base)
	})
	if err != nil {
		return "", fmt.Errorf("runner: checkpoint %d: %w", chunk, err)
	}

	st := r.chain.Statistics()
	ks, err := r.chain.Kernel().DumpState()
	if err != nil {
		return "", fmt.Errorf("runner: checkpoint %d: %w", chunk, err)
	}
	id, err = logging.LogCheckpoint(r.store.DB(), logging.CheckpointEntry{
		Base:         r.base,
		Phase:        phase,
		Iterations:   r.main.ChunkSize,
		SamplesTotal: (chunk + 1) * r.main.ChunkSize,
		Efficiency:   st.Efficiency(),
		Mode:         st.ModeOfPosterior,
		KernelType:   ks.Type,
		Note:         fmt.Sprintf("chunk %d of %d", chunk+1, r.main.Chunks),
	})
	if err != nil {
		return "", fmt.Errorf("runner: checkpoint %d: %w", chunk, err)
	}

	r.metrics.Observe(r.base, st)
	r.metrics.Checkpoint(r.base, phase)
	r.logger.Debug("checkpoint written", "base", r.base, "chunk", chunk+1, "id", id, "efficiency", st.Efficiency())
	return id, nil
}

// #endregion checkpoint

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
