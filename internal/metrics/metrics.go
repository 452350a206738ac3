package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielpatrickdp/flavorfit/internal/chain"
)

// #region collectors
// ChainMetrics exports chain statistics, labelled by base name.
type ChainMetrics struct {
	iterations  *prometheus.CounterVec
	efficiency  *prometheus.GaugeVec
	mode        *prometheus.GaugeVec
	posterior   *prometheus.GaugeVec
	checkpoints *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) (*ChainMetrics, error) {
	m := &ChainMetrics{
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flavorfit_chain_iterations_total",
			Help: "Chain iterations by outcome.",
		}, []string{"base", "outcome"}),
		efficiency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flavorfit_chain_efficiency",
			Help: "Accepted fraction of the most recent run.",
		}, []string{"base"}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flavorfit_chain_mode_log_posterior",
			Help: "Highest log posterior seen since the last hard reset.",
		}, []string{"base"}),
		posterior: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flavorfit_chain_mean_log_posterior",
			Help: "Running mean of the log posterior.",
		}, []string{"base"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flavorfit_checkpoints_total",
			Help: "Checkpoints written.",
		}, []string{"base", "phase"}),
	}
	for _, c := range []prometheus.Collector{m.iterations, m.efficiency, m.mode, m.posterior, m.checkpoints} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// #endregion collectors

// #region observe
// Observe records the statistics of the run that just finished.
func (m *ChainMetrics) Observe(base string, st chain.Stats) {
	if m == nil {
		return
	}
	m.iterations.WithLabelValues(base, "accepted").Add(float64(st.IterationsAccepted))
	m.iterations.WithLabelValues(base, "rejected").Add(float64(st.IterationsRejected))
	m.iterations.WithLabelValues(base, "invalid").Add(float64(st.IterationsInvalid))
	m.efficiency.WithLabelValues(base).Set(st.Efficiency())
	m.mode.WithLabelValues(base).Set(st.ModeOfPosterior)
	m.posterior.WithLabelValues(base).Set(st.MeanOfPosterior)
}

// Checkpoint counts a written checkpoint.
func (m *ChainMetrics) Checkpoint(base, phase string) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(base, phase).Inc()
}

// #endregion observe
