package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records stage durations and run outcomes. A nil *Metrics records
// nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labreport_stage_duration_seconds",
			Help:    "Time taken by each pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "labreport_runs_total",
			Help: "Pipeline runs by outcome. Failed runs are labelled with the failing stage and error kind.",
		}, []string{"outcome", "stage", "kind"}),
	}
}

func (m *Metrics) observeStage(stage Stage, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.stageDuration.WithLabelValues(string(stage), outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) countRun(err error) {
	if m == nil {
		return
	}
	if err == nil {
		m.runs.WithLabelValues("success", "", "").Inc()
		return
	}
	se := asStageError(err)
	m.runs.WithLabelValues("failure", string(se.Stage), string(se.Kind())).Inc()
}
