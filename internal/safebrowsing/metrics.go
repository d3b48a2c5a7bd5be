package safebrowsing

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/selimozcann/RedirectGuard/internal/model"
)

// Metrics holds the Prometheus collectors of the gating pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ChecksStarted   prometheus.Counter
	ChecksCompleted *prometheus.CounterVec
	SlowChecks      prometheus.Counter
	Deferrals       prometheus.Counter
	DeferDuration   prometheus.Histogram
	Blocks          *prometheus.CounterVec
	Adoptions       prometheus.Counter
	LateVerdicts    prometheus.Counter
	AsyncWarnings   prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "gate",
			Name:      "checks_started_total",
			Help:      "URL checks dispatched to the oracle",
		}),
		ChecksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "gate",
			Name:      "checks_completed_total",
			Help:      "URL checks completed, by mechanism and outcome",
		}, []string{"kind", "outcome"}),
		SlowChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "gate",
			Name:      "slow_checks_total",
			Help:      "Checks the oracle flagged as slow",
		}),
		Deferrals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "gate",
			Name:      "responses_deferred_total",
			Help:      "Responses held back waiting for verdicts",
		}),
		DeferDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "redirectguard",
			Subsystem: "gate",
			Name:      "defer_duration_seconds",
			Help:      "Time a response spent deferred before resuming",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		Blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "gate",
			Name:      "loads_blocked_total",
			Help:      "Loads cancelled on an unsafe verdict",
		}, []string{"interstitial"}),
		Adoptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "tracker",
			Name:      "checkers_adopted_total",
			Help:      "Checkers handed to an async tracker at gate teardown",
		}),
		LateVerdicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "gate",
			Name:      "late_verdicts_ignored_total",
			Help:      "Verdicts dropped because their check was abandoned or already resolved",
		}),
		AsyncWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "redirectguard",
			Subsystem: "tracker",
			Name:      "async_warnings_total",
			Help:      "Blocking pages shown for verdicts resolved after teardown",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ChecksStarted, m.ChecksCompleted, m.SlowChecks, m.Deferrals,
			m.DeferDuration, m.Blocks, m.Adoptions, m.LateVerdicts, m.AsyncWarnings,
		)
	}
	return m
}

func (m *Metrics) checkStarted() {
	if m != nil {
		m.ChecksStarted.Inc()
	}
}

func (m *Metrics) checkCompleted(kind model.CheckKind, proceed bool) {
	if m == nil {
		return
	}
	outcome := "safe"
	if !proceed {
		outcome = "unsafe"
	}
	if kind == "" {
		kind = model.CheckSkipped
	}
	m.ChecksCompleted.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) slowCheck() {
	if m != nil {
		m.SlowChecks.Inc()
	}
}

func (m *Metrics) deferred() {
	if m != nil {
		m.Deferrals.Inc()
	}
}

func (m *Metrics) resumed(d time.Duration) {
	if m != nil {
		m.DeferDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) blocked(showedInterstitial bool) {
	if m == nil {
		return
	}
	label := "false"
	if showedInterstitial {
		label = "true"
	}
	m.Blocks.WithLabelValues(label).Inc()
}

func (m *Metrics) adopted() {
	if m != nil {
		m.Adoptions.Inc()
	}
}

func (m *Metrics) lateVerdict() {
	if m != nil {
		m.LateVerdicts.Inc()
	}
}

func (m *Metrics) asyncWarning() {
	if m != nil {
		m.AsyncWarnings.Inc()
	}
}
