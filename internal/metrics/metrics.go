package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_build_info",
		Help: "Build information of the governor binary",
	}, []string{"version", "commit"})

	// Enforcement
	RulesFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_rules_fired_total", Help: "Rules fired by the principle engine.",
	}, []string{"kind", "severity"})
	PredicateErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_predicate_errors_total", Help: "Predicate evaluations treated as not fired because of an error.",
	}, []string{"rule_id"})
	OrchestrationViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_orchestration_violations_total", Help: "Orchestration enforcement violations.",
	}, []string{"rule_id"})
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_decisions_total", Help: "Unified enforcement decisions.",
	}, []string{"decision"})
	StoreWriteDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_store_write_drops_total", Help: "Store writes dropped after the retry.",
	}, []string{"write"})

	// Growth monitor
	MonitorQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_monitor_queue_depth", Help: "Current depth of the monitor event queue.",
	})
	MonitorEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_monitor_events_dropped_total", Help: "File events dropped because the queue was full.",
	})
	MonitorEventsDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_monitor_events_debounced_total", Help: "File events suppressed by the debounce window.",
	})
	MonitorHandleSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "governor_monitor_handle_seconds",
		Help:    "Time spent handling one file event.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	})
	ThresholdEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_threshold_events_total", Help: "Threshold events recorded by the monitor.",
	}, []string{"kind", "severity"})
	RemediationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_remediations_total", Help: "External remediator invocations by outcome.",
	}, []string{"result"})
	HealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "governor_health_score", Help: "Monitor pipeline health score in [0,1].",
	})

	// Hooks and collector
	HookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_hook_events_total", Help: "Hook events accepted by type.",
	}, []string{"event"})
	ObserverPosts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_observer_posts_total", Help: "Observer POST outcomes.",
	}, []string{"result"})
	ObserverRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_observer_records_total", Help: "Hook records accepted by the local observer.",
	}, []string{"kind"})
	StaleInstructionsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "governor_stale_instructions_recovered_total", Help: "Open instructions closed as failed after the grace period.",
	})

	// Aggregation, compliance, prediction
	AggregationCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_aggregation_cycles_total", Help: "Aggregation cycles by outcome.",
	}, []string{"result"})
	AggregationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "governor_aggregation_seconds", Help: "Aggregation cycle duration.",
		Buckets: prometheus.DefBuckets,
	})
	ComplianceScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_compliance_score", Help: "Latest protocol compliance percentage.",
	}, []string{"protocol"})
	ModelAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "governor_model_accuracy", Help: "Held-out accuracy per trained model.",
	}, []string{"model"})
	PredictionsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "governor_predictions_total", Help: "Predictions emitted by risk level.",
	}, []string{"risk_level"})
)
