// Package metrics provides Prometheus metrics for the correlator.
// It tracks ingestion, rule execution and incident aggregation so the
// latency of each stage of the pipeline can be observed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "correlator"
)

// Event metrics track the ingestion pipeline.
var (
	// EventsReceivedTotal counts observations received by the ingest API.
	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of events received by the ingest API",
		},
		[]string{"result"}, // result: accepted, rejected
	)

	// EventsPublishedTotal counts observations published to the queue.
	EventsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published to the message queue",
		},
	)

	// EventsProcessedTotal counts messages handled by the processor.
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Total number of messages processed",
		},
		[]string{"type", "result"},
	)

	// EventIngestLatency measures time from API receipt to queue publish.
	EventIngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_ingest_latency_seconds",
			Help:      "Time from event receipt to queue publish in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// EventProcessingLatency measures the full correlation of one alert.
	EventProcessingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_latency_seconds",
			Help:      "Time to correlate a single alert in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

// Rule metrics track the execution scheduler.
var (
	// RuleExecutionDuration measures one rule from dispatch to completion.
	RuleExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_execution_duration_seconds",
			Help:      "Time from rule dispatch to completion in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
		[]string{"rule"},
	)

	// RuleExecutionsTotal counts rule executions by outcome.
	RuleExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_executions_total",
			Help:      "Total number of rule executions",
		},
		[]string{"rule", "status"}, // status: success, error, timeout, skipped
	)

	// AlertRulesDuration measures the whole rule DAG of one alert.
	AlertRulesDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_rules_duration_seconds",
			Help:      "Time to run every rule for one alert in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5, 30},
		},
	)
)

// Incident metrics track the aggregation engine.
var (
	// IncidentOutcomesTotal counts aggregation outcomes.
	IncidentOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_outcomes_total",
			Help:      "Total number of aggregation runs by outcome",
		},
		[]string{"outcome"}, // outcome: none, stale, aggregated, created, updated
	)

	// IncidentsMergedTotal counts incidents absorbed into another one.
	IncidentsMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_merged_total",
			Help:      "Total number of incidents merged into an upstream incident",
		},
	)

	// IncidentsSplitTotal counts incidents created by disaggregation.
	IncidentsSplitTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_split_total",
			Help:      "Total number of incidents created when a cause resolved",
		},
	)

	// IncidentSize tracks the member count of an incident after aggregation.
	IncidentSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "incident_size",
			Help:      "Number of alerts attached to an incident",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// PublicationsTotal counts bus publications.
	PublicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publications_total",
			Help:      "Total number of incident publications",
		},
		[]string{"kind", "status"}, // kind: incident, delta, removed
	)
)

// Queue metrics track message queue health.
var (
	// QueuePublishLatency measures time to publish a message to the queue.
	QueuePublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_publish_latency_seconds",
			Help:      "Time to publish a message to the queue in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)
)

// Storage metrics track the context store.
var (
	// ContextOperationsTotal counts context store operations.
	ContextOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "context_operations_total",
			Help:      "Total number of context store operations",
		},
		[]string{"operation", "status"}, // status: hit, miss, success, failure
	)
)
