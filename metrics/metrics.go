package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Status label values shared by the pool metrics.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusNoop    = "noop"
)

type CacheReadStatus string

const (
	CacheReadStatusHit   CacheReadStatus = "hit"
	CacheReadStatusMiss  CacheReadStatus = "miss"
	CacheReadStatusError CacheReadStatus = "error"
)

// PoolMetrics instruments the pool runtime of a single node.
type PoolMetrics struct {
	// Ledger polls, partitioned by outcome.
	polls *prometheus.CounterVec
	// Pool transactions emitted by the listener.
	observed prometheus.Counter
	// Last fully scanned ledger height.
	windowHeight prometheus.Gauge

	// Records waiting in the batch buffer.
	bufferLength prometheus.Gauge
	// Bundle commits, partitioned by outcome.
	commits *prometheus.CounterVec
	// Records contained in successfully committed bundles.
	committedRecords prometheus.Counter
	// Latency of bundling and submitting one batch.
	commitLatency prometheus.Histogram

	// Validator judgments, partitioned by verdict.
	judgments *prometheus.CounterVec
	// Disputes raised, partitioned by outcome.
	disputes *prometheus.CounterVec
	// Contract action status polls, partitioned by observed status.
	finalityPolls *prometheus.CounterVec
	// Reads of the judged-transaction cache.
	cacheReads *prometheus.CounterVec
}

// NewDefaultPoolMetrics creates Prometheus metric instrumentation for the
// pool runtime. Metric names are prefixed with pkg.
func NewDefaultPoolMetrics(pkg string) PoolMetrics {
	m := PoolMetrics{
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_ledger_polls", pkg),
				Help: "How many ledger polls the listener ran, partitioned by status.",
			},
			[]string{"status"},
		),
		observed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_observed_transactions", pkg),
				Help: "How many pool transactions the listener emitted.",
			},
		),
		windowHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_window_height", pkg),
				Help: "Last ledger height fully scanned by the listener.",
			},
		),
		bufferLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: fmt.Sprintf("%s_buffer_length", pkg),
				Help: "How many records are waiting in the batch buffer.",
			},
		),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_commits", pkg),
				Help: "How many bundles were committed, partitioned by status.",
			},
			[]string{"status"},
		),
		committedRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_committed_records", pkg),
				Help: "How many records were committed to the ledger.",
			},
		),
		commitLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_commit_latencies", pkg),
				Help: "How long bundling and submitting a batch takes.",
			},
		),
		judgments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_judgments", pkg),
				Help: "How many observed transactions were judged, partitioned by verdict.",
			},
			[]string{"valid"},
		),
		disputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_disputes", pkg),
				Help: "How many disputes were raised, partitioned by status.",
			},
			[]string{"status"},
		),
		finalityPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_finality_polls", pkg),
				Help: "How many contract action status polls were made, partitioned by observed status.",
			},
			[]string{"status"},
		),
		cacheReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_judged_cache_reads", pkg),
				Help: "How many judged-transaction cache reads occur, partitioned by status (hit, miss, error).",
			},
			[]string{"status"},
		),
	}
	m.polls = registerOnce(m.polls)
	m.observed = registerOnce(m.observed)
	m.windowHeight = registerOnce(m.windowHeight)
	m.bufferLength = registerOnce(m.bufferLength)
	m.commits = registerOnce(m.commits)
	m.committedRecords = registerOnce(m.committedRecords)
	m.commitLatency = registerOnce(m.commitLatency)
	m.judgments = registerOnce(m.judgments)
	m.disputes = registerOnce(m.disputes)
	m.finalityPolls = registerOnce(m.finalityPolls)
	m.cacheReads = registerOnce(m.cacheReads)
	return m
}

func (m *PoolMetrics) Polls(status string) prometheus.Counter {
	return m.polls.WithLabelValues(status)
}

func (m *PoolMetrics) Observed() prometheus.Counter {
	return m.observed
}

func (m *PoolMetrics) WindowHeight() prometheus.Gauge {
	return m.windowHeight
}

func (m *PoolMetrics) BufferLength() prometheus.Gauge {
	return m.bufferLength
}

func (m *PoolMetrics) Commits(status string) prometheus.Counter {
	return m.commits.WithLabelValues(status)
}

func (m *PoolMetrics) CommittedRecords() prometheus.Counter {
	return m.committedRecords
}

// CommitTimer returns a new latency timer for one batch commit.
func (m *PoolMetrics) CommitTimer() *prometheus.Timer {
	return prometheus.NewTimer(m.commitLatency)
}

func (m *PoolMetrics) Judgments(valid bool) prometheus.Counter {
	return m.judgments.WithLabelValues(fmt.Sprintf("%t", valid))
}

func (m *PoolMetrics) Disputes(status string) prometheus.Counter {
	return m.disputes.WithLabelValues(status)
}

func (m *PoolMetrics) FinalityPolls(status string) prometheus.Counter {
	return m.finalityPolls.WithLabelValues(status)
}

func (m *PoolMetrics) CacheReads(status CacheReadStatus) prometheus.Counter {
	return m.cacheReads.WithLabelValues(string(status))
}
