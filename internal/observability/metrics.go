package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CoverLedger.
type Metrics struct {
	// --- Core processing ---
	CoreTxApplied    *prometheus.CounterVec
	CoreTxReverted   *prometheus.CounterVec
	CoreTxRejected   *prometheus.CounterVec
	CoreTxDuration   *prometheus.HistogramVec
	CoreLogsEmitted  *prometheus.CounterVec
	CoreJournals     *prometheus.CounterVec
	CoreStateHashDur prometheus.Histogram
	CoreSequence     prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter
	NonceGap              *prometheus.CounterVec
	NonceOutOfOrder       *prometheus.CounterVec

	// --- Risk & capital ---
	UwpMaxCover            prometheus.Gauge
	RiskMaxCover           prometheus.Gauge
	RiskActiveCoverLimit   prometheus.Gauge
	RiskMinCapitalRequired prometheus.Gauge
	ScpTotalSupply         prometheus.Gauge
	InvariantAudits        *prometheus.CounterVec

	// --- Price attestations ---
	PriceAttestations *prometheus.CounterVec

	// --- Persistence ---
	PersistTxWritten       prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Checkpoints & replay ---
	CheckpointTaken   prometheus.Counter
	CheckpointLastSeq prometheus.Gauge
	ReplayTxTotal     prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
// Call it once per process.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg. Tests pass a fresh prometheus.NewRegistry().
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core processing
		CoreTxApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_tx_applied_total",
			Help: "Transactions applied by core",
		}, []string{"tx_type"}),

		CoreTxReverted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_tx_reverted_total",
			Help: "Transactions recorded as reverted",
		}, []string{"tx_type", "reason"}),

		CoreTxRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_tx_rejected_total",
			Help: "Transactions rejected before execution (dedup, nonce)",
		}, []string{"tx_type", "reason"}),

		CoreTxDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_core_tx_apply_duration_seconds",
			Help:    "Time to apply a single transaction in core",
			Buckets: latencyBuckets,
		}, []string{"tx_type"}),

		CoreLogsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_logs_emitted_total",
			Help: "Contract logs emitted by applied transactions",
		}, []string{"name"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_core_journals_generated_total",
			Help: "SCP journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_ingest_to_apply_seconds",
			Help:    "NATS receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"tx_type"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_apply_to_persist_seconds",
			Help:    "Core emit to Postgres commit",
			Buckets: latencyBuckets,
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cover_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_publish_drops_total",
			Help: "Receipts dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"tx_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed and were treated as new",
		}),

		NonceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_nonce_gap_total",
			Help: "Transactions rejected for a nonce ahead of the sender's next nonce",
		}, []string{"tx_type"}),

		NonceOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_nonce_out_of_order_total",
			Help: "Transactions rejected for a stale nonce",
		}, []string{"tx_type"}),

		// Risk & capital
		UwpMaxCover: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_uwp_max_cover",
			Help: "Aggregate underwriting pool valuation (whole tokens)",
		}),

		RiskMaxCover: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_risk_max_cover",
			Help: "Max cover after partial reserves factor (whole tokens)",
		}),

		RiskActiveCoverLimit: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_risk_active_cover_limit",
			Help: "Sum of active cover limits across strategies (whole tokens)",
		}),

		RiskMinCapitalRequired: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_risk_min_capital_requirement",
			Help: "Minimum capital requirement (whole tokens)",
		}),

		ScpTotalSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_scp_total_supply",
			Help: "SCP total supply (whole tokens)",
		}),

		InvariantAudits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_invariant_audits_total",
			Help: "Scheduled invariant audits by result",
		}, []string{"result"}),

		// Price attestations
		PriceAttestations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_price_attestations_total",
			Help: "Price attestations submitted by result",
		}, []string{"result"}),

		// Persistence
		PersistTxWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_tx_written_total",
			Help: "Transactions written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_journals_written_total",
			Help: "SCP journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cover_persist_batch_size",
			Help:    "Transactions per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Checkpoints & replay
		CheckpointTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_checkpoint_taken_total",
			Help: "State hash checkpoints recorded",
		}),

		CheckpointLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_checkpoint_last_sequence",
			Help: "Sequence of last checkpoint",
		}),

		ReplayTxTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "cover_replay_tx_total",
			Help: "Transactions replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "cover_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cover_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
