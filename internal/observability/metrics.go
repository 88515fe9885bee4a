package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for TroveLedger.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	JournalsPosted   *prometheus.CounterVec
	EngineSequence   prometheus.Gauge

	// --- System health ---
	TCR              prometheus.Gauge
	RecoveryMode     prometheus.Gauge
	BaseRate         prometheus.Gauge
	ActivePositions  prometheus.Gauge
	StabilityDeposit prometheus.Gauge

	// --- Liquidation & redemption ---
	Liquidations       *prometheus.CounterVec
	DebtOffset         prometheus.Counter
	DebtRedistributed  prometheus.Counter
	Redemptions        prometheus.Counter
	RedemptionPosition prometheus.Counter

	// --- Price feed ---
	PriceUpdates   *prometheus.CounterVec
	PriceGaps      prometheus.Counter
	LastPrice      prometheus.Gauge
	PriceTimestamp prometheus.Gauge

	// --- Channels & back-pressure ---
	ChannelSize     *prometheus.GaugeVec
	ChannelCapacity *prometheus.GaugeVec
	ProjectionDrops *prometheus.CounterVec
	PublishDrops    prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionWatermark prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the binary and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}
	dbBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_commands_rejected_total",
			Help: "Commands rejected (duplicate, precondition, invariant, guard)",
		}, []string{"command", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		JournalsPosted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_journals_posted_total",
			Help: "Journal entries posted",
		}, []string{"journal_type"}),

		EngineSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_engine_sequence",
			Help: "Next sequence number the engine will assign",
		}),

		TCR: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_tcr",
			Help: "Total collateral ratio at the last applied command (1.0 = 100%)",
		}),

		RecoveryMode: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_recovery_mode",
			Help: "1 while TCR is below CCR",
		}),

		BaseRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_base_rate",
			Help: "Stored base rate (1.0 = 100%)",
		}),

		ActivePositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_active_positions",
			Help: "Number of active positions",
		}),

		StabilityDeposit: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_stability_pool_deposits",
			Help: "Total stablecoin in the stability pool (whole units)",
		}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_liquidations_total",
			Help: "Positions liquidated, by mode",
		}, []string{"mode"}),

		DebtOffset: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_debt_offset_total",
			Help: "Debt cancelled against the stability pool (whole units)",
		}),

		DebtRedistributed: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_debt_redistributed_total",
			Help: "Debt redistributed to active positions (whole units)",
		}),

		Redemptions: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_redemptions_total",
			Help: "Successful redemption commands",
		}),

		RedemptionPosition: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_redemption_positions_total",
			Help: "Positions touched by redemptions",
		}),

		PriceUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_price_updates_total",
			Help: "Price updates received, by outcome",
		}, []string{"outcome"}),

		PriceGaps: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_price_sequence_gaps_total",
			Help: "Price updates that skipped one or more sequence numbers",
		}),

		LastPrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_price",
			Help: "Last accepted collateral price",
		}),

		PriceTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_price_timestamp_seconds",
			Help: "Timestamp of the last accepted price",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trove_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trove_channel_capacity",
			Help: "Channel capacity",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_projection_drops_total",
			Help: "Outputs dropped due to a full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_publish_drops_total",
			Help: "Outputs dropped due to a full publish channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_idempotency_duplicates_total",
			Help: "Duplicate requests caught (lru/postgres)",
		}, []string{"command", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_persist_journals_written_total",
			Help: "Journal rows written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_persist_batch_size",
			Help:    "Outputs per persistence transaction",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: dbBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trove_snapshot_duration_seconds",
			Help:    "Time to capture and store a snapshot",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "trove_replay_events_total",
			Help: "Events replayed at startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_replay_duration_seconds",
			Help: "Duration of the startup replay",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: dbBuckets,
		}, []string{"projection"}),

		ProjectionWatermark: f.NewGauge(prometheus.GaugeOpts{
			Name: "trove_projection_watermark",
			Help: "Last sequence applied to the projections",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_query_requests_total",
			Help: "Query requests",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trove_query_duration_seconds",
			Help:    "Query latency",
			Buckets: dbBuckets,
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trove_query_errors_total",
			Help: "Query errors",
		}, []string{"method", "code"}),
	}
}
