package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database connection metrics
	// ============================================
	DBConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_db_connection_pool_size",
		Help: "Database connection pool size",
	})

	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// Scheduler metrics
	// ============================================
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_rounds_total",
			Help: "Total number of scheduling rounds",
		},
		[]string{"activity"},
	)

	RoundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walletd_round_duration_seconds",
			Help:    "Scheduling round duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 10800},
		},
		[]string{"activity"},
	)

	WalletTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_wallet_tasks_total",
			Help: "Total number of wallet tasks by outcome",
		},
		[]string{"activity", "outcome"},
	)

	WorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_workers_active",
		Help: "Number of wallet actions currently running",
	})

	// ============================================
	// Resource health metrics
	// ============================================
	ResourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_resource_failures_total",
			Help: "Total number of failures recorded by resource trackers",
		},
		[]string{"kind", "class"},
	)

	ResourceMarkedBad = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_resource_marked_bad_total",
			Help: "Total number of resources marked BAD",
		},
		[]string{"kind"},
	)

	ResourceReplacements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_resource_replacements_total",
			Help: "Total number of resource replacement attempts by result",
		},
		[]string{"kind", "result"},
	)

	ReserveSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletd_reserve_pool_size",
			Help: "Items left in the reserve pool",
		},
		[]string{"kind"},
	)

	WalletsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "walletd_wallets_by_resource_status",
			Help: "Number of wallets per resource status",
		},
		[]string{"kind", "status"},
	)

	// ============================================
	// Notification metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "walletd_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletd_notifications_sent_total",
			Help: "Total number of notifications by channel and result",
		},
		[]string{"channel", "result"},
	)
)
