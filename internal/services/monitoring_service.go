package services

import (
	"context"
	"sync"
	"time"

	"wallet-engine/internal/metrics"
	"wallet-engine/internal/models"
	"wallet-engine/internal/repository"
	"wallet-engine/internal/reserve"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthSnapshot resource health counts across the wallet pool
type HealthSnapshot struct {
	Wallets   int64                                                   `json:"wallets"`
	Resources map[models.ResourceKind]map[models.ResourceStatus]int64 `json:"resources"`
	Reserve   map[models.ResourceKind]int                             `json:"reserve"`
	Database  bool                                                    `json:"database"`
	Time      time.Time                                               `json:"time"`
}

// MonitoringService periodically refreshes the prometheus gauges for the
// database connection, wallet resource statuses and reserve sizes
type MonitoringService struct {
	db       *gorm.DB
	repo     repository.WalletRepository
	pools    reserve.Pools
	interval time.Duration
	log      *logrus.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitoringService creates a new MonitoringService instance
func NewMonitoringService(db *gorm.DB, repo repository.WalletRepository, pools reserve.Pools, log *logrus.Logger) *MonitoringService {
	return &MonitoringService{
		db:       db,
		repo:     repo,
		pools:    pools,
		interval: 30 * time.Second,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the collection loop
func (m *MonitoringService) Start() {
	m.log.Info("🚀 Starting monitoring service...")
	m.wg.Add(1)
	go m.loop()
	m.log.Info("✅ Monitoring service started")
}

// Stop stops the collection loop
func (m *MonitoringService) Stop() {
	m.log.Info("🛑 Stopping monitoring service...")
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info("✅ Monitoring service stopped")
}

func (m *MonitoringService) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *MonitoringService) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.Snapshot(ctx); err != nil {
		m.log.WithError(err).Warn("⚠️ Failed to collect wallet health metrics")
	}
}

// Snapshot reads current counts and updates the gauges on the way
func (m *MonitoringService) Snapshot(ctx context.Context) (*HealthSnapshot, error) {
	snap := &HealthSnapshot{
		Resources: make(map[models.ResourceKind]map[models.ResourceStatus]int64),
		Reserve:   make(map[models.ResourceKind]int),
		Database:  m.updateDatabaseMetrics(ctx),
		Time:      time.Now().UTC(),
	}

	n, err := m.repo.Count(ctx)
	if err != nil {
		return snap, err
	}
	snap.Wallets = n

	for _, kind := range []models.ResourceKind{models.ResourceProxy, models.ResourceSocial} {
		counts, err := m.repo.CountByResourceStatus(ctx, kind)
		if err != nil {
			return snap, err
		}
		snap.Resources[kind] = counts
		for _, status := range []models.ResourceStatus{models.ResourceStatusOK, models.ResourceStatusBad, models.ResourceStatusNeedsVerify} {
			metrics.WalletsByStatus.WithLabelValues(string(kind), string(status)).Set(float64(counts[status]))
		}

		if pool := m.pools.Get(kind); pool != nil {
			size, err := pool.Len(ctx)
			if err != nil {
				m.log.WithError(err).WithField("resource", kind).Warn("⚠️ Failed to read reserve size")
				continue
			}
			snap.Reserve[kind] = size
			metrics.ReserveSize.WithLabelValues(string(kind)).Set(float64(size))
		}
	}
	return snap, nil
}

// updateDatabaseMetrics updates the connection gauges and reports whether
// the database answered a ping
func (m *MonitoringService) updateDatabaseMetrics(ctx context.Context) bool {
	sqlDB, err := m.db.DB()
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return false
	}

	stats := sqlDB.Stats()
	metrics.DBConnectionPoolSize.Set(float64(stats.MaxOpenConnections))
	metrics.DBConnectionActive.Set(float64(stats.InUse))

	if err := sqlDB.PingContext(ctx); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return false
	}
	metrics.DBConnectionStatus.Set(1)
	return true
}
