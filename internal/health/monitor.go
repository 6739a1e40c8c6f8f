package health

import (
	"context"
	"errors"
	"fmt"

	"wallet-engine/internal/metrics"
	"wallet-engine/internal/models"
	"wallet-engine/internal/notify"
	"wallet-engine/internal/repository"
	"wallet-engine/internal/reserve"

	"github.com/sirupsen/logrus"
)

// ErrReserveEmpty no spare resource was left to swap in
var ErrReserveEmpty = reserve.ErrEmpty

// ErrNoReservePool replacement was requested for a kind without a pool
var ErrNoReservePool = errors.New("no reserve pool configured")

// Options monitor policy
type Options struct {
	Threshold   int
	AutoReplace map[models.ResourceKind]bool
}

// Monitor marks resources BAD and replaces them from the reserve pools
type Monitor struct {
	repo     repository.WalletRepository
	pools    reserve.Pools
	opts     Options
	notifier notify.Notifier
	log      *logrus.Logger
}

// NewMonitor creates a monitor; a threshold below 1 is treated as 1
func NewMonitor(repo repository.WalletRepository, pools reserve.Pools, opts Options, notifier notify.Notifier, log *logrus.Logger) *Monitor {
	if opts.Threshold < 1 {
		opts.Threshold = 1
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Monitor{repo: repo, pools: pools, opts: opts, notifier: notifier, log: log}
}

// Threshold consecutive connectivity failures that retire a resource
func (m *Monitor) Threshold() int {
	return m.opts.Threshold
}

// AutoReplace reports whether a BAD resource of kind is replaced right away
func (m *Monitor) AutoReplace(kind models.ResourceKind) bool {
	return m.opts.AutoReplace[kind]
}

// Tracker starts a failure counter for one wallet task
func (m *Monitor) Tracker(wallet *models.Wallet, kind models.ResourceKind) *Tracker {
	return &Tracker{monitor: m, wallet: wallet, kind: kind}
}

// MarkBad flips the resource to BAD. Returns false when it was already
// degraded, which is not an error.
func (m *Monitor) MarkBad(ctx context.Context, kind models.ResourceKind, walletID uint) (bool, error) {
	return m.degrade(ctx, kind, walletID, models.ResourceStatusBad)
}

// MarkNeedsVerify flags a social token that the service wants re-verified
func (m *Monitor) MarkNeedsVerify(ctx context.Context, walletID uint) (bool, error) {
	return m.degrade(ctx, models.ResourceSocial, walletID, models.ResourceStatusNeedsVerify)
}

func (m *Monitor) degrade(ctx context.Context, kind models.ResourceKind, walletID uint, to models.ResourceStatus) (bool, error) {
	err := m.repo.SetResourceStatus(ctx, walletID, kind, to)
	if errors.Is(err, repository.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.ResourceMarkedBad.WithLabelValues(string(kind)).Inc()
	m.log.WithFields(logrus.Fields{
		"wallet_id": walletID,
		"resource":  kind,
		"status":    to,
	}).Warn("⚠️ Resource marked as degraded")
	return true, nil
}

// Swap takes a spare from the reserve pool and assigns it to the wallet with
// status OK. The spare is consumed even when the assignment fails; it is not
// pushed back because it may already have been handed to the wallet.
func (m *Monitor) Swap(ctx context.Context, kind models.ResourceKind, walletID uint) (string, error) {
	pool := m.pools.Get(kind)
	if pool == nil {
		return "", fmt.Errorf("%w for %s", ErrNoReservePool, kind)
	}

	item, err := m.takeValid(ctx, kind, pool)
	m.refreshReserveSize(ctx, kind, pool)
	if err != nil {
		if errors.Is(err, reserve.ErrEmpty) {
			metrics.ResourceReplacements.WithLabelValues(string(kind), "empty").Inc()
		} else {
			metrics.ResourceReplacements.WithLabelValues(string(kind), "error").Inc()
		}
		return "", err
	}

	if err := m.repo.ReplaceResource(ctx, walletID, kind, item); err != nil {
		metrics.ResourceReplacements.WithLabelValues(string(kind), "error").Inc()
		m.log.WithFields(logrus.Fields{
			"wallet_id": walletID,
			"resource":  kind,
			"error":     err,
		}).Error("❌ Reserve item consumed but not assigned")
		return "", fmt.Errorf("failed to assign %s: %w", kind, err)
	}

	metrics.ResourceReplacements.WithLabelValues(string(kind), "ok").Inc()
	return item, nil
}

// takeValid takes reserve items until one normalizes. Unusable lines are
// dropped from the pool with a warning.
func (m *Monitor) takeValid(ctx context.Context, kind models.ResourceKind, pool reserve.Pool) (string, error) {
	for {
		raw, err := pool.Take(ctx)
		if err != nil {
			return "", err
		}
		if item, ok := kind.Normalize(raw); ok {
			return item, nil
		}
		metrics.ResourceReplacements.WithLabelValues(string(kind), "invalid").Inc()
		m.log.WithFields(logrus.Fields{
			"resource": kind,
			"line":     raw,
		}).Warn("⚠️ Skipping unparseable reserve entry")
	}
}

// Replace swaps the wallet's resource and reports (success, message)
func (m *Monitor) Replace(ctx context.Context, kind models.ResourceKind, walletID uint) (bool, string) {
	_, err := m.Swap(ctx, kind, walletID)
	switch {
	case err == nil:
		return true, fmt.Sprintf("%s successfully replaced", kind)
	case errors.Is(err, reserve.ErrEmpty):
		return false, fmt.Sprintf("no available reserve %s", kind)
	default:
		return false, fmt.Sprintf("failed to replace %s: %v", kind, err)
	}
}

// ReplaceAllBad tries a replacement for every wallet whose resource is BAD
func (m *Monitor) ReplaceAllBad(ctx context.Context, kind models.ResourceKind) (replaced, total int, err error) {
	bad, err := m.repo.FindByResourceStatus(ctx, kind, models.ResourceStatusBad)
	if err != nil {
		return 0, 0, err
	}

	for _, w := range bad {
		if err := ctx.Err(); err != nil {
			return replaced, len(bad), err
		}
		ok, msg := m.Replace(ctx, kind, w.ID)
		entry := m.log.WithFields(logrus.Fields{"wallet": w.String(), "resource": kind})
		if ok {
			replaced++
			entry.Info("✅ " + msg)
			continue
		}
		entry.Warn("⚠️ " + msg)
	}

	m.log.WithFields(logrus.Fields{
		"resource": kind,
		"replaced": replaced,
		"total":    len(bad),
	}).Info("📋 Bad resource sweep finished")
	return replaced, len(bad), nil
}

// handleBreach marks the resource BAD and, when enabled, replaces it.
// Returns the new value when a replacement was assigned.
func (m *Monitor) handleBreach(ctx context.Context, wallet *models.Wallet, kind models.ResourceKind) (string, bool) {
	entry := m.log.WithFields(logrus.Fields{"wallet": wallet.String(), "resource": kind})

	if _, err := m.MarkBad(ctx, kind, wallet.ID); err != nil {
		entry.WithError(err).Error("❌ Failed to mark resource BAD")
		return "", false
	}
	if !m.AutoReplace(kind) {
		return "", false
	}

	item, err := m.Swap(ctx, kind, wallet.ID)
	if err != nil {
		entry.WithError(err).Error("❌ Failed to replace resource")
		m.publish(ctx, wallet, kind, notify.EventResourceExhausted, err.Error())
		return "", false
	}

	entry.Info("🔄 Resource automatically replaced")
	m.publish(ctx, wallet, kind, notify.EventResourceReplaced, "")
	return item, true
}

func (m *Monitor) publish(ctx context.Context, wallet *models.Wallet, kind models.ResourceKind, t notify.EventType, msg string) {
	ev := notify.NewEvent(t, msg)
	ev.WalletID = wallet.ID
	ev.Wallet = wallet.String()
	ev.Resource = string(kind)
	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.log.WithError(err).Warn("⚠️ Failed to send notification")
	}
}

func (m *Monitor) refreshReserveSize(ctx context.Context, kind models.ResourceKind, pool reserve.Pool) {
	if n, err := pool.Len(ctx); err == nil {
		metrics.ReserveSize.WithLabelValues(string(kind)).Set(float64(n))
	}
}
