package health

import (
	"context"

	"wallet-engine/internal/metrics"
	"wallet-engine/internal/models"
)

// Tracker counts consecutive connectivity failures of one resource within a
// single wallet task. It belongs to that task and is not safe for concurrent use.
type Tracker struct {
	monitor  *Monitor
	wallet   *models.Wallet
	kind     models.ResourceKind
	failures int
}

// Breach describes what happened when the threshold was reached
type Breach struct {
	Replaced bool
	NewValue string
}

// Failures current consecutive failure count
func (t *Tracker) Failures() int {
	return t.failures
}

// RecordSuccess resets the counter
func (t *Tracker) RecordSuccess() {
	t.failures = 0
}

// RecordFailure counts err when it is connectivity-class; logical failures
// leave the counter alone. Reaching the threshold hands the resource to the
// monitor and restarts the count. A nil Breach means no threshold was reached.
func (t *Tracker) RecordFailure(ctx context.Context, err error) *Breach {
	if !IsConnectivity(err) {
		metrics.ResourceFailures.WithLabelValues(string(t.kind), "logical").Inc()
		return nil
	}
	metrics.ResourceFailures.WithLabelValues(string(t.kind), "connectivity").Inc()

	t.failures++
	if t.failures < t.monitor.Threshold() {
		return nil
	}

	t.monitor.log.WithField("wallet", t.wallet.String()).Warnf(
		"⚠️ %s error limit exceeded (%d/%d), marking as BAD", t.kind, t.failures, t.monitor.Threshold())

	t.failures = 0
	item, replaced := t.monitor.handleBreach(ctx, t.wallet, t.kind)
	if replaced {
		switch t.kind {
		case models.ResourceSocial:
			t.wallet.SocialToken = &item
			t.wallet.SocialStatus = models.ResourceStatusOK
		default:
			t.wallet.Proxy = &item
			t.wallet.ProxyStatus = models.ResourceStatusOK
		}
	} else {
		switch t.kind {
		case models.ResourceSocial:
			t.wallet.SocialStatus = models.ResourceStatusBad
		default:
			t.wallet.ProxyStatus = models.ResourceStatusBad
		}
	}
	return &Breach{Replaced: replaced, NewValue: item}
}

// Observer adapts the tracker for retry.Policy.WithObserver
func (t *Tracker) Observer(ctx context.Context) func(error) {
	return func(err error) {
		t.RecordFailure(ctx, err)
	}
}
