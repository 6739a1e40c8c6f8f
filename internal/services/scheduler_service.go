// Activity Scheduler
// Runs a per-wallet action over the wallet pool in bounded-concurrency rounds
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"wallet-engine/internal/metrics"
	"wallet-engine/internal/models"
	"wallet-engine/internal/notify"
	"wallet-engine/internal/repository"
	"wallet-engine/internal/utils"
	"wallet-engine/internal/worker"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Action per-wallet work. The bool is advisory: true means the action did
// real work, false means it found nothing to do (not eligible yet).
type Action func(ctx context.Context, wallet *models.Wallet) (bool, error)

// Activity named action the scheduler drives
type Activity struct {
	Name   string
	Action Action
}

// Scope restricts which wallets a round runs. Start/End is a 1-based
// inclusive range over the wallets in id order ([0,0] disables it); Exact
// lists positions to run when no range is set.
type Scope struct {
	Start int
	End   int
	Exact []int
}

// SchedulerOptions round policy
type SchedulerOptions struct {
	Threads        int
	Shuffle        bool
	Repeat         bool
	RoundDelayMin  time.Duration
	RoundDelayMax  time.Duration
	Scope          Scope
	ShowAddressLog bool
}

// RoundReport summary of one scheduling round
type RoundReport struct {
	ID        string
	Activity  string
	Selected  int
	Succeeded int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// ActivityScheduler selects wallets, runs an activity over them with at most
// Threads in flight, and repeats after a randomized delay
type ActivityScheduler struct {
	repo     repository.WalletRepository
	pool     *worker.Pool
	opts     SchedulerOptions
	notifier notify.Notifier
	log      *logrus.Logger

	rounds atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewActivityScheduler creates a new ActivityScheduler instance
func NewActivityScheduler(repo repository.WalletRepository, opts SchedulerOptions, notifier notify.Notifier, log *logrus.Logger) *ActivityScheduler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ActivityScheduler{
		repo:     repo,
		pool:     worker.New(opts.Threads),
		opts:     opts,
		notifier: notifier,
		log:      log,
	}
}

// Pool worker pool backing the scheduler
func (s *ActivityScheduler) Pool() *worker.Pool {
	return s.pool
}

// Rounds number of rounds completed so far
func (s *ActivityScheduler) Rounds() int {
	return int(s.rounds.Load())
}

// Start runs the activity in the background until Stop or ctx ends
func (s *ActivityScheduler) Start(ctx context.Context, activity Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	s.log.WithFields(logrus.Fields{
		"activity": activity.Name,
		"threads":  s.pool.Size(),
		"repeat":   s.opts.Repeat,
	}).Info("🚀 Activity scheduler starting...")

	go func() {
		defer close(s.stopped)
		if err := s.Run(ctx, activity); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("❌ Activity scheduler stopped with error")
		}
	}()
}

// Stop cancels the running activity and waits for in-flight wallet tasks
func (s *ActivityScheduler) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	s.log.Info("🛑 Stopping activity scheduler...")
	cancel()
	<-stopped
	s.log.Info("✅ Activity scheduler stopped")
}

// Run executes rounds until the activity is one-shot, ctx ends, or loading
// wallets fails
func (s *ActivityScheduler) Run(ctx context.Context, activity Activity) error {
	for {
		if _, err := s.RunRound(ctx, activity); err != nil {
			return err
		}
		if !s.opts.Repeat {
			return nil
		}

		delay := utils.RandomDuration(s.opts.RoundDelayMin, s.opts.RoundDelayMax)
		s.log.WithFields(logrus.Fields{
			"activity": activity.Name,
			"delay":    delay.String(),
		}).Info("⏰ Next round scheduled")
		if err := utils.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// RunRound one pass: select, order, bound, dispatch, isolate, await.
// Only cancellation and a failure to load wallets are returned as errors;
// wallet failures are counted in the report.
func (s *ActivityScheduler) RunRound(ctx context.Context, activity Activity) (*RoundReport, error) {
	report := &RoundReport{ID: uuid.NewString(), Activity: activity.Name}
	started := time.Now()

	all, err := s.repo.All(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load wallets: %w", err)
	}
	wallets := SelectWallets(all, s.opts.Scope)
	report.Selected = len(wallets)

	if s.opts.Shuffle {
		rand.Shuffle(len(wallets), func(i, j int) {
			wallets[i], wallets[j] = wallets[j], wallets[i]
		})
	}

	s.log.WithFields(logrus.Fields{
		"round":    report.ID,
		"activity": activity.Name,
		"wallets":  len(wallets),
	}).Info("📋 Found wallets for action")

	var succeeded, skipped atomic.Int64
	errs := s.pool.Run(ctx, len(wallets), func(ctx context.Context, i int) error {
		w := wallets[i]
		worked, err := activity.Action(ctx, w)
		if err != nil {
			return err
		}
		if worked {
			succeeded.Add(1)
		} else {
			skipped.Add(1)
		}
		s.logOutcome(activity.Name, w, outcomeName(worked), nil)
		return nil
	})

	for i, err := range errs {
		if err == nil {
			continue
		}
		if ctx.Err() != nil && isCancellation(err) {
			continue
		}
		report.Failed++
		s.logOutcome(activity.Name, wallets[i], "failed", err)

		var pe *worker.PanicError
		if errors.As(err, &pe) {
			ev := notify.NewEvent(notify.EventWalletFailed, err.Error())
			ev.Activity, ev.RoundID = activity.Name, report.ID
			ev.WalletID, ev.Wallet = wallets[i].ID, wallets[i].Label(s.opts.ShowAddressLog)
			if nerr := s.notifier.Notify(ctx, ev); nerr != nil {
				s.log.WithError(nerr).Warn("⚠️ Failed to send wallet failure notification")
			}
		}
	}
	report.Succeeded = int(succeeded.Load())
	report.Skipped = int(skipped.Load())
	report.Duration = time.Since(started)

	metrics.RoundsTotal.WithLabelValues(activity.Name).Inc()
	metrics.RoundDuration.WithLabelValues(activity.Name).Observe(report.Duration.Seconds())
	metrics.WalletTasksTotal.WithLabelValues(activity.Name, "success").Add(float64(report.Succeeded))
	metrics.WalletTasksTotal.WithLabelValues(activity.Name, "skipped").Add(float64(report.Skipped))
	metrics.WalletTasksTotal.WithLabelValues(activity.Name, "failed").Add(float64(report.Failed))

	if err := ctx.Err(); err != nil {
		s.log.WithField("round", report.ID).Warn("🛑 Round interrupted")
		return report, err
	}

	s.rounds.Add(1)
	s.log.WithFields(logrus.Fields{
		"round":     report.ID,
		"activity":  activity.Name,
		"succeeded": report.Succeeded,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
		"duration":  report.Duration.Round(time.Millisecond).String(),
	}).Info("✅ Round completed")

	if report.Succeeded+report.Failed > 0 {
		ev := notify.NewEvent(notify.EventRoundCompleted, "")
		ev.Activity, ev.RoundID = activity.Name, report.ID
		ev.Succeeded, ev.Failed, ev.Skipped = report.Succeeded, report.Failed, report.Skipped
		if err := s.notifier.Notify(ctx, ev); err != nil {
			s.log.WithError(err).Warn("⚠️ Failed to send round notification")
		}
	}
	return report, nil
}

func (s *ActivityScheduler) logOutcome(activity string, w *models.Wallet, outcome string, err error) {
	entry := s.log.WithFields(logrus.Fields{
		"wallet":  w.Label(s.opts.ShowAddressLog),
		"action":  activity,
		"outcome": outcome,
	})
	if err != nil {
		entry.WithError(err).Error("❌ Wallet task failed")
		return
	}
	entry.Debug("Wallet task finished")
}

func outcomeName(worked bool) string {
	if worked {
		return "success"
	}
	return "skipped"
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// SelectWallets applies the operator scope to wallets in id order
func SelectWallets(all []*models.Wallet, scope Scope) []*models.Wallet {
	var out []*models.Wallet
	switch {
	case scope.Start > 0 || scope.End > 0:
		for i, w := range all {
			pos := i + 1
			if pos >= scope.Start && pos <= scope.End {
				out = append(out, w)
			}
		}
	case len(scope.Exact) > 0:
		want := make(map[int]bool, len(scope.Exact))
		for _, pos := range scope.Exact {
			want[pos] = true
		}
		for i, w := range all {
			if want[i+1] {
				out = append(out, w)
			}
		}
	default:
		out = append(out, all...)
	}
	return out
}
