// Package actions holds the per-wallet work the scheduler drives. Every action
// checks the wallet's eligibility first and returns (false, nil) without
// touching the store or any remote service when the wallet is not due.
package actions

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"wallet-engine/internal/config"
	"wallet-engine/internal/health"
	"wallet-engine/internal/interfaces"
	"wallet-engine/internal/models"
	"wallet-engine/internal/repository"
	"wallet-engine/internal/retry"
	"wallet-engine/internal/utils"
	"wallet-engine/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Deps collaborators shared by all actions
type Deps struct {
	Repo    repository.WalletRepository
	Vault   *vault.Vault
	Monitor *health.Monitor
	Retry   retry.Policy
	Log     *logrus.Logger

	Quests   interfaces.QuestClient
	Games    interfaces.GameClient
	Faucet   interfaces.FaucetClient
	Social   interfaces.SocialClient
	Balances interfaces.BalanceSource
}

// Limits business gates
type Limits struct {
	FaucetCooldown      time.Duration
	DepositTimeout      time.Duration
	DepositPollInterval time.Duration
	MaxCompletedGames   int
	ShowAddress         bool
}

// LimitsFromConfig reads the gate settings
func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		FaucetCooldown:      cfg.FaucetCooldown(),
		DepositTimeout:      cfg.DepositTimeout(),
		DepositPollInterval: cfg.DepositPollInterval(),
		MaxCompletedGames:   cfg.MaxCompletedGames,
		ShowAddress:         cfg.ShowWalletAddressLog,
	}
}

// Runner executes wallet actions
type Runner struct {
	deps   Deps
	timing Timing
	limits Limits
	now    func() time.Time
}

// NewRunner creates a new Runner instance
func NewRunner(deps Deps, timing Timing, limits Limits) *Runner {
	if deps.Vault == nil {
		deps.Vault = vault.Disabled()
	}
	return &Runner{deps: deps, timing: timing, limits: limits, now: time.Now}
}

// Quests completes the wallet's daily quests, gated on next_action_time
func (r *Runner) Quests(ctx context.Context, w *models.Wallet) (bool, error) {
	if r.deps.Quests == nil {
		return false, errors.New("quest client not configured")
	}
	if !w.EligibleAt(models.NextAction, r.now()) {
		r.logSkip(w, "quests", "not eligible yet")
		return false, nil
	}
	if err := r.jitter(ctx); err != nil {
		return false, err
	}

	sess, err := r.session(w)
	if err != nil {
		return false, err
	}

	var completed int
	err = r.call(ctx, w, models.ResourceProxy, "quests", "CompleteQuests", func(ctx context.Context) error {
		n, err := r.deps.Quests.CompleteQuests(ctx, sess.via(w))
		completed = n
		return err
	})
	if err != nil {
		return false, err
	}

	r.log(w, "quests").WithField("completed", completed).Info("✅ Quests completed")
	return true, r.reschedule(ctx, w, models.NextAction)
}

// Game plays one round, gated on next_secondary_action_time and on the
// completed game count
func (r *Runner) Game(ctx context.Context, w *models.Wallet) (bool, error) {
	if r.deps.Games == nil {
		return false, errors.New("game client not configured")
	}
	if r.limits.MaxCompletedGames > 0 && w.CompletedCount >= r.limits.MaxCompletedGames {
		r.logSkip(w, "game", "completed game limit reached")
		return false, nil
	}
	if !w.EligibleAt(models.NextSecondaryAction, r.now()) {
		r.logSkip(w, "game", "not eligible yet")
		return false, nil
	}
	if err := r.jitter(ctx); err != nil {
		return false, err
	}

	sess, err := r.session(w)
	if err != nil {
		return false, err
	}

	var won bool
	err = r.call(ctx, w, models.ResourceProxy, "game", "Play", func(ctx context.Context) error {
		var err error
		won, err = r.deps.Games.Play(ctx, sess.via(w))
		return err
	})
	if err != nil {
		return false, err
	}

	if won {
		if err := r.deps.Repo.IncrementCompleted(ctx, w.ID); err != nil {
			return false, fmt.Errorf("failed to record completed game: %w", err)
		}
		w.CompletedCount++
	}
	r.log(w, "game").WithFields(logrus.Fields{
		"won":       won,
		"completed": w.CompletedCount,
	}).Info("✅ Game finished")
	return true, r.reschedule(ctx, w, models.NextSecondaryAction)
}

// Faucet claims from the shared faucet once per cool-down and waits for the
// deposit to land
func (r *Runner) Faucet(ctx context.Context, w *models.Wallet) (bool, error) {
	if r.deps.Faucet == nil {
		return false, errors.New("faucet client not configured")
	}
	now := r.now()
	if last := w.LastResourceClaimTime; last != nil && now.Sub(*last) < r.limits.FaucetCooldown {
		r.logSkip(w, "faucet", "cool-down active")
		return false, nil
	}
	if err := r.jitter(ctx); err != nil {
		return false, err
	}

	sess, err := r.session(w)
	if err != nil {
		return false, err
	}

	var before *big.Int
	if r.deps.Balances != nil {
		b, err := retry.Value(ctx, r.deps.Retry, r.logContext(w, "faucet", "BalanceAt"), func(ctx context.Context) (*big.Int, error) {
			return r.deps.Balances.BalanceAt(ctx, sess.Address)
		})
		if err != nil {
			return false, err
		}
		before = b
		if err := utils.Sleep(ctx, r.timing.BetweenActions.Pick()); err != nil {
			return false, err
		}
	}

	var txHash string
	err = r.call(ctx, w, models.ResourceProxy, "faucet", "Claim", func(ctx context.Context) error {
		var err error
		txHash, err = r.deps.Faucet.Claim(ctx, sess.via(w))
		return err
	})
	if errors.Is(err, interfaces.ErrAlreadyClaimed) {
		r.log(w, "faucet").Warn("⚠️ Faucet already claimed, starting cool-down")
		return false, r.markClaimed(ctx, w, now)
	}
	if err != nil {
		return false, err
	}
	if err := r.markClaimed(ctx, w, now); err != nil {
		return false, err
	}
	r.log(w, "faucet").WithField("tx_hash", txHash).Info("✅ Faucet claimed, waiting for deposit")

	if before == nil {
		return true, nil
	}
	err = WaitFor(ctx, r.limits.DepositTimeout, r.limits.DepositPollInterval, func(ctx context.Context) (bool, error) {
		current, err := r.deps.Balances.BalanceAt(ctx, sess.Address)
		if err != nil {
			return false, err
		}
		return current.Cmp(before) > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("deposit for %s not detected: %w", sess.Address.Hex(), err)
	}
	r.log(w, "faucet").Info("💰 Deposit detected")
	return true, nil
}

// Social engages with the wallet's social token. Wallets without a token or
// with a degraded token are skipped.
func (r *Runner) Social(ctx context.Context, w *models.Wallet) (bool, error) {
	if r.deps.Social == nil {
		return false, errors.New("social client not configured")
	}
	if w.Social() == "" || w.SocialStatus != models.ResourceStatusOK {
		r.logSkip(w, "social", "no usable social token")
		return false, nil
	}
	if err := r.jitter(ctx); err != nil {
		return false, err
	}

	sess, err := r.session(w)
	if err != nil {
		return false, err
	}

	err = r.call(ctx, w, models.ResourceSocial, "social", "Engage", func(ctx context.Context) error {
		return r.deps.Social.Engage(ctx, sess.via(w), w.Social())
	})
	if errors.Is(err, interfaces.ErrNeedsVerification) && r.deps.Monitor != nil {
		if _, merr := r.deps.Monitor.MarkNeedsVerify(ctx, w.ID); merr != nil {
			return false, merr
		}
		w.SocialStatus = models.ResourceStatusNeedsVerify
		r.log(w, "social").Warn("⚠️ Social token needs verification")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	r.log(w, "social").Info("✅ Social tasks done")
	return true, nil
}

// call runs op under the retry policy while a tracker watches the resource
// the call goes through
func (r *Runner) call(ctx context.Context, w *models.Wallet, kind models.ResourceKind, module, op string, fn func(ctx context.Context) error) error {
	policy := r.deps.Retry.WithRetryable(Retryable)
	var tracker *health.Tracker
	if r.deps.Monitor != nil {
		tracker = r.deps.Monitor.Tracker(w, kind)
		policy = policy.WithObserver(tracker.Observer(ctx))
	}

	if err := policy.Do(ctx, r.logContext(w, module, op), fn); err != nil {
		return err
	}
	if tracker != nil {
		tracker.RecordSuccess()
	}
	return nil
}

// Retryable rejects logical failures the remote side will repeat
func Retryable(err error) bool {
	switch {
	case errors.Is(err, interfaces.ErrAlreadyClaimed),
		errors.Is(err, interfaces.ErrNeedsVerification),
		errors.Is(err, vault.ErrInvalidCredential):
		return false
	}
	var le *health.LogicalError
	if errors.As(err, &le) {
		return le.Retry
	}
	return true
}

func (r *Runner) jitter(ctx context.Context) error {
	return utils.Sleep(ctx, r.timing.StartJitter.Pick())
}

func (r *Runner) reschedule(ctx context.Context, w *models.Wallet, field models.ScheduleField) error {
	delay, long := r.timing.NextDelay()
	at := r.now().Add(delay)
	if _, err := r.deps.Repo.AdvanceSchedule(ctx, w.ID, field, at); err != nil {
		return fmt.Errorf("failed to reschedule wallet %d: %w", w.ID, err)
	}
	w.SetSchedule(field, at)

	r.log(w, string(field)).WithFields(logrus.Fields{
		"next_run":   at.Format(time.DateTime),
		"long_delay": long,
	}).Info("⏰ Next action scheduled")
	return nil
}

func (r *Runner) markClaimed(ctx context.Context, w *models.Wallet, at time.Time) error {
	if _, err := r.deps.Repo.AdvanceSchedule(ctx, w.ID, models.LastResourceClaim, at); err != nil {
		return fmt.Errorf("failed to record faucet claim: %w", err)
	}
	w.SetSchedule(models.LastResourceClaim, at)
	return nil
}

func (r *Runner) logContext(w *models.Wallet, module, op string) retry.LogContext {
	return retry.LogContext{Wallet: w.Label(r.limits.ShowAddress), Module: module, Operation: op}
}

func (r *Runner) log(w *models.Wallet, action string) *logrus.Entry {
	return r.deps.Log.WithFields(logrus.Fields{
		"wallet": w.Label(r.limits.ShowAddress),
		"action": action,
	})
}

func (r *Runner) logSkip(w *models.Wallet, action, reason string) {
	r.log(w, action).WithField("reason", reason).Debug("⏭️ Wallet skipped")
}

// session decrypts the wallet key and checks it still derives the stored
// address
func (r *Runner) session(w *models.Wallet) (session, error) {
	key, err := r.deps.Vault.Decrypt(w.PrivateKey)
	if err != nil {
		return session{}, fmt.Errorf("wallet %d: %w", w.ID, err)
	}
	addr, err := vault.AddressFromKey(key)
	if err != nil {
		return session{}, fmt.Errorf("wallet %d: invalid private key: %w", w.ID, err)
	}
	if !strings.EqualFold(addr, w.Address) {
		return session{}, fmt.Errorf("wallet %d: key derives %s, store has %s", w.ID, addr, w.Address)
	}
	return session{Session: interfaces.Session{
		WalletID: w.ID,
		Address:  common.HexToAddress(addr),
		Key:      key,
	}}, nil
}

type session struct {
	interfaces.Session
}

// via the session routed through the wallet's current proxy, which a
// replacement may have changed since the previous attempt
func (s session) via(w *models.Wallet) interfaces.Session {
	out := s.Session
	out.Proxy = w.ProxyURL()
	return out
}
