package actions

import (
	"time"

	"wallet-engine/internal/config"
	"wallet-engine/internal/utils"
)

// Window randomized delay bounds
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Pick a random duration inside the window
func (w Window) Pick() time.Duration {
	return utils.RandomDuration(w.Min, w.Max)
}

func window(r config.Range) Window {
	min, max := r.Bounds()
	return Window{Min: min, Max: max}
}

// Timing per-wallet pacing: jitter before starting, pauses between remote
// calls and the cool-down applied after a successful action
type Timing struct {
	StartJitter     Window
	BetweenActions  Window
	AfterCompletion Window
	LongDelay       Window

	// LongDelayChance percent of reschedules that use LongDelay instead of
	// AfterCompletion
	LongDelayChance int
}

// TimingFromConfig reads the random_pause_* settings
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		StartJitter:     window(cfg.RandomPauseStartWallet),
		BetweenActions:  window(cfg.RandomPauseBetweenActions),
		AfterCompletion: window(cfg.RandomPauseWalletAfterCompletion),
		LongDelay:       window(cfg.RandomPauseWalletLongDelay),
		LongDelayChance: cfg.LongDelayChancePercent,
	}
}

// NextDelay delay until a wallet that just finished may run again
func (t Timing) NextDelay() (time.Duration, bool) {
	if utils.Chance(t.LongDelayChance) {
		return t.LongDelay.Pick(), true
	}
	return t.AfterCompletion.Pick(), false
}
