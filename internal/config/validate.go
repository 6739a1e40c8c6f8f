package config

import (
	"errors"
	"fmt"
	"time"
)

var validLogLevels = map[string]bool{
	"DEBUG":   true,
	"INFO":    true,
	"WARNING": true,
	"ERROR":   true,
}

// Validate checks value ranges after defaults and env overrides are applied
func (c *Config) Validate() error {
	var errs []error

	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads must be >= 1, got %d", c.Threads))
	}
	if c.Retry < 1 {
		errs = append(errs, fmt.Errorf("retry must be >= 1, got %d", c.Retry))
	}
	if c.RetryDelaySeconds < 0 {
		errs = append(errs, fmt.Errorf("retry_delay_seconds must be >= 0, got %d", c.RetryDelaySeconds))
	}
	if c.ResourceFailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("resource_failure_threshold must be >= 1, got %d", c.ResourceFailureThreshold))
	}
	if c.LongDelayChancePercent < 0 || c.LongDelayChancePercent > 100 {
		errs = append(errs, fmt.Errorf("long_delay_chance_percent must be within 0..100, got %d", c.LongDelayChancePercent))
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of DEBUG, INFO, WARNING, ERROR", c.LogLevel))
	}

	for name, r := range map[string]Range{
		"random_pause_start_wallet":           c.RandomPauseStartWallet,
		"random_pause_between_actions":        c.RandomPauseBetweenActions,
		"random_pause_wallet_after_completion": c.RandomPauseWalletAfterCompletion,
		"random_pause_wallet_long_delay":       c.RandomPauseWalletLongDelay,
		"round_delay":                          c.RoundDelay,
	} {
		if r.Min < 0 || r.Max < r.Min {
			errs = append(errs, fmt.Errorf("%s: invalid range {min: %d, max: %d}", name, r.Min, r.Max))
		}
	}

	if n := len(c.RangeWalletsToRun); n != 0 && n != 2 {
		errs = append(errs, fmt.Errorf("range_wallets_to_run must have exactly 2 items, got %d", n))
	} else if n == 2 && c.RangeWalletsToRun[1] < c.RangeWalletsToRun[0] {
		errs = append(errs, fmt.Errorf("range_wallets_to_run: end %d < start %d", c.RangeWalletsToRun[1], c.RangeWalletsToRun[0]))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	switch c.Reserve.Backend {
	case "file", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown reserve backend %q", c.Reserve.Backend))
	}

	return errors.Join(errs...)
}

// Seconds converts a whole-second setting to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// RetryDelay fixed delay between retry attempts
func (c *Config) RetryDelay() time.Duration {
	return Seconds(c.RetryDelaySeconds)
}

// DepositTimeout wall-clock limit for deposit polling
func (c *Config) DepositTimeout() time.Duration {
	return Seconds(c.DepositTimeoutSeconds)
}

// DepositPollInterval delay between deposit polls
func (c *Config) DepositPollInterval() time.Duration {
	return Seconds(c.DepositPollSeconds)
}

// FaucetCooldown minimum time between two claims of the shared faucet
func (c *Config) FaucetCooldown() time.Duration {
	return time.Duration(c.FaucetCooldownHours) * time.Hour
}

// WalletScope returns the configured id range and exact id set
func (c *Config) WalletScope() (start, end int, exact []int) {
	if len(c.RangeWalletsToRun) == 2 {
		start, end = c.RangeWalletsToRun[0], c.RangeWalletsToRun[1]
	}
	return start, end, c.ExactWalletsToRun
}

// Bounds the range as durations
func (r Range) Bounds() (time.Duration, time.Duration) {
	return Seconds(r.Min), Seconds(r.Max)
}
