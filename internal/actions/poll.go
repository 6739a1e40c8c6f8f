package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-engine/internal/utils"
)

// ErrPollTimeout the awaited condition did not become true in time
var ErrPollTimeout = errors.New("poll timed out")

// Condition reports whether the awaited event happened. An error is treated
// as "not yet" and polling continues; it is reported if the wait times out.
type Condition func(ctx context.Context) (bool, error)

// WaitFor polls cond every interval until it holds, timeout elapses or ctx is
// cancelled. Expiry returns an error wrapping ErrPollTimeout; cancellation of
// ctx returns ctx.Err().
func WaitFor(ctx context.Context, timeout, interval time.Duration, cond Condition) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(timeout)

	var last error
	for {
		pctx, cancel := context.WithDeadline(ctx, deadline)
		done, err := cond(pctx)
		cancel()
		if err == nil && done {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			last = err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if err := utils.Sleep(ctx, utils.MinDuration(interval, remaining)); err != nil {
			return err
		}
	}

	if last != nil {
		return fmt.Errorf("%w after %s: %v", ErrPollTimeout, timeout, last)
	}
	return fmt.Errorf("%w after %s", ErrPollTimeout, timeout)
}
