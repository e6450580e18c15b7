package control

import (
	"context"
	"time"

	"bayou/internal/errs"
)

// BackoffConfig is the exponential-retry schedule spec §4.1's apply-loop
// uses when a fast-path append loses the storage race: grounded on the
// teacher's kafka_dispatcher.go sendWithRetry, which backs off a fixed
// base delay by a growth factor up to a total budget instead of a fixed
// attempt count.
type BackoffConfig struct {
	Base   time.Duration
	Growth float64
	Budget time.Duration
}

// DefaultBackoff is 50ms, x5 growth, ~20s total budget, per spec §4.1.
var DefaultBackoff = BackoffConfig{
	Base:   50 * time.Millisecond,
	Growth: 5,
	Budget: 20 * time.Second,
}

// backoffSchedule runs fn repeatedly, sleeping an exponentially growing
// delay between attempts, until fn reports success, ctx is done, or the
// cumulative sleep reaches cfg.Budget (the last sleep is shortened so it
// ends exactly at the budget, and one final attempt follows it). fn returns (done, err); a nil
// error with done==false means "retry"; a non-nil error aborts
// immediately.
func backoffSchedule(ctx context.Context, cfg BackoffConfig, fn func(attempt int) (done bool, err error)) error {
	delay := cfg.Base
	var elapsed time.Duration
	for attempt := 0; ; attempt++ {
		done, err := fn(attempt)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if elapsed >= cfg.Budget {
			return errs.New(errs.TooManyRetries, "backoffSchedule: exceeded %s budget after %d attempts", cfg.Budget, attempt+1)
		}
		if elapsed+delay > cfg.Budget {
			delay = cfg.Budget - elapsed
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		elapsed += delay
		delay = time.Duration(float64(delay) * cfg.Growth)
	}
}
