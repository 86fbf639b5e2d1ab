// Package throttle adapts github.com/joeycumines/go-catrate's sliding-window
// rate limiter to the two pacing needs named in the spec: the dispatcher's
// "yield between assignments to rate-limit PLC bursts" (section 4.F step 8)
// and the barcode validator's bounded-retry backoff on a full channel
// (section 4.I).
package throttle

import (
	"context"
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// Pacer gates calls to at most one per interval, using a single catrate
// category. It is the dispatcher's "yield ≥1s between assignments" knob.
type Pacer struct {
	limiter  *catrate.Limiter
	category any
}

// NewPacer builds a Pacer that allows one event per interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		limiter:  catrate.NewLimiter(map[time.Duration]int{interval: 1}),
		category: "pace",
	}
}

// Wait blocks until the next call is allowed, or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		next, ok := p.limiter.Allow(p.category)
		if ok {
			return nil
		}
		d := time.Until(next)
		if d <= 0 {
			continue
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Retry runs attempt up to maxAttempts times, sleeping delay between
// attempts whenever attempt returns (false, nil) — meaning "resource busy,
// try again" as opposed to a hard error. It returns the last error, or
// ErrExhausted if every attempt reported busy without error.
func Retry(ctx context.Context, maxAttempts int, delay time.Duration, attempt func() (bool, error)) error {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		ok, err := attempt()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		lastErr = ErrExhausted
		if i == maxAttempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// ErrExhausted is returned by Retry when every attempt reported the resource
// busy, without a hard error, and the attempt budget ran out.
var ErrExhausted = errExhausted{}

type errExhausted struct{}

func (errExhausted) Error() string { return "throttle: retry attempts exhausted" }
