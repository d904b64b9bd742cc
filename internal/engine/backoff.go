package engine

import (
	"math/rand/v2"
	"time"
)

// Default retry delay bounds.
const (
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
)

// Backoff computes the delay before retrying after a transient failure.
// The zero value uses the package defaults.
type Backoff struct {
	// Base is the delay for the first retry; it doubles per attempt.
	Base time.Duration

	// Cap bounds the delay regardless of attempt count.
	Cap time.Duration
}

// Delay returns the delay for the given attempt count (1-based). Half of
// the exponential delay is kept and half is randomized, so clients that
// failed together spread out instead of retrying in lockstep.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceiling := b.Cap
	if ceiling <= 0 {
		ceiling = DefaultBackoffCap
	}
	if attempt < 1 {
		attempt = 1
	}

	d := ceiling
	if attempt <= 16 { // past 16 doublings the cap always wins
		d = base << (attempt - 1)
		if d > ceiling || d <= 0 {
			d = ceiling
		}
	}

	half := d / 2
	return half + rand.N(half+1)
}
