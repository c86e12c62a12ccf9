// Package monitor tracks whether the local backend is reachable.
package monitor

import "time"

// Result is the outcome of the last attempt a Backoff saw.
type Result int

const (
	ResultNone Result = iota
	ResultSuccess
	ResultFailure
)

// Backoff is an exponential delay with a floor and a ceiling. Transitions return a new value
// and never touch a clock, so the policy is testable without timers.
type Backoff struct {
	Delay      time.Duration
	LastResult Result

	floor   time.Duration
	ceiling time.Duration
}

// NewBackoff starts at floor. A ceiling below floor is raised to floor.
func NewBackoff(floor, ceiling time.Duration) Backoff {
	if ceiling < floor {
		ceiling = floor
	}
	return Backoff{Delay: floor, floor: floor, ceiling: ceiling}
}

// OnSuccess resets the delay to the floor.
func (b Backoff) OnSuccess() Backoff {
	b.Delay = b.floor
	b.LastResult = ResultSuccess
	return b
}

// OnFailure doubles the delay, capped at the ceiling.
func (b Backoff) OnFailure() Backoff {
	next := b.Delay * 2
	if next > b.ceiling || next <= 0 {
		next = b.ceiling
	}
	b.Delay = next
	b.LastResult = ResultFailure
	return b
}

// Reset returns to the floor without recording a result.
func (b Backoff) Reset() Backoff {
	b.Delay = b.floor
	b.LastResult = ResultNone
	return b
}

func (b Backoff) Floor() time.Duration   { return b.floor }
func (b Backoff) Ceiling() time.Duration { return b.ceiling }
