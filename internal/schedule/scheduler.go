package schedule

import (
	"math/rand/v2"
	"time"
)

// Rand is the random source the scheduler draws offsets from. Injected so
// snipe-time generation is reproducible under test and does not depend on
// process-wide state.
type Rand interface {
	// IntN returns a uniformly random int in [0, n). Panics if n <= 0.
	IntN(n int) int
}

type systemRand struct{}

func (systemRand) IntN(n int) int { return rand.IntN(n) }

// SystemRand returns a goroutine-safe Rand for production use.
func SystemRand() Rand { return systemRand{} }

// Scheduler generates snipe times inside the daily activity window,
// excluding the opponent's blackout interval.
type Scheduler struct {
	rand Rand
}

func NewScheduler(r Rand) *Scheduler {
	if r == nil {
		r = SystemRand()
	}
	return &Scheduler{rand: r}
}

// SnipeTime returns a uniformly random whole-second instant inside the
// activity window for date, excluding the opponent's blackout window.
// The blackout passed in is the opponent's: the snipe time governs when
// this participant must be findable by the opponent, so fairness targets
// the opponent's ability to act.
//
// The offset is drawn across the total duration of all candidate
// sub-intervals, then mapped into the matching sub-interval by cumulative
// length, which keeps the distribution uniform over the valid time.
func (s *Scheduler) SnipeTime(opponentBlackoutHour *int, date time.Time) (time.Time, error) {
	window := ActivityWindow(date)
	totalSeconds := int(window.Duration() / time.Second)

	// Candidate sub-intervals as second offsets from the window start.
	type span struct{ start, end int }
	var candidates []span

	if blackout, ok := BlackoutWindow(opponentBlackoutHour, date); ok {
		// Clamp the blackout to the activity window.
		clampedStart := blackout.Start
		if clampedStart.Before(window.Start) {
			clampedStart = window.Start
		}
		clampedEnd := blackout.End
		if clampedEnd.After(window.End) {
			clampedEnd = window.End
		}

		if clampedStart.After(window.Start) {
			end := int(clampedStart.Sub(window.Start) / time.Second)
			if end > 0 {
				candidates = append(candidates, span{start: 0, end: end})
			}
		}
		if clampedEnd.Before(window.End) {
			start := int(clampedEnd.Sub(window.Start) / time.Second)
			if start < totalSeconds {
				candidates = append(candidates, span{start: start, end: totalSeconds})
			}
		}
	} else {
		candidates = append(candidates, span{start: 0, end: totalSeconds})
	}

	// A 5h blackout cannot cover the 12h window, but the invariant is
	// checked anyway: an empty candidate set must fail acceptance loudly.
	if len(candidates) == 0 {
		return time.Time{}, ErrSchedulingImpossible
	}

	validSeconds := 0
	for _, c := range candidates {
		validSeconds += c.end - c.start
	}
	if validSeconds <= 0 {
		return time.Time{}, ErrSchedulingImpossible
	}

	offset := s.rand.IntN(validSeconds)

	// Map the overall offset into the matching sub-interval, visiting the
	// candidates in chronological order.
	cumulative := 0
	final := 0
	for _, c := range candidates {
		length := c.end - c.start
		if offset < cumulative+length {
			final = c.start + (offset - cumulative)
			break
		}
		cumulative += length
	}

	return window.Start.Add(time.Duration(final) * time.Second), nil
}
