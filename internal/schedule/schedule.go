// Package schedule implements the duel time-window engine: blackout window
// computation, random snipe-time generation, and the prediction/check-in
// validity checks. Everything in this package is pure; the only source of
// nondeterminism is the injected random source.
package schedule

import (
	"time"

	"github.com/valfonso/geoduel/internal/errors"
)

const (
	// ActivityStartHour is the UTC hour at which the daily duel activity
	// window opens. The window runs until midnight of the next day.
	ActivityStartHour = 12

	// BlackoutHourMin and BlackoutHourMax bound the configurable blackout
	// start hour. Hours outside this range are treated as no blackout.
	BlackoutHourMin = 12
	BlackoutHourMax = 19

	// BlackoutDuration is the fixed length of a blackout window.
	BlackoutDuration = 5 * time.Hour

	// CheckinTolerance is the window around the snipe time within which a
	// check-in counts, inclusive on both ends.
	CheckinTolerance = 2 * time.Minute

	// DisqualifyGrace is the extra slack past the check-in window before a
	// missing check-in becomes a disqualification.
	DisqualifyGrace = 3 * time.Minute
)

// ErrSchedulingImpossible is returned when no valid instant remains in the
// activity window. The caller must reject duel acceptance.
var ErrSchedulingImpossible = errors.New(errors.CodeFailedPrecondition,
	errors.WithMessagef("no valid interval for snipe time generation"))

// Interval is a half-open UTC time interval [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Contains reports whether t lies in [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// DayOf truncates an instant to midnight UTC of its calendar date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ActivityWindow returns the duel activity window for a calendar date:
// [date 12:00 UTC, date+1 00:00 UTC).
func ActivityWindow(date time.Time) Interval {
	start := DayOf(date).Add(ActivityStartHour * time.Hour)
	end := DayOf(date).Add(24 * time.Hour)
	return Interval{Start: start, End: end}
}

// BlackoutWindow maps a user's blackout start hour to a concrete UTC
// interval on the given date. Returns false when the hour is absent or
// outside [BlackoutHourMin, BlackoutHourMax].
func BlackoutWindow(startHour *int, date time.Time) (Interval, bool) {
	if startHour == nil || *startHour < BlackoutHourMin || *startHour > BlackoutHourMax {
		return Interval{}, false
	}

	start := DayOf(date).Add(time.Duration(*startHour) * time.Hour)
	return Interval{Start: start, End: start.Add(BlackoutDuration)}, true
}

// requireUTC rejects zero instants and instants carrying a non-UTC offset.
// Callers are expected to normalize at the boundary rather than rely on a
// silent conversion here.
func requireUTC(name string, t time.Time) error {
	if t.IsZero() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("%s: zero instant", name))
	}
	if _, offset := t.Zone(); offset != 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("%s: instant must be UTC", name))
	}
	return nil
}

// ValidCheckinTime reports whether checkin lies within tolerance of snipe,
// inclusive on both ends. Both instants must be UTC.
func ValidCheckinTime(snipe, checkin time.Time, tolerance time.Duration) (bool, error) {
	if err := requireUTC("snipe time", snipe); err != nil {
		return false, err
	}
	if err := requireUTC("checkin time", checkin); err != nil {
		return false, err
	}

	lower := snipe.Add(-tolerance)
	upper := snipe.Add(tolerance)
	return !checkin.Before(lower) && !checkin.After(upper), nil
}

// ValidPredictionTime reports whether now is a valid instant to submit a
// prediction for a duel on the given date. Predictions are allowed outside
// the activity window, and inside it only during the opponent's blackout:
// the predictor must lock in before the opponent's findable hours, except
// during the opponent's own dead period when no information leaks.
func ValidPredictionTime(now time.Time, opponentBlackoutHour *int, date time.Time) (bool, error) {
	if err := requireUTC("current time", now); err != nil {
		return false, err
	}

	window := ActivityWindow(date)
	if !window.Contains(now) {
		return true, nil
	}

	if blackout, ok := BlackoutWindow(opponentBlackoutHour, date); ok && blackout.Contains(now) {
		return true, nil
	}

	return false, nil
}
