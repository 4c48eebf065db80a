package duel

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/errors"
	"github.com/valfonso/geoduel/internal/geo"
	"github.com/valfonso/geoduel/internal/schedule"
)

// ErrAdjudicationNotReady signals that the duel cannot be adjudicated yet:
// a snipe time is missing, or a participant is neither checked in nor past
// the disqualification deadline. Recoverable; the caller retries via the
// periodic sweep.
var ErrAdjudicationNotReady = errors.New(errors.CodeFailedPrecondition,
	errors.WithMessagef("duel is not ready for adjudication"))

// distanceExponent is the decimal exponent distances are rounded to before
// comparison. Comparing at 0.1 m precision makes the draw-on-equal rule
// deterministic instead of depending on float equality.
const distanceExponent = -1

type Outcome int

const (
	OutcomeDraw Outcome = iota
	OutcomeDecisive
)

// Verdict is the adjudication outcome as a tagged value: either a decisive
// winner or a draw. Not-ready is reported as an error, never as a verdict.
type Verdict struct {
	Outcome  Outcome
	WinnerID uuid.UUID // valid only when Outcome == OutcomeDecisive
}

// Adjudicate runs the duel result state machine over a snapshot and
// returns the finalized result fields. It is pure: the caller persists the
// result with a compare-and-swap on the ACTIVE status.
//
// Re-invoking on a COMPLETED duel returns the stored result unchanged.
func Adjudicate(d domain.Duel, now time.Time) (domain.DuelResult, error) {
	if d.Status == domain.DuelStatusCompleted {
		return storedResult(d), nil
	}

	if d.Status != domain.DuelStatusActive ||
		d.User1.SnipeTime == nil || d.User2.SnipeTime == nil {
		return domain.DuelResult{}, ErrAdjudicationNotReady
	}

	dq1, ready1 := disqualify(d.User1, now)
	dq2, ready2 := disqualify(d.User2, now)
	if !ready1 || !ready2 {
		return domain.DuelResult{}, ErrAdjudicationNotReady
	}

	res := domain.DuelResult{
		User1Disqualified: dq1,
		User2Disqualified: dq2,
		User1Distance:     predictionDistance(d.User1, d.User2),
		User2Distance:     predictionDistance(d.User2, d.User1),
		CompletedAt:       now,
	}

	v := decideWinner(d, res)
	if v.Outcome == OutcomeDecisive {
		winner := v.WinnerID
		res.WinnerID = &winner
	}

	return res, nil
}

// disqualify reports whether the participant is disqualified, and whether
// their side is settled at all: a participant with no check-in whose grace
// deadline has not passed yet leaves the duel unadjudicatable.
func disqualify(p domain.Participant, now time.Time) (dq, ready bool) {
	if p.Actual != nil {
		return false, true
	}

	deadline := p.SnipeTime.Add(schedule.CheckinTolerance + schedule.DisqualifyGrace)
	if now.After(deadline) {
		return true, true
	}
	return false, false
}

// predictionDistance scores one side: the distance between the predictor's
// guess and the opponent's actual location. Absent when the pair is
// incomplete.
func predictionDistance(predictor, opponent domain.Participant) decimal.NullDecimal {
	if predictor.Predicted == nil || opponent.Actual == nil {
		return decimal.NullDecimal{}
	}

	meters := geo.Distance(*predictor.Predicted, *opponent.Actual)
	return decimal.NullDecimal{
		Decimal: decimal.NewFromFloat(meters).Round(-distanceExponent),
		Valid:   true,
	}
}

// decideWinner applies the winner rules in priority order: double
// disqualification, single disqualification, distance comparison, win by
// default for the only complete side, draw otherwise.
func decideWinner(d domain.Duel, res domain.DuelResult) Verdict {
	switch {
	case res.User1Disqualified && res.User2Disqualified:
		return Verdict{Outcome: OutcomeDraw}
	case res.User2Disqualified:
		return Verdict{Outcome: OutcomeDecisive, WinnerID: d.User1.UserID}
	case res.User1Disqualified:
		return Verdict{Outcome: OutcomeDecisive, WinnerID: d.User2.UserID}
	}

	d1, d2 := res.User1Distance, res.User2Distance
	switch {
	case d1.Valid && d2.Valid:
		switch d1.Decimal.Cmp(d2.Decimal) {
		case -1:
			return Verdict{Outcome: OutcomeDecisive, WinnerID: d.User1.UserID}
		case 1:
			return Verdict{Outcome: OutcomeDecisive, WinnerID: d.User2.UserID}
		default:
			return Verdict{Outcome: OutcomeDraw}
		}
	case d1.Valid:
		return Verdict{Outcome: OutcomeDecisive, WinnerID: d.User1.UserID}
	case d2.Valid:
		return Verdict{Outcome: OutcomeDecisive, WinnerID: d.User2.UserID}
	default:
		return Verdict{Outcome: OutcomeDraw}
	}
}

func storedResult(d domain.Duel) domain.DuelResult {
	res := domain.DuelResult{
		User1Disqualified: d.User1.Disqualified,
		User2Disqualified: d.User2.Disqualified,
		User1Distance:     d.User1.FinalDistance,
		User2Distance:     d.User2.FinalDistance,
		WinnerID:          d.WinnerID,
	}
	if d.CompletedAt != nil {
		res.CompletedAt = *d.CompletedAt
	}
	return res
}
