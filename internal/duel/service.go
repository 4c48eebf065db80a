package duel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/errors"
	"github.com/valfonso/geoduel/internal/event"
	"github.com/valfonso/geoduel/internal/schedule"
)

// Store is the persistence contract for duels. Write methods that perform a
// status transition use compare-and-swap semantics: they report false when
// the expected prior status no longer holds, so a race between concurrent
// check-ins and the timeout sweep resolves to exactly one completion.
type Store interface {
	CreateDuel(ctx context.Context, d domain.Duel) error
	GetDuel(ctx context.Context, id uuid.UUID) (domain.Duel, error)
	ListRequests(ctx context.Context, userID uuid.UUID) ([]domain.DuelRequest, error)
	ActiveDuel(ctx context.Context, userID uuid.UUID) (*domain.Duel, error)

	// ActivateDuel transitions PENDING to ACTIVE, stamping both snipe times
	// together, exactly once.
	ActivateDuel(ctx context.Context, id uuid.UUID, snipe1, snipe2, acceptedAt time.Time) (bool, error)

	// SetPrediction and SetCheckin write a coordinate at most once, and only
	// while the duel is ACTIVE.
	SetPrediction(ctx context.Context, duelID, userID uuid.UUID, c domain.Coordinate) error
	SetCheckin(ctx context.Context, duelID, userID uuid.UUID, c domain.Coordinate) error

	// CompleteDuel transitions ACTIVE to COMPLETED with the finalized result.
	CompleteDuel(ctx context.Context, duelID uuid.UUID, res domain.DuelResult) (bool, error)

	// ListAdjudicatable returns ACTIVE duels where each participant either
	// checked in or ran past the disqualification cutoff.
	ListAdjudicatable(ctx context.Context, cutoff time.Time) ([]domain.Duel, error)
}

// Directory resolves usernames to users and exposes blackout settings.
type Directory interface {
	GetByUsername(ctx context.Context, username string) (domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
}

// FriendChecker reports whether two users are friends.
type FriendChecker interface {
	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
}

type Config struct {
	Store     Store
	Users     Directory
	Friends   FriendChecker
	EventBus  *event.Bus
	Clock     clockwork.Clock
	Scheduler *schedule.Scheduler
}

// Service runs the duel lifecycle: request, accept, predict, check in,
// adjudicate. The engine itself is synchronous; each transition is a single
// store write.
type Service struct {
	store     Store
	users     Directory
	friends   FriendChecker
	eb        *event.Bus
	clock     clockwork.Clock
	scheduler *schedule.Scheduler
}

func NewService(c Config) *Service {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Scheduler == nil {
		c.Scheduler = schedule.NewScheduler(nil)
	}

	return &Service{
		store:     c.Store,
		users:     c.Users,
		friends:   c.Friends,
		eb:        c.EventBus,
		clock:     c.Clock,
		scheduler: c.Scheduler,
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

type RequestDuelRequest struct {
	RequesterUsername string
	OpponentUsername  string
}

// RequestDuel creates a PENDING duel between two friends for today.
func (s *Service) RequestDuel(ctx context.Context, req RequestDuelRequest) (*domain.Duel, error) {
	if req.RequesterUsername == req.OpponentUsername {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("cannot duel yourself"))
	}

	requester, err := s.users.GetByUsername(ctx, req.RequesterUsername)
	if err != nil {
		return nil, err
	}
	opponent, err := s.users.GetByUsername(ctx, req.OpponentUsername)
	if err != nil {
		return nil, err
	}

	ok, err := s.friends.AreFriends(ctx, requester.ID, opponent.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("users %s and %s are not friends", req.RequesterUsername, req.OpponentUsername))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate duel ID: %w", err)
	}

	now := s.now()
	d := domain.Duel{
		ID:        id,
		Date:      schedule.DayOf(now),
		Status:    domain.DuelStatusPending,
		User1:     domain.Participant{UserID: requester.ID},
		User2:     domain.Participant{UserID: opponent.ID},
		CreatedAt: now,
	}

	if err := s.store.CreateDuel(ctx, d); err != nil {
		return nil, err
	}

	return &d, nil
}

type ListRequestsRequest struct {
	Username string
}

// ListRequests returns the user's incoming PENDING duels.
func (s *Service) ListRequests(ctx context.Context, req ListRequestsRequest) ([]domain.DuelRequest, error) {
	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	return s.store.ListRequests(ctx, u.ID)
}

type AcceptDuelRequest struct {
	DuelID   uuid.UUID
	Username string
}

// AcceptDuel transitions a PENDING duel to ACTIVE. Both snipe times are
// generated here, each excluding the respective opponent's blackout window,
// and stamped together exactly once. A scheduling failure aborts the
// transition; the duel stays PENDING.
func (s *Service) AcceptDuel(ctx context.Context, req AcceptDuelRequest) (*domain.Duel, error) {
	d, err := s.store.GetDuel(ctx, req.DuelID)
	if err != nil {
		return nil, err
	}

	accepter, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	if accepter.ID != d.User2.UserID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("only the challenged user can accept the duel"))
	}
	if d.Status != domain.DuelStatusPending {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("duel %s is not pending", d.ID))
	}

	user1, err := s.users.GetByID(ctx, d.User1.UserID)
	if err != nil {
		return nil, err
	}
	user2, err := s.users.GetByID(ctx, d.User2.UserID)
	if err != nil {
		return nil, err
	}

	// Each snipe time excludes the *opponent's* blackout: the snipe time
	// governs when this participant must be findable by the opponent.
	snipe1, err := s.scheduler.SnipeTime(user2.BlackoutStartHour, d.Date)
	if err != nil {
		return nil, err
	}
	snipe2, err := s.scheduler.SnipeTime(user1.BlackoutStartHour, d.Date)
	if err != nil {
		return nil, err
	}

	acceptedAt := s.now()
	swapped, err := s.store.ActivateDuel(ctx, d.ID, snipe1, snipe2, acceptedAt)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("duel %s was already accepted", d.ID))
	}

	d.Status = domain.DuelStatusActive
	d.User1.SnipeTime = &snipe1
	d.User2.SnipeTime = &snipe2
	d.AcceptedAt = &acceptedAt

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventDuelAccepted{Duel: d})
	}

	return &d, nil
}

type SubmitPredictionRequest struct {
	DuelID     uuid.UUID
	Username   string
	Coordinate domain.Coordinate
}

// SubmitPrediction records the participant's guess of the opponent's
// location. Allowed at most once, only while the duel is ACTIVE, and only
// at instants permitted by the prediction window rule for the opponent's
// blackout.
func (s *Service) SubmitPrediction(ctx context.Context, req SubmitPredictionRequest) error {
	if !req.Coordinate.Valid() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("coordinate out of range"))
	}

	d, p, err := s.participant(ctx, req.DuelID, req.Username)
	if err != nil {
		return err
	}
	if d.Status != domain.DuelStatusActive {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("duel %s is not active", d.ID))
	}
	if p.Predicted != nil {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("prediction already submitted"))
	}

	opp, _ := d.OpponentOf(p.UserID)
	opponent, err := s.users.GetByID(ctx, opp.UserID)
	if err != nil {
		return err
	}

	ok, err := schedule.ValidPredictionTime(s.now(), opponent.BlackoutStartHour, d.Date)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("predictions are locked during the opponent's findable hours"))
	}

	return s.store.SetPrediction(ctx, d.ID, p.UserID, req.Coordinate)
}

type SubmitCheckinRequest struct {
	DuelID     uuid.UUID
	Username   string
	Coordinate domain.Coordinate
	// Timestamp is the client-reported check-in instant, normalized to UTC
	// at the API boundary.
	Timestamp time.Time
}

// SubmitCheckin records the participant's actual location near their snipe
// time. When the second check-in lands, the duel is adjudicated immediately.
func (s *Service) SubmitCheckin(ctx context.Context, req SubmitCheckinRequest) error {
	if !req.Coordinate.Valid() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("coordinate out of range"))
	}

	d, p, err := s.participant(ctx, req.DuelID, req.Username)
	if err != nil {
		return err
	}
	if d.Status != domain.DuelStatusActive {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("duel %s is not active", d.ID))
	}
	if p.Actual != nil {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("checkin already submitted"))
	}
	if p.SnipeTime == nil {
		return ErrAdjudicationNotReady
	}

	ok, err := schedule.ValidCheckinTime(*p.SnipeTime, req.Timestamp, schedule.CheckinTolerance)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("checkin outside the allowed window around the snipe time"))
	}

	if err := s.store.SetCheckin(ctx, d.ID, p.UserID, req.Coordinate); err != nil {
		return err
	}

	d, err = s.store.GetDuel(ctx, d.ID)
	if err != nil {
		return err
	}
	if d.User1.Actual != nil && d.User2.Actual != nil {
		return s.adjudicate(ctx, d)
	}

	return nil
}

type GetResultsRequest struct {
	DuelID uuid.UUID
}

// GetResults returns the finalized result of a COMPLETED duel.
func (s *Service) GetResults(ctx context.Context, req GetResultsRequest) (*domain.DuelResult, error) {
	d, err := s.store.GetDuel(ctx, req.DuelID)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.DuelStatusCompleted {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("duel %s is not completed yet", d.ID))
	}

	res, err := Adjudicate(d, s.now())
	if err != nil {
		return nil, err
	}
	return &res, nil
}

type CurrentDuelRequest struct {
	Username string
}

// CurrentDuel returns the user's ACTIVE duel, or NotFound.
func (s *Service) CurrentDuel(ctx context.Context, req CurrentDuelRequest) (*domain.Duel, error) {
	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	d, err := s.store.ActiveDuel(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no active duel for %s", req.Username))
	}
	return d, nil
}

// SweepOverdue adjudicates every ACTIVE duel whose missing check-ins are
// past the disqualification deadline. Returns the number of duels
// completed by this sweep.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-(schedule.CheckinTolerance + schedule.DisqualifyGrace))
	duels, err := s.store.ListAdjudicatable(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list adjudicatable duels: %w", err)
	}

	completed := 0
	for _, d := range duels {
		if err := s.adjudicate(ctx, d); err != nil {
			if errors.Is(err, errors.CodeFailedPrecondition) {
				continue
			}
			return completed, fmt.Errorf("adjudicate duel %s: %w", d.ID, err)
		}
		completed++
	}

	return completed, nil
}

// adjudicate finalizes one duel. The COMPLETED transition is a
// compare-and-swap on the ACTIVE status: losing the race to a concurrent
// check-in or sweep is a no-op, not an error.
func (s *Service) adjudicate(ctx context.Context, d domain.Duel) error {
	res, err := Adjudicate(d, s.now())
	if err != nil {
		return err
	}
	if d.Status == domain.DuelStatusCompleted {
		return nil
	}

	swapped, err := s.store.CompleteDuel(ctx, d.ID, res)
	if err != nil {
		return err
	}
	if !swapped {
		return nil
	}

	d.Status = domain.DuelStatusCompleted
	d.User1.Disqualified = res.User1Disqualified
	d.User2.Disqualified = res.User2Disqualified
	d.User1.FinalDistance = res.User1Distance
	d.User2.FinalDistance = res.User2Distance
	d.WinnerID = res.WinnerID
	d.CompletedAt = &res.CompletedAt

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventDuelCompleted{Duel: d})
	}

	return nil
}

func (s *Service) participant(ctx context.Context, duelID uuid.UUID, username string) (domain.Duel, *domain.Participant, error) {
	d, err := s.store.GetDuel(ctx, duelID)
	if err != nil {
		return domain.Duel{}, nil, err
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return domain.Duel{}, nil, err
	}

	p, ok := d.ParticipantOf(u.ID)
	if !ok {
		return domain.Duel{}, nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("user %s is not a participant of duel %s", username, duelID))
	}

	return d, p, nil
}
