package duel_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/duel"
	"github.com/valfonso/geoduel/internal/errors"
	"github.com/valfonso/geoduel/internal/event"
	"github.com/valfonso/geoduel/internal/schedule"
)

func hourPtr(h int) *int { return &h }

// fixedRand returns a preset sequence of offsets.
type fixedRand struct {
	vals []int
	i    int
}

func (r *fixedRand) IntN(n int) int {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v % n
}

// fakeStore is an in-memory Store with the same compare-and-swap semantics
// as the postgres implementation.
type fakeStore struct {
	mu    sync.Mutex
	duels map[uuid.UUID]domain.Duel
}

func newFakeStore() *fakeStore {
	return &fakeStore{duels: make(map[uuid.UUID]domain.Duel)}
}

func (st *fakeStore) CreateDuel(_ context.Context, d domain.Duel) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, existing := range st.duels {
		if existing.Status != domain.DuelStatusCompleted &&
			existing.Date.Equal(d.Date) &&
			existing.User1.UserID == d.User1.UserID && existing.User2.UserID == d.User2.UserID {
			return errors.New(errors.CodeAlreadyExists)
		}
	}

	st.duels[d.ID] = d
	return nil
}

func (st *fakeStore) GetDuel(_ context.Context, id uuid.UUID) (domain.Duel, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	d, ok := st.duels[id]
	if !ok {
		return domain.Duel{}, errors.New(errors.CodeNotFound)
	}
	return d, nil
}

func (st *fakeStore) ListRequests(_ context.Context, userID uuid.UUID) ([]domain.DuelRequest, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var reqs []domain.DuelRequest
	for _, d := range st.duels {
		if d.Status == domain.DuelStatusPending && d.User2.UserID == userID {
			reqs = append(reqs, domain.DuelRequest{DuelID: d.ID, CreatedAt: d.CreatedAt})
		}
	}
	return reqs, nil
}

func (st *fakeStore) ActiveDuel(_ context.Context, userID uuid.UUID) (*domain.Duel, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, d := range st.duels {
		if d.Status == domain.DuelStatusActive &&
			(d.User1.UserID == userID || d.User2.UserID == userID) {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (st *fakeStore) ActivateDuel(_ context.Context, id uuid.UUID, snipe1, snipe2, acceptedAt time.Time) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	d, ok := st.duels[id]
	if !ok || d.Status != domain.DuelStatusPending {
		return false, nil
	}

	d.Status = domain.DuelStatusActive
	d.User1.SnipeTime = &snipe1
	d.User2.SnipeTime = &snipe2
	d.AcceptedAt = &acceptedAt
	st.duels[id] = d
	return true, nil
}

func (st *fakeStore) SetPrediction(_ context.Context, duelID, userID uuid.UUID, c domain.Coordinate) error {
	return st.setCoordinate(duelID, userID, c, func(p *domain.Participant) **domain.Coordinate {
		return &p.Predicted
	})
}

func (st *fakeStore) SetCheckin(_ context.Context, duelID, userID uuid.UUID, c domain.Coordinate) error {
	return st.setCoordinate(duelID, userID, c, func(p *domain.Participant) **domain.Coordinate {
		return &p.Actual
	})
}

func (st *fakeStore) setCoordinate(duelID, userID uuid.UUID, c domain.Coordinate, slot func(*domain.Participant) **domain.Coordinate) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	d, ok := st.duels[duelID]
	if !ok || d.Status != domain.DuelStatusActive {
		return errors.New(errors.CodeFailedPrecondition)
	}

	p, ok := d.ParticipantOf(userID)
	if !ok || *slot(p) != nil {
		return errors.New(errors.CodeFailedPrecondition)
	}

	*slot(p) = &c
	st.duels[duelID] = d
	return nil
}

func (st *fakeStore) CompleteDuel(_ context.Context, duelID uuid.UUID, res domain.DuelResult) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	d, ok := st.duels[duelID]
	if !ok || d.Status != domain.DuelStatusActive {
		return false, nil
	}

	d.Status = domain.DuelStatusCompleted
	d.User1.Disqualified = res.User1Disqualified
	d.User2.Disqualified = res.User2Disqualified
	d.User1.FinalDistance = res.User1Distance
	d.User2.FinalDistance = res.User2Distance
	d.WinnerID = res.WinnerID
	completedAt := res.CompletedAt
	d.CompletedAt = &completedAt
	st.duels[duelID] = d
	return true, nil
}

func (st *fakeStore) ListAdjudicatable(_ context.Context, cutoff time.Time) ([]domain.Duel, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []domain.Duel
	for _, d := range st.duels {
		if d.Status != domain.DuelStatusActive {
			continue
		}
		settled := func(p domain.Participant) bool {
			return p.Actual != nil || (p.SnipeTime != nil && p.SnipeTime.Before(cutoff))
		}
		if settled(d.User1) && settled(d.User2) {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeDirectory resolves users from a fixed set.
type fakeDirectory struct {
	users []domain.User
}

func (f *fakeDirectory) GetByUsername(_ context.Context, username string) (domain.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", username))
}

func (f *fakeDirectory) GetByID(_ context.Context, id uuid.UUID) (domain.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", id))
}

type fakeFriends struct {
	friends bool
}

func (f *fakeFriends) AreFriends(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return f.friends, nil
}

type fixture struct {
	svc   *duel.Service
	store *fakeStore
	clock clockwork.FakeClock
	eb    *event.Bus

	completed []domain.EventDuelCompleted
	mu        sync.Mutex
}

// morning is before the activity window opens on the duel day.
var morning = time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC)

func makeFixture(t *testing.T, blackout1, blackout2 *int) *fixture {
	t.Helper()

	f := &fixture{
		store: newFakeStore(),
		clock: clockwork.NewFakeClockAt(morning),
		eb:    event.NewBus(),
	}

	f.eb.Subscribe(domain.EventNameDuelCompleted, func(ctx context.Context, e event.Event) error {
		f.mu.Lock()
		f.completed = append(f.completed, e.(domain.EventDuelCompleted))
		f.mu.Unlock()
		return nil
	})

	f.svc = duel.NewService(duel.Config{
		Store: f.store,
		Users: &fakeDirectory{users: []domain.User{
			{ID: user1ID, Username: "alice", BlackoutStartHour: blackout1},
			{ID: user2ID, Username: "bob", BlackoutStartHour: blackout2},
		}},
		Friends:   &fakeFriends{friends: true},
		EventBus:  f.eb,
		Clock:     f.clock,
		Scheduler: schedule.NewScheduler(&fixedRand{vals: []int{0}}),
	})

	return f
}

func (f *fixture) acceptedDuel(t *testing.T) domain.Duel {
	t.Helper()

	d, err := f.svc.RequestDuel(context.Background(), duel.RequestDuelRequest{
		RequesterUsername: "alice",
		OpponentUsername:  "bob",
	})
	require.NoError(t, err)

	accepted, err := f.svc.AcceptDuel(context.Background(), duel.AcceptDuelRequest{
		DuelID:   d.ID,
		Username: "bob",
	})
	require.NoError(t, err)

	return *accepted
}

func TestService_AcceptDuel(t *testing.T) {
	f := makeFixture(t, nil, hourPtr(14))

	d := f.acceptedDuel(t)

	assert.Equal(t, domain.DuelStatusActive, d.Status)
	require.NotNil(t, d.User1.SnipeTime)
	require.NotNil(t, d.User2.SnipeTime)
	require.NotNil(t, d.AcceptedAt)

	window := schedule.ActivityWindow(d.Date)
	assert.True(t, window.Contains(*d.User1.SnipeTime))
	assert.True(t, window.Contains(*d.User2.SnipeTime))

	// User1's snipe time avoids user2's blackout; user2 has none to avoid.
	blackout, ok := schedule.BlackoutWindow(hourPtr(14), d.Date)
	require.True(t, ok)
	assert.False(t, blackout.Contains(*d.User1.SnipeTime))
}

func TestService_AcceptDuel_OnlyChallengedUser(t *testing.T) {
	f := makeFixture(t, nil, nil)

	d, err := f.svc.RequestDuel(context.Background(), duel.RequestDuelRequest{
		RequesterUsername: "alice",
		OpponentUsername:  "bob",
	})
	require.NoError(t, err)

	_, err = f.svc.AcceptDuel(context.Background(), duel.AcceptDuelRequest{
		DuelID:   d.ID,
		Username: "alice",
	})
	assert.True(t, errors.Is(err, errors.CodePermissionDenied))
}

func TestService_RequestDuel_NotFriends(t *testing.T) {
	f := makeFixture(t, nil, nil)
	f.svc = duel.NewService(duel.Config{
		Store: f.store,
		Users: &fakeDirectory{users: []domain.User{
			{ID: user1ID, Username: "alice"},
			{ID: user2ID, Username: "bob"},
		}},
		Friends:  &fakeFriends{friends: false},
		EventBus: f.eb,
		Clock:    f.clock,
	})

	_, err := f.svc.RequestDuel(context.Background(), duel.RequestDuelRequest{
		RequesterUsername: "alice",
		OpponentUsername:  "bob",
	})
	assert.True(t, errors.Is(err, errors.CodePermissionDenied))
}

func TestService_RequestDuel_DuplicatePair(t *testing.T) {
	f := makeFixture(t, nil, nil)

	_, err := f.svc.RequestDuel(context.Background(), duel.RequestDuelRequest{
		RequesterUsername: "alice",
		OpponentUsername:  "bob",
	})
	require.NoError(t, err)

	_, err = f.svc.RequestDuel(context.Background(), duel.RequestDuelRequest{
		RequesterUsername: "alice",
		OpponentUsername:  "bob",
	})
	assert.True(t, errors.Is(err, errors.CodeAlreadyExists))
}

func TestService_SubmitPrediction(t *testing.T) {
	f := makeFixture(t, nil, nil)
	d := f.acceptedDuel(t)

	// Before the activity window opens, predictions are allowed.
	err := f.svc.SubmitPrediction(context.Background(), duel.SubmitPredictionRequest{
		DuelID:     d.ID,
		Username:   "alice",
		Coordinate: domain.Coordinate{Latitude: 10, Longitude: 10},
	})
	require.NoError(t, err)

	// A second prediction by the same participant is rejected.
	err = f.svc.SubmitPrediction(context.Background(), duel.SubmitPredictionRequest{
		DuelID:     d.ID,
		Username:   "alice",
		Coordinate: domain.Coordinate{Latitude: 11, Longitude: 11},
	})
	assert.True(t, errors.Is(err, errors.CodeAlreadyExists))
}

func TestService_SubmitPrediction_LockedDuringFindableHours(t *testing.T) {
	f := makeFixture(t, nil, nil)
	d := f.acceptedDuel(t)

	// 15:00 is inside the activity window and bob has no blackout.
	f.clock.Advance(6 * time.Hour)

	err := f.svc.SubmitPrediction(context.Background(), duel.SubmitPredictionRequest{
		DuelID:     d.ID,
		Username:   "alice",
		Coordinate: domain.Coordinate{Latitude: 10, Longitude: 10},
	})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestService_SubmitPrediction_AllowedDuringOpponentBlackout(t *testing.T) {
	// Bob's blackout starts at 14:00; alice predicts at 15:00.
	f := makeFixture(t, nil, hourPtr(14))
	d := f.acceptedDuel(t)

	f.clock.Advance(6 * time.Hour)

	err := f.svc.SubmitPrediction(context.Background(), duel.SubmitPredictionRequest{
		DuelID:     d.ID,
		Username:   "alice",
		Coordinate: domain.Coordinate{Latitude: 10, Longitude: 10},
	})
	assert.NoError(t, err)
}

func TestService_SubmitCheckin_OutsideWindow(t *testing.T) {
	f := makeFixture(t, nil, nil)
	d := f.acceptedDuel(t)

	err := f.svc.SubmitCheckin(context.Background(), duel.SubmitCheckinRequest{
		DuelID:     d.ID,
		Username:   "alice",
		Coordinate: domain.Coordinate{Latitude: 10, Longitude: 10},
		Timestamp:  d.User1.SnipeTime.Add(3 * time.Minute),
	})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestService_BothCheckinsCompleteTheDuel(t *testing.T) {
	f := makeFixture(t, nil, nil)
	d := f.acceptedDuel(t)

	checkin := func(username string, snipe time.Time, c domain.Coordinate) error {
		return f.svc.SubmitCheckin(context.Background(), duel.SubmitCheckinRequest{
			DuelID:     d.ID,
			Username:   username,
			Coordinate: c,
			Timestamp:  snipe,
		})
	}

	require.NoError(t, f.svc.SubmitPrediction(context.Background(), duel.SubmitPredictionRequest{
		DuelID:     d.ID,
		Username:   "alice",
		Coordinate: domain.Coordinate{Latitude: 10, Longitude: 10},
	}))
	require.NoError(t, f.svc.SubmitPrediction(context.Background(), duel.SubmitPredictionRequest{
		DuelID:     d.ID,
		Username:   "bob",
		Coordinate: domain.Coordinate{Latitude: 0, Longitude: 0},
	}))

	require.NoError(t, checkin("alice", *d.User1.SnipeTime, domain.Coordinate{Latitude: 50, Longitude: 50}))
	require.NoError(t, checkin("bob", *d.User2.SnipeTime, domain.Coordinate{Latitude: 10.001, Longitude: 10.001}))

	f.eb.Stop()

	got, err := f.store.GetDuel(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuelStatusCompleted, got.Status)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, user1ID, *got.WinnerID)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.completed, 1)
	assert.Equal(t, d.ID, f.completed[0].Duel.ID)
}

func TestService_SweepOverdue(t *testing.T) {
	f := makeFixture(t, nil, nil)
	d := f.acceptedDuel(t)

	// Jump well past every deadline on the duel day.
	f.clock.Advance(16 * time.Hour)

	n, err := f.svc.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.GetDuel(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DuelStatusCompleted, got.Status)
	assert.True(t, got.User1.Disqualified)
	assert.True(t, got.User2.Disqualified)
	assert.Nil(t, got.WinnerID)

	// A second sweep finds nothing left to do.
	n, err = f.svc.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_GetResults_RequiresCompletion(t *testing.T) {
	f := makeFixture(t, nil, nil)
	d := f.acceptedDuel(t)

	_, err := f.svc.GetResults(context.Background(), duel.GetResultsRequest{DuelID: d.ID})
	assert.True(t, errors.Is(err, errors.CodeFailedPrecondition))
}

func TestService_CurrentDuel(t *testing.T) {
	f := makeFixture(t, nil, nil)
	d := f.acceptedDuel(t)

	got, err := f.svc.CurrentDuel(context.Background(), duel.CurrentDuelRequest{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	_, err = f.svc.CurrentDuel(context.Background(), duel.CurrentDuelRequest{Username: "carol"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}
