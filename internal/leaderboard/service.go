package leaderboard

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/errors"
	"github.com/valfonso/geoduel/internal/event"
)

// Directory resolves user IDs to usernames for leaderboard members.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
}

type Config struct {
	EventBus *event.Bus
	Users    Directory
	Redis    redis.UniversalClient
	Prefix   string
}

// Service maintains the career-wins ranking in a redis sorted set, fed by
// duel completion events.
type Service struct {
	eb     *event.Bus
	users  Directory
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		users:  c.Users,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameDuelCompleted, func(ctx context.Context, e event.Event) error {
		return s.RecordResult(ctx, e.(domain.EventDuelCompleted))
	})

	return s
}

type GetLeaderboardRequest struct{}

// GetLeaderboard returns all users ranked by career wins, descending.
func (s *Service) GetLeaderboard(ctx context.Context, _ GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.winsKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard is empty"))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Username: z.Member.(string),
			Wins:     z.Score,
		})
	}

	return &domain.Leaderboard{Entries: entries}, nil
}

// RecordResult increments the winner's career wins when a duel completes
// decisively. Draws leave the ranking untouched.
func (s *Service) RecordResult(ctx context.Context, e domain.EventDuelCompleted) error {
	d := e.Duel
	if d.WinnerID == nil {
		return nil
	}

	winner, err := s.users.GetByID(ctx, *d.WinnerID)
	if err != nil {
		return fmt.Errorf("resolve winner %s: %w", d.WinnerID, err)
	}

	if err := s.redis.ZIncrBy(ctx, s.winsKey(), 1, winner.Username).Err(); err != nil {
		return fmt.Errorf("record win: %w", err)
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return fmt.Errorf("get leaderboard after win: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) winsKey() string {
	return fmt.Sprintf("%s:wins", s.prefix)
}
