package friend

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/errors"
)

// Friendship rows are stored once per pair, requester first. Status moves
// pending -> accepted and never back.
const (
	statusPending  = "pending"
	statusAccepted = "accepted"
)

type Directory interface {
	GetByUsername(ctx context.Context, username string) (domain.User, error)
}

type Config struct {
	DB    *pgxpool.Pool
	Users Directory
}

type Service struct {
	db    *pgxpool.Pool
	users Directory
}

func NewService(c Config) *Service {
	return &Service{db: c.DB, users: c.Users}
}

type SendRequestRequest struct {
	FromUsername string
	ToUsername   string
}

// SendRequest creates a pending friendship from one user to another.
func (s *Service) SendRequest(ctx context.Context, req SendRequestRequest) (*domain.FriendRequest, error) {
	if req.FromUsername == req.ToUsername {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("cannot befriend yourself"))
	}

	from, err := s.users.GetByUsername(ctx, req.FromUsername)
	if err != nil {
		return nil, err
	}
	to, err := s.users.GetByUsername(ctx, req.ToUsername)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate friendship ID: %w", err)
	}

	const stmt = `
INSERT INTO friendships (id, requester_id, addressee_id, status, created_at)
VALUES ($1, $2, $3, $4, now())
RETURNING created_at;`

	fr := domain.FriendRequest{RequestID: id, FromUsername: from.Username}
	err = s.db.QueryRow(ctx, stmt, id, from.ID, to.ID, statusPending).Scan(&fr.CreatedAt)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("friendship between %s and %s already exists", req.FromUsername, req.ToUsername),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert friendship: %w", err)
	}

	return &fr, nil
}

type ListRequestsRequest struct {
	Username string
}

// ListRequests returns the user's incoming pending friend requests.
func (s *Service) ListRequests(ctx context.Context, req ListRequestsRequest) ([]domain.FriendRequest, error) {
	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	const stmt = `
SELECT f.id, ru.username, f.created_at
FROM friendships f
JOIN users ru ON ru.id = f.requester_id
WHERE f.addressee_id = $1 AND f.status = $2
ORDER BY f.created_at;`

	rows, err := s.db.Query(ctx, stmt, u.ID, statusPending)
	if err != nil {
		return nil, fmt.Errorf("list friend requests: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.FriendRequest, error) {
		var fr domain.FriendRequest
		if err := r.Scan(&fr.RequestID, &fr.FromUsername, &fr.CreatedAt); err != nil {
			return domain.FriendRequest{}, err
		}
		return fr, nil
	})
}

type AcceptRequestRequest struct {
	RequestID uuid.UUID
	Username  string
}

// AcceptRequest transitions a pending friendship to accepted. Only the
// addressee may accept; accepting twice is a conflict.
func (s *Service) AcceptRequest(ctx context.Context, req AcceptRequestRequest) error {
	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return err
	}

	const stmt = `
UPDATE friendships SET status = $3
WHERE id = $1 AND addressee_id = $2 AND status = $4;`

	tag, err := s.db.Exec(ctx, stmt, req.RequestID, u.ID, statusAccepted, statusPending)
	if err != nil {
		return fmt.Errorf("accept friendship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("no pending friend request %s for %s", req.RequestID, req.Username))
	}

	return nil
}

type ListFriendsRequest struct {
	Username string
}

// ListFriends returns the user's accepted friends, flagging those with an
// active duel against the user.
func (s *Service) ListFriends(ctx context.Context, req ListFriendsRequest) ([]domain.Friend, error) {
	u, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	const stmt = `
SELECT fu.username,
       EXISTS (
           SELECT 1 FROM duels d
           WHERE d.status = 'ACTIVE'
             AND ((d.user1_id = $1 AND d.user2_id = fu.id)
               OR (d.user2_id = $1 AND d.user1_id = fu.id))
       ) AS active_duel
FROM friendships f
JOIN users fu ON fu.id = CASE WHEN f.requester_id = $1 THEN f.addressee_id ELSE f.requester_id END
WHERE (f.requester_id = $1 OR f.addressee_id = $1) AND f.status = $2
ORDER BY fu.username;`

	rows, err := s.db.Query(ctx, stmt, u.ID, statusAccepted)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Friend, error) {
		var (
			f          domain.Friend
			activeDuel bool
		)
		if err := r.Scan(&f.Username, &activeDuel); err != nil {
			return domain.Friend{}, err
		}
		if activeDuel {
			f.Status = "active_duel"
		}
		return f, nil
	})
}

// AreFriends reports whether an accepted friendship exists between the two
// users, in either direction.
func (s *Service) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	const stmt = `
SELECT EXISTS (
    SELECT 1 FROM friendships
    WHERE status = $3
      AND ((requester_id = $1 AND addressee_id = $2)
        OR (requester_id = $2 AND addressee_id = $1))
);`

	var ok bool
	if err := s.db.QueryRow(ctx, stmt, a, b, statusAccepted).Scan(&ok); err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}

	return ok, nil
}
