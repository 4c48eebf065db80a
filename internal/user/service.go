package user

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/errors"
	"github.com/valfonso/geoduel/internal/schedule"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9]{3,50}$`)

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{db: c.DB}
}

type CreateUserRequest struct {
	Username string
}

// CreateUser registers a new user with a unique username.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest) (*domain.User, error) {
	if !usernameRe.MatchString(req.Username) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("username must be 3-50 alphanumeric characters"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate user ID: %w", err)
	}

	const stmt = `INSERT INTO users (id, username) VALUES ($1, $2);`

	_, err = s.db.Exec(ctx, stmt, id, req.Username)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("username %q already exists", req.Username),
			errors.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &domain.User{ID: id, Username: req.Username}, nil
}

// GetByUsername resolves a username to the full user record, including the
// blackout setting the scheduler consumes.
func (s *Service) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	const stmt = `SELECT id, username, blackout_start_hour FROM users WHERE username = $1;`

	var u domain.User
	err := s.db.QueryRow(ctx, stmt, username).Scan(&u.ID, &u.Username, &u.BlackoutStartHour)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found: %s", username))
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}

	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	const stmt = `SELECT id, username, blackout_start_hour FROM users WHERE id = $1;`

	var u domain.User
	err := s.db.QueryRow(ctx, stmt, id).Scan(&u.ID, &u.Username, &u.BlackoutStartHour)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found: %s", id))
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}

	return u, nil
}

type UpdateSettingsRequest struct {
	Username string
	// BlackoutStartHour of nil clears the setting.
	BlackoutStartHour *int
}

// UpdateSettings sets or clears the user's blackout start hour.
func (s *Service) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*domain.User, error) {
	if h := req.BlackoutStartHour; h != nil && (*h < schedule.BlackoutHourMin || *h > schedule.BlackoutHourMax) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("blackout start hour must be between %d and %d, or null",
				schedule.BlackoutHourMin, schedule.BlackoutHourMax))
	}

	const stmt = `
UPDATE users SET blackout_start_hour = $2
WHERE username = $1
RETURNING id, username, blackout_start_hour;`

	var u domain.User
	err := s.db.QueryRow(ctx, stmt, req.Username, req.BlackoutStartHour).
		Scan(&u.ID, &u.Username, &u.BlackoutStartHour)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("user not found: %s", req.Username))
	}
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}

	return &u, nil
}

type SearchUsersRequest struct {
	Query string
}

// SearchUsers finds users by case-insensitive partial username match.
func (s *Service) SearchUsers(ctx context.Context, req SearchUsersRequest) ([]domain.User, error) {
	if req.Query == "" {
		return nil, nil
	}

	const stmt = `
SELECT id, username, blackout_start_hour
FROM users
WHERE username ILIKE '%' || $1 || '%'
ORDER BY username
LIMIT 10;`

	rows, err := s.db.Query(ctx, stmt, req.Query)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		if err := r.Scan(&u.ID, &u.Username, &u.BlackoutStartHour); err != nil {
			return domain.User{}, err
		}
		return u, nil
	})
}
