package duel

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/errors"
)

const codeUniqueViolation = "23505"

// PostgresStore implements Store on a pgx pool. Status transitions are
// expressed as conditional updates on the expected prior status, so the
// database arbitrates races between concurrent check-ins and the sweep.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const duelColumns = `
id, duel_date, status, user1_id, user2_id,
snipe_time_user1, snipe_time_user2,
user1_predicted_lat, user1_predicted_lon, user2_predicted_lat, user2_predicted_lon,
user1_actual_lat, user1_actual_lon, user2_actual_lat, user2_actual_lon,
user1_dq, user2_dq, user1_final_distance, user2_final_distance,
winner_user_id, created_at, accepted_at, completed_at`

func (st *PostgresStore) CreateDuel(ctx context.Context, d domain.Duel) error {
	const stmt = `
INSERT INTO duels (id, duel_date, status, user1_id, user2_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := st.db.Exec(ctx, stmt, d.ID, d.Date, d.Status, d.User1.UserID, d.User2.UserID, d.CreatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("an open duel already exists between these users today"),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert duel: %w", err)
	}

	return nil
}

func (st *PostgresStore) GetDuel(ctx context.Context, id uuid.UUID) (domain.Duel, error) {
	stmt := `SELECT ` + duelColumns + ` FROM duels WHERE id = $1;`

	d, err := scanDuel(st.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return domain.Duel{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("duel not found: %s", id))
	}
	if err != nil {
		return domain.Duel{}, fmt.Errorf("get duel: %w", err)
	}

	return d, nil
}

func (st *PostgresStore) ListRequests(ctx context.Context, userID uuid.UUID) ([]domain.DuelRequest, error) {
	const stmt = `
SELECT d.id, u.username, d.created_at
FROM duels d
JOIN users u ON u.id = d.user1_id
WHERE d.user2_id = $1 AND d.status = 'PENDING'
ORDER BY d.created_at;`

	rows, err := st.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("list duel requests: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.DuelRequest, error) {
		var req domain.DuelRequest
		if err := r.Scan(&req.DuelID, &req.RequesterUsername, &req.CreatedAt); err != nil {
			return domain.DuelRequest{}, err
		}
		return req, nil
	})
}

func (st *PostgresStore) ActiveDuel(ctx context.Context, userID uuid.UUID) (*domain.Duel, error) {
	stmt := `SELECT ` + duelColumns + `
FROM duels
WHERE (user1_id = $1 OR user2_id = $1) AND status = 'ACTIVE'
LIMIT 1;`

	d, err := scanDuel(st.db.QueryRow(ctx, stmt, userID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active duel: %w", err)
	}

	return &d, nil
}

func (st *PostgresStore) ActivateDuel(ctx context.Context, id uuid.UUID, snipe1, snipe2, acceptedAt time.Time) (bool, error) {
	const stmt = `
UPDATE duels
SET status = 'ACTIVE', snipe_time_user1 = $2, snipe_time_user2 = $3, accepted_at = $4
WHERE id = $1 AND status = 'PENDING';`

	tag, err := st.db.Exec(ctx, stmt, id, snipe1, snipe2, acceptedAt)
	if err != nil {
		return false, fmt.Errorf("activate duel: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (st *PostgresStore) SetPrediction(ctx context.Context, duelID, userID uuid.UUID, c domain.Coordinate) error {
	return st.setCoordinate(ctx, "predicted", duelID, userID, c)
}

func (st *PostgresStore) SetCheckin(ctx context.Context, duelID, userID uuid.UUID, c domain.Coordinate) error {
	return st.setCoordinate(ctx, "actual", duelID, userID, c)
}

// setCoordinate writes one participant's predicted or actual coordinate,
// guarded so the write happens at most once and only while ACTIVE.
func (st *PostgresStore) setCoordinate(ctx context.Context, kind string, duelID, userID uuid.UUID, c domain.Coordinate) error {
	for _, side := range []int{1, 2} {
		stmt := fmt.Sprintf(`
UPDATE duels
SET user%[1]d_%[2]s_lat = $3, user%[1]d_%[2]s_lon = $4
WHERE id = $1 AND user%[1]d_id = $2 AND status = 'ACTIVE' AND user%[1]d_%[2]s_lat IS NULL;`, side, kind)

		tag, err := st.db.Exec(ctx, stmt, duelID, userID, c.Latitude, c.Longitude)
		if err != nil {
			return fmt.Errorf("set %s coordinate: %w", kind, err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
	}

	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("%s coordinate was not written: duel inactive or already submitted", kind))
}

func (st *PostgresStore) CompleteDuel(ctx context.Context, duelID uuid.UUID, res domain.DuelResult) (bool, error) {
	const stmt = `
UPDATE duels
SET status = 'COMPLETED',
    user1_dq = $2, user2_dq = $3,
    user1_final_distance = $4, user2_final_distance = $5,
    winner_user_id = $6, completed_at = $7
WHERE id = $1 AND status = 'ACTIVE';`

	tag, err := st.db.Exec(ctx, stmt, duelID,
		res.User1Disqualified, res.User2Disqualified,
		res.User1Distance, res.User2Distance,
		res.WinnerID, res.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("complete duel: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (st *PostgresStore) ListAdjudicatable(ctx context.Context, cutoff time.Time) ([]domain.Duel, error) {
	stmt := `SELECT ` + duelColumns + `
FROM duels
WHERE status = 'ACTIVE'
  AND (user1_actual_lat IS NOT NULL OR snipe_time_user1 < $1)
  AND (user2_actual_lat IS NOT NULL OR snipe_time_user2 < $1);`

	rows, err := st.db.Query(ctx, stmt, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list adjudicatable duels: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Duel, error) {
		return scanDuel(r)
	})
}

func scanDuel(row pgx.Row) (domain.Duel, error) {
	var (
		d          domain.Duel
		status     string
		p1Lat, p1Lon, p2Lat, p2Lon *float64
		a1Lat, a1Lon, a2Lat, a2Lon *float64
	)

	err := row.Scan(
		&d.ID, &d.Date, &status, &d.User1.UserID, &d.User2.UserID,
		&d.User1.SnipeTime, &d.User2.SnipeTime,
		&p1Lat, &p1Lon, &p2Lat, &p2Lon,
		&a1Lat, &a1Lon, &a2Lat, &a2Lon,
		&d.User1.Disqualified, &d.User2.Disqualified,
		&d.User1.FinalDistance, &d.User2.FinalDistance,
		&d.WinnerID, &d.CreatedAt, &d.AcceptedAt, &d.CompletedAt,
	)
	if err != nil {
		return domain.Duel{}, err
	}

	d.Status = domain.DuelStatus(status)
	d.User1.Predicted = coordinate(p1Lat, p1Lon)
	d.User2.Predicted = coordinate(p2Lat, p2Lon)
	d.User1.Actual = coordinate(a1Lat, a1Lon)
	d.User2.Actual = coordinate(a2Lat, a2Lon)

	normalizeDuelTimes(&d)
	return d, nil
}

func coordinate(lat, lon *float64) *domain.Coordinate {
	if lat == nil || lon == nil {
		return nil
	}
	return &domain.Coordinate{Latitude: *lat, Longitude: *lon}
}

// normalizeDuelTimes pins every instant read from the database to UTC so
// the window validators never see a session-local offset.
func normalizeDuelTimes(d *domain.Duel) {
	d.Date = d.Date.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	for _, t := range []**time.Time{
		&d.User1.SnipeTime, &d.User2.SnipeTime, &d.AcceptedAt, &d.CompletedAt,
	} {
		if *t != nil {
			utc := (**t).UTC()
			*t = &utc
		}
	}
}
