package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a registered player.
type User struct {
	ID       uuid.UUID
	Username string
	// BlackoutStartHour is the UTC hour (12..19) at which the user's daily
	// 5-hour blackout begins. Nil means no blackout configured.
	BlackoutStartHour *int
}

// Friend is an entry in a user's friends list.
type Friend struct {
	Username string
	// Status is "active_duel" when an active duel exists with this friend,
	// empty otherwise.
	Status string
}

// FriendRequest is an incoming, not-yet-accepted friendship.
type FriendRequest struct {
	RequestID    uuid.UUID
	FromUsername string
	CreatedAt    time.Time
}

// Coordinate is a geographical point. Immutable value.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

type DuelStatus string

const (
	DuelStatusPending   DuelStatus = "PENDING"
	DuelStatusActive    DuelStatus = "ACTIVE"
	DuelStatusCompleted DuelStatus = "COMPLETED"
)

// Participant is one side of a duel.
type Participant struct {
	UserID uuid.UUID
	// SnipeTime is set exactly once at acceptance and never regenerated.
	SnipeTime *time.Time
	// Predicted is this participant's guess of the opponent's location at
	// the opponent's snipe time. Written at most once.
	Predicted *Coordinate
	// Actual is the location the participant checked in at, written at most
	// once while the duel is active.
	Actual        *Coordinate
	Disqualified  bool
	FinalDistance decimal.NullDecimal
}

// Duel is the aggregate the adjudication engine operates on. It is owned by
// the store; services operate on a snapshot and persist transitions through
// compare-and-swap updates on the status column.
type Duel struct {
	ID          uuid.UUID
	Date        time.Time // midnight UTC of the duel day
	Status      DuelStatus
	User1       Participant
	User2       Participant
	WinnerID    *uuid.UUID // nil on draw or while unfinished
	CreatedAt   time.Time
	AcceptedAt  *time.Time
	CompletedAt *time.Time
}

// ParticipantOf returns the participant slot for the given user.
func (d *Duel) ParticipantOf(userID uuid.UUID) (*Participant, bool) {
	switch userID {
	case d.User1.UserID:
		return &d.User1, true
	case d.User2.UserID:
		return &d.User2, true
	}
	return nil, false
}

// OpponentOf returns the other participant slot.
func (d *Duel) OpponentOf(userID uuid.UUID) (*Participant, bool) {
	switch userID {
	case d.User1.UserID:
		return &d.User2, true
	case d.User2.UserID:
		return &d.User1, true
	}
	return nil, false
}

// DuelRequest is an incoming duel challenge awaiting acceptance.
type DuelRequest struct {
	DuelID            uuid.UUID
	RequesterUsername string
	CreatedAt         time.Time
}

// DuelResult holds the finalized outcome fields of a completed duel.
type DuelResult struct {
	User1Disqualified bool
	User2Disqualified bool
	User1Distance     decimal.NullDecimal
	User2Distance     decimal.NullDecimal
	WinnerID          *uuid.UUID // nil means draw
	CompletedAt       time.Time
}

// Leaderboard is the career-wins ranking across all users.
// Entries are sorted by wins in descending order.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Username string
	Wins     float64
}
