package domain

const (
	EventNameDuelAccepted       = "duel.accepted"
	EventNameDuelCompleted      = "duel.completed"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventDuelAccepted struct {
	Duel Duel
}

func (EventDuelAccepted) Name() string { return EventNameDuelAccepted }

type EventDuelCompleted struct {
	Duel Duel
}

func (EventDuelCompleted) Name() string { return EventNameDuelCompleted }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
