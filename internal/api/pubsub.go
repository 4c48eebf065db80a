package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/valfonso/geoduel/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	DuelNotification struct {
		DuelID       string  `json:"duel_id"`
		Status       string  `json:"status"`
		WinnerUserID *string `json:"winner_user_id,omitempty"`
	}
)

// PublishDuelAccepted notifies both participants that the duel started.
// Snipe times stay out of the payload: each participant learns their own
// time from the API, never from a broadcast.
func (a *API) PublishDuelAccepted(ctx context.Context, e domain.EventDuelAccepted) error {
	return a.notifyParticipants(ctx, e.Duel, e.Name())
}

// PublishDuelCompleted notifies both participants of the final outcome.
func (a *API) PublishDuelCompleted(ctx context.Context, e domain.EventDuelCompleted) error {
	return a.notifyParticipants(ctx, e.Duel, e.Name())
}

func (a *API) notifyParticipants(ctx context.Context, d domain.Duel, eventName string) error {
	data := DuelNotification{
		DuelID: d.ID.String(),
		Status: string(d.Status),
	}
	if d.WinnerID != nil {
		w := d.WinnerID.String()
		data.WinnerUserID = &w
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, p := range []domain.Participant{d.User1, d.User2} {
		eg.Go(func() error {
			u, err := a.us.GetByID(ctx, p.UserID)
			if err != nil {
				return fmt.Errorf("pubsub: resolve participant %s: %w", p.UserID, err)
			}
			return a.publishNotification(ctx, u.Username, eventName, data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, user, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%s", a.prefix, user), b).Err()
}
