package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/valfonso/geoduel/internal/domain"
	"github.com/valfonso/geoduel/internal/duel"
	"github.com/valfonso/geoduel/internal/errors"
	"github.com/valfonso/geoduel/internal/event"
	"github.com/valfonso/geoduel/internal/friend"
	"github.com/valfonso/geoduel/internal/leaderboard"
	"github.com/valfonso/geoduel/internal/user"
)

type Config struct {
	Router       *gin.Engine
	EventBus     *event.Bus
	Users        *user.Service
	Friends      *friend.Service
	Duels        *duel.Service
	Leaderboard  *leaderboard.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	us *user.Service
	fs *friend.Service
	ds *duel.Service
	ls *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		us:     c.Users,
		fs:     c.Friends,
		ds:     c.Duels,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	a.registerRoutes(c.Router)

	// Push notifications to per-user channels.
	c.EventBus.Subscribe(domain.EventNameDuelAccepted, func(ctx context.Context, e event.Event) error {
		return a.PublishDuelAccepted(ctx, e.(domain.EventDuelAccepted))
	})
	c.EventBus.Subscribe(domain.EventNameDuelCompleted, func(ctx context.Context, e event.Event) error {
		return a.PublishDuelCompleted(ctx, e.(domain.EventDuelCompleted))
	})

	return a
}

func (a *API) registerRoutes(r *gin.Engine) {
	r.POST("/users", a.createUser)
	r.GET("/users/search", a.searchUsers)
	r.GET("/users/:username", a.getProfile)
	r.PUT("/users/:username/settings", a.updateSettings)
	r.GET("/users/:username/friends", a.listFriends)
	r.GET("/users/:username/friends/requests", a.listFriendRequests)
	r.GET("/users/:username/current", a.currentDuel)

	r.POST("/friends/requests", a.sendFriendRequest)
	r.POST("/friends/requests/:request_id/accept", a.acceptFriendRequest)

	r.POST("/duels", a.requestDuel)
	r.GET("/duels/requests", a.listDuelRequests)
	r.POST("/duels/:duel_id/accept", a.acceptDuel)
	r.POST("/duels/:duel_id/predict", a.submitPrediction)
	r.POST("/duels/:duel_id/checkin", a.submitCheckin)
	r.GET("/duels/:duel_id/results", a.getResults)

	r.GET("/leaderboard", a.getLeaderboard)
}

// --- Users ---

type createUserRequest struct {
	Username string `json:"username"`
}

type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (a *API) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	u, err := a.us.CreateUser(c.Request.Context(), user.CreateUserRequest{Username: req.Username})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(201, userResponse{ID: u.ID.String(), Username: u.Username})
}

type profileResponse struct {
	Username          string `json:"username"`
	BlackoutStartHour *int   `json:"blackout_start_hour"`
}

func (a *API) getProfile(c *gin.Context) {
	u, err := a.us.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(200, profileResponse{Username: u.Username, BlackoutStartHour: u.BlackoutStartHour})
}

type updateSettingsRequest struct {
	BlackoutStartHour *int `json:"blackout_start_hour"`
}

func (a *API) updateSettings(c *gin.Context) {
	var req updateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	u, err := a.us.UpdateSettings(c.Request.Context(), user.UpdateSettingsRequest{
		Username:          c.Param("username"),
		BlackoutStartHour: req.BlackoutStartHour,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(200, profileResponse{Username: u.Username, BlackoutStartHour: u.BlackoutStartHour})
}

func (a *API) searchUsers(c *gin.Context) {
	users, err := a.us.SearchUsers(c.Request.Context(), user.SearchUsersRequest{Query: c.Query("query")})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]gin.H, 0, len(users))
	for _, u := range users {
		resp = append(resp, gin.H{"username": u.Username})
	}
	c.JSON(200, resp)
}

// --- Friends ---

type friendResponse struct {
	Username string `json:"username"`
	Status   string `json:"status,omitempty"`
}

func (a *API) listFriends(c *gin.Context) {
	friends, err := a.fs.ListFriends(c.Request.Context(), friend.ListFriendsRequest{Username: c.Param("username")})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]friendResponse, 0, len(friends))
	for _, f := range friends {
		resp = append(resp, friendResponse{Username: f.Username, Status: f.Status})
	}
	c.JSON(200, resp)
}

type friendRequestResponse struct {
	RequestID    string `json:"request_id"`
	FromUsername string `json:"from_username"`
}

func (a *API) listFriendRequests(c *gin.Context) {
	reqs, err := a.fs.ListRequests(c.Request.Context(), friend.ListRequestsRequest{Username: c.Param("username")})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]friendRequestResponse, 0, len(reqs))
	for _, r := range reqs {
		resp = append(resp, friendRequestResponse{RequestID: r.RequestID.String(), FromUsername: r.FromUsername})
	}
	c.JSON(200, resp)
}

type sendFriendRequestRequest struct {
	FromUsername string `json:"from_username"`
	ToUsername   string `json:"to_username"`
}

func (a *API) sendFriendRequest(c *gin.Context) {
	var req sendFriendRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	fr, err := a.fs.SendRequest(c.Request.Context(), friend.SendRequestRequest{
		FromUsername: req.FromUsername,
		ToUsername:   req.ToUsername,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(201, friendRequestResponse{RequestID: fr.RequestID.String(), FromUsername: fr.FromUsername})
}

func (a *API) acceptFriendRequest(c *gin.Context) {
	id, err := uuid.Parse(c.Param("request_id"))
	if err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request id")))
		return
	}

	err = a.fs.AcceptRequest(c.Request.Context(), friend.AcceptRequestRequest{
		RequestID: id,
		Username:  c.Query("username"),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(200, gin.H{"message": "friend request accepted"})
}

// --- Duels ---

type duelResponse struct {
	ID             string     `json:"id"`
	DuelDate       string     `json:"duel_date"`
	Status         string     `json:"status"`
	User1ID        string     `json:"user1_id"`
	User2ID        string     `json:"user2_id"`
	SnipeTimeUser1 *time.Time `json:"snipe_time_user1,omitempty"`
	SnipeTimeUser2 *time.Time `json:"snipe_time_user2,omitempty"`
	WinnerUserID   *string    `json:"winner_user_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func toDuelResponse(d *domain.Duel) duelResponse {
	resp := duelResponse{
		ID:             d.ID.String(),
		DuelDate:       d.Date.Format("2006-01-02"),
		Status:         string(d.Status),
		User1ID:        d.User1.UserID.String(),
		User2ID:        d.User2.UserID.String(),
		SnipeTimeUser1: d.User1.SnipeTime,
		SnipeTimeUser2: d.User2.SnipeTime,
		CreatedAt:      d.CreatedAt,
		AcceptedAt:     d.AcceptedAt,
		CompletedAt:    d.CompletedAt,
	}
	if d.WinnerID != nil {
		w := d.WinnerID.String()
		resp.WinnerUserID = &w
	}
	return resp
}

type requestDuelRequest struct {
	RequesterUsername string `json:"requester_username"`
	OpponentUsername  string `json:"opponent_username"`
}

func (a *API) requestDuel(c *gin.Context) {
	var req requestDuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	d, err := a.ds.RequestDuel(c.Request.Context(), duel.RequestDuelRequest{
		RequesterUsername: req.RequesterUsername,
		OpponentUsername:  req.OpponentUsername,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(201, toDuelResponse(d))
}

type duelRequestResponse struct {
	ID                string    `json:"id"`
	RequesterUsername string    `json:"requester_username"`
	CreatedAt         time.Time `json:"created_at"`
}

func (a *API) listDuelRequests(c *gin.Context) {
	reqs, err := a.ds.ListRequests(c.Request.Context(), duel.ListRequestsRequest{Username: c.Query("username")})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]duelRequestResponse, 0, len(reqs))
	for _, r := range reqs {
		resp = append(resp, duelRequestResponse{
			ID:                r.DuelID.String(),
			RequesterUsername: r.RequesterUsername,
			CreatedAt:         r.CreatedAt,
		})
	}
	c.JSON(200, resp)
}

type acceptDuelRequest struct {
	Username string `json:"username"`
}

func (a *API) acceptDuel(c *gin.Context) {
	id, ok := duelID(c)
	if !ok {
		return
	}

	var req acceptDuelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	d, err := a.ds.AcceptDuel(c.Request.Context(), duel.AcceptDuelRequest{DuelID: id, Username: req.Username})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(200, toDuelResponse(d))
}

type predictionRequest struct {
	Username  string  `json:"username"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (a *API) submitPrediction(c *gin.Context) {
	id, ok := duelID(c)
	if !ok {
		return
	}

	var req predictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	err := a.ds.SubmitPrediction(c.Request.Context(), duel.SubmitPredictionRequest{
		DuelID:     id,
		Username:   req.Username,
		Coordinate: domain.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(200, gin.H{"message": "prediction recorded"})
}

type checkinRequest struct {
	Username  string  `json:"username"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timestamp string  `json:"timestamp"`
}

func (a *API) submitCheckin(c *gin.Context) {
	id, ok := duelID(c)
	if !ok {
		return
	}

	var req checkinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	ts, err := parseCheckinTimestamp(req.Timestamp)
	if err != nil {
		writeError(c, err)
		return
	}

	err = a.ds.SubmitCheckin(c.Request.Context(), duel.SubmitCheckinRequest{
		DuelID:     id,
		Username:   req.Username,
		Coordinate: domain.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude},
		Timestamp:  ts,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(200, gin.H{"message": "checkin recorded"})
}

type resultsResponse struct {
	WinnerUserID       *string  `json:"winner_user_id"`
	User1DQ            bool     `json:"user1_dq"`
	User2DQ            bool     `json:"user2_dq"`
	User1FinalDistance *float64 `json:"user1_final_distance"`
	User2FinalDistance *float64 `json:"user2_final_distance"`
}

func (a *API) getResults(c *gin.Context) {
	id, ok := duelID(c)
	if !ok {
		return
	}

	res, err := a.ds.GetResults(c.Request.Context(), duel.GetResultsRequest{DuelID: id})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := resultsResponse{
		User1DQ: res.User1Disqualified,
		User2DQ: res.User2Disqualified,
	}
	if res.WinnerID != nil {
		w := res.WinnerID.String()
		resp.WinnerUserID = &w
	}
	if res.User1Distance.Valid {
		v := res.User1Distance.Decimal.InexactFloat64()
		resp.User1FinalDistance = &v
	}
	if res.User2Distance.Valid {
		v := res.User2Distance.Decimal.InexactFloat64()
		resp.User2FinalDistance = &v
	}

	c.JSON(200, resp)
}

func (a *API) currentDuel(c *gin.Context) {
	d, err := a.ds.CurrentDuel(c.Request.Context(), duel.CurrentDuelRequest{Username: c.Param("username")})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(200, toDuelResponse(d))
}

// --- Leaderboard ---

type leaderboardEntryResponse struct {
	Username string  `json:"username"`
	Wins     float64 `json:"wins"`
}

func (a *API) getLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]leaderboardEntryResponse, 0, len(l.Entries))
	for _, e := range l.Entries {
		resp = append(resp, leaderboardEntryResponse{Username: e.Username, Wins: e.Wins})
	}
	c.JSON(200, resp)
}

// --- Helpers ---

func duelID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("duel_id"))
	if err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid duel id")))
		return uuid.UUID{}, false
	}
	return id, true
}

// parseCheckinTimestamp accepts RFC 3339, and as a documented leniency for
// legacy clients, zone-less timestamps which are treated as UTC.
func parseCheckinTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t, nil
	}
	return time.Time{}, errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("timestamp must be ISO 8601: %q", s))
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.JSON(e.HTTPStatusCode(), gin.H{
		"code":    e.Code,
		"message": e.Message,
	})
}
