package handler

import (
	"net/http"

	"github.com/sakif/mumbai-dao/internal/auth"
	"github.com/sakif/mumbai-dao/internal/leaderboard"
	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/service"
)

// MemberHandler serves the signed-in member's read-only views: the
// dashboard, the leaderboard and their activity history.
//
// Every route sits behind auth.RequireAuth, so the member is always in the
// request context.
type MemberHandler struct {
	board      *service.LeaderboardService
	activities *service.ActivityLogger
	rs         *Responder
	clock      service.Clock
}

func NewMemberHandler(
	board *service.LeaderboardService,
	activities *service.ActivityLogger,
	rs *Responder,
	clock service.Clock,
) *MemberHandler {
	return &MemberHandler{board: board, activities: activities, rs: rs, clock: clock}
}

type mainResponse struct {
	User        UserView            `json:"user"`
	Leaderboard []leaderboard.Entry `json:"leaderboard"`
}

// HandleMain returns the member's profile and the leaderboard in one call.
//
// HTTP: GET /main
func (h *MemberHandler) HandleMain(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.rs.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "No token provided"})
		return
	}

	entries, err := h.board.Top(r.Context())
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	h.rs.writeJSON(w, http.StatusOK, mainResponse{
		User:        NewUserView(user, h.clock()),
		Leaderboard: entries,
	})
}

// HandleLeaderboard returns the top members.
//
// HTTP: GET /leaderboard
// RESPONSE: [{"username": ..., "profilePic": ..., "walletAge": 365, "points": 500}, ...]
func (h *MemberHandler) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.board.Top(r.Context())
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}
	h.rs.writeJSON(w, http.StatusOK, entries)
}

// HandleActivities returns the member's most recent activities and records
// the view itself as a PROFILE_VIEW.
//
// HTTP: GET /activities
func (h *MemberHandler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.rs.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "No token provided"})
		return
	}

	activities, err := h.activities.Recent(r.Context(), user.ID, service.DefaultActivityLimit)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	h.rs.writeJSON(w, http.StatusOK, newActivityViews(activities))

	h.activities.Record(service.ActivityEntry{
		UserID:      user.ID,
		Type:        model.ActivityProfileView,
		Description: "User viewed their activity history",
		Request:     requestMeta(r),
	})
}
