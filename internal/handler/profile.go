package handler

import (
	"net/http"

	"github.com/sakif/mumbai-dao/internal/auth"
	"github.com/sakif/mumbai-dao/internal/service"
)

// ProfileHandler lets a member edit their own profile.
type ProfileHandler struct {
	profiles *service.ProfileService
	rs       *Responder
}

func NewProfileHandler(profiles *service.ProfileService, rs *Responder) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, rs: rs}
}

type usernameRequest struct {
	Username string `json:"username" validate:"required,max=64"`
}

type usernameResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username"`
}

// HandleUsername sets the member's username.
//
// HTTP: POST /profile/username
// REQUEST BODY: {"username": "satoshi"}
// RESPONSE:     {"success": true, "username": "satoshi"}
func (h *ProfileHandler) HandleUsername(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.rs.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "No token provided"})
		return
	}

	var req usernameRequest
	if err := h.rs.decode(r, &req); err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	name, err := h.profiles.UpdateUsername(r.Context(), user, req.Username, requestMeta(r))
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	h.rs.writeJSON(w, http.StatusOK, usernameResponse{Success: true, Username: name})
}

type mockAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type connectSocialRequest struct {
	UserID   string       `json:"userId"   validate:"required,max=256"`
	Provider string       `json:"provider" validate:"required"`
	MockData *mockAccount `json:"mockData"`
}

type connectSocialResponse struct {
	Success         bool       `json:"success"`
	Social          SocialView `json:"social"`
	Points          int        `json:"points"`
	PointsAdded     int        `json:"pointsAdded"`
	ProfilePic      *string    `json:"profilePic"`
	IsNewConnection bool       `json:"isNewConnection"`
}

// HandleConnectSocial links a social account the member has connected at
// the identity provider.
//
// HTTP: POST /profile/connect-social
// REQUEST BODY: {"userId": "user_...", "provider": "twitter", "mockData": {"id": "...", "username": "..."}}
//
// mockData is only honored when the server runs with the mock fallback on.
func (h *ProfileHandler) HandleConnectSocial(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.rs.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "No token provided"})
		return
	}

	var req connectSocialRequest
	if err := h.rs.decode(r, &req); err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	in := service.ConnectSocialRequest{ExternalUserID: req.UserID, Provider: req.Provider}
	if req.MockData != nil {
		in.MockData = &auth.SocialAccount{ID: req.MockData.ID, Username: req.MockData.Username}
	}

	res, err := h.profiles.ConnectSocial(r.Context(), user, in, requestMeta(r))
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	h.rs.writeJSON(w, http.StatusOK, connectSocialResponse{
		Success:         true,
		Social:          NewSocialView(res.User.Social),
		Points:          res.User.Points,
		PointsAdded:     res.PointsAwarded,
		ProfilePic:      res.User.ProfilePic,
		IsNewConnection: res.NewConnection,
	})
}
