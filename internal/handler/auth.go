package handler

import (
	"net/http"

	"github.com/sakif/mumbai-dao/internal/service"
)

// AuthHandler runs the wallet login handshake over HTTP.
//
// HANDLER RESPONSIBILITIES:
//   - HandleNonce  → issue a challenge for an address
//   - HandleVerify → check the signed challenge, return a session token
//
// Both routes are public and sit behind the auth rate limiter.
type AuthHandler struct {
	auth  *service.AuthService
	rs    *Responder
	clock service.Clock
}

func NewAuthHandler(auth *service.AuthService, rs *Responder, clock service.Clock) *AuthHandler {
	return &AuthHandler{auth: auth, rs: rs, clock: clock}
}

type nonceRequest struct {
	Address  string  `json:"address"  validate:"required,eth_addr"`
	Username *string `json:"username" validate:"omitempty,max=64"`
}

type nonceResponse struct {
	Nonce int64 `json:"nonce"`
}

// HandleNonce issues a login challenge.
//
// HTTP: POST /auth/nonce
// REQUEST BODY: {"address": "0x...", "username": "optional"}
// RESPONSE:     {"nonce": 123456}
//
// The wallet signs "Login nonce: <nonce>" and posts it to /auth/verify.
func (h *AuthHandler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := h.rs.decode(r, &req); err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	nonce, err := h.auth.IssueNonce(r.Context(), req.Address, req.Username)
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	h.rs.writeJSON(w, http.StatusOK, nonceResponse{Nonce: nonce})
}

type verifyRequest struct {
	Address   string `json:"address"   validate:"required,eth_addr"`
	Signature string `json:"signature" validate:"required,max=512"`
}

type verifyResponse struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

// HandleVerify completes the login.
//
// HTTP: POST /auth/verify
// REQUEST BODY: {"address": "0x...", "signature": "0x..."}
// RESPONSE:     {"token": "<jwt>", "user": {...}}
//
// The client keeps the token and sends it as "Authorization: Bearer <jwt>".
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := h.rs.decode(r, &req); err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	res, err := h.auth.Verify(r.Context(), req.Address, req.Signature, requestMeta(r))
	if err != nil {
		h.rs.writeError(w, r, err)
		return
	}

	h.rs.writeJSON(w, http.StatusOK, verifyResponse{
		Token: res.Token,
		User:  NewUserView(res.User, h.clock()),
	})
}
