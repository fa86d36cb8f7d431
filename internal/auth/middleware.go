package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of this type, so no other package can
// read or shadow the resolved user.
type contextKey string

const userKey contextKey = "user"

// UserLookup is the slice of the user repository the middleware needs.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// RequireAuth enforces a valid session on protected routes.
//
// It reads "Authorization: Bearer <token>", validates the JWT, and then
// loads the LIVE user record. A token for a user that no longer exists is
// rejected with 404, a bad or missing token with 401. On success the user
// is stored in the request context; handlers read it with UserFromContext.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireAuth(tokens *TokenService, users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "No token provided")
				return
			}

			claims, err := tokens.Validate(raw)
			if err != nil {
				var appErr *apperror.AppError
				msg := "Invalid token"
				if errors.As(err, &appErr) {
					msg = appErr.Message
				}
				writeAuthError(w, http.StatusUnauthorized, msg)
				return
			}

			user, err := users.GetUserByID(r.Context(), claims.Subject)
			if err != nil {
				if errors.Is(err, apperror.ErrNotFound) {
					writeAuthError(w, http.StatusNotFound, "User not found")
					return
				}
				writeAuthError(w, http.StatusInternalServerError, "Server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns a copy of ctx carrying user. Exported for handler tests.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated user from the request context.
//
// Returns (nil, false) outside a RequireAuth-protected route.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively per RFC 7235.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
