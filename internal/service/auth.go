package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/auth"
	"github.com/sakif/mumbai-dao/internal/metrics"
	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/repository"
)

// DefaultNonceTTL is how long a login challenge stays valid.
const DefaultNonceTTL = 15 * time.Minute

// AuthService runs the wallet login handshake.
//
//	POST /auth/nonce   → IssueNonce: create/find the member, store a challenge
//	POST /auth/verify  → Verify: check the signed challenge, consume it,
//	                     stamp walletCreation once, issue a session token
//
// DEPENDENCIES (injected via NewAuthService):
//   - users       repository.UserRepository → member records and nonces
//   - tokens      *auth.TokenService        → session JWTs
//   - activities  ActivityRecorder          → LOGIN audit entries
//   - logger      *slog.Logger              → structured logging
type AuthService struct {
	users      repository.UserRepository
	tokens     *auth.TokenService
	activities ActivityRecorder
	logger     *slog.Logger

	nonceTTL time.Duration
	now      Clock
	newNonce func() (int64, error)
}

// AuthOption customizes an AuthService.
type AuthOption func(*AuthService)

// WithNonceTTL sets how long a challenge stays valid. Zero disables expiry.
func WithNonceTTL(d time.Duration) AuthOption {
	return func(s *AuthService) { s.nonceTTL = d }
}

// WithAuthClock pins the service's notion of now.
func WithAuthClock(c Clock) AuthOption {
	return func(s *AuthService) { s.now = c }
}

// WithNonceSource replaces the random nonce generator.
func WithNonceSource(f func() (int64, error)) AuthOption {
	return func(s *AuthService) { s.newNonce = f }
}

// NewAuthService wires an AuthService.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	activities ActivityRecorder,
	logger *slog.Logger,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		users:      users,
		tokens:     tokens,
		activities: activities,
		logger:     logger,
		nonceTTL:   DefaultNonceTTL,
		now:        utcNow,
		newNonce:   auth.NewNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthResult bundles the logged-in member with their session token.
type AuthResult struct {
	User  *model.User
	Token string
}

// IssueNonce stores a fresh challenge for address and returns it.
//
// A new address gets a member record with no walletCreation. A username,
// when given, is applied if it is free. A username already owned by a
// different address fails the whole request with a conflict, and nothing
// is written.
func (s *AuthService) IssueNonce(ctx context.Context, address string, username *string) (int64, error) {
	addr, err := auth.NormalizeAddress(address)
	if err != nil {
		return 0, err
	}

	var name *string
	if username != nil && strings.TrimSpace(*username) != "" {
		n, err := normalizeUsername(*username)
		if err != nil {
			return 0, err
		}
		name = &n
	}

	nonce, err := s.newNonce()
	if err != nil {
		return 0, fmt.Errorf("service/auth: generating nonce: %w", err)
	}

	user, err := s.users.IssueNonce(ctx, repository.NonceChallenge{
		Address:  addr,
		Username: name,
		Nonce:    nonce,
		IssuedAt: s.now(),
	})
	if err != nil {
		return 0, fmt.Errorf("service/auth: issuing nonce for %s: %w", addr, err)
	}

	metrics.NoncesIssuedTotal.Inc()
	s.logger.Debug("nonce issued", slog.String("userID", user.ID), slog.String("address", addr))

	return nonce, nil
}

// Verify checks a signed challenge and logs the member in.
//
// ORDER OF CHECKS:
//  1. The address must belong to a member (404 otherwise).
//  2. A challenge must be outstanding and not older than the nonce TTL.
//     An expired challenge is cleared so the next attempt starts clean,
//     unless a fresh one has replaced it in the meantime.
//  3. The signature must recover to the address. A bad signature leaves
//     the challenge in place so the wallet can retry.
//  4. The challenge is consumed with a compare-and-clear. If two requests
//     race with the same signature, exactly one wins; the other sees
//     "already used". walletCreation is stamped in the same write, only if
//     it was never set.
func (s *AuthService) Verify(ctx context.Context, address, signature string, meta model.RequestMeta) (*AuthResult, error) {
	addr, err := auth.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(signature) == "" {
		return nil, apperror.ValidationFailed("signature", "Signature is required")
	}
	if s.tokens == nil {
		return nil, apperror.Misconfigured("token service not configured")
	}

	user, err := s.users.GetUserByAddress(ctx, addr)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "User not found"}
		}
		return nil, fmt.Errorf("service/auth: loading %s: %w", addr, err)
	}

	if user.Nonce == nil {
		metrics.LoginsTotal.WithLabelValues("no_nonce").Inc()
		return nil, apperror.InvalidState("No nonce found, request a new one")
	}

	nonce := *user.Nonce
	now := s.now()
	if s.nonceTTL > 0 && user.NonceIssuedAt != nil && now.Sub(*user.NonceIssuedAt) > s.nonceTTL {
		if err := s.users.ClearNonce(ctx, user.ID, nonce); err != nil {
			s.logger.Warn("failed to clear expired nonce",
				slog.String("userID", user.ID),
				slog.String("error", err.Error()),
			)
		}
		metrics.LoginsTotal.WithLabelValues("expired").Inc()
		return nil, apperror.InvalidState("Nonce expired, request a new one")
	}

	if err := auth.VerifySignature(addr, auth.ChallengeMessage(nonce), signature); err != nil {
		metrics.LoginsTotal.WithLabelValues("bad_signature").Inc()
		s.logger.Info("wallet signature rejected", slog.String("address", addr))
		return nil, err
	}

	consumed, err := s.users.ConsumeNonce(ctx, user.ID, nonce, now)
	if err != nil {
		return nil, fmt.Errorf("service/auth: consuming nonce for %s: %w", user.ID, err)
	}
	if !consumed {
		metrics.LoginsTotal.WithLabelValues("replayed").Inc()
		return nil, apperror.InvalidState("Nonce already used, request a new one")
	}

	user, err = s.users.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: reloading user: %w", err)
	}

	token, err := s.tokens.Generate(user.ID, user.Address)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	s.logger.Info("user authenticated via wallet",
		slog.String("userID", user.ID),
		slog.String("address", user.Address),
	)

	s.activities.Record(ActivityEntry{
		UserID:      user.ID,
		Type:        model.ActivityLogin,
		Description: "User logged in with wallet",
		Metadata:    map[string]any{"address": user.Address},
		Request:     meta,
	})

	return &AuthResult{User: user, Token: token}, nil
}
