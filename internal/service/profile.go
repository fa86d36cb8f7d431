package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/auth"
	"github.com/sakif/mumbai-dao/internal/metrics"
	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/points"
	"github.com/sakif/mumbai-dao/internal/repository"
)

// twitterAvatarURL builds the avatar used when a Twitter account is linked
// and the member has no picture yet.
const twitterAvatarURL = "https://twivatar.glitch.me/"

// ProfileService edits a member's own profile: username and social links.
type ProfileService struct {
	users      repository.UserRepository
	verifier   auth.SocialVerifier // nil when no identity provider is configured
	activities ActivityRecorder
	logger     *slog.Logger

	// allowMockFallback lets ConnectSocial trust client-supplied account
	// data when the identity provider cannot be consulted. Development only.
	allowMockFallback bool
}

// NewProfileService wires a ProfileService. verifier may be nil.
func NewProfileService(
	users repository.UserRepository,
	verifier auth.SocialVerifier,
	activities ActivityRecorder,
	logger *slog.Logger,
	allowMockFallback bool,
) *ProfileService {
	return &ProfileService{
		users:             users,
		verifier:          verifier,
		activities:        activities,
		logger:            logger,
		allowMockFallback: allowMockFallback,
	}
}

// UpdateUsername sets the member's display name.
//
// Setting the name the member already has is a no-op (no write, no
// activity). A name owned by someone else is a conflict; the store's
// UNIQUE index settles races between two members claiming the same name.
func (s *ProfileService) UpdateUsername(ctx context.Context, user *model.User, raw string, meta model.RequestMeta) (string, error) {
	name, err := normalizeUsername(raw)
	if err != nil {
		return "", err
	}

	if user.Username != nil && *user.Username == name {
		return name, nil
	}

	// Early read for a friendly error. The UNIQUE index remains the real guard.
	existing, err := s.users.GetUserByUsername(ctx, name)
	switch {
	case err == nil && existing.ID != user.ID:
		return "", apperror.Conflict("Username already taken")
	case err != nil && !errors.Is(err, apperror.ErrNotFound):
		return "", fmt.Errorf("service/profile: checking username: %w", err)
	}

	if err := s.users.UpdateUsername(ctx, user.ID, name); err != nil {
		return "", fmt.Errorf("service/profile: updating username for %s: %w", user.ID, err)
	}

	metadata := map[string]any{"newUsername": name}
	if user.Username != nil {
		metadata["oldUsername"] = *user.Username
	}
	s.activities.Record(ActivityEntry{
		UserID:      user.ID,
		Type:        model.ActivityUsernameUpdate,
		Description: "Updated username to " + name,
		Metadata:    metadata,
		Request:     meta,
	})

	s.logger.Info("username updated", slog.String("userID", user.ID), slog.String("username", name))
	return name, nil
}

// ConnectSocialRequest is the input to ConnectSocial.
type ConnectSocialRequest struct {
	ExternalUserID string              // identity-provider user id
	Provider       string              // google | twitter | linkedin, any case
	MockData       *auth.SocialAccount // honored only when the mock fallback is enabled
}

// ConnectSocialResult describes what a ConnectSocial call changed.
type ConnectSocialResult struct {
	User          *model.User
	Provider      model.Provider
	NewConnection bool
	PointsAwarded int
}

// ConnectSocial links a social account after confirming it with the
// identity provider.
//
// POINTS:
// The first link of a provider awards points.PerSocialConnection. Linking
// the same provider again (same or different account) updates the stored
// identifier but awards nothing. The check and the increment happen in one
// conditional store write, so concurrent calls cannot double-award.
//
// FALLBACK:
// When the provider is unreachable or not configured, the request fails
// with an upstream error. Only with allowMockFallback does it fall back to
// the client-supplied MockData. A provider that answers "not linked" is
// never overridden by MockData.
func (s *ProfileService) ConnectSocial(ctx context.Context, user *model.User, req ConnectSocialRequest, meta model.RequestMeta) (*ConnectSocialResult, error) {
	provider, ok := model.ParseProvider(req.Provider)
	if !ok {
		return nil, apperror.ValidationFailed("provider", "Unsupported provider")
	}
	externalID := strings.TrimSpace(req.ExternalUserID)
	if externalID == "" {
		return nil, apperror.ValidationFailed("userId", "User ID and provider are required")
	}

	account, err := s.verify(ctx, externalID, provider, req.MockData)
	if err != nil {
		return nil, err
	}

	var avatar *string
	if provider == model.ProviderTwitter && account.Username != "" {
		a := twitterAvatarURL + account.Username
		avatar = &a
	}

	res, err := s.users.LinkSocial(ctx, user.ID, provider, account.ID, points.PerSocialConnection, avatar)
	if err != nil {
		return nil, fmt.Errorf("service/profile: linking %s for %s: %w", provider, user.ID, err)
	}

	awarded := 0
	if res.NewConnection {
		awarded = points.PerSocialConnection
	}
	metrics.SocialConnectionsTotal.WithLabelValues(string(provider), strconv.FormatBool(res.NewConnection)).Inc()

	if res.NewConnection {
		s.activities.Record(ActivityEntry{
			UserID:      user.ID,
			Type:        model.ActivitySocialConnect,
			Description: "Connected " + string(provider) + " account",
			Metadata: map[string]any{
				"provider":      string(provider),
				"pointsAwarded": awarded,
			},
			Request: meta,
		})
	}

	s.logger.Info("social account connected",
		slog.String("userID", user.ID),
		slog.String("provider", string(provider)),
		slog.Bool("new", res.NewConnection),
	)

	return &ConnectSocialResult{
		User:          res.User,
		Provider:      provider,
		NewConnection: res.NewConnection,
		PointsAwarded: awarded,
	}, nil
}

var errNoVerifier = errors.New("no social verifier configured")

func (s *ProfileService) verify(ctx context.Context, externalID string, provider model.Provider, mock *auth.SocialAccount) (*auth.SocialAccount, error) {
	var (
		account *auth.SocialAccount
		err     error
	)
	if s.verifier == nil {
		err = errNoVerifier
	} else {
		account, err = s.verifier.Verify(ctx, externalID, provider)
	}

	if err != nil {
		if s.allowMockFallback && mock != nil && mock.ID != "" {
			s.logger.Warn("identity provider unavailable, using client-supplied account data",
				slog.String("provider", string(provider)),
				slog.String("error", err.Error()),
			)
			return mock, nil
		}
		return nil, apperror.Upstream("identity provider", err)
	}

	if account == nil || account.ID == "" {
		return nil, apperror.ValidationFailed("provider", "Social account not found or not connected")
	}
	return account, nil
}
