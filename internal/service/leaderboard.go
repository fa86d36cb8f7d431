package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/mumbai-dao/internal/leaderboard"
	"github.com/sakif/mumbai-dao/internal/repository"
)

// LeaderboardService serves the top-ranked members.
type LeaderboardService struct {
	users  repository.UserRepository
	logger *slog.Logger
	now    Clock
}

func NewLeaderboardService(users repository.UserRepository, logger *slog.Logger, now Clock) *LeaderboardService {
	if now == nil {
		now = utcNow
	}
	return &LeaderboardService{users: users, logger: logger, now: now}
}

// Top returns up to leaderboard.Size entries. The store pre-sorts and
// limits; Rank re-applies the same rule so the result never depends on the
// store getting ordering right.
func (s *LeaderboardService) Top(ctx context.Context) ([]leaderboard.Entry, error) {
	users, err := s.users.ListRanked(ctx, leaderboard.Size)
	if err != nil {
		return nil, fmt.Errorf("service/leaderboard: listing ranked users: %w", err)
	}
	return leaderboard.Rank(users, s.now(), leaderboard.Size), nil
}
