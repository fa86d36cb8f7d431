package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/repository"
)

// SeedMember describes one demo member.
type SeedMember struct {
	Address  string
	Username string
	AgeDays  int
	Social   map[model.Provider]string
}

// DemoMembers is the fixture daoctl seed loads.
var DemoMembers = []SeedMember{
	{
		Address:  "0x1234567890123456789012345678901234567890",
		Username: "crypto_king",
		AgeDays:  365,
		Social:   map[model.Provider]string{model.ProviderTwitter: "twitter123"},
	},
	{
		Address:  "0xabcdef1234567890abcdef1234567890abcdef12",
		Username: "blockchain_queen",
		AgeDays:  180,
		Social:   map[model.Provider]string{model.ProviderGoogle: "google123"},
	},
	{
		Address:  "0x9876543210987654321098765432109876543210",
		Username: "web3_developer",
		AgeDays:  730,
		Social: map[model.Provider]string{
			model.ProviderLinkedIn: "linkedin123",
			model.ProviderGoogle:   "google456",
		},
	},
	{
		Address:  "0xfedcba9876543210fedcba9876543210fedcba98",
		Username: "defi_guru",
		AgeDays:  90,
	},
	{
		Address:  "0x0123456789abcdef0123456789abcdef01234567",
		Username: "nft_enthusiast",
		AgeDays:  545,
		Social: map[model.Provider]string{
			model.ProviderTwitter:  "twitter456",
			model.ProviderLinkedIn: "linkedin789",
		},
	},
}

// SeedStore is the slice of the store seeding touches.
type SeedStore interface {
	repository.Truncator
	InsertUser(ctx context.Context, user *model.User) error
}

// Seeder wipes the store and loads demo members.
type Seeder struct {
	store  SeedStore
	points *PointsService
	logger *slog.Logger
	now    Clock
}

func NewSeeder(store SeedStore, points *PointsService, logger *slog.Logger) *Seeder {
	return &Seeder{store: store, points: points, logger: logger, now: utcNow}
}

// Seed deletes every member and activity, inserts members, then runs the
// points batch so their totals match the formula. It returns how many
// members were inserted.
func (s *Seeder) Seed(ctx context.Context, members []SeedMember) (int, error) {
	if err := s.store.Truncate(ctx); err != nil {
		return 0, fmt.Errorf("service/seed: clearing store: %w", err)
	}
	s.logger.Info("existing members deleted")

	now := s.now()
	for _, m := range members {
		name := m.Username
		wc := now.Add(-time.Duration(m.AgeDays) * 24 * time.Hour)
		u := &model.User{
			Address:        m.Address,
			Username:       &name,
			WalletCreation: &wc,
		}
		for p, id := range m.Social {
			id := id
			u.Social.Set(p, &id)
		}
		if err := s.store.InsertUser(ctx, u); err != nil {
			return 0, fmt.Errorf("service/seed: inserting %s: %w", m.Username, err)
		}
	}
	s.logger.Info("demo members inserted", slog.Int("count", len(members)))

	if _, err := s.points.RecomputeAll(ctx); err != nil {
		return len(members), fmt.Errorf("service/seed: computing points: %w", err)
	}
	return len(members), nil
}
