// Package leaderboard ranks verified members by seniority.
//
// RANKING RULE:
//  1. Only users with a wallet creation time are ranked. Users who never
//     completed a login are left out, not ranked last.
//  2. Older wallet first (wallet creation ascending).
//  3. Equal wallet creation: more points first.
package leaderboard

import (
	"sort"
	"time"

	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/points"
)

// Size is how many entries the public leaderboard shows.
const Size = 100

// Entry is one leaderboard row.
type Entry struct {
	Username   *string `json:"username"`
	ProfilePic *string `json:"profilePic"`
	WalletAge  int     `json:"walletAge"` // whole days
	Points     int     `json:"points"`
}

// Less reports whether a ranks before b. Both must have a wallet creation.
func Less(a, b *model.User) bool {
	if !a.WalletCreation.Equal(*b.WalletCreation) {
		return a.WalletCreation.Before(*b.WalletCreation)
	}
	return a.Points > b.Points
}

// Rank filters, orders, truncates to limit and projects users into entries.
// The input slice is not modified.
func Rank(users []model.User, now time.Time, limit int) []Entry {
	ranked := make([]*model.User, 0, len(users))
	for i := range users {
		if users[i].WalletCreation != nil {
			ranked = append(ranked, &users[i])
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return Less(ranked[i], ranked[j])
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	entries := make([]Entry, 0, len(ranked))
	for _, u := range ranked {
		entries = append(entries, Entry{
			Username:   u.Username,
			ProfilePic: u.ProfilePic,
			WalletAge:  points.WalletAge(*u.WalletCreation, now),
			Points:     u.Points,
		})
	}
	return entries
}
