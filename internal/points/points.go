// Package points computes a member's points from wallet age and linked
// social accounts.
//
// THE FORMULA:
//
//	intervals = floor(ageDays / 90)
//	wallet    = intervals > 3 ? 300 + (intervals-3)*100 : intervals*100
//	social    = 100 per connected provider (Google, Twitter, LinkedIn)
//	total     = wallet + social
//
// Both branches of the wallet rule grow by 100 per interval, so wallet
// points are simply 100 per full 90 days with no ceiling. The expression is
// kept in its two-branch form because that is the published rule.
//
// Everything here is a pure function of its inputs. The caller passes
// "now", which keeps the batch job and the tests deterministic.
package points

import (
	"math"
	"time"

	"github.com/sakif/mumbai-dao/internal/model"
)

const (
	// IntervalDays is the wallet-age step that earns points.
	IntervalDays = 90
	// PerInterval is awarded for each full interval.
	PerInterval = 100
	// PerSocialConnection is awarded once per linked provider. The social
	// linker adds exactly this when a provider is connected for the first
	// time, which keeps stored points equal to a full recompute.
	PerSocialConnection = 100

	day = 24 * time.Hour
)

// WalletAgeDays returns the wallet age in (fractional) days. A wallet
// creation time in the future counts as age zero.
func WalletAgeDays(walletCreation, now time.Time) float64 {
	age := now.Sub(walletCreation)
	if age < 0 {
		return 0
	}
	return age.Hours() / 24
}

// WalletPoints returns the wallet-age component. Unset wallet creation
// earns nothing.
func WalletPoints(walletCreation *time.Time, now time.Time) int {
	if walletCreation == nil {
		return 0
	}
	intervals := int(math.Floor(WalletAgeDays(*walletCreation, now) / IntervalDays))
	if intervals > 3 {
		return 300 + (intervals-3)*PerInterval
	}
	return intervals * PerInterval
}

// SocialPoints returns the social component.
func SocialPoints(s model.SocialLinks) int {
	return s.Count() * PerSocialConnection
}

// Calculate returns the full points total for a user at time now.
func Calculate(u *model.User, now time.Time) int {
	return WalletPoints(u.WalletCreation, now) + SocialPoints(u.Social)
}

// WalletAge returns the whole number of days between walletCreation and
// now, regardless of direction. This is the figure shown on the leaderboard.
func WalletAge(walletCreation, now time.Time) int {
	d := now.Sub(walletCreation)
	if d < 0 {
		d = -d
	}
	return int(d / day)
}
