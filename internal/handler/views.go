package handler

import (
	"time"

	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/points"
)

// UserView is the member as clients see it. Provider identifiers never
// leave the server; clients only learn whether each provider is linked.
type UserView struct {
	Address        string     `json:"address"`
	Username       *string    `json:"username"`
	Points         int        `json:"points"`
	ProfilePic     *string    `json:"profilePic"`
	WalletCreation *time.Time `json:"walletCreation"`
	WalletAge      int        `json:"walletAge"`
	Social         SocialView `json:"social"`
}

type SocialView struct {
	Google   bool `json:"google"`
	Twitter  bool `json:"twitter"`
	LinkedIn bool `json:"linkedin"`
}

func NewSocialView(s model.SocialLinks) SocialView {
	return SocialView{
		Google:   s.Connected(model.ProviderGoogle),
		Twitter:  s.Connected(model.ProviderTwitter),
		LinkedIn: s.Connected(model.ProviderLinkedIn),
	}
}

func NewUserView(u *model.User, now time.Time) UserView {
	age := 0
	if u.WalletCreation != nil {
		age = points.WalletAge(*u.WalletCreation, now)
	}
	return UserView{
		Address:        u.Address,
		Username:       u.Username,
		Points:         u.Points,
		ProfilePic:     u.ProfilePic,
		WalletCreation: u.WalletCreation,
		WalletAge:      age,
		Social:         NewSocialView(u.Social),
	}
}

// ActivityView is one row of GET /activities.
type ActivityView struct {
	ID          string             `json:"id"`
	Type        model.ActivityType `json:"type"`
	Description string             `json:"description"`
	Timestamp   time.Time          `json:"timestamp"`
	Metadata    map[string]any     `json:"metadata"`
}

func newActivityViews(activities []model.Activity) []ActivityView {
	out := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		md := a.Metadata
		if md == nil {
			md = map[string]any{}
		}
		out = append(out, ActivityView{
			ID:          a.ID,
			Type:        a.Type,
			Description: a.Description,
			Timestamp:   a.CreatedAt,
			Metadata:    md,
		})
	}
	return out
}
