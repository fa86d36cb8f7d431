// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// User is a DAO member, keyed by wallet address.
//
// NULLABLE FIELDS AS POINTERS:
// Username, WalletCreation, ProfilePic and Nonce are all "maybe absent".
// A nil pointer maps to SQL NULL and reads unambiguously: nil Nonce means
// "no outstanding challenge", which is different from a nonce of 0.
type User struct {
	ID             string      `json:"id"             db:"id"`
	Address        string      `json:"address"        db:"address"` // lowercase 0x-hex
	Username       *string     `json:"username"       db:"username"`
	WalletCreation *time.Time  `json:"walletCreation" db:"wallet_creation"` // set once, on first login
	Points         int         `json:"points"         db:"points"`
	Social         SocialLinks `json:"social"`
	ProfilePic     *string     `json:"profilePic"     db:"profile_pic"`
	Nonce          *int64      `json:"-"              db:"nonce"`
	NonceIssuedAt  *time.Time  `json:"-"              db:"nonce_issued_at"`
	CreatedAt      time.Time   `json:"createdAt"      db:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt"      db:"updated_at"`
}

// SocialLinks holds the provider account identifiers. Non-nil means connected.
type SocialLinks struct {
	Google   *string `db:"social_google"`
	Twitter  *string `db:"social_twitter"`
	LinkedIn *string `db:"social_linkedin"`
}

// Get returns the stored identifier for p.
func (s SocialLinks) Get(p Provider) *string {
	switch p {
	case ProviderGoogle:
		return s.Google
	case ProviderTwitter:
		return s.Twitter
	case ProviderLinkedIn:
		return s.LinkedIn
	}
	return nil
}

// Set stores id for p. Unknown providers are ignored.
func (s *SocialLinks) Set(p Provider, id *string) {
	switch p {
	case ProviderGoogle:
		s.Google = id
	case ProviderTwitter:
		s.Twitter = id
	case ProviderLinkedIn:
		s.LinkedIn = id
	}
}

// Connected reports whether p is linked.
func (s SocialLinks) Connected(p Provider) bool {
	return s.Get(p) != nil
}

// Count returns how many providers are linked.
func (s SocialLinks) Count() int {
	n := 0
	for _, p := range Providers {
		if s.Connected(p) {
			n++
		}
	}
	return n
}

// Provider is a social identity provider a member can link.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderTwitter  Provider = "twitter"
	ProviderLinkedIn Provider = "linkedin"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderGoogle, ProviderTwitter, ProviderLinkedIn}

// ParseProvider accepts a provider key in any case.
func ParseProvider(s string) (Provider, bool) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderGoogle, ProviderTwitter, ProviderLinkedIn:
		return p, true
	}
	return "", false
}
