package model

import "time"

// ActivityType enumerates the audit events recorded for a member.
type ActivityType string

const (
	ActivityLogin          ActivityType = "LOGIN"
	ActivitySocialConnect  ActivityType = "SOCIAL_CONNECT"
	ActivityUsernameUpdate ActivityType = "USERNAME_UPDATE"
	ActivityProfileView    ActivityType = "PROFILE_VIEW"
)

// Activity is an append-only audit record. The application never updates
// or deletes one.
type Activity struct {
	ID          string         `json:"id"          db:"id"`
	UserID      string         `json:"userId"      db:"user_id"`
	Type        ActivityType   `json:"type"        db:"activity_type"`
	Description string         `json:"description" db:"description"`
	Metadata    map[string]any `json:"metadata"    db:"metadata"`
	IPAddress   string         `json:"-"           db:"ip_address"`
	UserAgent   string         `json:"-"           db:"user_agent"`
	CreatedAt   time.Time      `json:"timestamp"   db:"created_at"`
}

// RequestMeta carries the caller's network provenance into the service
// layer without leaking *http.Request there.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}
