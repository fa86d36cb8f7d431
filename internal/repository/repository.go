// Package repository declares the storage contracts the service layer
// depends on. Implementations live in sub-packages (repository/sqlite).
//
// ERROR CONTRACT:
// Implementations return apperror values, never raw driver errors:
//   - missing rows          → apperror.NotFound
//   - UNIQUE violations     → apperror.Conflict
//   - anything else         → apperror.Persistence
package repository

import (
	"context"
	"time"

	"github.com/sakif/mumbai-dao/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// NonceChallenge is everything the store needs to record a new challenge.
type NonceChallenge struct {
	Address  string  // lowercase
	Username *string // optional; applied only if unique
	Nonce    int64
	IssuedAt time.Time
}

// SocialLinkResult reports what LinkSocial actually changed.
type SocialLinkResult struct {
	User          *model.User
	NewConnection bool
}

type UserRepository interface {
	// IssueNonce creates the user if the address is unseen, optionally sets
	// the username, and stores the nonce. All or nothing.
	IssueNonce(ctx context.Context, c NonceChallenge) (*model.User, error)

	// ConsumeNonce clears the nonce only if it still equals nonce, and
	// sets wallet_creation to now if unset. Returns false when the nonce
	// was already consumed or replaced.
	ConsumeNonce(ctx context.Context, userID string, nonce int64, now time.Time) (bool, error)

	// ClearNonce drops the outstanding nonce if it still equals nonce.
	ClearNonce(ctx context.Context, userID string, nonce int64) error

	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByAddress(ctx context.Context, address string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	UpdateUsername(ctx context.Context, userID, username string) error

	// LinkSocial records the provider account. Points grow by award only
	// when the provider was not connected before. avatar is applied only
	// when the user has no profile picture yet.
	LinkSocial(ctx context.Context, userID string, p model.Provider, accountID string, award int, avatar *string) (*SocialLinkResult, error)

	SetPoints(ctx context.Context, userID string, points int) error

	ListUsers(ctx context.Context, opts ListOptions) ([]model.User, error)

	// ListRanked returns users with a wallet_creation, oldest wallet first,
	// then by points descending.
	ListRanked(ctx context.Context, limit int) ([]model.User, error)

	// InsertUser stores a fully populated user (seeding).
	InsertUser(ctx context.Context, user *model.User) error
}

type ActivityRepository interface {
	CreateActivity(ctx context.Context, a *model.Activity) error
	ListActivities(ctx context.Context, userID string, limit int) ([]model.Activity, error)
}

// Truncator bulk-clears the store. Only seeding uses it.
type Truncator interface {
	Truncate(ctx context.Context) error
}
