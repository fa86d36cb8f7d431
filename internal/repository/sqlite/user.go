package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, address, username, wallet_creation, points,
	social_google, social_twitter, social_linkedin, profile_pic,
	nonce, nonce_issued_at, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var username, google, twitter, li, profilePic sql.NullString
	var walletCreation, nonce, nonceAt sql.NullInt64

	err := row.Scan(
		&u.ID,
		&u.Address,
		&username,
		&walletCreation,
		&u.Points,
		&google,
		&twitter,
		&li,
		&profilePic,
		&nonce,
		&nonceAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	u.Username = fromNullString(username)
	u.WalletCreation = fromMillis(walletCreation)
	u.Social = model.SocialLinks{
		Google:   fromNullString(google),
		Twitter:  fromNullString(twitter),
		LinkedIn: fromNullString(li),
	}
	u.ProfilePic = fromNullString(profilePic)
	if nonce.Valid {
		n := nonce.Int64
		u.Nonce = &n
	}
	u.NonceIssuedAt = fromMillis(nonceAt)
	return &u, nil
}

// getUser runs a single-row lookup. where must be a fixed SQL fragment.
func getUser(ctx context.Context, q querier, op, where string, arg any) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", fmt.Sprint(arg))
		}
		return nil, translate(op, err)
	}
	return u, nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return getUser(ctx, db.conn, "users.get_by_id", "id = ?", id)
}

// GetUserByAddress looks a user up by wallet address. The caller
// normalizes the address to lowercase.
func (db *DB) GetUserByAddress(ctx context.Context, address string) (*model.User, error) {
	return getUser(ctx, db.conn, "users.get_by_address", "address = ?", address)
}

// GetUserByUsername is an exact, case-sensitive match.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return getUser(ctx, db.conn, "users.get_by_username", "username = ?", username)
}

// IssueNonce records a fresh challenge for an address.
//
// Everything happens in one transaction:
//  1. look the address up, INSERT a new user if unseen (username included)
//  2. for an existing user, apply the username if it changed
//  3. overwrite the nonce
//
// If step 1 or 2 trips the username UNIQUE constraint the whole transaction
// rolls back, so a rejected username never leaves a new nonce behind.
func (db *DB) IssueNonce(ctx context.Context, c repository.NonceChallenge) (*model.User, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate("users.issue_nonce.begin", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	existing, err := getUser(ctx, tx, "users.issue_nonce.lookup", "address = ?", c.Address)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, address, username, points, nonce, nonce_issued_at, created_at, updated_at)
			 VALUES (?, ?, ?, 0, ?, ?, ?, ?)`,
			xid.New().String(),
			c.Address,
			toNullString(c.Username),
			c.Nonce,
			c.IssuedAt.UnixMilli(),
			now,
			now,
		)
		if err != nil {
			return nil, translate("users.issue_nonce.insert", err)
		}

	case err != nil:
		return nil, err

	default:
		if c.Username != nil && (existing.Username == nil || *existing.Username != *c.Username) {
			_, err = tx.ExecContext(ctx,
				`UPDATE users SET username = ?, updated_at = ? WHERE id = ?`,
				*c.Username, now, existing.ID,
			)
			if err != nil {
				return nil, translate("users.issue_nonce.username", err)
			}
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET nonce = ?, nonce_issued_at = ?, updated_at = ? WHERE id = ?`,
			c.Nonce, c.IssuedAt.UnixMilli(), now, existing.ID,
		)
		if err != nil {
			return nil, translate("users.issue_nonce.update", err)
		}
	}

	user, err := getUser(ctx, tx, "users.issue_nonce.reload", "address = ?", c.Address)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translate("users.issue_nonce.commit", err)
	}
	return user, nil
}

// ConsumeNonce is a compare-and-clear: the UPDATE only matches while the
// stored nonce still equals the one that was verified. Two concurrent
// verifications of the same signature cannot both succeed.
//
// wallet_creation uses COALESCE so it is written once and never moved.
func (db *DB) ConsumeNonce(ctx context.Context, userID string, nonce int64, now time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET nonce = NULL, nonce_issued_at = NULL,
		     wallet_creation = COALESCE(wallet_creation, ?),
		     updated_at = ?
		 WHERE id = ? AND nonce = ?`,
		now.UnixMilli(), now.UTC(), userID, nonce,
	)
	if err != nil {
		return false, translate("users.consume_nonce", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, translate("users.consume_nonce", err)
	}
	return n == 1, nil
}

// ClearNonce is the same compare-and-clear without the login side effects:
// a nonce issued after the expired one was read is left alone.
func (db *DB) ClearNonce(ctx context.Context, userID string, nonce int64) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET nonce = NULL, nonce_issued_at = NULL, updated_at = ?
		 WHERE id = ? AND nonce = ?`,
		time.Now().UTC(), userID, nonce,
	)
	return translate("users.clear_nonce", err)
}

// UpdateUsername relies on the UNIQUE index: a taken name fails the UPDATE
// with a constraint error, which becomes apperror.Conflict.
func (db *DB) UpdateUsername(ctx context.Context, userID, username string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET username = ?, updated_at = ? WHERE id = ?`,
		username, time.Now().UTC(), userID,
	)
	if err != nil {
		return translate("users.update_username", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// socialColumn maps a provider to its column. Column names never come
// from user input.
func socialColumn(p model.Provider) (string, error) {
	switch p {
	case model.ProviderGoogle:
		return "social_google", nil
	case model.ProviderTwitter:
		return "social_twitter", nil
	case model.ProviderLinkedIn:
		return "social_linkedin", nil
	}
	return "", apperror.ValidationFailed("provider", fmt.Sprintf("Unsupported provider %q", p))
}

// LinkSocial stores the provider account and awards points on first link.
//
// The "was it connected before?" check and the points increment are one
// conditional UPDATE (... WHERE <col> IS NULL), so reconnecting the same
// provider can never award twice, even under concurrent requests.
func (db *DB) LinkSocial(ctx context.Context, userID string, p model.Provider, accountID string, award int, avatar *string) (*repository.SocialLinkResult, error) {
	col, err := socialColumn(p)
	if err != nil {
		return nil, err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, translate("users.link_social.begin", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %[1]s = ?, points = points + ?, updated_at = ?
		 WHERE id = ? AND %[1]s IS NULL`, col),
		accountID, award, now, userID,
	)
	if err != nil {
		return nil, translate("users.link_social.connect", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, translate("users.link_social.connect", err)
	}
	isNew := n == 1

	if !isNew {
		// Already connected: reaffirm with the latest identifier, no points.
		res, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE users SET %s = ?, updated_at = ? WHERE id = ?`, col),
			accountID, now, userID,
		)
		if err != nil {
			return nil, translate("users.link_social.reaffirm", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, apperror.NotFound("user", userID)
		}
	}

	if avatar != nil {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET profile_pic = COALESCE(profile_pic, ?) WHERE id = ?`,
			*avatar, userID,
		)
		if err != nil {
			return nil, translate("users.link_social.avatar", err)
		}
	}

	user, err := getUser(ctx, tx, "users.link_social.reload", "id = ?", userID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, translate("users.link_social.commit", err)
	}

	return &repository.SocialLinkResult{User: user, NewConnection: isNew}, nil
}

func (db *DB) SetPoints(ctx context.Context, userID string, points int) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET points = ?, updated_at = ? WHERE id = ?`,
		points, time.Now().UTC(), userID,
	)
	if err != nil {
		return translate("users.set_points", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ListUsers pages through every user in a stable order.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return db.queryUsers(ctx, "users.list",
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		limit, opts.Offset,
	)
}

// ListRanked returns leaderboard candidates. Users without a
// wallet_creation have never logged in and are left out entirely.
func (db *DB) ListRanked(ctx context.Context, limit int) ([]model.User, error) {
	return db.queryUsers(ctx, "users.list_ranked",
		`SELECT `+userColumns+` FROM users
		 WHERE wallet_creation IS NOT NULL
		 ORDER BY wallet_creation ASC, points DESC, id ASC
		 LIMIT ?`,
		limit,
	)
}

func (db *DB) queryUsers(ctx context.Context, op, query string, args ...any) ([]model.User, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(op, err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translate(op, err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(op, err)
	}
	return users, nil
}

// InsertUser stores a fully populated user. ID and timestamps are filled in
// when empty.
func (db *DB) InsertUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	var nonce sql.NullInt64
	if user.Nonce != nil {
		nonce = sql.NullInt64{Int64: *user.Nonce, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Address,
		toNullString(user.Username),
		toMillis(user.WalletCreation),
		user.Points,
		toNullString(user.Social.Google),
		toNullString(user.Social.Twitter),
		toNullString(user.Social.LinkedIn),
		toNullString(user.ProfilePic),
		nonce,
		toMillis(user.NonceIssuedAt),
		user.CreatedAt,
		user.UpdatedAt,
	)
	return translate("users.insert", err)
}
