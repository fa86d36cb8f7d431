package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/auth"
	"github.com/sakif/mumbai-dao/internal/model"
	"github.com/sakif/mumbai-dao/internal/repository"
)

// =========================================================================
// FAKE USER REPOSITORY
// =========================================================================
//
// fakeUserRepo is an in-memory repository.UserRepository. It follows the
// same contract as the SQLite store (NotFound/Conflict errors, all-or-nothing
// IssueNonce, compare-and-clear ConsumeNonce) so service tests exercise the
// real rules without a database.
//
// Set the *Err fields to simulate store failures.

type fakeUserRepo struct {
	mu     sync.Mutex
	users  []*model.User // insertion order = created_at order
	nextID int

	listErr        error
	getByIDErr     error
	consumeErr     error
	loseConsume    bool             // ConsumeNonce reports another request won
	setPointsErrs  map[string]error // per user ID
	setPointsCalls int
	truncated      bool

	afterGetByAddress func() // runs once the lookup has returned its snapshot
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{setPointsErrs: make(map[string]error)}
}

func (f *fakeUserRepo) find(pred func(*model.User) bool) *model.User {
	for _, u := range f.users {
		if pred(u) {
			return u
		}
	}
	return nil
}

func (f *fakeUserRepo) byID(id string) *model.User {
	return f.find(func(u *model.User) bool { return u.ID == id })
}

func (f *fakeUserRepo) usernameTaken(name, exceptID string) bool {
	return f.find(func(u *model.User) bool {
		return u.ID != exceptID && u.Username != nil && *u.Username == name
	}) != nil
}

func clone(u *model.User) *model.User {
	c := *u
	return &c
}

func (f *fakeUserRepo) IssueNonce(_ context.Context, c repository.NonceChallenge) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := f.find(func(u *model.User) bool { return u.Address == c.Address })
	id := ""
	if u != nil {
		id = u.ID
	}
	if c.Username != nil && f.usernameTaken(*c.Username, id) {
		return nil, apperror.Conflict("Username already taken")
	}

	if u == nil {
		f.nextID++
		u = &model.User{ID: fmt.Sprintf("user-%d", f.nextID), Address: c.Address, CreatedAt: c.IssuedAt}
		f.users = append(f.users, u)
	}
	if c.Username != nil {
		name := *c.Username
		u.Username = &name
	}
	nonce, at := c.Nonce, c.IssuedAt
	u.Nonce, u.NonceIssuedAt = &nonce, &at
	return clone(u), nil
}

func (f *fakeUserRepo) ConsumeNonce(_ context.Context, userID string, nonce int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.consumeErr != nil {
		return false, f.consumeErr
	}
	if f.loseConsume {
		return false, nil
	}
	u := f.byID(userID)
	if u == nil || u.Nonce == nil || *u.Nonce != nonce {
		return false, nil
	}
	u.Nonce, u.NonceIssuedAt = nil, nil
	if u.WalletCreation == nil {
		wc := now
		u.WalletCreation = &wc
	}
	return true, nil
}

func (f *fakeUserRepo) ClearNonce(_ context.Context, userID string, nonce int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u := f.byID(userID); u != nil && u.Nonce != nil && *u.Nonce == nonce {
		u.Nonce, u.NonceIssuedAt = nil, nil
	}
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getByIDErr != nil {
		return nil, f.getByIDErr
	}
	u := f.byID(id)
	if u == nil {
		return nil, apperror.NotFound("user", id)
	}
	return clone(u), nil
}

func (f *fakeUserRepo) GetUserByAddress(_ context.Context, address string) (*model.User, error) {
	f.mu.Lock()
	u := f.find(func(u *model.User) bool { return u.Address == address })
	if u != nil {
		u = clone(u)
	}
	f.mu.Unlock()

	if hook := f.afterGetByAddress; hook != nil {
		hook()
	}
	if u == nil {
		return nil, apperror.NotFound("user", address)
	}
	return u, nil
}

func (f *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.find(func(u *model.User) bool { return u.Username != nil && *u.Username == username })
	if u == nil {
		return nil, apperror.NotFound("user", username)
	}
	return clone(u), nil
}

func (f *fakeUserRepo) UpdateUsername(_ context.Context, userID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID(userID)
	if u == nil {
		return apperror.NotFound("user", userID)
	}
	if f.usernameTaken(username, userID) {
		return apperror.Conflict("Username already taken")
	}
	u.Username = &username
	return nil
}

func (f *fakeUserRepo) LinkSocial(_ context.Context, userID string, p model.Provider, accountID string, award int, avatar *string) (*repository.SocialLinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID(userID)
	if u == nil {
		return nil, apperror.NotFound("user", userID)
	}
	isNew := !u.Social.Connected(p)
	u.Social.Set(p, &accountID)
	if isNew {
		u.Points += award
	}
	if avatar != nil && u.ProfilePic == nil {
		a := *avatar
		u.ProfilePic = &a
	}
	return &repository.SocialLinkResult{User: clone(u), NewConnection: isNew}, nil
}

func (f *fakeUserRepo) SetPoints(_ context.Context, userID string, points int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setPointsCalls++
	if err := f.setPointsErrs[userID]; err != nil {
		return err
	}
	u := f.byID(userID)
	if u == nil {
		return apperror.NotFound("user", userID)
	}
	u.Points = points
	return nil
}

func (f *fakeUserRepo) ListUsers(_ context.Context, opts repository.ListOptions) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []model.User{}
	for i := opts.Offset; i < len(f.users); i++ {
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
		out = append(out, *f.users[i])
	}
	return out, nil
}

func (f *fakeUserRepo) ListRanked(_ context.Context, limit int) ([]model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := []model.User{}
	for _, u := range f.users {
		if u.WalletCreation != nil {
			out = append(out, *u)
		}
	}
	// Deliberately unsorted order from the store must not matter.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeUserRepo) InsertUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(func(u *model.User) bool { return u.Address == user.Address }) != nil {
		return apperror.Conflict("Address already registered")
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	f.users = append(f.users, clone(user))
	return nil
}

func (f *fakeUserRepo) Truncate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = nil
	f.truncated = true
	return nil
}

// =========================================================================
// FAKE ACTIVITY RECORDER
// =========================================================================

type fakeRecorder struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

func (r *fakeRecorder) Record(e ActivityEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *fakeRecorder) ofType(t model.ActivityType) []ActivityEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ActivityEntry
	for _, e := range r.entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// =========================================================================
// FAKE SOCIAL VERIFIER
// =========================================================================

type fakeVerifier struct {
	mu      sync.Mutex
	account *auth.SocialAccount
	err     error
	calls   int
}

func (v *fakeVerifier) Verify(context.Context, string, model.Provider) (*auth.SocialAccount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.account, v.err
}

// =========================================================================
// HELPERS
// =========================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService("test-secret-at-least-16-chars!!", 0)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// testClock is a settable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// wallet is a throwaway key pair standing in for a browser wallet.
type wallet struct {
	key     *ecdsa.PrivateKey
	address string // lowercase
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return wallet{key: key, address: strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())}
}

// sign produces a personal_sign signature over the login challenge.
func (w wallet) sign(t *testing.T, nonce int64) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(auth.ChallengeMessage(nonce))), w.key)
	if err != nil {
		t.Fatalf("crypto.Sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func strPtr(s string) *string { return &s }
