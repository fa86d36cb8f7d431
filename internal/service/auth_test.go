package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/model"
)

const fixedNonce int64 = 424242

func newTestAuthService(t *testing.T, repo *fakeUserRepo, rec *fakeRecorder, clock *testClock) *AuthService {
	t.Helper()
	return NewAuthService(repo, testTokens(t), rec, testLogger(),
		WithAuthClock(clock.Now),
		WithNonceSource(func() (int64, error) { return fixedNonce, nil }),
	)
}

// login runs the full handshake for w and fails the test on any error.
func login(t *testing.T, svc *AuthService, w wallet) *AuthResult {
	t.Helper()
	ctx := context.Background()
	nonce, err := svc.IssueNonce(ctx, w.address, nil)
	if err != nil {
		t.Fatalf("IssueNonce() error = %v", err)
	}
	res, err := svc.Verify(ctx, w.address, w.sign(t, nonce), model.RequestMeta{IPAddress: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	return res
}

// =========================================================================
// IssueNonce TESTS
// =========================================================================

func TestIssueNonce_NewAddressCreatesPendingMember(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	w := newWallet(t)

	nonce, err := svc.IssueNonce(context.Background(), w.address, nil)
	if err != nil {
		t.Fatalf("IssueNonce() error = %v", err)
	}
	if nonce != fixedNonce {
		t.Errorf("nonce = %d, want %d", nonce, fixedNonce)
	}

	u, err := repo.GetUserByAddress(context.Background(), w.address)
	if err != nil {
		t.Fatalf("member not created: %v", err)
	}
	if u.WalletCreation != nil {
		t.Error("walletCreation should stay unset until the first verified login")
	}
	if u.Nonce == nil || *u.Nonce != fixedNonce {
		t.Errorf("stored nonce = %v, want %d", u.Nonce, fixedNonce)
	}
}

func TestIssueNonce_NormalizesAddressCase(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())

	mixed := "0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD"
	if _, err := svc.IssueNonce(context.Background(), mixed, nil); err != nil {
		t.Fatalf("IssueNonce() error = %v", err)
	}
	if _, err := repo.GetUserByAddress(context.Background(), "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"); err != nil {
		t.Errorf("member should be stored under the lowercase address: %v", err)
	}
}

func TestIssueNonce_SetsUsername(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	w := newWallet(t)

	if _, err := svc.IssueNonce(context.Background(), w.address, strPtr("  alice  ")); err != nil {
		t.Fatalf("IssueNonce() error = %v", err)
	}
	u, _ := repo.GetUserByAddress(context.Background(), w.address)
	if u.Username == nil || *u.Username != "alice" {
		t.Errorf("username = %v, want alice", u.Username)
	}
}

func TestIssueNonce_UsernameTakenIsConflictAndWritesNothing(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	alice, bob := newWallet(t), newWallet(t)

	if _, err := svc.IssueNonce(context.Background(), alice.address, strPtr("alice")); err != nil {
		t.Fatalf("first IssueNonce() error = %v", err)
	}

	_, err := svc.IssueNonce(context.Background(), bob.address, strPtr("alice"))
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if _, err := repo.GetUserByAddress(context.Background(), bob.address); !errors.Is(err, apperror.ErrNotFound) {
		t.Error("a failed nonce request must not create the member")
	}
}

func TestIssueNonce_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		username *string
	}{
		{"empty address", "", nil},
		{"not hex", "0xnothex", nil},
		{"short address", "0x1234", nil},
		{"username too short", "0x1234567890123456789012345678901234567890", strPtr("ab")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestAuthService(t, newFakeUserRepo(), &fakeRecorder{}, newTestClock())
			_, err := svc.IssueNonce(context.Background(), tt.address, tt.username)
			if !errors.Is(err, apperror.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestIssueNonce_ReissueReplacesNonce(t *testing.T) {
	repo := newFakeUserRepo()
	next := int64(1)
	svc := NewAuthService(repo, testTokens(t), &fakeRecorder{}, testLogger(),
		WithNonceSource(func() (int64, error) { next++; return next, nil }),
	)
	w := newWallet(t)

	first, _ := svc.IssueNonce(context.Background(), w.address, nil)
	second, _ := svc.IssueNonce(context.Background(), w.address, nil)

	// A signature over the replaced nonce no longer works.
	_, err := svc.Verify(context.Background(), w.address, w.sign(t, first), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrAuthentication) {
		t.Errorf("signature over replaced nonce: error = %v, want ErrAuthentication", err)
	}
	if _, err := svc.Verify(context.Background(), w.address, w.sign(t, second), model.RequestMeta{}); err != nil {
		t.Errorf("signature over current nonce: error = %v", err)
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify_FirstLoginStampsWalletCreation(t *testing.T) {
	repo := newFakeUserRepo()
	rec := &fakeRecorder{}
	clock := newTestClock()
	svc := newTestAuthService(t, repo, rec, clock)
	w := newWallet(t)

	res := login(t, svc, w)

	if res.User.WalletCreation == nil || !res.User.WalletCreation.Equal(clock.Now()) {
		t.Errorf("walletCreation = %v, want %v", res.User.WalletCreation, clock.Now())
	}
	if res.User.Nonce != nil {
		t.Error("nonce should be consumed")
	}

	claims, err := testTokens(t).Validate(res.Token)
	if err != nil {
		t.Fatalf("issued token does not validate: %v", err)
	}
	if claims.Subject != res.User.ID {
		t.Errorf("token subject = %q, want %q", claims.Subject, res.User.ID)
	}

	logins := rec.ofType(model.ActivityLogin)
	if len(logins) != 1 {
		t.Fatalf("LOGIN activities = %d, want 1", len(logins))
	}
	if logins[0].UserID != res.User.ID || logins[0].Request.IPAddress != "10.0.0.1" {
		t.Errorf("unexpected LOGIN entry: %+v", logins[0])
	}
}

func TestVerify_WalletCreationNeverChanges(t *testing.T) {
	repo := newFakeUserRepo()
	clock := newTestClock()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, clock)
	w := newWallet(t)

	first := login(t, svc, w)
	clock.Advance(30 * 24 * time.Hour)
	second := login(t, svc, w)

	if !second.User.WalletCreation.Equal(*first.User.WalletCreation) {
		t.Errorf("walletCreation moved from %v to %v", first.User.WalletCreation, second.User.WalletCreation)
	}
}

func TestVerify_NonceIsSingleUse(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	w := newWallet(t)

	nonce, _ := svc.IssueNonce(context.Background(), w.address, nil)
	sig := w.sign(t, nonce)

	if _, err := svc.Verify(context.Background(), w.address, sig, model.RequestMeta{}); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	_, err := svc.Verify(context.Background(), w.address, sig, model.RequestMeta{})
	if !errors.Is(err, apperror.ErrInvalidState) {
		t.Errorf("replayed Verify() error = %v, want ErrInvalidState", err)
	}
}

func TestVerify_LostConsumeRaceIsInvalidState(t *testing.T) {
	repo := newFakeUserRepo()
	rec := &fakeRecorder{}
	svc := newTestAuthService(t, repo, rec, newTestClock())
	w := newWallet(t)

	nonce, _ := svc.IssueNonce(context.Background(), w.address, nil)
	repo.loseConsume = true

	_, err := svc.Verify(context.Background(), w.address, w.sign(t, nonce), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
	if len(rec.ofType(model.ActivityLogin)) != 0 {
		t.Error("losing request must not log a LOGIN")
	}
}

func TestVerify_UnknownAddress(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), &fakeRecorder{}, newTestClock())
	w := newWallet(t)

	_, err := svc.Verify(context.Background(), w.address, w.sign(t, 1), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Message != "User not found" {
		t.Errorf("message = %q, want %q", appErr.Message, "User not found")
	}
}

func TestVerify_NoOutstandingNonce(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	w := newWallet(t)
	login(t, svc, w)

	_, err := svc.Verify(context.Background(), w.address, w.sign(t, fixedNonce), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
}

func TestVerify_WrongSignerKeepsNonce(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	owner, attacker := newWallet(t), newWallet(t)

	nonce, _ := svc.IssueNonce(context.Background(), owner.address, nil)

	_, err := svc.Verify(context.Background(), owner.address, attacker.sign(t, nonce), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrAuthentication) {
		t.Fatalf("error = %v, want ErrAuthentication", err)
	}

	u, _ := repo.GetUserByAddress(context.Background(), owner.address)
	if u.Nonce == nil {
		t.Fatal("a failed signature must not consume the nonce")
	}
	if u.WalletCreation != nil {
		t.Error("a failed signature must not set walletCreation")
	}

	// The owner can still complete the login with the same nonce.
	if _, err := svc.Verify(context.Background(), owner.address, owner.sign(t, nonce), model.RequestMeta{}); err != nil {
		t.Errorf("owner Verify() error = %v", err)
	}
}

func TestVerify_MalformedSignature(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	w := newWallet(t)
	svc.IssueNonce(context.Background(), w.address, nil)

	_, err := svc.Verify(context.Background(), w.address, "0xdeadbeef", model.RequestMeta{})
	if !errors.Is(err, apperror.ErrAuthentication) {
		t.Errorf("error = %v, want ErrAuthentication", err)
	}
}

func TestVerify_MissingSignature(t *testing.T) {
	svc := newTestAuthService(t, newFakeUserRepo(), &fakeRecorder{}, newTestClock())
	w := newWallet(t)

	_, err := svc.Verify(context.Background(), w.address, "   ", model.RequestMeta{})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestVerify_ExpiredNonceIsClearedAndRejected(t *testing.T) {
	repo := newFakeUserRepo()
	clock := newTestClock()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, clock)
	w := newWallet(t)

	nonce, _ := svc.IssueNonce(context.Background(), w.address, nil)
	clock.Advance(DefaultNonceTTL + time.Second)

	_, err := svc.Verify(context.Background(), w.address, w.sign(t, nonce), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
	u, _ := repo.GetUserByAddress(context.Background(), w.address)
	if u.Nonce != nil {
		t.Error("expired nonce should be cleared")
	}
}

func TestVerify_ExpiredNonceKeepsConcurrentReissue(t *testing.T) {
	repo := newFakeUserRepo()
	clock := newTestClock()
	next := int64(1)
	svc := NewAuthService(repo, testTokens(t), &fakeRecorder{}, testLogger(),
		WithAuthClock(clock.Now),
		WithNonceSource(func() (int64, error) { next++; return next, nil }),
	)
	w := newWallet(t)

	stale, _ := svc.IssueNonce(context.Background(), w.address, nil)
	clock.Advance(DefaultNonceTTL + time.Second)

	// The wallet asks for a new nonce while its stale signature is in flight.
	repo.afterGetByAddress = func() {
		repo.afterGetByAddress = nil
		if _, err := svc.IssueNonce(context.Background(), w.address, nil); err != nil {
			t.Errorf("IssueNonce() error = %v", err)
		}
	}

	_, err := svc.Verify(context.Background(), w.address, w.sign(t, stale), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrInvalidState) {
		t.Fatalf("error = %v, want ErrInvalidState", err)
	}
	u, _ := repo.GetUserByAddress(context.Background(), w.address)
	if u.Nonce == nil {
		t.Fatal("reissued nonce was cleared")
	}

	if _, err := svc.Verify(context.Background(), w.address, w.sign(t, *u.Nonce), model.RequestMeta{}); err != nil {
		t.Errorf("Verify() with reissued nonce error = %v", err)
	}
}

func TestVerify_NonceWithinTTL(t *testing.T) {
	repo := newFakeUserRepo()
	clock := newTestClock()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, clock)
	w := newWallet(t)

	nonce, _ := svc.IssueNonce(context.Background(), w.address, nil)
	clock.Advance(DefaultNonceTTL - time.Second)

	if _, err := svc.Verify(context.Background(), w.address, w.sign(t, nonce), model.RequestMeta{}); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerify_StoreFailurePropagates(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestAuthService(t, repo, &fakeRecorder{}, newTestClock())
	w := newWallet(t)
	nonce, _ := svc.IssueNonce(context.Background(), w.address, nil)

	repo.consumeErr = apperror.Persistence("consume nonce", errors.New("disk I/O error"))

	_, err := svc.Verify(context.Background(), w.address, w.sign(t, nonce), model.RequestMeta{})
	if !errors.Is(err, apperror.ErrPersistence) {
		t.Errorf("error = %v, want ErrPersistence", err)
	}
}
