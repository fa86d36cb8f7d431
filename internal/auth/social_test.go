package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/mumbai-dao/internal/model"
)

func newClerkStub(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/users/user_123/oauth_accounts" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &gotAuth
}

func TestClerkVerifier_FindsProvider(t *testing.T) {
	srv, gotAuth := newClerkStub(t, http.StatusOK, `[
		{"id":"g-1","provider":"oauth_google","username":""},
		{"id":"t-1","provider":"twitter","username":"satoshi"}
	]`)
	v := NewClerkVerifier("sk_test_123", srv.URL, 2*time.Second)

	acc, err := v.Verify(context.Background(), "user_123", model.ProviderTwitter)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "t-1", acc.ID)
	assert.Equal(t, "satoshi", acc.Username)
	assert.Equal(t, "Bearer sk_test_123", *gotAuth)

	acc, err = v.Verify(context.Background(), "user_123", model.ProviderGoogle)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "g-1", acc.ID)
}

func TestClerkVerifier_DataEnvelope(t *testing.T) {
	srv, _ := newClerkStub(t, http.StatusOK, `{"data":[{"id":"l-1","provider":"oauth_linkedin"}]}`)
	v := NewClerkVerifier("sk", srv.URL, time.Second)

	acc, err := v.Verify(context.Background(), "user_123", model.ProviderLinkedIn)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, "l-1", acc.ID)
}

func TestClerkVerifier_NotLinked(t *testing.T) {
	srv, _ := newClerkStub(t, http.StatusOK, `[{"id":"g-1","provider":"oauth_google"}]`)
	v := NewClerkVerifier("sk", srv.URL, time.Second)

	acc, err := v.Verify(context.Background(), "user_123", model.ProviderTwitter)
	assert.NoError(t, err)
	assert.Nil(t, acc)

	acc, err = v.Verify(context.Background(), "unknown_user", model.ProviderTwitter)
	assert.NoError(t, err, "404 means no such link, not an outage")
	assert.Nil(t, acc)
}

func TestClerkVerifier_UpstreamFailures(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv, _ := newClerkStub(t, http.StatusBadGateway, `{}`)
		v := NewClerkVerifier("sk", srv.URL, time.Second)
		_, err := v.Verify(context.Background(), "user_123", model.ProviderGoogle)
		assert.Error(t, err)
	})

	t.Run("bad json", func(t *testing.T) {
		srv, _ := newClerkStub(t, http.StatusOK, `not json`)
		v := NewClerkVerifier("sk", srv.URL, time.Second)
		_, err := v.Verify(context.Background(), "user_123", model.ProviderGoogle)
		assert.Error(t, err)
	})

	t.Run("timeout", func(t *testing.T) {
		slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		t.Cleanup(slow.Close)
		v := NewClerkVerifier("sk", slow.URL, 20*time.Millisecond)
		_, err := v.Verify(context.Background(), "user_123", model.ProviderGoogle)
		assert.Error(t, err)
	})
}
