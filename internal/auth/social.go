package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/mumbai-dao/internal/model"
)

// DefaultClerkBaseURL is Clerk's backend API root.
const DefaultClerkBaseURL = "https://api.clerk.com/v1"

// SocialAccount is the portion of an identity-provider OAuth account we
// care about. The provider returns much more; we only unmarshal these.
type SocialAccount struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Username string `json:"username"`
}

// SocialVerifier confirms that an identity-provider user has linked a
// social account.
//
// Return values:
//   - (account, nil) → linked
//   - (nil, nil)     → the provider answered, but there is no such link
//   - (nil, err)     → the provider could not be reached or answered badly
type SocialVerifier interface {
	Verify(ctx context.Context, externalUserID string, provider model.Provider) (*SocialAccount, error)
}

// ClerkVerifier asks Clerk which OAuth accounts a Clerk user has linked.
//
// AUTHENTICATION:
// Clerk's backend API takes the secret key as a bearer token. Rather than
// setting the header by hand, we wrap it in an oauth2.StaticTokenSource:
// oauth2.NewClient returns an *http.Client whose transport adds
// "Authorization: Bearer <key>" to every request.
type ClerkVerifier struct {
	baseURL string
	client  *http.Client
}

// NewClerkVerifier builds a verifier. timeout bounds every API call.
func NewClerkVerifier(secretKey, baseURL string, timeout time.Duration) *ClerkVerifier {
	if baseURL == "" {
		baseURL = DefaultClerkBaseURL
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secretKey, TokenType: "Bearer"})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = timeout

	return &ClerkVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Verify lists the user's OAuth accounts and picks the one for provider.
// Clerk names providers either "google" or "oauth_google"; both match.
func (v *ClerkVerifier) Verify(ctx context.Context, externalUserID string, provider model.Provider) (*SocialAccount, error) {
	endpoint := fmt.Sprintf("%s/users/%s/oauth_accounts", v.baseURL, url.PathEscape(externalUserID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building clerk request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling clerk: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth: clerk returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: reading clerk response: %w", err)
	}

	accounts, err := decodeAccounts(body)
	if err != nil {
		return nil, fmt.Errorf("auth: decoding clerk response: %w", err)
	}

	for _, acc := range accounts {
		name := strings.TrimPrefix(strings.ToLower(acc.Provider), "oauth_")
		if name == string(provider) && acc.ID != "" {
			return &acc, nil
		}
	}
	return nil, nil
}

// decodeAccounts accepts either a bare JSON array or a paginated
// {"data": [...]} envelope.
func decodeAccounts(body []byte) ([]SocialAccount, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var accounts []SocialAccount
		err := json.Unmarshal(body, &accounts)
		return accounts, err
	}
	var envelope struct {
		Data []SocialAccount `json:"data"`
	}
	err := json.Unmarshal(body, &envelope)
	return envelope.Data, err
}
