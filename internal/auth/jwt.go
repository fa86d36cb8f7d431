// Package auth provides wallet-signature authentication and session tokens.
//
// AUTHENTICATION FLOW OVERVIEW:
// 1. Client POSTs /auth/nonce with its wallet address → server stores a random nonce
// 2. Wallet signs "Login nonce: <n>" with personal_sign (EIP-191)
// 3. Client POSTs /auth/verify with the signature → server recovers the signer
//    address, compares it to the claimed one, clears the nonce
// 4. Server issues a JWT (7 days) which the client sends as
//    "Authorization: Bearer <token>" on every protected request
// 5. RequireAuth validates the token, loads the live user, and puts it in
//    the request context
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<userID>","address":"0x...","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/mumbai-dao/internal/apperror"
)

const (
	issuer = "mumbai-dao"

	// DefaultSessionTTL is how long a session token stays valid.
	DefaultSessionTTL = 7 * 24 * time.Hour

	minSecretLength = 16
)

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret key used to sign and verify tokens.
// The same secret must be used for both operations.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and lifetime.
//
// A missing or short secret is a server misconfiguration, not a user error:
// it returns apperror.ErrConfiguration so startup can halt on it.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if secret == "" {
		return nil, apperror.Misconfigured("JWT secret is not configured")
	}
	if len(secret) < minSecretLength {
		return nil, apperror.Misconfigured(fmt.Sprintf("JWT secret must be at least %d characters", minSecretLength))
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// Claims is the JWT payload. "sub" holds the internal user ID; the wallet
// address rides along for clients that want to display it without a lookup.
type Claims struct {
	Address string `json:"address,omitempty"`
	jwt.RegisteredClaims
}

// Generate creates and signs a session token for the user.
func (s *TokenService) Generate(userID, address string) (string, error) {
	return s.GenerateWithDuration(userID, address, s.ttl)
}

// GenerateWithDuration creates a token with a custom expiry duration.
// Used in tests to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(userID, address string, d time.Duration) (string, error) {
	now := time.Now()

	c := Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses and verifies a JWT string and returns its claims.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired
//   - Issuer matches
//   - Algorithm is HS256 (prevents "alg: none" and algorithm confusion)
//
// Every failure is an apperror.ErrAuthentication.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.Unauthenticated("Token expired")
		}
		return nil, apperror.Unauthenticated("Invalid token")
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperror.Unauthenticated("Invalid token")
	}
	if c.Subject == "" {
		return nil, apperror.Unauthenticated("Invalid token")
	}

	return c, nil
}
