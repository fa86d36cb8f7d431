// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)      → parses requests, writes responses
//	Service (Business layer)  → validates, enforces rules, orchestrates
//	Repository (Data layer)   → reads/writes to the database
//
// Services only know about business rules. They never see an
// http.Request and never write SQL. The same services back both the HTTP
// server and the daoctl CLI.
//
// DEPENDENCY INJECTION:
// Every service takes repository interfaces, not *sqlite.DB. Tests pass
// in-memory fakes (see fakes_test.go) and main.go passes the real store.
//
// ERRORS:
// Services return apperror values for every expected outcome (validation,
// conflict, bad signature, stale nonce). Store errors already arrive as
// apperror values and are passed through, wrapped with context via %w so
// errors.Is keeps working.
package service

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/mumbai-dao/internal/apperror"
)

// Username rules.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

// normalizeUsername trims and length-checks a username.
func normalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperror.ValidationFailed("username", "Username is required")
	}
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", apperror.ValidationFailed("username", "Username must be between 3 and 32 characters")
	}
	return name, nil
}

// Clock returns the current time. Services take one so tests can pin it.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }
