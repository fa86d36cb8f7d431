package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// MaxNonce is the largest nonce value handed out. Nonces are uniform in
// [0, MaxNonce].
const MaxNonce = 999_999

var nonceRange = big.NewInt(MaxNonce + 1)

// NewNonce returns a fresh challenge value.
func NewNonce() (int64, error) {
	n, err := rand.Int(rand.Reader, nonceRange)
	if err != nil {
		return 0, fmt.Errorf("auth: generating nonce: %w", err)
	}
	return n.Int64(), nil
}
