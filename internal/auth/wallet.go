package auth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/sakif/mumbai-dao/internal/apperror"
)

// PERSONAL_SIGN (EIP-191):
// Wallets never sign raw text. personal_sign first prefixes the message
//
//	"\x19Ethereum Signed Message:\n" + len(message) + message
//
// and signs the Keccak-256 hash of that. The prefix makes a signed login
// message unusable as a signed transaction. To verify, we rebuild exactly
// the same hash, recover the public key from the 65-byte [R || S || V]
// signature, and derive the address from it.

const signaturePrefix = "\x19Ethereum Signed Message:\n"

// ChallengeMessage is the text the wallet signs for a given nonce.
func ChallengeMessage(nonce int64) string {
	return fmt.Sprintf("Login nonce: %d", nonce)
}

// PersonalMessageHash returns keccak256(prefix || len || message).
func PersonalMessageHash(message []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s%d", signaturePrefix, len(message))
	h.Write(message)
	return h.Sum(nil)
}

// NormalizeAddress validates a 20-byte hex address and returns it as
// lowercase 0x-prefixed hex, the form used as the identity key.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", apperror.ValidationFailed("address", "Address is required")
	}
	if !common.IsHexAddress(address) {
		return "", apperror.ValidationFailed("address", "Invalid wallet address")
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// RecoverAddress returns the address that produced signature over message.
//
// Wallets emit V as 27/28 (legacy) while go-ethereum expects 0/1, so V is
// normalized before recovery.
func RecoverAddress(message, signature string) (common.Address, error) {
	sigHex := strings.TrimSpace(signature)
	if !strings.HasPrefix(sigHex, "0x") && !strings.HasPrefix(sigHex, "0X") {
		sigHex = "0x" + sigHex
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("auth: decoding signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("auth: signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}

	// Copy so the caller's slice is never modified.
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("auth: invalid recovery id %d", sig[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(PersonalMessageHash([]byte(message)), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("auth: recovering public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that signature over message was made by address.
// Malformed signatures and mismatches are both apperror.ErrAuthentication.
func VerifySignature(address, message, signature string) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return &apperror.AppError{
			Err:     apperror.ErrAuthentication,
			Message: "Invalid signature",
			Cause:   err,
		}
	}
	if !strings.EqualFold(recovered.Hex(), address) {
		return apperror.Unauthenticated("Signature verification failed")
	}
	return nil
}
