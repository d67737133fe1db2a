package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// CredentialIssuer returns the hash stored as a new person's portal credential.
type CredentialIssuer func() (string, error)

// NewCredentialIssuer hashes a random throwaway secret with bcrypt. The secret
// is discarded, so the portal account is unusable until a reset.
func NewCredentialIssuer(cost int) CredentialIssuer {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return func() (string, error) {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate portal secret: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), cost)
		if err != nil {
			return "", fmt.Errorf("hash portal secret: %w", err)
		}
		return string(hash), nil
	}
}
