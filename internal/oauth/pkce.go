package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// PKCE is a Proof Key for Code Exchange verifier/challenge pair.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE produces a 32-byte random verifier, base64url-no-pad encoded,
// and its S256 challenge: base64url-no-pad(SHA256(verifier)), where the hash
// input is the verifier's encoded string bytes (not the raw 32 bytes).
func GeneratePKCE() (PKCE, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCE{}, fmt.Errorf("oauth: generate pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return PKCE{Verifier: verifier, Challenge: challenge}, nil
}
