package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MinSecretBytes is the floor for opaque secret entropy: 192 bits, enough
// to make online or offline guessing infeasible.
const MinSecretBytes = 24

// NewOpaqueSecret returns a hex-encoded cryptographically random secret of
// byteLength random bytes. Used for reset tokens, verification tokens and
// temporary invitation passwords.
func NewOpaqueSecret(byteLength int) (string, error) {
	if byteLength < MinSecretBytes {
		return "", fmt.Errorf("secret length %d below minimum of %d bytes", byteLength, MinSecretBytes)
	}
	raw := make([]byte, byteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// DigestSecret is the stored-comparison form of an opaque secret. It is a
// fast deterministic hash on purpose: the secret already carries full
// entropy, so bcrypt-style stretching would only slow down lookups.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
