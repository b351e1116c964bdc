package settings

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// Alphabets for generated secrets. Neither contains quotes or backslashes,
// so values can be written into single-quoted settings strings.
const (
	secretKeyAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*(-_=+)"
	passwordAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Secret lengths.
const (
	SecretKeyLength = 50
	PasswordLength  = 32
)

// GenerateSecretKey returns a random application secret key.
func GenerateSecretKey() (string, error) {
	return randomString(secretKeyAlphabet, SecretKeyLength)
}

// GeneratePassword returns a random database password.
func GeneratePassword() (string, error) {
	return randomString(passwordAlphabet, PasswordLength)
}

// Fingerprint returns a short BLAKE2b digest of a secret. It identifies the
// value without revealing it.
func Fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

func randomString(alphabet string, n int) (string, error) {
	limit := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate secret: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
