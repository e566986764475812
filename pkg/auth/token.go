package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies sellhub API tokens in logs and secret scanners
	TokenPrefix = "sellhub_"

	secretBytes    = 32
	checksumLength = 6
	displayLength  = 8
)

var secretLength = base64.RawURLEncoding.EncodedLen(secretBytes)

// IssuedToken is a freshly generated token. Plaintext is shown to the caller
// once; only Hash and Prefix are stored.
type IssuedToken struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// IssueToken generates a token of the form
// sellhub_<base64url secret><checksum>. The checksum lets malformed or
// mistyped tokens be rejected without a database lookup.
func IssueToken() (IssuedToken, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return IssuedToken{}, fmt.Errorf("failed to read random bytes: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(secret)
	plaintext := TokenPrefix + body + checksum(body)

	return IssuedToken{
		Plaintext: plaintext,
		Hash:      HashToken(plaintext),
		Prefix:    DisplayPrefix(plaintext),
	}, nil
}

// HashToken is the lookup key stored for a token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// CheckTokenFormat verifies the prefix, length and checksum of a token
func CheckTokenFormat(token string) error {
	rest, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	if len(rest) != secretLength+checksumLength {
		return fmt.Errorf("token has length %d, want %d", len(token), len(TokenPrefix)+secretLength+checksumLength)
	}

	body, sum := rest[:secretLength], rest[secretLength:]
	if _, err := base64.RawURLEncoding.DecodeString(body); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(sum), []byte(checksum(body))) != 1 {
		return fmt.Errorf("token checksum mismatch")
	}
	return nil
}

// DisplayPrefix is the non-secret part of a token shown in token listings
func DisplayPrefix(token string) string {
	rest, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return ""
	}
	if len(rest) > displayLength {
		rest = rest[:displayLength]
	}
	return TokenPrefix + rest
}

func checksum(body string) string {
	sum := sha256.Sum256([]byte("sellhub-token:" + body))
	return hex.EncodeToString(sum[:])[:checksumLength]
}
