package server

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenHashIterations = 120_000
	tokenHashSaltLength = 16
	tokenHashKeyLength  = 32
)

// ErrInvalidToken is returned when a presented control token does not match
// the configured credential.
var ErrInvalidToken = errors.New("invalid control token")

// TokenVerifier checks bearer tokens presented to the control API. It
// supports a PBKDF2-encoded hash or, for local setups, a plain token
// compared in constant time. With neither configured the API is open.
type TokenVerifier struct {
	hash  string
	plain string
}

// NewTokenVerifier builds a verifier from the configured hash and plain
// token. The hash wins when both are set.
func NewTokenVerifier(hash, plain string) *TokenVerifier {
	return &TokenVerifier{hash: strings.TrimSpace(hash), plain: strings.TrimSpace(plain)}
}

// Enabled reports whether any credential is configured.
func (v *TokenVerifier) Enabled() bool {
	return v != nil && (v.hash != "" || v.plain != "")
}

// Verify checks the presented token against the configured credential.
func (v *TokenVerifier) Verify(token string) error {
	if !v.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	if v.hash != "" {
		return verifyToken(v.hash, token)
	}
	if subtle.ConstantTimeCompare([]byte(v.plain), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// HashToken derives a storable PBKDF2 hash for the provided token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token is required")
	}
	salt := make([]byte, tokenHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(token), salt, tokenHashIterations, tokenHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", tokenHashIterations, encodedSalt, encodedKey), nil
}

func verifyToken(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify token: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify token: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify token: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify token: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify token: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidToken
	}
	return nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
