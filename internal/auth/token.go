// Package auth resolves portal access tokens to request actors.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenScheme prefixes every portal access token.
const TokenScheme = "dfs_"

// PrefixLength is the number of characters after TokenScheme used as the
// lookup key. The remainder is the secret verified against the stored hash.
const PrefixLength = 8

// minSecretLength rejects tokens whose secret is trivially short.
const minSecretLength = 16

// bcryptCost is the bcrypt cost factor used for token secrets.
const bcryptCost = 12

// SplitToken separates a raw token into its lookup prefix and secret.
func SplitToken(token string) (prefix, secret string, ok bool) {
	rest, found := strings.CutPrefix(token, TokenScheme)
	if !found || len(rest) < PrefixLength+minSecretLength {
		return "", "", false
	}
	return rest[:PrefixLength], rest[PrefixLength:], true
}

// IssuedToken is a freshly generated token. Raw is shown to the operator
// once; only Prefix and Hash are stored.
type IssuedToken struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateToken creates a random token and its bcrypt hash.
func GenerateToken() (IssuedToken, error) {
	buf := make([]byte, 30)
	if _, err := rand.Read(buf); err != nil {
		return IssuedToken{}, fmt.Errorf("reading random bytes: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(buf)
	prefix, secret := body[:PrefixLength], body[PrefixLength:]

	hash, err := HashSecret(secret)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Raw: TokenScheme + body, Prefix: prefix, Hash: hash}, nil
}

// HashSecret bcrypt-hashes the secret part of a token.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing token secret: %w", err)
	}
	return string(hash), nil
}
