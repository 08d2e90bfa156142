// Package token issues share access tokens and password reset tokens.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	AccessPrefix = "tk_"
	ResetPrefix  = "rt_"

	tokenBytes = 32

	// ResetTokenTTL is how long a reset token stays redeemable.
	ResetTokenTTL = time.Hour
)

// ResetToken is handed out once. Only Hash is persisted.
type ResetToken struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// IssueAccessToken returns a fresh share token with 256 bits of entropy.
func IssueAccessToken() (string, error) {
	raw, err := randomHex(tokenBytes)
	if err != nil {
		return "", err
	}
	return AccessPrefix + raw, nil
}

// IssueResetToken returns a reset token valid for ResetTokenTTL from now.
func IssueResetToken(now time.Time) (ResetToken, error) {
	raw, err := randomHex(tokenBytes)
	if err != nil {
		return ResetToken{}, err
	}
	plain := ResetPrefix + raw
	return ResetToken{
		Plaintext: plain,
		Hash:      HashResetToken(plain),
		ExpiresAt: now.Add(ResetTokenTTL),
	}, nil
}

// HashResetToken is the one-way digest stored for a reset token.
func HashResetToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
