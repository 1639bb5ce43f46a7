package domain

import (
	"fmt"
	"strings"
	"time"
)

// VerificationPurpose is the enumerated reason a verification token was
// issued. A token is only redeemable for its original purpose.
type VerificationPurpose string

const (
	PurposeRegister      VerificationPurpose = "register"
	PurposeResetPassword VerificationPurpose = "password"
	PurposeChangeEmail   VerificationPurpose = "email"
)

// VerificationToken is a single-use, purpose-scoped secret proving control of
// an account or address. PK is the secret itself; at most one live token
// exists per (user_id, purpose) pair.
type VerificationToken struct {
	Secret    string              `json:"-" dynamodbav:"secret"`
	UserID    string              `json:"user_id" dynamodbav:"user_id"`
	Purpose   VerificationPurpose `json:"purpose" dynamodbav:"purpose"`
	CreatedAt time.Time           `json:"created" dynamodbav:"created_at"`
	ExpiresAt int64               `json:"-" dynamodbav:"expires_at"` // TTL (Unix seconds)
}

// RefreshToken is a rotating opaque secret; each redemption deletes the old
// record and inserts a new one, so a stale secret fails closed.
type RefreshToken struct {
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Secret    string    `json:"-" dynamodbav:"secret"`
	CreatedAt time.Time `json:"created" dynamodbav:"created_at"`
	ExpiresAt int64     `json:"-" dynamodbav:"expires_at"` // TTL (Unix seconds)
}

// External returns the caller-visible refresh token value. The store only
// ever sees the split parts.
func (t *RefreshToken) External() string {
	return t.UserID + ":" + t.Secret
}

// SplitRefreshToken splits an external refresh token into its user ID and
// secret. User IDs are ULIDs and never contain a colon.
func SplitRefreshToken(external string) (userID, secret string, err error) {
	userID, secret, ok := strings.Cut(external, ":")
	if !ok || userID == "" || secret == "" {
		return "", "", fmt.Errorf("malformed refresh token: %w", ErrInvalidToken)
	}
	return userID, secret, nil
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
