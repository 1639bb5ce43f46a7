package jwtinfra

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kinkyharbor/harbor-api/internal/config"
	"github.com/kinkyharbor/harbor-api/internal/domain"
)

const subjectPrefix = "user:"

// Provider signs and verifies RS256 access tokens. The subject claim is
// "user:<id>"; verification requires the exact prefix. Every validation
// failure (bad signature, expiry, malformed subject) collapses into
// domain.ErrInvalidToken so callers can't tell why a token was rejected.
type Provider struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	ttl        time.Duration
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	privBytes, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	return &Provider{privateKey: privKey, publicKey: pubKey, ttl: cfg.AccessTokenTTL}, nil
}

// NewProviderFromKeys builds a Provider from in-memory keys. Used by tests.
func NewProviderFromKeys(privateKey *rsa.PrivateKey, ttl time.Duration) *Provider {
	return &Provider{privateKey: privateKey, publicKey: &privateKey.PublicKey, ttl: ttl}
}

// Issue mints a signed access token for the given user.
func (p *Provider) Issue(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subjectPrefix + userID,
		ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(p.privateKey)
}

// Validate verifies the token and extracts the user ID from the subject.
func (p *Provider) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.publicKey, nil
	})
	if err != nil || !token.Valid {
		return "", domain.ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", domain.ErrInvalidToken
	}
	userID, found := strings.CutPrefix(claims.Subject, subjectPrefix)
	if !found || userID == "" {
		return "", domain.ErrInvalidToken
	}
	return userID, nil
}
