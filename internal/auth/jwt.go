package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/secure-share-hub/internal/clock"
	"github.com/secure-share-hub/internal/models"
)

type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Claims are carried by both session tokens; Kind tells them apart.
type Claims struct {
	UserID string      `json:"userId"`
	Role   models.Role `json:"role"`
	Kind   TokenKind   `json:"kind"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Tokens signs and verifies HS256 session tokens. Access and refresh tokens
// use different secrets so one can never stand in for the other.
type Tokens struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         clock.Clock
}

func NewTokens(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration, clk clock.Clock) *Tokens {
	if clk == nil {
		clk = clock.System{}
	}
	return &Tokens{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clk,
	}
}

func (t *Tokens) Issue(u *models.User) (TokenPair, error) {
	access, err := t.sign(u, KindAccess, t.accessTTL, t.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.sign(u, KindRefresh, t.refreshTTL, t.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(t.accessTTL / time.Second),
	}, nil
}

func (t *Tokens) sign(u *models.User, kind TokenKind, ttl time.Duration, secret []byte) (string, error) {
	now := t.clock.Now()
	claims := Claims{
		UserID: u.ID.String(),
		Role:   u.Role,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

func (t *Tokens) ParseAccess(token string) (*Claims, error) {
	return t.parse(token, KindAccess, t.accessSecret)
}

func (t *Tokens) ParseRefresh(token string) (*Claims, error) {
	return t.parse(token, KindRefresh, t.refreshSecret)
}

func (t *Tokens) parse(token string, kind TokenKind, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
