// Package auth validates bearer tokens presented by relay clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims represents JWT claims carried by a relay client token.
type Claims struct {
	ClientID string `json:"clientId"`
	jwt.RegisteredClaims
}

// Validator checks signed client tokens against a shared secret.
type Validator struct {
	secret   []byte
	required bool
}

// NewValidator creates a token validator. When required is false,
// connections without a token are admitted as anonymous.
func NewValidator(secret string, required bool) *Validator {
	return &Validator{
		secret:   []byte(secret),
		required: required,
	}
}

// Required reports whether connections must present a token.
func (v *Validator) Required() bool {
	return v.required
}

// ValidateToken parses and verifies a token string, returning its claims.
func (v *Validator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs a token for a client, used by tests and tooling.
func (v *Validator) IssueToken(clientID string, ttl time.Duration) (string, error) {
	claims := Claims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
