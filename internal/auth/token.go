// Package auth issues no tokens; it only verifies the HMAC-signed tokens the
// surrounding identity provider hands out and extracts tenant-scoped claims.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pantrywatch/pantrywatch/internal/domain"
	"github.com/pantrywatch/pantrywatch/internal/pkg/httputil"
)

// Token verification errors.
var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingClaims = errors.New("token missing required claims")
)

// Claims carries the tenant-scoped identity embedded in access tokens.
type Claims struct {
	TenantID string      `json:"tenant_id"`
	Name     string      `json:"name"`
	Role     domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator verifies HMAC-signed access tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates a token verifier for the given shared secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Parse verifies the token signature and returns its claims.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" || claims.TenantID == "" || claims.Role == "" {
		return nil, ErrMissingClaims
	}
	return claims, nil
}

// ValidateToken implements httputil.TokenValidator.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (httputil.Identity, error) {
	claims, err := a.Parse(tokenString)
	if err != nil {
		return httputil.Identity{}, err
	}
	return httputil.Identity{
		UserID:   claims.Subject,
		TenantID: claims.TenantID,
		Name:     claims.Name,
		Role:     claims.Role,
	}, nil
}
