// Package middleware derives caller identity ambiently, outside the core's
// domain: the engine trusts whatever caller string it is handed and gates
// writes through its own authorization hook.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/552020/futura-alpha-icp-sub003/internal/config"
)

// CallerClaims is the JWT payload identifying the caller on every request.
type CallerClaims struct {
	Caller string `json:"caller"`
	jwt.RegisteredClaims
}

// JWTAuth validates bearer tokens and extracts the caller identity.
type JWTAuth struct {
	jwtSecret []byte
}

func NewJWTAuth() *JWTAuth {
	config.LoadEnvOnce()
	secret := config.GetEnvWithFallback("JWT_SECRET", "your-secret-key")
	return &JWTAuth{jwtSecret: []byte(secret)}
}

// GenerateToken issues a token for caller, used by tests and local tooling.
func (a *JWTAuth) GenerateToken(caller string) (string, error) {
	claims := CallerClaims{
		Caller: caller,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   caller,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func (a *JWTAuth) validateToken(tokenString string) (*CallerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CallerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*CallerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(authHeader, "Bearer "), true
}
