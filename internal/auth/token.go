// ABOUTME: JWT token verification for authenticating chat requests
// ABOUTME: Uses HS256 signing; tokens carry uid, u and role claims

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/opsdesk/internal/store"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the caller identity from its claims
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	// JSON numbers decode as float64
	uid, ok := claims["uid"].(float64)
	if !ok || uid <= 0 || uid != float64(int64(uid)) {
		return nil, fmt.Errorf("%w: uid", ErrMissingClaim)
	}

	role, _ := claims["role"].(string)
	if !store.Role(role).Valid() {
		return nil, fmt.Errorf("%w: role", ErrMissingClaim)
	}

	username, _ := claims["u"].(string)

	return &Identity{
		ID:       int64(uid),
		Username: username,
		Role:     store.Role(role),
	}, nil
}

// Generate creates a new JWT token for the given identity with expiration
func (v *JWTVerifier) Generate(id Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"uid":  id.ID,
		"u":    id.Username,
		"role": string(id.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
