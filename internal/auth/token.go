package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail validation
var ErrInvalidToken = errors.New("invalid token")

// TokenService issues and validates HS256 bearer tokens for principals
type TokenService struct {
	secretKey string
	tokenTTL  time.Duration
	now       func() time.Time
}

// NewTokenService creates a TokenService with the given secret key and token TTL
func NewTokenService(secretKey string, tokenTTL time.Duration) *TokenService {
	return &TokenService{
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
		now:       time.Now,
	}
}

// GenerateToken generates a signed token for the principal
func (s *TokenService) GenerateToken(p Principal) (string, error) {
	if p.Name == "" {
		return "", fmt.Errorf("principal name is required")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   p.Name,
		"roles": p.Roles,
		"exp":   now.Add(s.tokenTTL).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.secretKey))
}

// ValidateToken validates a token and returns the principal it was issued for
func (s *TokenService) ValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verify exact signing method to prevent algorithm confusion attacks
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secretKey), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	name, _ := claims["sub"].(string)
	if name == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	p := &Principal{Name: name}
	if roles, ok := claims["roles"].([]interface{}); ok {
		for _, r := range roles {
			if role, ok := r.(string); ok {
				p.Roles = append(p.Roles, role)
			}
		}
	}
	return p, nil
}
