package client

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/pkg/jwt"
)

// TokenValidator verifies access tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*AuthResult, error)
}

// AuthResult represents the result of token validation.
type AuthResult struct {
	Valid    bool
	UserID   string
	Email    string
	Username string
	Roles    []string
	Error    string
}

// AuthClient validates tokens issued by the REST API locally, without a
// round trip, using the shared signing key.
type AuthClient struct {
	manager *jwt.Manager
}

func NewAuthClient(m *jwt.Manager) *AuthClient {
	return &AuthClient{manager: m}
}

// ValidateToken never returns an error for a bad token; it reports it in
// the result so callers can tell an invalid token from a broken verifier.
func (c *AuthClient) ValidateToken(_ context.Context, token string) (*AuthResult, error) {
	if token == "" {
		return &AuthResult{Error: "token is required"}, nil
	}
	claims, err := c.manager.ValidateToken(token)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrExpiredToken):
			return &AuthResult{Error: "token expired"}, nil
		case errors.Is(err, jwt.ErrInvalidToken):
			return &AuthResult{Error: "invalid token"}, nil
		default:
			return nil, err
		}
	}
	userID := claims.Identity()
	if userID == "" {
		return &AuthResult{Error: "token has no subject"}, nil
	}
	return &AuthResult{
		Valid:    true,
		UserID:   userID,
		Email:    claims.Email,
		Username: claims.Username,
		Roles:    claims.Roles,
	}, nil
}
