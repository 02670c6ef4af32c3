package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoSigningKey = errors.New("no signing key configured")
)

// Claims represents JWT claims issued by the REST API.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"user_id"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Type     string   `json:"type"` // "access" or "refresh"
}

// Identity resolves the subject of the token. Older tokens only carry sub.
func (c *Claims) Identity() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Manager verifies tokens signed either with a shared HMAC secret or with an
// RSA key pair. The private key is optional; without it the manager can only
// verify.
type Manager struct {
	secret     []byte
	publicKey  *rsa.PublicKey
	privateKey *rsa.PrivateKey
	issuer     string
	leeway     time.Duration
}

// NewHMACManager creates a manager for HS256 tokens.
func NewHMACManager(secret []byte, issuer string) (*Manager, error) {
	if len(secret) == 0 {
		return nil, ErrNoSigningKey
	}
	return &Manager{secret: secret, issuer: issuer, leeway: 5 * time.Second}, nil
}

// NewRSAManager creates a manager for RS256 tokens.
func NewRSAManager(pub *rsa.PublicKey, priv *rsa.PrivateKey, issuer string) (*Manager, error) {
	if pub == nil && priv != nil {
		pub = &priv.PublicKey
	}
	if pub == nil {
		return nil, ErrNoSigningKey
	}
	return &Manager{publicKey: pub, privateKey: priv, issuer: issuer, leeway: 5 * time.Second}, nil
}

// LoadRSAPublicKey reads a PEM encoded public key from disk.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ValidateToken validates a token and returns claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(m.leeway)}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Identity() == "" {
		return nil, ErrInvalidToken
	}
	if claims.Type != "" && claims.Type != "access" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Sign issues an access token for the given identity. Used by tooling and
// tests; production tokens come from the REST API.
func (m *Manager) Sign(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   userID,
		Username: username,
		Type:     "access",
	}

	switch {
	case m.secret != nil:
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	case m.privateKey != nil:
		return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.privateKey)
	default:
		return "", ErrNoSigningKey
	}
}

func (m *Manager) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if m.secret == nil {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	case *jwt.SigningMethodRSA:
		if m.publicKey == nil {
			return nil, ErrInvalidToken
		}
		return m.publicKey, nil
	default:
		return nil, ErrInvalidToken
	}
}
