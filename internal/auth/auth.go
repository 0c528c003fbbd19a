// Package auth issues and verifies the bearer tokens that identify trust actors.
// A token names a user, the organization they act for and their role.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tisp.org/internal/trust"
)

const defaultIssuer = "tisp"

var (
	// ErrInvalidToken indicates the token failed validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSecret is returned when no signing secret was configured.
	ErrMissingSecret = errors.New("auth secret is not configured")
)

var knownRoles = map[string]struct{}{
	trust.RolePlatformAdmin: {},
	trust.RoleOrgAdmin:      {},
	trust.RolePublisher:     {},
	trust.RoleViewer:        {},
}

// Claims represents JWT claims carried by actor tokens.
type Claims struct {
	Organization string `json:"org,omitempty"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the actor passed to trust services.
func (c *Claims) Principal() trust.Principal {
	return trust.Principal{User: c.Subject, Organization: c.Organization, RoleName: c.Role}
}

// Issuer signs and verifies HS256 actor tokens.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures Issuer.
type Option func(*Issuer)

// WithIssuer overrides the iss claim.
func WithIssuer(name string) Option {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer builds an Issuer for the given shared secret.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	i := &Issuer{secret: []byte(secret), issuer: defaultIssuer, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// GenerateToken signs a token for p valid for ttl.
func (i *Issuer) GenerateToken(p trust.Principal, ttl time.Duration) (string, time.Time, error) {
	user := strings.TrimSpace(p.User)
	if user == "" {
		return "", time.Time{}, errors.New("user is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	role, err := normalizeRole(p.RoleName)
	if err != nil {
		return "", time.Time{}, err
	}
	org := strings.TrimSpace(p.Organization)
	if org == "" && role != trust.RolePlatformAdmin {
		return "", time.Time{}, errors.New("organization is required for non-platform roles")
	}

	now := i.now().UTC()
	expires := now.Add(ttl)
	claims := Claims{
		Organization: org,
		Role:         role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseAndValidate verifies the token signature and required claims.
func (i *Issuer) ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := i.validateClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

func (i *Issuer) validateClaims(claims *Claims) error {
	if claims.Issuer != i.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := i.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	role, err := normalizeRole(claims.Role)
	if err != nil {
		return err
	}
	claims.Role = role
	if claims.Organization == "" && role != trust.RolePlatformAdmin {
		return errors.New("organization missing")
	}
	return nil
}

func normalizeRole(role string) (string, error) {
	role = strings.TrimSpace(strings.ToLower(role))
	if _, ok := knownRoles[role]; !ok {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return role, nil
}
