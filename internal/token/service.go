// Package token issues and validates the engine's JWT access and refresh
// tokens and keeps the revocation denylist.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"promanage.org/internal/ids"
	"promanage.org/internal/obs"
)

// Token types carried in the token_type claim. Validation is per flow: the
// refresh endpoint only accepts refresh tokens, protected requests only
// access tokens.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const (
	// DefaultAccessTTL keeps access tokens short-lived.
	DefaultAccessTTL = 30 * time.Minute
	// DefaultRefreshTTL is the "remember me" window.
	DefaultRefreshTTL = 7 * 24 * time.Hour

	minSecretLen = 32
	clockSkew    = 5 * time.Second
)

// ErrInvalidToken covers every validation failure: bad signature, expiry,
// malformed claims, wrong token type. Callers must not distinguish the
// causes.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the engine's JWT payload. Authorities is a comma-separated list
// of ROLE_<code> entries.
type Claims struct {
	UserID      int64  `json:"userId,omitempty"`
	Authorities string `json:"authorities,omitempty"`
	TokenType   string `json:"token_type"`
	jwt.RegisteredClaims
}

// AuthorityList splits the authorities claim.
func (c *Claims) AuthorityList() []string {
	if strings.TrimSpace(c.Authorities) == "" {
		return nil
	}
	parts := strings.Split(c.Authorities, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Service signs and verifies tokens with a shared HMAC secret (HS512).
// Tokens are not persisted; validity is cryptographic plus expiry, and
// revocation lives in the RevocationStore.
type Service struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithIssuer sets the iss claim and requires it on validation.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithAccessTTL overrides the access-token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL overrides the refresh-token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService validates the secret and applies options.
func NewService(secret string, opts ...Option) (*Service, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}
	s := &Service{
		secret:     []byte(secret),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessTTL reports the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// GenerateAccessToken mints a short-lived access token carrying the user id
// and the authorities CSV.
func (s *Service) GenerateAccessToken(subject string, userID int64, authorities string) (string, time.Time, error) {
	return s.generate(Claims{
		UserID:      userID,
		Authorities: authorities,
		TokenType:   TypeAccess,
	}, subject, s.accessTTL)
}

// GenerateRefreshToken mints a refresh token. It carries the subject only;
// the refresh flow re-resolves the user and authorities at rotation time.
func (s *Service) GenerateRefreshToken(subject string) (string, time.Time, error) {
	return s.generate(Claims{TokenType: TypeRefresh}, subject, s.refreshTTL)
}

func (s *Service) generate(claims Claims, subject string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		ID:        ids.New(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	obs.TokensIssued.WithLabelValues(claims.TokenType).Inc()
	return signed, expiresAt, nil
}

// ParseAndValidate verifies signature and expiry only. It does not consult
// the revocation store; callers check that first.
func (s *Service) ParseAndValidate(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.TokenType != TypeAccess && claims.TokenType != TypeRefresh {
		return nil, fmt.Errorf("%w: unknown token type", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateAccess parses raw and requires an access token.
func (s *Service) ValidateAccess(raw string) (*Claims, error) {
	return s.validateType(raw, TypeAccess)
}

// ValidateRefresh parses raw and requires a refresh token.
func (s *Service) ValidateRefresh(raw string) (*Claims, error) {
	return s.validateType(raw, TypeRefresh)
}

func (s *Service) validateType(raw, want string) (*Claims, error) {
	claims, err := s.ParseAndValidate(raw)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != want {
		return nil, fmt.Errorf("%w: wrong token type", ErrInvalidToken)
	}
	return claims, nil
}
