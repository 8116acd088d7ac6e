// Package authn implements the credential lifecycle: login, registration
// under a lease, refresh rotation, logout revocation, and password reset.
package authn

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"promanage.org/internal/audit"
	"promanage.org/internal/authz"
	"promanage.org/internal/token"
)

const (
	// DefaultLeaseTTL bounds the signup critical section.
	DefaultLeaseTTL = 10 * time.Second
	// DefaultResetCodeTTL is the verification-code lifetime.
	DefaultResetCodeTTL = 5 * time.Minute

	minUsernameLen = 3
	minPasswordLen = 8

	rolePrefix = "ROLE_"
)

// TokenPair is the login/refresh response payload. RefreshToken is empty
// when the caller did not opt in.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Mailer delivers the password-reset code. Delivery is an external
// collaborator; a nil mailer skips the send.
type Mailer interface {
	SendPasswordResetCode(ctx context.Context, email, code string) error
}

// Service drives authentication flows on top of the user store, the token
// service, the revocation denylist, and the registration lease.
type Service struct {
	users       authz.UserStore
	resolver    *authz.Resolver
	tokens      *token.Service
	revocations token.RevocationStore
	lease       Lease
	codes       CodeStore
	mailer      Mailer
	leaseTTL    time.Duration
	codeTTL     time.Duration
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithMailer sets the reset-code mailer.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) { s.mailer = m }
}

// WithLeaseTTL overrides the registration lease TTL.
func WithLeaseTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithResetCodeTTL overrides the verification-code TTL.
func WithResetCodeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// NewService wires the authentication service.
func NewService(
	users authz.UserStore,
	resolver *authz.Resolver,
	tokens *token.Service,
	revocations token.RevocationStore,
	lease Lease,
	codes CodeStore,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		users:       users,
		resolver:    resolver,
		tokens:      tokens,
		revocations: revocations,
		lease:       lease,
		codes:       codes,
		leaseTTL:    DefaultLeaseTTL,
		codeTTL:     DefaultResetCodeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies the credentials and mints a token pair. A refresh token is
// issued only when rememberMe is set. Every credential failure collapses
// into one unauthorized answer.
func (s *Service) Login(ctx context.Context, username, password string, rememberMe bool) (TokenPair, authz.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return TokenPair{}, authz.User{}, errInvalidCredentials()
	}

	user, err := s.users.FindUserByUsername(ctx, username)
	if errors.Is(err, authz.ErrNotFound) {
		return TokenPair{}, authz.User{}, errInvalidCredentials()
	}
	if err != nil {
		return TokenPair{}, authz.User{}, err
	}
	if !user.Active() || !CheckPassword(user.PasswordHash, password) {
		return TokenPair{}, authz.User{}, errInvalidCredentials()
	}

	pair, err := s.mintPair(ctx, user, rememberMe)
	if err != nil {
		return TokenPair{}, authz.User{}, err
	}

	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		// Login metadata only; the session is already established.
		_ = audit.LogEvent(ctx, "auth.login.touch_failed", map[string]any{"error": err.Error()})
	}
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"username":    user.Username,
		"remember_me": rememberMe,
	})
	return pair, user, nil
}

// Refresh rotates a refresh token: the caller receives a new pair and the
// presented token is revoked, so each refresh token works at most once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	revoked, err := s.revocations.IsRevoked(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	if revoked {
		return TokenPair{}, fmt.Errorf("%w: token revoked", authz.ErrUnauthorized)
	}

	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", authz.ErrUnauthorized, err)
	}

	user, err := s.users.FindUserByUsername(ctx, claims.Subject)
	if errors.Is(err, authz.ErrNotFound) {
		return TokenPair{}, fmt.Errorf("%w: unknown subject", authz.ErrUnauthorized)
	}
	if err != nil {
		return TokenPair{}, err
	}
	if !user.Active() {
		return TokenPair{}, fmt.Errorf("%w: account disabled", authz.ErrUnauthorized)
	}

	pair, err := s.mintPair(ctx, user, true)
	if err != nil {
		return TokenPair{}, err
	}

	// Rotation: the old token is dead the moment the new pair exists. If
	// revocation fails the refresh fails with it, otherwise the old token
	// would stay replayable.
	if err := s.revocations.Revoke(ctx, refreshToken, claims.ExpiresAt.Time); err != nil {
		return TokenPair{}, err
	}

	_ = audit.LogEvent(ctx, "auth.refresh", map[string]any{"username": user.Username})
	return pair, nil
}

// Logout revokes the presented access token for its remaining lifetime.
func (s *Service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", authz.ErrUnauthorized, err)
	}
	if err := s.revocations.Revoke(ctx, accessToken, claims.ExpiresAt.Time); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.logout", map[string]any{"username": claims.Subject})
	return nil
}

// RegisterInput carries a signup request.
type RegisterInput struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// Register creates an account. Username and email are each guarded by a
// short lease so concurrent identical submissions cannot both pass the
// uniqueness check; the check inside the critical section is authoritative.
func (s *Service) Register(ctx context.Context, in RegisterInput) (authz.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if len(in.Username) < minUsernameLen {
		return authz.User{}, fmt.Errorf("%w: username must be at least %d characters", authz.ErrInvalidInput, minUsernameLen)
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return authz.User{}, fmt.Errorf("%w: invalid email address", authz.ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLen {
		return authz.User{}, fmt.Errorf("%w: password must be at least %d characters", authz.ErrInvalidInput, minPasswordLen)
	}

	usernameKey := "register:username:" + strings.ToLower(in.Username)
	emailKey := "register:email:" + in.Email
	for _, key := range []string{usernameKey, emailKey} {
		ok, err := s.lease.Acquire(ctx, key, s.leaseTTL)
		if err != nil {
			return authz.User{}, err
		}
		if !ok {
			return authz.User{}, fmt.Errorf("%w: registration in progress, try again", authz.ErrConflict)
		}
		defer func(key string) { _ = s.lease.Release(ctx, key) }(key)
	}

	// Authoritative uniqueness check, now race-free under the leases.
	if _, err := s.users.FindUserByUsername(ctx, in.Username); err == nil {
		return authz.User{}, fmt.Errorf("%w: username already taken", authz.ErrConflict)
	} else if !errors.Is(err, authz.ErrNotFound) {
		return authz.User{}, err
	}
	if _, err := s.users.FindUserByEmail(ctx, in.Email); err == nil {
		return authz.User{}, fmt.Errorf("%w: email already registered", authz.ErrConflict)
	} else if !errors.Is(err, authz.ErrNotFound) {
		return authz.User{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return authz.User{}, err
	}
	user := authz.User{
		Username:     in.Username,
		Email:        in.Email,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Status:       authz.StatusEnabled,
	}
	if err := s.users.CreateUser(ctx, &user); err != nil {
		return authz.User{}, err
	}

	_ = audit.LogEvent(ctx, "auth.register", map[string]any{"username": user.Username})
	return user, nil
}

// SendResetCode issues a 6-digit verification code for the account behind
// email and hands it to the mailer.
func (s *Service) SendResetCode(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	code, err := generateResetCode()
	if err != nil {
		return err
	}
	if err := s.codes.Set(ctx, email, code, s.codeTTL); err != nil {
		return err
	}
	if s.mailer != nil {
		if err := s.mailer.SendPasswordResetCode(ctx, email, code); err != nil {
			return err
		}
	}
	_ = audit.LogEvent(ctx, "auth.reset_code.sent", map[string]any{"username": user.Username})
	return nil
}

// ResetPassword validates the verification code and rehashes the password.
// The code is deleted on success so it can be used exactly once.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(newPassword) < minPasswordLen {
		return fmt.Errorf("%w: password must be at least %d characters", authz.ErrInvalidInput, minPasswordLen)
	}
	stored, ok, err := s.codes.Get(ctx, email)
	if err != nil {
		return err
	}
	if !ok || stored != strings.TrimSpace(code) {
		return fmt.Errorf("%w: invalid or expired verification code", authz.ErrUnauthorized)
	}

	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return err
	}
	if err := s.codes.Delete(ctx, email); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.password.reset", map[string]any{"username": user.Username})
	return nil
}

// User loads the account behind an authenticated principal.
func (s *Service) User(ctx context.Context, userID int64) (authz.User, error) {
	return s.users.FindUser(ctx, userID)
}

// Authorities renders the user's role codes as the ROLE_<code> CSV embedded
// in access tokens.
func (s *Service) Authorities(ctx context.Context, userID int64) (string, error) {
	codes, err := s.resolver.RoleCodes(ctx, userID)
	if err != nil {
		return "", err
	}
	authorities := make([]string, 0, len(codes))
	for _, code := range codes {
		authorities = append(authorities, rolePrefix+code)
	}
	return strings.Join(authorities, ","), nil
}

func (s *Service) mintPair(ctx context.Context, user authz.User, withRefresh bool) (TokenPair, error) {
	authorities, err := s.Authorities(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	access, _, err := s.tokens.GenerateAccessToken(user.Username, user.ID, authorities)
	if err != nil {
		return TokenPair{}, err
	}
	pair := TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.AccessTTL().Seconds()),
	}
	if withRefresh {
		refresh, _, err := s.tokens.GenerateRefreshToken(user.Username)
		if err != nil {
			return TokenPair{}, err
		}
		pair.RefreshToken = refresh
	}
	return pair, nil
}

func errInvalidCredentials() error {
	return fmt.Errorf("%w: invalid credentials", authz.ErrUnauthorized)
}

func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
