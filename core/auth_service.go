package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type RegisterRequest struct {
	Email                string
	Password             string
	PasswordConfirmation string
}

type AuthService struct {
	pool    UserPool
	cache   *SessionCache
	hasher  SecretHasher
	timeout time.Duration
	logger  *slog.Logger
}

// NewAuthService validates config before anything else; on failure it
// returns ErrConfigurationMissing and the pool is never touched.
func NewAuthService(config *Config, pool UserPool, cache *SessionCache, logger *slog.Logger) (*AuthService, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: no configuration", ErrConfigurationMissing)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthService{
		pool:    pool,
		cache:   cache,
		hasher:  NewCredentialHasher(config.Cognito.ClientID, config.Cognito.ClientSecret),
		timeout: config.ProviderTimeout,
		logger:  logger,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*SignUpResult, error) {
	// 1. Local validation, before any provider traffic
	if req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrLocalValidation)
	}
	if req.Password != req.PasswordConfirmation {
		return nil, ErrPasswordMismatch
	}

	// 2. Derive identifier and secret hash
	identifier := ToAccountIdentifier(req.Email)
	secretHash, err := s.hasher.SecretHash(identifier)
	if err != nil {
		return nil, err
	}

	// 3. Sign up
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.pool.SignUp(ctx, SignUpRequest{
		Identifier: identifier,
		Password:   req.Password,
		Attributes: []Attribute{{Name: "email", Value: req.Email}},
		SecretHash: secretHash,
	})
	if err != nil {
		s.logger.Warn("registration failed", "username", identifier, "error", err)
		return nil, err
	}

	s.logger.Info("registration succeeded", "username", result.Username, "confirmed", result.UserConfirmed)
	return result, nil
}

func (s *AuthService) Verify(ctx context.Context, email, code string) error {
	if email == "" || code == "" {
		return fmt.Errorf("%w: email and code are required", ErrLocalValidation)
	}

	identifier := ToAccountIdentifier(email)
	secretHash, err := s.hasher.SecretHash(identifier)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.pool.User(identifier).ConfirmRegistration(ctx, ConfirmRequest{
		Code:               code,
		ForceAliasCreation: true,
		SecretHash:         secretHash,
	})
	if err != nil {
		s.logger.Warn("verification failed", "username", identifier, "error", err)
		return err
	}

	s.logger.Info("verification succeeded", "username", identifier)
	return nil
}

// SignIn authenticates against the provider. It does not write the token
// slot; the session cache is invalidated and resolves again on next read.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrLocalValidation)
	}

	identifier := ToAccountIdentifier(email)
	secretHash, err := s.hasher.SecretHash(identifier)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	session, err := s.pool.User(identifier).AuthenticateUser(ctx, AuthenticationDetails{
		Username:   identifier,
		Password:   password,
		SecretHash: secretHash,
	})
	if err != nil {
		s.logger.Warn("sign-in failed", "username", identifier, "error", err)
		return nil, err
	}

	s.cache.Invalidate()
	s.logger.Info("sign-in succeeded", "username", identifier)
	return session, nil
}

func (s *AuthService) SignOut(ctx context.Context) error {
	return s.cache.SignOut(ctx)
}

func (s *AuthService) CurrentToken(ctx context.Context) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.cache.CurrentToken(ctx)
}

func (s *AuthService) RefreshToken(ctx context.Context) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.cache.Refresh(ctx)
}

// UserInfo returns the claims of the current token, or ErrNotFound when no
// session is active.
func (s *AuthService) UserInfo(ctx context.Context) (*IdentityClaims, error) {
	token, ok, err := s.CurrentToken(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}

	claims, err := ParseIdentityClaims(token)
	if err != nil {
		return nil, err
	}
	if claims.ExpiresAt != nil && !s.cache.Now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpiredToken
	}
	return claims, nil
}

func (s *AuthService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
