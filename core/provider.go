package core

import "context"

// UserPool is the provider-side entry point. Implementations own the
// provider session state, including which user is currently signed in.
type UserPool interface {
	SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error)

	// CurrentUser returns nil, nil when no user is signed in locally.
	CurrentUser(ctx context.Context) (PoolUser, error)

	User(identifier string) PoolUser
}

type PoolUser interface {
	Username() string

	AuthenticateUser(ctx context.Context, details AuthenticationDetails) (*Session, error)

	ConfirmRegistration(ctx context.Context, req ConfirmRequest) error

	GetSession(ctx context.Context) (*Session, error)

	SignOut(ctx context.Context) error
}

// SecretHasher computes the SecretHash for an account identifier.
type SecretHasher interface {
	SecretHash(identifier string) (string, error)
}

// Storage is a string key-value store in the manner of browser localStorage.
type Storage interface {
	// GetItem returns ErrNotFound for a missing key.
	GetItem(ctx context.Context, key string) (string, error)

	SetItem(ctx context.Context, key, value string) error

	// RemoveItem succeeds when the key is already absent.
	RemoveItem(ctx context.Context, key string) error
}
