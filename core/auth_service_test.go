package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"authflow/core"
	"authflow/core/providers"
	"authflow/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthFlow_FullScenario(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// 1. Register
	result, err := env.service.Register(ctx, core.RegisterRequest{
		Email:                testEmail,
		Password:             testPassword,
		PasswordConfirmation: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, testUsername, result.Username)
	assert.False(t, result.UserConfirmed)
	require.NotNil(t, result.CodeDelivery)
	assert.Equal(t, "a***@b.com", result.CodeDelivery.Destination)

	signUp := env.pool.LastSignUp
	assert.Equal(t, testUsername, signUp.Identifier)
	assert.Equal(t, []core.Attribute{{Name: "email", Value: testEmail}}, signUp.Attributes)
	expectedHash, err := core.ComputeSecretHash(testUsername, providers.MockClientID, providers.MockClientSecret)
	require.NoError(t, err)
	assert.Equal(t, expectedHash, signUp.SecretHash)

	// 2. Sign-in before verification is rejected by the provider
	_, err = env.service.SignIn(ctx, testEmail, testPassword)
	assert.Equal(t, core.CodeUserNotConfirmed, core.ProviderErrorCode(err))

	// 3. Verify
	require.NoError(t, env.service.Verify(ctx, testEmail, providers.ValidCode))
	assert.True(t, env.pool.Confirmed(testUsername))
	assert.True(t, env.pool.LastConfirm.ForceAliasCreation)
	assert.Equal(t, expectedHash, env.pool.LastConfirm.SecretHash)

	// 4. Sign in
	session, err := env.service.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	assert.Equal(t, testUsername, env.pool.LastAuthenticate.Username)
	assert.Equal(t, expectedHash, env.pool.LastAuthenticate.SecretHash)

	// 5. Token matches the session
	token, ok, err := env.service.CurrentToken(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, session.IDToken, token)

	// 6. Sign out
	require.NoError(t, env.service.SignOut(ctx))
	_, ok, err = env.service.CurrentToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthFlow_SignInReplacesRememberedAbsence(t *testing.T) {
	env := setupTestEnv(t)
	env.registerAndVerify(t)
	ctx := context.Background()

	_, ok, err := env.service.CurrentToken(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = env.service.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)

	_, ok, err = env.service.CurrentToken(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthFlow_SignInFailurePropagatesExactError(t *testing.T) {
	env := setupTestEnv(t)
	env.registerAndVerify(t)
	ctx := context.Background()

	providerErr := &core.ProviderError{Code: core.CodeNotAuthorized, Message: "Incorrect username or password.", StatusCode: 400}
	env.pool.AuthenticateErr = providerErr

	session, err := env.service.SignIn(ctx, testEmail, "wrong-password")
	assert.Nil(t, session)
	assert.Same(t, providerErr, err)

	_, ok, err := env.service.CurrentToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, env.store.Len())
}

func TestAuthFlow_WrongPassword(t *testing.T) {
	env := setupTestEnv(t)
	env.registerAndVerify(t)

	_, err := env.service.SignIn(context.Background(), testEmail, "not-the-password")
	assert.Equal(t, core.CodeNotAuthorized, core.ProviderErrorCode(err))
}

func TestAuthFlow_RegisterLocalValidation(t *testing.T) {
	cases := []struct {
		name string
		req  core.RegisterRequest
	}{
		{"password mismatch", core.RegisterRequest{Email: testEmail, Password: testPassword, PasswordConfirmation: "something-else"}},
		{"missing email", core.RegisterRequest{Password: testPassword, PasswordConfirmation: testPassword}},
		{"missing password", core.RegisterRequest{Email: testEmail}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupTestEnv(t)

			result, err := env.service.Register(context.Background(), tc.req)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, core.ErrLocalValidation)
			assert.Equal(t, 0, env.pool.TotalCalls(), "no provider traffic on local rejection")
		})
	}
}

func TestAuthFlow_PasswordMismatchError(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.service.Register(context.Background(), core.RegisterRequest{
		Email:                testEmail,
		Password:             testPassword,
		PasswordConfirmation: testPassword + "x",
	})
	assert.ErrorIs(t, err, core.ErrPasswordMismatch)
}

func TestAuthFlow_DuplicateRegistration(t *testing.T) {
	env := setupTestEnv(t)
	env.registerAndVerify(t)

	_, err := env.service.Register(context.Background(), core.RegisterRequest{
		Email:                testEmail,
		Password:             testPassword,
		PasswordConfirmation: testPassword,
	})
	assert.Equal(t, core.CodeUsernameExists, core.ProviderErrorCode(err))
}

func TestAuthFlow_WeakPassword(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.service.Register(context.Background(), core.RegisterRequest{
		Email:                testEmail,
		Password:             "short",
		PasswordConfirmation: "short",
	})
	assert.Equal(t, core.CodeInvalidPassword, core.ProviderErrorCode(err))
	assert.Equal(t, 1, env.pool.SignUpCalls)
}

func TestAuthFlow_VerifyFailures(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	err := env.service.Verify(ctx, "nobody@example.com", providers.ValidCode)
	assert.Equal(t, core.CodeUserNotFound, core.ProviderErrorCode(err))

	_, err = env.service.Register(ctx, core.RegisterRequest{
		Email:                testEmail,
		Password:             testPassword,
		PasswordConfirmation: testPassword,
	})
	require.NoError(t, err)

	err = env.service.Verify(ctx, testEmail, "000000")
	assert.Equal(t, core.CodeCodeMismatch, core.ProviderErrorCode(err))
	assert.False(t, env.pool.Confirmed(testUsername))

	expired := &core.ProviderError{Code: core.CodeExpiredCode, Message: "Invalid code provided, please request a code again."}
	env.pool.ConfirmErr = expired
	assert.Same(t, expired, env.service.Verify(ctx, testEmail, providers.ValidCode))

	err = env.service.Verify(ctx, testEmail, "")
	assert.ErrorIs(t, err, core.ErrLocalValidation)
}

func TestAuthFlow_VerifyConfirmedAccount(t *testing.T) {
	env := setupTestEnv(t)
	env.registerAndVerify(t)

	err := env.service.Verify(context.Background(), testEmail, providers.ValidCode)
	assert.Equal(t, core.CodeNotAuthorized, core.ProviderErrorCode(err))
	assert.True(t, env.pool.Confirmed(testUsername))
}

func TestAuthFlow_SignOutWithoutSession(t *testing.T) {
	env := setupTestEnv(t)

	assert.NoError(t, env.service.SignOut(context.Background()))
	assert.NoError(t, env.service.SignOut(context.Background()))
}

func TestAuthFlow_RefreshToken(t *testing.T) {
	env := setupTestEnv(t)
	env.registerAndVerify(t)
	ctx := context.Background()

	_, err := env.service.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)
	_, _, err = env.service.CurrentToken(ctx)
	require.NoError(t, err)

	_, ok, err := env.service.RefreshToken(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, env.pool.GetSessionCalls)
}

func TestAuthFlow_UserInfo(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.service.UserInfo(ctx)
	assert.ErrorIs(t, err, core.ErrNotFound)

	env.registerAndVerify(t)
	_, err = env.service.SignIn(ctx, testEmail, testPassword)
	require.NoError(t, err)

	claims, err := env.service.UserInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, testEmail, claims.Email)
	assert.Equal(t, testUsername, claims.Username)
	assert.True(t, claims.EmailVerified)
	assert.NotEmpty(t, claims.Subject)

	// The remembered token outlives its expiry until refreshed
	env.clock.Advance(2 * time.Hour)
	_, err = env.service.UserInfo(ctx)
	assert.ErrorIs(t, err, core.ErrExpiredToken)
}

func TestNewAuthService_MissingConfiguration(t *testing.T) {
	hasher := core.NewCredentialHasher(providers.MockClientID, providers.MockClientSecret)
	pool := providers.NewMockPool(hasher, nil)
	cache := core.NewSessionCache(pool, core.NewTokenSlot(storage.NewMemoryStorage()), nil)

	config := testConfig()
	config.Cognito.ClientSecret = ""

	service, err := core.NewAuthService(config, pool, cache, discardLogger())
	assert.Nil(t, service)
	assert.ErrorIs(t, err, core.ErrConfigurationMissing)
	assert.Equal(t, 0, pool.TotalCalls())

	_, err = core.NewAuthService(nil, pool, cache, discardLogger())
	assert.ErrorIs(t, err, core.ErrConfigurationMissing)
}

// hangingPool never answers until the caller gives up.
type hangingPool struct {
	*blockingPool
}

func (p *hangingPool) SignUp(ctx context.Context, req core.SignUpRequest) (*core.SignUpResult, error) {
	<-ctx.Done()
	return nil, &core.ProviderError{Code: core.CodeNetwork, Message: "request cancelled", Err: ctx.Err()}
}

func TestAuthFlow_ProviderTimeout(t *testing.T) {
	pool := &hangingPool{blockingPool: newBlockingPool()}
	cache := core.NewSessionCache(pool, core.NewTokenSlot(storage.NewMemoryStorage()), nil)

	config := testConfig()
	config.ProviderTimeout = 20 * time.Millisecond
	service, err := core.NewAuthService(config, pool, cache, discardLogger())
	require.NoError(t, err)

	_, err = service.Register(context.Background(), core.RegisterRequest{
		Email:                testEmail,
		Password:             testPassword,
		PasswordConfirmation: testPassword,
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, core.CodeNetwork, core.ProviderErrorCode(err))

	_, _, err = service.CurrentToken(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, errors.Is(err, core.ErrSessionRetrieval))
}
