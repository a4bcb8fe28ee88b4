package core_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"authflow/core"
	"authflow/core/providers"
	"authflow/storage"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/abtime"
)

const (
	testEmail    = "a@b.com"
	testUsername = "a-at-b.com"
	testPassword = "pw1-long-enough"
)

type testEnv struct {
	clock   *abtime.ManualTime
	pool    *providers.MockPool
	store   *storage.MemoryStorage
	cache   *core.SessionCache
	service *core.AuthService
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *core.Config {
	return &core.Config{
		Cognito: core.CognitoConfig{
			UserPoolID:   providers.MockPoolID,
			ClientID:     providers.MockClientID,
			ClientSecret: providers.MockClientSecret,
			Region:       providers.MockRegion,
		},
	}
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := abtime.NewManual()
	hasher := core.NewCredentialHasher(providers.MockClientID, providers.MockClientSecret)
	pool := providers.NewMockPool(hasher, clock)
	store := storage.NewMemoryStorage()
	cache := core.NewSessionCache(pool, core.NewTokenSlot(store), &core.SessionCacheSettings{
		AbstractTime: clock,
		Logger:       discardLogger(),
	})

	service, err := core.NewAuthService(testConfig(), pool, cache, discardLogger())
	require.NoError(t, err)

	return &testEnv{
		clock:   clock,
		pool:    pool,
		store:   store,
		cache:   cache,
		service: service,
	}
}

// registerAndVerify brings testEmail to the signed-out, verified state.
func (e *testEnv) registerAndVerify(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := e.service.Register(ctx, core.RegisterRequest{
		Email:                testEmail,
		Password:             testPassword,
		PasswordConfirmation: testPassword,
	})
	require.NoError(t, err)
	require.NoError(t, e.service.Verify(ctx, testEmail, providers.ValidCode))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":              "sub-1",
		"email":            testEmail,
		"email_verified":   true,
		"cognito:username": testUsername,
		"exp":              jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}
