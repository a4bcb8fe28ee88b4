package core_test

import (
	"testing"
	"time"

	"authflow/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionValidAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	live := signedToken(t, now.Add(time.Hour))
	expired := signedToken(t, now.Add(-time.Minute))

	cases := []struct {
		name    string
		session *core.Session
		want    bool
	}{
		{"both live", &core.Session{IDToken: live, AccessToken: live}, true},
		{"id expired", &core.Session{IDToken: expired, AccessToken: live}, false},
		{"access expired", &core.Session{IDToken: live, AccessToken: expired}, false},
		{"missing access token", &core.Session{IDToken: live}, false},
		{"garbage token", &core.Session{IDToken: "not-a-jwt", AccessToken: live}, false},
		{"nil session", nil, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.session.ValidAt(now), tc.name)
	}
}

func TestSessionValidAt_ExpiryBoundary(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	token := signedToken(t, exp)
	session := &core.Session{IDToken: token, AccessToken: token}

	assert.True(t, session.ValidAt(exp.Add(-time.Second)))
	assert.False(t, session.ValidAt(exp))
}

func TestParseIdentityClaims(t *testing.T) {
	exp := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	claims, err := core.ParseIdentityClaims(signedToken(t, exp))
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.Subject)
	assert.Equal(t, testEmail, claims.Email)
	assert.Equal(t, testUsername, claims.Username)
	assert.True(t, claims.EmailVerified)
	assert.True(t, claims.ExpiresAt.Time.Equal(exp))

	_, err = core.ParseIdentityClaims("garbage")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}
