package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/types"
)

func newTestAuthenticator(t *testing.T, ttl time.Duration) *Authenticator {
	a, err := NewAuthenticator(config.AuthConfig{TokenSecret: "test-secret", TokenTTL: ttl})
	require.NoError(t, err)
	return a
}

func TestIssueVerifyRoundTrip(t *testing.T) {
	a := newTestAuthenticator(t, time.Hour)

	token, expiry, err := a.Issue("u1", "r1", types.RoleHost)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, 5*time.Second)

	identity, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserId)
	assert.Equal(t, "r1", identity.RoomId)
	assert.Equal(t, types.RoleHost, identity.Role)
}

func TestVerifyErrors(t *testing.T) {
	a := newTestAuthenticator(t, time.Hour)

	_, err := a.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = a.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// token signed with a different secret
	other := newTestAuthenticator(t, time.Hour)
	other.secret = []byte("other-secret")
	token, _, err := other.Issue("u1", "r1", types.RoleGuest)
	require.NoError(t, err)
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyExpired(t *testing.T) {
	a := newTestAuthenticator(t, time.Millisecond)
	token, _, err := a.Issue("u1", "r1", types.RoleGuest)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthorizeForTarget(t *testing.T) {
	a := newTestAuthenticator(t, time.Hour)
	token, _, err := a.Issue("u1", "r1", types.RoleGuest)
	require.NoError(t, err)

	identity, err := a.AuthorizeForTarget(token, "room:r1:doc1")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserId)

	_, err = a.AuthorizeForTarget(token, "room:r2:doc1")
	assert.ErrorIs(t, err, ErrRoomMismatch)

	_, err = a.AuthorizeForTarget(token, "r1/doc1")
	assert.ErrorIs(t, err, ErrMalformedTarget)

	_, err = a.AuthorizeForTarget(token, "room::doc1")
	assert.ErrorIs(t, err, ErrMalformedTarget)
}

func TestRoomIdFromTarget(t *testing.T) {
	roomId, err := RoomIdFromTarget("room:abc:main")
	require.NoError(t, err)
	assert.Equal(t, "abc", roomId)

	roomId, err = RoomIdFromTarget("room:abc:sub:part")
	require.NoError(t, err)
	assert.Equal(t, "abc", roomId)

	_, err = RoomIdFromTarget("room:abc")
	assert.ErrorIs(t, err, ErrMalformedTarget)
}
