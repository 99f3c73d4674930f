package room

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/config"
	"github.com/tcriess/lightspeed-sync/persistence"
	"github.com/tcriess/lightspeed-sync/types"
)

type recordingInvalidator struct {
	roomIds []string
}

func (i *recordingInvalidator) Invalidate(roomId string) {
	i.roomIds = append(i.roomIds, roomId)
}

func newTestRegistry(t *testing.T) (*Registry, persistence.Store) {
	store, err := persistence.NewBuntDBStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	authenticator, err := auth.NewAuthenticator(config.AuthConfig{TokenSecret: "secret", TokenTTL: time.Hour})
	require.NoError(t, err)
	return NewRegistry(store, authenticator, time.Hour), store
}

func TestRegisterAndResolve(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "r1", "ABC123", "u1"))

	mapping, err := r.ResolveCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "r1", mapping.RoomId)
	assert.Equal(t, "u1", mapping.HostId)

	room, err := r.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "u1", room.HostId)
	assert.Equal(t, []string{"u1"}, room.Members)

	_, err = r.ResolveCode(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegisterCodeConflict(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "r1", "ABC123", "u1"))
	err := r.Register(ctx, "r2", "ABC123", "u2")
	assert.ErrorIs(t, err, ErrCodeConflict)

	// the pre-existing mapping is unchanged
	mapping, err := r.ResolveCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "r1", mapping.RoomId)
}

func TestAddMember(t *testing.T) {
	r, _ := newTestRegistry(t)
	inv := &recordingInvalidator{}
	r.SetInvalidator(inv)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "r1", "ABC123", "u1"))
	require.NoError(t, r.AddMember(ctx, "r1", "u2"))
	require.NoError(t, r.AddMember(ctx, "r1", "u2")) // idempotent

	room, err := r.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, room.Members)
	assert.Equal(t, []string{"r1", "r1"}, inv.roomIds)

	err = r.AddMember(ctx, "missing", "u2")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestIssueRoleToken(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "r1", "ABC123", "u1"))
	require.NoError(t, r.AddMember(ctx, "r1", "u2"))

	token, expiry, err := r.IssueRoleToken(ctx, "u2", "r1", types.RoleGuest)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiry.After(time.Now()))

	_, _, err = r.IssueRoleToken(ctx, "u2", "r1", types.RoleHost)
	assert.ErrorIs(t, err, ErrNotHost)

	_, _, err = r.IssueRoleToken(ctx, "u3", "r1", types.RoleGuest)
	assert.ErrorIs(t, err, ErrNotAMember)

	_, _, err = r.IssueRoleToken(ctx, "u1", "missing", types.RoleGuest)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, _, err = r.IssueRoleToken(ctx, "u1", "r1", types.RoleHost)
	require.NoError(t, err)
}

func TestDeleteRoom(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "r1", "ABC123", "u1"))
	require.NoError(t, r.DeleteRoom(ctx, "r1"))

	_, err := r.GetRoom(ctx, "r1")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// the code that pointed at r1 was scan-deleted alongside the metadata
	_, err = r.ResolveCode(ctx, "ABC123")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// deleting an absent room is a no-op
	require.NoError(t, r.DeleteRoom(ctx, "r1"))

	// a mapping orphaned by independent TTL expiry of the room still resolves
	// to the stored room id, there is no cross-check against the room record
	require.NoError(t, store.Set(ctx, "roomCode:ORPHAN", `{"roomId":"gone","hostUserId":"u9"}`, 0))
	mapping, err := r.ResolveCode(ctx, "ORPHAN")
	require.NoError(t, err)
	assert.Equal(t, "gone", mapping.RoomId)
}

func TestListAllNewestFirst(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "room:r1:metadata",
		`{"roomId":"r1","hostUserId":"u1","members":["u1"],"createdAt":"2024-01-01T00:00:00Z"}`, 0))
	require.NoError(t, store.Set(ctx, "room:r2:metadata",
		`{"roomId":"r2","hostUserId":"u2","members":["u2"],"createdAt":"2024-06-01T00:00:00Z"}`, 0))

	rooms, err := r.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "r2", rooms[0].Id)
	assert.Equal(t, "r1", rooms[1].Id)
}

func TestGenerateCode(t *testing.T) {
	code := GenerateCode()
	assert.NotEmpty(t, code)
	assert.NotEqual(t, code, GenerateCode())
}
