package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/folkengine/goname"
	"github.com/google/uuid"
	"github.com/tcriess/lightspeed-sync/auth"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/persistence"
	"github.com/tcriess/lightspeed-sync/types"
)

var (
	ErrCodeConflict = errors.New("room code already in use")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotAMember   = errors.New("user is not a member of the room")
	ErrNotHost      = errors.New("host role requires the room host")
)

const (
	codeKeyPrefix  = "roomCode:"
	roomKeyPrefix  = "room:"
	metadataSuffix = ":metadata"
)

// Invalidator is notified whenever a membership-mutating write happens, so a
// cache in front of the registry can evict its snapshot.
type Invalidator interface {
	Invalidate(roomId string)
}

// Registry owns room records and their human-shareable codes in the state
// store. Room metadata and code mapping carry independent TTLs, so a code may
// outlive its room (or, rarely, the other way around) on pure TTL expiry.
type Registry struct {
	store       persistence.Store
	auth        *auth.Authenticator
	invalidator Invalidator
	roomTTL     time.Duration
}

func NewRegistry(store persistence.Store, authenticator *auth.Authenticator, roomTTL time.Duration) *Registry {
	if roomTTL <= 0 {
		roomTTL = 7 * 24 * time.Hour
	}
	return &Registry{store: store, auth: authenticator, roomTTL: roomTTL}
}

// SetInvalidator wires the membership cache in. Optional; registration order
// in main requires the registry to exist before the cache.
func (r *Registry) SetInvalidator(inv Invalidator) {
	r.invalidator = inv
}

func codeKey(code string) string {
	return codeKeyPrefix + code
}

func metadataKey(roomId string) string {
	return roomKeyPrefix + roomId + metadataSuffix
}

// Register creates a room with the host as its only member, together with the
// code mapping. Both keys are written in one batch to keep the window between
// them as small as the store allows.
func (r *Registry) Register(ctx context.Context, roomId, code, hostUserId string) error {
	if roomId == "" || code == "" || hostUserId == "" {
		return fmt.Errorf("room id, code and host are required")
	}
	exists, err := r.store.Exists(ctx, codeKey(code))
	if err != nil {
		return fmt.Errorf("could not check room code: %w", err)
	}
	if exists {
		return ErrCodeConflict
	}
	room := types.Room{
		Id:        roomId,
		HostId:    hostUserId,
		Members:   []string{hostUserId},
		CreatedAt: time.Now().UTC(),
	}
	roomData, err := json.Marshal(room)
	if err != nil {
		return err
	}
	mapping, err := json.Marshal(types.CodeMapping{RoomId: roomId, HostId: hostUserId})
	if err != nil {
		return err
	}
	entries := map[string]string{
		codeKey(code):       string(mapping),
		metadataKey(roomId): string(roomData),
	}
	if err := r.store.SetMany(ctx, entries, r.roomTTL); err != nil {
		return fmt.Errorf("could not store room: %w", err)
	}
	globals.AppLogger.Info("room registered", "room", roomId, "code", code, "host", hostUserId)
	return nil
}

// ResolveCode returns the mapping stored behind a code. The room itself is not
// cross-checked: a mapping whose room already expired resolves to the stored
// room id.
func (r *Registry) ResolveCode(ctx context.Context, code string) (*types.CodeMapping, error) {
	value, err := r.store.Get(ctx, codeKey(code))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not resolve room code: %w", err)
	}
	mapping := types.CodeMapping{}
	if err := json.Unmarshal([]byte(value), &mapping); err != nil {
		return nil, fmt.Errorf("could not unmarshal code mapping: %w", err)
	}
	return &mapping, nil
}

// GetRoom loads a room's metadata record.
func (r *Registry) GetRoom(ctx context.Context, roomId string) (*types.Room, error) {
	value, err := r.store.Get(ctx, metadataKey(roomId))
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load room: %w", err)
	}
	room := types.Room{}
	if err := json.Unmarshal([]byte(value), &room); err != nil {
		return nil, fmt.Errorf("could not unmarshal room: %w", err)
	}
	return &room, nil
}

// AddMember idempotently adds a user to the member set and invalidates the
// membership cache.
func (r *Registry) AddMember(ctx context.Context, roomId, userId string) error {
	room, err := r.GetRoom(ctx, roomId)
	if err != nil {
		return err
	}
	if !room.HasMember(userId) {
		room.Members = append(room.Members, userId)
		roomData, err := json.Marshal(room)
		if err != nil {
			return err
		}
		if err := r.store.Set(ctx, metadataKey(roomId), string(roomData), r.roomTTL); err != nil {
			return fmt.Errorf("could not store room: %w", err)
		}
	}
	if r.invalidator != nil {
		r.invalidator.Invalidate(roomId)
	}
	return nil
}

// IssueRoleToken authorizes the requested role against the room and delegates
// token creation to the authenticator. Host tokens are only issued to the
// room's host.
func (r *Registry) IssueRoleToken(ctx context.Context, userId, roomId string, role types.Role) (string, time.Time, error) {
	room, err := r.GetRoom(ctx, roomId)
	if err != nil {
		return "", time.Time{}, err
	}
	if !room.HasMember(userId) {
		return "", time.Time{}, ErrNotAMember
	}
	if role == types.RoleHost && room.HostId != userId {
		return "", time.Time{}, ErrNotHost
	}
	return r.auth.Issue(userId, roomId, role)
}

// DeleteRoom removes the metadata record and best-effort scans for every code
// that still points at the room. Deleting an absent room is a no-op.
func (r *Registry) DeleteRoom(ctx context.Context, roomId string) error {
	if err := r.store.Delete(ctx, metadataKey(roomId)); err != nil {
		return fmt.Errorf("could not delete room: %w", err)
	}
	codes, err := r.store.ScanPrefix(ctx, codeKeyPrefix)
	if err != nil {
		globals.AppLogger.Warn("could not scan room codes on delete", "room", roomId, "error", err)
		return nil
	}
	stale := make([]string, 0, 1)
	for key, value := range codes {
		mapping := types.CodeMapping{}
		if err := json.Unmarshal([]byte(value), &mapping); err != nil {
			continue
		}
		if mapping.RoomId == roomId {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		if err := r.store.DeleteMany(ctx, stale); err != nil {
			globals.AppLogger.Warn("could not delete room codes", "room", roomId, "error", err)
		}
	}
	if r.invalidator != nil {
		r.invalidator.Invalidate(roomId)
	}
	globals.AppLogger.Info("room deleted", "room", roomId, "codes", len(stale))
	return nil
}

// ListAll enumerates every room, newest first. This is a full keyspace scan,
// O(number of rooms), intended for administrative use.
func (r *Registry) ListAll(ctx context.Context) ([]*types.Room, error) {
	entries, err := r.store.ScanPrefix(ctx, roomKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("could not scan rooms: %w", err)
	}
	rooms := make([]*types.Room, 0, len(entries))
	for key, value := range entries {
		if !strings.HasSuffix(key, metadataSuffix) {
			continue
		}
		room := types.Room{}
		if err := json.Unmarshal([]byte(value), &room); err != nil {
			globals.AppLogger.Warn("skipping unreadable room record", "key", key, "error", err)
			continue
		}
		rooms = append(rooms, &room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

// GenerateCode produces a human-shareable room code suggestion.
func GenerateCode() string {
	name := goname.New(goname.FantasyMap).FirstLast()
	name = strings.ReplaceAll(name, " ", "-")
	return strings.ToUpper(name + "-" + uuid.NewString()[0:4])
}
