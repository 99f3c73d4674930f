package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/lightspeed-sync/globals"
	"github.com/tcriess/lightspeed-sync/types"
)

const defaultCacheSize = 4096

// RoomSource is the part of the room registry the cache reads through to.
type RoomSource interface {
	GetRoom(ctx context.Context, roomId string) (*types.Room, error)
}

type entry struct {
	members   []string
	expiresAt time.Time
}

// Members is a short-TTL read-through cache in front of the room registry,
// used on the connection-admission hot path. Snapshots may be stale for up to
// the cache TTL unless a membership-mutating write invalidates them first.
type Members struct {
	source RoomSource
	ttl    time.Duration
	cache  *lru.Cache

	mu sync.Mutex // serializes read-through fills
}

func NewMembers(source RoomSource, ttl time.Duration) (*Members, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c, err := lru.New(defaultCacheSize)
	if err != nil {
		return nil, err
	}
	return &Members{source: source, ttl: ttl, cache: c}, nil
}

// MembersOf returns the member set of a room, from cache when a non-expired
// snapshot exists, otherwise read through to the registry. Misses for absent
// rooms are not cached.
func (m *Members) MembersOf(ctx context.Context, roomId string) ([]string, error) {
	if v, ok := m.cache.Get(roomId); ok {
		e := v.(entry)
		if time.Now().Before(e.expiresAt) {
			return e.members, nil
		}
		m.cache.Remove(roomId)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// somebody else may have filled the entry while we waited
	if v, ok := m.cache.Get(roomId); ok {
		e := v.(entry)
		if time.Now().Before(e.expiresAt) {
			return e.members, nil
		}
	}
	room, err := m.source.GetRoom(ctx, roomId)
	if err != nil {
		return nil, err
	}
	members := make([]string, len(room.Members))
	copy(members, room.Members)
	m.cache.Add(roomId, entry{members: members, expiresAt: time.Now().Add(m.ttl)})
	return members, nil
}

// Invalidate evicts the snapshot of a room. Every membership-mutating write
// path calls this.
func (m *Members) Invalidate(roomId string) {
	m.cache.Remove(roomId)
}

// Sweep removes expired entries; it bounds memory independent of invalidation
// calls and runs on a periodic schedule.
func (m *Members) Sweep() {
	now := time.Now()
	removed := 0
	for _, key := range m.cache.Keys() {
		if v, ok := m.cache.Peek(key); ok {
			if now.After(v.(entry).expiresAt) {
				m.cache.Remove(key)
				removed++
			}
		}
	}
	if removed > 0 {
		globals.AppLogger.Debug("membership cache sweep", "removed", removed)
	}
}

// Len returns the number of cached snapshots (including not yet swept expired
// ones).
func (m *Members) Len() int {
	return m.cache.Len()
}
