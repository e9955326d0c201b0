// Package roomstore persists the last joined room id so a restarted viewer can
// resume its session, and parses the shareable room fragment.
package roomstore

import (
	"context"
	"strings"
	"sync"
)

// DefaultKey is the key the room id is stored under
const DefaultKey = "5e-tracker-room-id"

// FragmentPrefix marks a versioned room fragment, e.g. "#v1:abc123"
const FragmentPrefix = "#v1:"

// Store persists a single room id
type Store interface {
	// Load returns the stored room id, or "" when none is stored
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, roomID string) error
	Clear(ctx context.Context) error
}

// ParseFragment extracts the room id from a "#v1:<roomId>" fragment. The
// leading '#' is optional.
func ParseFragment(fragment string) (string, bool) {
	fragment = strings.TrimSpace(fragment)
	if !strings.HasPrefix(fragment, "#") {
		fragment = "#" + fragment
	}
	if !strings.HasPrefix(fragment, FragmentPrefix) {
		return "", false
	}
	roomID := strings.TrimSpace(fragment[len(FragmentPrefix):])
	if roomID == "" {
		return "", false
	}
	return roomID, true
}

// FormatFragment returns the shareable fragment for roomID
func FormatFragment(roomID string) string {
	return FragmentPrefix + roomID
}

// StartupRoom picks the room to join at startup. A room id in the fragment wins
// over the stored one.
func StartupRoom(ctx context.Context, s Store, fragment string) (string, error) {
	if roomID, ok := ParseFragment(fragment); ok {
		return roomID, nil
	}
	if s == nil {
		return "", nil
	}
	return s.Load(ctx)
}

// MemoryStore keeps the room id in memory
type MemoryStore struct {
	mu     sync.RWMutex
	roomID string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roomID, nil
}

func (m *MemoryStore) Save(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID = roomID
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomID = ""
	return nil
}
