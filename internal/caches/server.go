package caches

import (
	"bytes"
	"fmt"

	"github.com/p-blackswan/lrucache/lru"
)

// Nominal sizes of the server caches, before scaling.
const (
	UsersInRoomMaxEntries = 100000
	StateEventsMaxEntries = 50000
	DeviceKeysMaxEntries  = 10000
	RoomVersionMaxEntries = 1024
)

// Server holds the caches consulted on the server's hot request paths.
type Server struct {
	// UsersInRoom maps a room ID to its joined members. Sized by member
	// count rather than by room.
	UsersInRoom *lru.Cache[string, []string]

	// StateEvents maps (room ID, event type, state key) to the current
	// state event ID. Invalidating (room ID) drops a room's whole state.
	StateEvents *lru.Cache[lru.Tuple, string]

	// DeviceKeys maps (user ID, device ID) to the device's published keys.
	DeviceKeys *lru.Cache[lru.Tuple, []byte]

	// RoomVersions never changes for a room, so it is not scaled.
	RoomVersions *lru.Cache[string, string]
}

// NewServer builds the server caches and registers them with r.
func NewServer(r *Registry) (*Server, error) {
	var (
		s   Server
		err error
	)

	s.UsersInRoom, err = New[string, []string](r, "get_users_in_room", UsersInRoomMaxEntries,
		lru.WithCost[string, []string](func(users []string) int { return len(users) }),
	)
	if err != nil {
		return nil, fmt.Errorf("building get_users_in_room: %w", err)
	}

	s.StateEvents, err = NewTree[string](r, "state_events", StateEventsMaxEntries, 3)
	if err != nil {
		return nil, fmt.Errorf("building state_events: %w", err)
	}

	s.DeviceKeys, err = NewTree[[]byte](r, "device_keys", DeviceKeysMaxEntries, 2,
		lru.WithEqual[lru.Tuple, []byte](bytes.Equal),
	)
	if err != nil {
		return nil, fmt.Errorf("building device_keys: %w", err)
	}

	s.RoomVersions, err = New[string, string](r, "room_versions", RoomVersionMaxEntries,
		lru.WithoutGlobalScaling[string, string](),
	)
	if err != nil {
		return nil, fmt.Errorf("building room_versions: %w", err)
	}

	return &s, nil
}
