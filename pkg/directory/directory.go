// Package directory defines the shared rendezvous store used to pass
// room records, pending connection requests and answer signals between
// peers before a direct link exists. Implementations range from an
// in-memory map to a SQLite file to a websocket relay; the session
// layer treats them all as the same synchronous-fast key-value store.
package directory

import (
	"time"

	"github.com/turtlesoup-online/turtlesoup/pkg/protocol"
)

// Storage key namespacing, shared by every implementation and by the
// relay wire protocol. Preserved from the original deployment so mixed
// versions can still rendezvous.
const (
	RoomKeyPrefix   = "room_"
	PendingQueueKey = "webrtc_waiting_responses"
	SignalKeyPrefix = "webrtc_signal_"
	InviteDataKey   = "invite_data_"
	PendingCodeKey  = "pending_invite_code"
	LoadedRoomKey   = "loaded_room_code"
)

// DefaultRoomTTL is how long a room record stays resolvable.
const DefaultRoomTTL = 48 * time.Hour

// RoomRecord is the stored description of an invite: who hosts it and
// what the room looks like. Superseded whenever the host re-invites
// under a new code.
type RoomRecord struct {
	HostID    string                `json:"hostId"`
	Settings  protocol.RoomSettings `json:"roomSettings"`
	CreatedAt time.Time             `json:"timestamp"`
}

// PendingResponse is a participant's connection request waiting in the
// shared queue for the host to answer.
type PendingResponse struct {
	HostID       string    `json:"hostId"`
	Nickname     string    `json:"nickname"`
	ResponseCode string    `json:"responseCode"`
	Timestamp    time.Time `json:"timestamp"`
}

// Directory is the rendezvous contract. All operations are synchronous
// from the caller's point of view; only same-origin visibility is
// guaranteed (the relay implementation widens that to its clients).
type Directory interface {
	// Rooms, keyed by invite code. GetRoom never returns expired records.
	PutRoom(code string, rec RoomRecord, ttl time.Duration) error
	GetRoom(code string) (RoomRecord, bool, error)
	ListExpiredRooms(now time.Time) ([]string, error)
	DeleteRoom(code string) error

	// Pending connection requests, keyed by host ID.
	EnqueuePendingResponse(hostID string, entry PendingResponse) error
	ListPendingResponses(hostID string) ([]PendingResponse, error)
	RemovePendingResponses(hostID string, indices []int) error

	// Answer signals, keyed by the waiting peer's ID. TakeSignal
	// consumes: a stored signal is returned at most once.
	PutSignal(peerID string, envelope string) error
	TakeSignal(peerID string) (string, bool, error)

	// Session-scoped scratch values (invite data cache, pending invite
	// code, loaded room marker). Never shared across runtimes.
	PutSessionValue(key, value string) error
	GetSessionValue(key string) (string, bool, error)
	DeleteSessionValue(key string) error
}

// removeIndices drops the listed indices from entries, tolerating
// duplicates and out-of-range values.
func removeIndices(entries []PendingResponse, indices []int) []PendingResponse {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	kept := entries[:0]
	for i, e := range entries {
		if !drop[i] {
			kept = append(kept, e)
		}
	}
	return kept
}
