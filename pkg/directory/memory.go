package directory

import (
	"sync"
	"time"
)

type memoryRoom struct {
	rec       RoomRecord
	expiresAt time.Time
}

// Memory is an in-process Directory. It is the localStorage analog for
// tests and for host+participant sessions sharing one process, and the
// default backing store of the relay server.
type Memory struct {
	mu      sync.RWMutex
	rooms   map[string]memoryRoom
	pending map[string][]PendingResponse
	signals map[string]string
	session map[string]string
	now     func() time.Time
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		rooms:   make(map[string]memoryRoom),
		pending: make(map[string][]PendingResponse),
		signals: make(map[string]string),
		session: make(map[string]string),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Tests use this to force expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) PutRoom(code string, rec RoomRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	m.rooms[code] = memoryRoom{rec: rec, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) GetRoom(code string) (RoomRecord, bool, error) {
	m.mu.RLock()
	room, ok := m.rooms[code]
	now := m.now()
	m.mu.RUnlock()
	if !ok {
		return RoomRecord{}, false, nil
	}
	if now.After(room.expiresAt) {
		// Lazy expiry; the sweep in ListExpiredRooms handles cleanup.
		return RoomRecord{}, false, nil
	}
	return room.rec, true, nil
}

func (m *Memory) ListExpiredRooms(now time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var expired []string
	for code, room := range m.rooms {
		if now.After(room.expiresAt) {
			expired = append(expired, code)
		}
	}
	return expired, nil
}

func (m *Memory) DeleteRoom(code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, code)
	return nil
}

func (m *Memory) EnqueuePendingResponse(hostID string, entry PendingResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[hostID] = append(m.pending[hostID], entry)
	return nil
}

func (m *Memory) ListPendingResponses(hostID string) ([]PendingResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.pending[hostID]
	out := make([]PendingResponse, len(entries))
	copy(out, entries)
	return out, nil
}

func (m *Memory) RemovePendingResponses(hostID string, indices []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[hostID] = removeIndices(m.pending[hostID], indices)
	return nil
}

func (m *Memory) PutSignal(peerID string, envelope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals[peerID] = envelope
	return nil
}

func (m *Memory) TakeSignal(peerID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	envelope, ok := m.signals[peerID]
	if ok {
		delete(m.signals, peerID)
	}
	return envelope, ok, nil
}

func (m *Memory) PutSessionValue(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session[key] = value
	return nil
}

func (m *Memory) GetSessionValue(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.session[key]
	return v, ok, nil
}

func (m *Memory) DeleteSessionValue(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.session, key)
	return nil
}
