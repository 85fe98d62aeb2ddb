package directory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileState is the on-disk layout. One JSON document holds everything,
// mirroring how the original kept its rendezvous state in localStorage.
type fileState struct {
	Rooms     map[string]fileRoom          `json:"rooms"`
	Pending   map[string][]PendingResponse `json:"pending"`
	Signals   map[string]string            `json:"signals"`
	UpdatedAt time.Time                    `json:"updatedAt"`
}

type fileRoom struct {
	Record    RoomRecord `json:"record"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

// File is a Directory persisted as a JSON file, so two processes on
// the same machine (or a shared folder) can rendezvous without a
// relay. Session-scoped values stay in memory, as they must.
type File struct {
	mu      sync.Mutex
	path    string
	session map[string]string
}

// DefaultPath returns the directory file under the user config dir.
// XDG_CONFIG_HOME wins when set.
func DefaultPath() (string, error) {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "turtlesoup")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "turtlesoup")
	}
	return filepath.Join(configDir, "directory.json"), nil
}

// NewFile creates a file-backed directory at path.
func NewFile(path string) *File {
	return &File{path: path, session: make(map[string]string)}
}

// load reads the state file. A missing or corrupt file yields empty
// state rather than an error, like a cleared browser store.
func (f *File) load() fileState {
	state := fileState{
		Rooms:   make(map[string]fileRoom),
		Pending: make(map[string][]PendingResponse),
		Signals: make(map[string]string),
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return state
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return fileState{
			Rooms:   make(map[string]fileRoom),
			Pending: make(map[string][]PendingResponse),
			Signals: make(map[string]string),
		}
	}
	return state
}

func (f *File) save(state fileState) error {
	state.UpdatedAt = time.Now()
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0644)
}

func (f *File) PutRoom(code string, rec RoomRecord, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	state := f.load()
	state.Rooms[code] = fileRoom{Record: rec, ExpiresAt: time.Now().Add(ttl)}
	return f.save(state)
}

func (f *File) GetRoom(code string) (RoomRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	room, ok := state.Rooms[code]
	if !ok || time.Now().After(room.ExpiresAt) {
		return RoomRecord{}, false, nil
	}
	return room.Record, true, nil
}

func (f *File) ListExpiredRooms(now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	var expired []string
	for code, room := range state.Rooms {
		if now.After(room.ExpiresAt) {
			expired = append(expired, code)
		}
	}
	return expired, nil
}

func (f *File) DeleteRoom(code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	delete(state.Rooms, code)
	return f.save(state)
}

func (f *File) EnqueuePendingResponse(hostID string, entry PendingResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	state.Pending[hostID] = append(state.Pending[hostID], entry)
	return f.save(state)
}

func (f *File) ListPendingResponses(hostID string) ([]PendingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	return state.Pending[hostID], nil
}

func (f *File) RemovePendingResponses(hostID string, indices []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	state.Pending[hostID] = removeIndices(state.Pending[hostID], indices)
	return f.save(state)
}

func (f *File) PutSignal(peerID string, envelope string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	state.Signals[peerID] = envelope
	return f.save(state)
}

func (f *File) TakeSignal(peerID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.load()
	envelope, ok := state.Signals[peerID]
	if !ok {
		return "", false, nil
	}
	delete(state.Signals, peerID)
	return envelope, true, f.save(state)
}

func (f *File) PutSessionValue(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session[key] = value
	return nil
}

func (f *File) GetSessionValue(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.session[key]
	return v, ok, nil
}

func (f *File) DeleteSessionValue(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.session, key)
	return nil
}
