package directory

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Relay wire operations. The relay server and this client share these
// types; everything rides a single websocket as JSON frames.
const (
	OpPutRoom       = "put_room"
	OpGetRoom       = "get_room"
	OpListExpired   = "list_expired_rooms"
	OpDeleteRoom    = "delete_room"
	OpEnqueue       = "enqueue_pending"
	OpListPending   = "list_pending"
	OpRemovePending = "remove_pending"
	OpPutSignal     = "put_signal"
	OpTakeSignal    = "take_signal"
)

// RelayRequest is one client->relay frame.
type RelayRequest struct {
	ID        int64            `json:"id"`
	Op        string           `json:"op"`
	Key       string           `json:"key,omitempty"`
	TTLMillis int64            `json:"ttlMs,omitempty"`
	Record    *RoomRecord      `json:"record,omitempty"`
	Entry     *PendingResponse `json:"entry,omitempty"`
	Indices   []int            `json:"indices,omitempty"`
	Value     string           `json:"value,omitempty"`
	NowMillis int64            `json:"nowMs,omitempty"`
}

// RelayResponse is one relay->client frame, matched to its request by ID.
type RelayResponse struct {
	ID      int64             `json:"id"`
	OK      bool              `json:"ok"`
	Error   string            `json:"error,omitempty"`
	Found   bool              `json:"found,omitempty"`
	Record  *RoomRecord       `json:"record,omitempty"`
	Entries []PendingResponse `json:"entries,omitempty"`
	Codes   []string          `json:"codes,omitempty"`
	Value   string            `json:"value,omitempty"`
}

// Remote is a Directory backed by a relay server over a websocket, for
// rendezvous across devices that cannot share local storage. Requests
// are single-flight: one frame out, its reply back, under one lock.
type Remote struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  int64
	session map[string]string
	timeout time.Duration
}

// DialRemote connects to a relay server, e.g. "ws://host:8080/directory".
func DialRemote(url string) (*Remote, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Remote{
		conn:    conn,
		session: make(map[string]string),
		timeout: 10 * time.Second,
	}, nil
}

// Close closes the relay connection.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.Close()
}

func (r *Remote) call(req RelayRequest) (RelayResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	req.ID = r.nextID

	deadline := time.Now().Add(r.timeout)
	_ = r.conn.SetWriteDeadline(deadline)
	if err := r.conn.WriteJSON(req); err != nil {
		return RelayResponse{}, fmt.Errorf("relay %s: %w", req.Op, err)
	}
	_ = r.conn.SetReadDeadline(deadline)
	for {
		var resp RelayResponse
		if err := r.conn.ReadJSON(&resp); err != nil {
			return RelayResponse{}, fmt.Errorf("relay %s: %w", req.Op, err)
		}
		if resp.ID != req.ID {
			// Stale reply from an abandoned call; skip it.
			continue
		}
		if !resp.OK {
			return resp, fmt.Errorf("relay %s: %s", req.Op, resp.Error)
		}
		return resp, nil
	}
}

func (r *Remote) PutRoom(code string, rec RoomRecord, ttl time.Duration) error {
	_, err := r.call(RelayRequest{Op: OpPutRoom, Key: code, Record: &rec, TTLMillis: ttl.Milliseconds()})
	return err
}

func (r *Remote) GetRoom(code string) (RoomRecord, bool, error) {
	resp, err := r.call(RelayRequest{Op: OpGetRoom, Key: code})
	if err != nil {
		return RoomRecord{}, false, err
	}
	if !resp.Found || resp.Record == nil {
		return RoomRecord{}, false, nil
	}
	return *resp.Record, true, nil
}

func (r *Remote) ListExpiredRooms(now time.Time) ([]string, error) {
	resp, err := r.call(RelayRequest{Op: OpListExpired, NowMillis: now.UnixMilli()})
	if err != nil {
		return nil, err
	}
	return resp.Codes, nil
}

func (r *Remote) DeleteRoom(code string) error {
	_, err := r.call(RelayRequest{Op: OpDeleteRoom, Key: code})
	return err
}

func (r *Remote) EnqueuePendingResponse(hostID string, entry PendingResponse) error {
	_, err := r.call(RelayRequest{Op: OpEnqueue, Key: hostID, Entry: &entry})
	return err
}

func (r *Remote) ListPendingResponses(hostID string) ([]PendingResponse, error) {
	resp, err := r.call(RelayRequest{Op: OpListPending, Key: hostID})
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (r *Remote) RemovePendingResponses(hostID string, indices []int) error {
	_, err := r.call(RelayRequest{Op: OpRemovePending, Key: hostID, Indices: indices})
	return err
}

func (r *Remote) PutSignal(peerID string, envelope string) error {
	_, err := r.call(RelayRequest{Op: OpPutSignal, Key: peerID, Value: envelope})
	return err
}

func (r *Remote) TakeSignal(peerID string) (string, bool, error) {
	resp, err := r.call(RelayRequest{Op: OpTakeSignal, Key: peerID})
	if err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

func (r *Remote) PutSessionValue(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session[key] = value
	return nil
}

func (r *Remote) GetSessionValue(key string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.session[key]
	return v, ok, nil
}

func (r *Remote) DeleteSessionValue(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.session, key)
	return nil
}
