// Package relay serves the shared directory over websockets so peers
// on different devices can rendezvous. Each client holds one
// connection and sends request frames; the relay executes them against
// a backing directory and replies frame-for-frame.
package relay

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/turtlesoup-online/turtlesoup/pkg/directory"
)

// Server routes relay frames from websocket clients to the backing
// directory store.
type Server struct {
	store    directory.Directory
	maxTTL   time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewServer creates a relay server over the given backing store.
func NewServer(store directory.Directory) *Server {
	return &Server{
		store:  store,
		maxTTL: directory.DefaultRoomTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*websocket.Conn]bool),
	}
}

// SetMaxTTL caps the room TTL clients may request.
func (s *Server) SetMaxTTL(ttl time.Duration) {
	if ttl > 0 {
		s.maxTTL = ttl
	}
}

// HandleWebSocket upgrades one client connection and serves its frames
// until it disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var req directory.RelayRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("relay: client read error: %v", err)
			}
			return
		}
		resp := s.execute(req)
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("relay: client write error: %v", err)
			return
		}
	}
}

// execute runs one frame against the store. Every response carries the
// request ID so clients can match replies.
func (s *Server) execute(req directory.RelayRequest) directory.RelayResponse {
	resp := directory.RelayResponse{ID: req.ID, OK: true}

	fail := func(err error) directory.RelayResponse {
		return directory.RelayResponse{ID: req.ID, Error: err.Error()}
	}

	switch req.Op {
	case directory.OpPutRoom:
		if req.Record == nil {
			return fail(errors.New("put_room requires a record"))
		}
		ttl := time.Duration(req.TTLMillis) * time.Millisecond
		if ttl <= 0 || ttl > s.maxTTL {
			ttl = s.maxTTL
		}
		if err := s.store.PutRoom(req.Key, *req.Record, ttl); err != nil {
			return fail(err)
		}
	case directory.OpGetRoom:
		rec, found, err := s.store.GetRoom(req.Key)
		if err != nil {
			return fail(err)
		}
		resp.Found = found
		if found {
			resp.Record = &rec
		}
	case directory.OpListExpired:
		now := time.UnixMilli(req.NowMillis)
		if req.NowMillis == 0 {
			now = time.Now()
		}
		codes, err := s.store.ListExpiredRooms(now)
		if err != nil {
			return fail(err)
		}
		resp.Codes = codes
	case directory.OpDeleteRoom:
		if err := s.store.DeleteRoom(req.Key); err != nil {
			return fail(err)
		}
	case directory.OpEnqueue:
		if req.Entry == nil {
			return fail(errors.New("enqueue_pending requires an entry"))
		}
		if err := s.store.EnqueuePendingResponse(req.Key, *req.Entry); err != nil {
			return fail(err)
		}
	case directory.OpListPending:
		entries, err := s.store.ListPendingResponses(req.Key)
		if err != nil {
			return fail(err)
		}
		resp.Entries = entries
	case directory.OpRemovePending:
		if err := s.store.RemovePendingResponses(req.Key, req.Indices); err != nil {
			return fail(err)
		}
	case directory.OpPutSignal:
		if err := s.store.PutSignal(req.Key, req.Value); err != nil {
			return fail(err)
		}
	case directory.OpTakeSignal:
		value, found, err := s.store.TakeSignal(req.Key)
		if err != nil {
			return fail(err)
		}
		resp.Value = value
		resp.Found = found
	default:
		return fail(errors.New("unknown op " + req.Op))
	}
	return resp
}

// ClientCount reports how many websocket clients are connected.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Handler returns the HTTP mux serving the relay: the websocket
// directory endpoint plus a health probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/directory", s.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer runs the relay HTTP server on addr, blocking.
func (s *Server) StartServer(addr string) error {
	log.Printf("Relay server starting on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}
