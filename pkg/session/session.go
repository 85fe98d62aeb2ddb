// Package session coordinates all peer links and code-based handshakes
// for one runtime: a host managing N participant links, or a
// participant holding exactly one link to its host. It owns the peer
// table, routes application messages over open links and reports
// lifecycle changes through callbacks.
package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/turtlesoup-online/turtlesoup/pkg/directory"
	"github.com/turtlesoup-online/turtlesoup/pkg/link"
	"github.com/turtlesoup-online/turtlesoup/pkg/protocol"
)

// ErrInviteNotFound reports an invite code absent from every checked
// location (directory, session cache, loaded share link).
var ErrInviteNotFound = errors.New("invite code not found")

// ErrUnknownPeer reports an operation referencing a peer ID with no
// matching entry.
var ErrUnknownPeer = errors.New("unknown peer")

// Role selects which side of the session this runtime plays.
type Role int

const (
	Host Role = iota
	Participant
)

func (r Role) String() string {
	if r == Host {
		return "host"
	}
	return "participant"
}

// hostNickname labels the host entry in a participant's peer table.
const hostNickname = "Host"

// ConnState tracks one peer entry's lifecycle.
type ConnState int

const (
	Connecting ConnState = iota
	Open
	Closed
)

// Peer is a connected remote party as reported by ListConnected.
type Peer struct {
	ID       string
	Nickname string
}

// Callbacks deliver session events to the application layer. They are
// invoked from link callback context and must not block.
type Callbacks struct {
	OnMessage          func(msg protocol.Message, fromID, fromNickname string)
	OnPeerConnected    func(id, nickname string)
	OnPeerDisconnected func(id, nickname string)
}

// Config configures a session manager.
type Config struct {
	Role      Role
	Nickname  string
	Directory directory.Directory
	// Links creates transport links. Defaults to the WebRTC factory
	// with the standard STUN servers.
	Links     link.Factory
	Callbacks Callbacks

	// PollInterval and PollTimeout bound the directory polling used
	// while waiting for out-of-band answers and invite data.
	PollInterval time.Duration
	PollTimeout  time.Duration
	// SignalTimeout bounds the wait for the local negotiation signal.
	SignalTimeout time.Duration
	// RoomTTL overrides the 48h room record lifetime.
	RoomTTL time.Duration
}

type peerEntry struct {
	id       string
	nickname string
	link     link.Link
	state    ConnState
	// goneNotified guards the disconnect callback: exactly once.
	goneNotified bool
}

// Manager is the per-runtime session coordinator.
type Manager struct {
	id  string
	cfg Config

	mu          sync.Mutex
	peers       map[string]*peerEntry
	currentCode string
	answerPoll  chan struct{} // closed to stop the answer poller
	closed      bool
}

// New creates a session manager and sweeps expired room records from
// the shared directory.
func New(cfg Config) (*Manager, error) {
	if cfg.Directory == nil {
		return nil, errors.New("session: directory is required")
	}
	if cfg.Links == nil {
		cfg.Links = link.NewWebRTCFactory(nil)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 15 * time.Second
	}
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = directory.DefaultRoomTTL
	}

	m := &Manager{
		id:    uuid.NewString(),
		cfg:   cfg,
		peers: make(map[string]*peerEntry),
	}
	m.sweepExpiredRooms()
	return m, nil
}

// ID returns this runtime's peer ID. Random per instance, never
// reused across restarts.
func (m *Manager) ID() string {
	return m.id
}

// Role returns the configured session role.
func (m *Manager) Role() Role {
	return m.cfg.Role
}

// sweepExpiredRooms removes past-TTL room records left behind by
// earlier sessions.
func (m *Manager) sweepExpiredRooms() {
	codes, err := m.cfg.Directory.ListExpiredRooms(time.Now())
	if err != nil {
		log.Printf("session: expired room sweep failed: %v", err)
		return
	}
	for _, c := range codes {
		if err := m.cfg.Directory.DeleteRoom(c); err != nil {
			log.Printf("session: delete expired room %s: %v", c, err)
		}
	}
}

// newPeerLink creates a link wired into the manager's event handling
// and registers its entry. The returned channel receives the local
// signal once negotiation produces it.
func (m *Manager) newPeerLink(peerID, nickname string, role link.Role) (link.Link, chan string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, nil, errors.New("session: manager closed")
	}
	if _, exists := m.peers[peerID]; exists {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: handshake already in progress for %s", link.ErrProtocol, peerID)
	}
	m.mu.Unlock()

	sigCh := make(chan string, 1)
	handlers := link.Handlers{
		OnSignal: func(signal string) {
			select {
			case sigCh <- signal:
			default:
			}
		},
		OnOpen: func() { m.handleOpen(peerID) },
		OnData: func(data []byte) { m.handleData(peerID, data) },
		OnError: func(err error) {
			log.Printf("session: transport error for %s: %v", peerID, err)
		},
		OnClose: func() { m.handleClose(peerID) },
	}

	l, err := m.cfg.Links.NewLink(role, handlers)
	if err != nil {
		return nil, nil, fmt.Errorf("create link: %w", err)
	}

	m.mu.Lock()
	if _, exists := m.peers[peerID]; exists {
		m.mu.Unlock()
		_ = l.Close()
		return nil, nil, fmt.Errorf("%w: handshake already in progress for %s", link.ErrProtocol, peerID)
	}
	m.peers[peerID] = &peerEntry{id: peerID, nickname: nickname, link: l, state: Connecting}
	m.mu.Unlock()
	return l, sigCh, nil
}

// dropPeer removes an entry without firing callbacks, for abandoned
// handshakes. No cleanup message goes to the remote side.
func (m *Manager) dropPeer(peerID string) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	if ok {
		entry.goneNotified = true
		delete(m.peers, peerID)
	}
	m.mu.Unlock()
	if ok {
		_ = entry.link.Close()
	}
}

func (m *Manager) handleOpen(peerID string) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	entry.state = Open
	nickname := entry.nickname
	m.mu.Unlock()

	if m.cfg.Callbacks.OnPeerConnected != nil {
		m.cfg.Callbacks.OnPeerConnected(peerID, nickname)
	}

	// Participants announce themselves once the channel is usable so
	// the host can confirm or replay game state.
	if m.cfg.Role == Participant {
		msg := protocol.MustNew(protocol.TypeInteraction, protocol.Interaction{
			Kind:      protocol.InteractionConnectSuccess,
			Timestamp: time.Now().UnixMilli(),
		})
		if err := m.SendTo(peerID, msg); err != nil {
			log.Printf("session: connect_success send failed: %v", err)
		}
	}
}

func (m *Manager) handleData(peerID string, data []byte) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	var nickname string
	if ok {
		nickname = entry.nickname
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	msg, err := protocol.Parse(data)
	if err != nil {
		log.Printf("session: dropping unparseable message from %s: %v", peerID, err)
		return
	}
	if !msg.Type.Known() {
		log.Printf("session: dropping message with unknown type %q from %s", msg.Type, peerID)
		return
	}
	if m.cfg.Callbacks.OnMessage != nil {
		m.cfg.Callbacks.OnMessage(msg, peerID, nickname)
	}
}

func (m *Manager) handleClose(peerID string) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	if !ok || entry.goneNotified {
		m.mu.Unlock()
		return
	}
	entry.goneNotified = true
	entry.state = Closed
	delete(m.peers, peerID)
	nickname := entry.nickname
	m.mu.Unlock()

	if m.cfg.Callbacks.OnPeerDisconnected != nil {
		m.cfg.Callbacks.OnPeerDisconnected(peerID, nickname)
	}
}

// SendTo routes one message to one peer. Unknown IDs return
// ErrUnknownPeer; a known but non-open entry is skipped silently.
func (m *Manager) SendTo(peerID string, msg protocol.Message) error {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	if !entry.link.IsOpen() {
		log.Printf("session: skipping send to %s, link not open", peerID)
		return nil
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return entry.link.Send(string(data))
}

// Broadcast sends msg over every open link except excludePeerID and
// returns how many peers it was handed to. A failure for one peer
// never blocks the rest.
func (m *Manager) Broadcast(msg protocol.Message, excludePeerID string) int {
	data, err := msg.Encode()
	if err != nil {
		log.Printf("session: broadcast encode failed: %v", err)
		return 0
	}

	m.mu.Lock()
	targets := make([]*peerEntry, 0, len(m.peers))
	for id, entry := range m.peers {
		if id == excludePeerID {
			continue
		}
		targets = append(targets, entry)
	}
	m.mu.Unlock()

	delivered := 0
	for _, entry := range targets {
		if !entry.link.IsOpen() {
			continue
		}
		if err := entry.link.Send(string(data)); err != nil {
			log.Printf("session: broadcast to %s failed: %v", entry.id, err)
			continue
		}
		delivered++
	}
	return delivered
}

// SendToHost routes one message to the host. Participant role only.
func (m *Manager) SendToHost(msg protocol.Message) error {
	if m.cfg.Role != Participant {
		return errors.New("session: SendToHost is participant-only")
	}
	m.mu.Lock()
	var hostID string
	for id := range m.peers {
		hostID = id
		break
	}
	m.mu.Unlock()
	if hostID == "" {
		return fmt.Errorf("%w: no host connection", ErrUnknownPeer)
	}
	return m.SendTo(hostID, msg)
}

// ListConnected snapshots the open peers. Order is unspecified.
func (m *Manager) ListConnected() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := make([]Peer, 0, len(m.peers))
	for _, entry := range m.peers {
		if entry.state == Open {
			peers = append(peers, Peer{ID: entry.id, Nickname: entry.nickname})
		}
	}
	return peers
}

// Close tears down every link and stops background polling. Remote
// sides observe ordinary closes.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.answerPoll != nil {
		close(m.answerPoll)
		m.answerPoll = nil
	}
	entries := make([]*peerEntry, 0, len(m.peers))
	for _, entry := range m.peers {
		entry.goneNotified = true
		entries = append(entries, entry)
	}
	m.peers = make(map[string]*peerEntry)
	m.mu.Unlock()

	for _, entry := range entries {
		_ = entry.link.Close()
	}
}
