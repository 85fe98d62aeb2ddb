package link

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryNetwork wires links together inside one process. It stands in
// for the WebRTC transport when host and participants share a runtime
// (local play, tests): signals are opaque tokens naming the link to
// pair with, and sends are direct handler calls.
type MemoryNetwork struct {
	mu      sync.Mutex
	nextID  int
	waiting map[string]*memoryLink // initiators by signal token
}

// NewMemoryNetwork creates an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{waiting: make(map[string]*memoryLink)}
}

func (n *MemoryNetwork) NewLink(role Role, h Handlers) (Link, error) {
	n.mu.Lock()
	n.nextID++
	id := fmt.Sprintf("mem-%d", n.nextID)
	n.mu.Unlock()
	return &memoryLink{net: n, id: id, role: role, handlers: h, state: StateNew}, nil
}

// memSignal is the in-process stand-in for an SDP blob.
type memSignal struct {
	Type string `json:"type"` // offer or answer
	ID   string `json:"id"`
}

type memoryLink struct {
	net      *MemoryNetwork
	id       string
	role     Role
	handlers Handlers

	mu            sync.Mutex
	state         State
	peer          *memoryLink
	remoteApplied bool
	closed        bool
}

func (l *memoryLink) Start() error {
	l.mu.Lock()
	if l.state != StateNew {
		l.mu.Unlock()
		return fmt.Errorf("%w: start in state %s", ErrProtocol, l.state)
	}
	l.state = StateSignalPending
	l.mu.Unlock()

	if l.role == Initiator {
		l.net.mu.Lock()
		l.net.waiting[l.id] = l
		l.net.mu.Unlock()
		l.emitSignal("offer")
	}
	return nil
}

func (l *memoryLink) emitSignal(kind string) {
	if l.handlers.OnSignal == nil {
		return
	}
	data, _ := json.Marshal(memSignal{Type: kind, ID: l.id})
	l.handlers.OnSignal(string(data))
}

func (l *memoryLink) ApplyRemoteSignal(signal string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.remoteApplied {
		l.mu.Unlock()
		return fmt.Errorf("%w: remote signal already applied", ErrProtocol)
	}
	if l.state != StateSignalPending {
		state := l.state
		l.mu.Unlock()
		return fmt.Errorf("%w: remote signal in state %s", ErrProtocol, state)
	}
	l.remoteApplied = true
	l.state = StateNegotiating
	l.mu.Unlock()

	var sig memSignal
	if err := json.Unmarshal([]byte(signal), &sig); err != nil {
		return fmt.Errorf("parse remote signal: %w", err)
	}

	switch l.role {
	case Answerer:
		if sig.Type != "offer" {
			return fmt.Errorf("%w: answerer expects an offer, got %s", ErrProtocol, sig.Type)
		}
		l.net.mu.Lock()
		initiator := l.net.waiting[sig.ID]
		delete(l.net.waiting, sig.ID)
		l.net.mu.Unlock()
		if initiator == nil {
			return fmt.Errorf("no pending link for signal %s", sig.ID)
		}
		l.mu.Lock()
		l.peer = initiator
		l.mu.Unlock()
		initiator.mu.Lock()
		initiator.peer = l
		initiator.mu.Unlock()
		l.emitSignal("answer")
	case Initiator:
		if sig.Type != "answer" {
			return fmt.Errorf("%w: initiator expects an answer, got %s", ErrProtocol, sig.Type)
		}
		l.mu.Lock()
		peer := l.peer
		l.mu.Unlock()
		if peer == nil || peer.id != sig.ID {
			return fmt.Errorf("answer signal %s does not match pending link", sig.ID)
		}
		// Handshake complete; both sides open.
		l.open()
		peer.open()
	}
	return nil
}

func (l *memoryLink) open() {
	l.mu.Lock()
	if l.closed || l.state == StateOpen {
		l.mu.Unlock()
		return
	}
	l.state = StateOpen
	l.mu.Unlock()
	if l.handlers.OnOpen != nil {
		l.handlers.OnOpen()
	}
}

func (l *memoryLink) Send(message string) error {
	l.mu.Lock()
	peer := l.peer
	open := l.state == StateOpen
	l.mu.Unlock()
	if !open || peer == nil {
		return nil
	}
	if peer.handlers.OnData != nil {
		peer.handlers.OnData([]byte(message))
	}
	return nil
}

func (l *memoryLink) IsOpen() bool {
	return l.State() == StateOpen
}

func (l *memoryLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *memoryLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.state = StateClosed
	peer := l.peer
	l.peer = nil
	l.mu.Unlock()

	l.net.mu.Lock()
	delete(l.net.waiting, l.id)
	l.net.mu.Unlock()

	if l.handlers.OnClose != nil {
		l.handlers.OnClose()
	}
	if peer != nil {
		_ = peer.Close()
	}
	return nil
}
