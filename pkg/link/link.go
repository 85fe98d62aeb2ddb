// Package link manages a single peer-to-peer data connection: the
// offer/answer negotiation, the lifecycle events and the message
// channel once open. The WebRTC implementation is the real transport;
// the memory implementation wires two links in one process for tests
// and local play.
package link

import "errors"

// ErrProtocol reports a signal applied out of sequence or twice. The
// link cannot be repaired; callers recreate a fresh one to retry.
var ErrProtocol = errors.New("signal applied out of order")

// ErrClosed reports an operation on a closed link.
var ErrClosed = errors.New("link closed")

// Role selects which side of the negotiation this link plays.
type Role int

const (
	// Initiator produces the offer (the participant side).
	Initiator Role = iota
	// Answerer consumes the offer and produces the answer (the host side).
	Answerer
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "answerer"
}

// State is the link lifecycle. Negotiating can fall straight to Closed
// on failure; there is no retry path.
type State int

const (
	StateNew State = iota
	StateSignalPending
	StateNegotiating
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateSignalPending:
		return "signal-pending"
	case StateNegotiating:
		return "negotiating"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Handlers receive link lifecycle events. All callbacks are invoked
// from the link's own goroutines; handlers must not block.
type Handlers struct {
	// OnSignal delivers the single local signal (offer or answer) once
	// local negotiation completes.
	OnSignal func(signal string)
	OnOpen   func()
	OnData   func(data []byte)
	OnError  func(err error)
	OnClose  func()
}

// Link is one negotiated connection to one remote party.
type Link interface {
	// Start begins local negotiation. For an initiator this produces
	// the offer via OnSignal; an answerer waits for ApplyRemoteSignal.
	Start() error
	// ApplyRemoteSignal feeds the other side's signal in. At most once
	// per role-appropriate stage; out of order returns ErrProtocol.
	ApplyRemoteSignal(signal string) error
	// Send transmits raw text. Best effort: failures on a non-open
	// channel are logged, not queued.
	Send(message string) error
	IsOpen() bool
	State() State
	Close() error
}

// Factory creates links for the session layer, hiding which transport
// backs them.
type Factory interface {
	NewLink(role Role, h Handlers) (Link, error)
}
