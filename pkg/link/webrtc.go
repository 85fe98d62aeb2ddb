package link

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v3"
)

// ICE servers for NAT traversal
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
}

const dataChannelLabel = "data"

// WebRTCFactory creates links backed by pion data channels.
type WebRTCFactory struct {
	config webrtc.Configuration
}

// TURNConfig optionally adds a TURN relay to the ICE configuration.
type TURNConfig struct {
	Server     string
	Username   string
	Password   string
	ForceRelay bool
}

// NewWebRTCFactory builds a factory with the default STUN servers plus
// an optional TURN relay.
func NewWebRTCFactory(turn *TURNConfig) *WebRTCFactory {
	iceServers := append([]webrtc.ICEServer{}, defaultICEServers...)
	policy := webrtc.ICETransportPolicyAll
	if turn != nil && turn.Server != "" {
		server := webrtc.ICEServer{URLs: []string{turn.Server}}
		if turn.Username != "" {
			server.Username = turn.Username
			server.Credential = turn.Password
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		iceServers = append(iceServers, server)
		if turn.ForceRelay {
			policy = webrtc.ICETransportPolicyRelay
		}
	}
	return &WebRTCFactory{config: webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}}
}

func (f *WebRTCFactory) NewLink(role Role, h Handlers) (Link, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	l := &webrtcLink{role: role, pc: pc, handlers: h, state: StateNew}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed:
			l.fail(fmt.Errorf("connection failed"))
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
			l.closeWith(nil)
		}
	})

	if role == Answerer {
		// The initiator owns channel creation; wait for it to arrive.
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != dataChannelLabel {
				return
			}
			l.attachChannel(dc)
		})
	}
	return l, nil
}

// webrtcLink is one pion peer connection carrying one data channel.
// Non-trickle: the single local signal is the full SDP emitted after
// ICE gathering completes, matching the copy-paste code exchange.
type webrtcLink struct {
	role     Role
	pc       *webrtc.PeerConnection
	handlers Handlers

	mu            sync.Mutex
	state         State
	dc            *webrtc.DataChannel
	remoteApplied bool
	closed        bool
}

func (l *webrtcLink) Start() error {
	l.mu.Lock()
	if l.state != StateNew {
		l.mu.Unlock()
		return fmt.Errorf("%w: start in state %s", ErrProtocol, l.state)
	}
	l.state = StateSignalPending
	l.mu.Unlock()

	if l.role == Answerer {
		// Nothing to do until the offer arrives.
		return nil
	}

	dc, err := l.pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		l.fail(err)
		return fmt.Errorf("create data channel: %w", err)
	}
	l.attachChannel(dc)

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.fail(err)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.fail(err)
		return fmt.Errorf("set local description: %w", err)
	}

	go l.emitLocalSignal()
	return nil
}

// emitLocalSignal waits for ICE gathering and delivers the complete
// local description as the one-shot signal.
func (l *webrtcLink) emitLocalSignal() {
	<-webrtc.GatheringCompletePromise(l.pc)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	desc := l.pc.LocalDescription()
	l.mu.Unlock()

	if desc == nil {
		l.fail(fmt.Errorf("no local description after gathering"))
		return
	}
	data, err := json.Marshal(desc)
	if err != nil {
		l.fail(err)
		return
	}
	if l.handlers.OnSignal != nil {
		l.handlers.OnSignal(string(data))
	}
}

func (l *webrtcLink) ApplyRemoteSignal(signal string) error {
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

	var desc webrtc.SessionDescription
	if err := json.Unmarshal([]byte(signal), &desc); err != nil {
		return fmt.Errorf("parse remote signal: %w", err)
	}

	switch l.role {
	case Initiator:
		// The initiator applies the answer; negotiation is complete
		// once the channel opens.
		if desc.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("%w: initiator expects an answer, got %s", ErrProtocol, desc.Type)
		}
		if err := l.pc.SetRemoteDescription(desc); err != nil {
			l.fail(err)
			return fmt.Errorf("set remote description: %w", err)
		}
	case Answerer:
		if desc.Type != webrtc.SDPTypeOffer {
			return fmt.Errorf("%w: answerer expects an offer, got %s", ErrProtocol, desc.Type)
		}
		if err := l.pc.SetRemoteDescription(desc); err != nil {
			l.fail(err)
			return fmt.Errorf("set remote description: %w", err)
		}
		answer, err := l.pc.CreateAnswer(nil)
		if err != nil {
			l.fail(err)
			return fmt.Errorf("create answer: %w", err)
		}
		if err := l.pc.SetLocalDescription(answer); err != nil {
			l.fail(err)
			return fmt.Errorf("set local description: %w", err)
		}
		go l.emitLocalSignal()
	}
	return nil
}

func (l *webrtcLink) attachChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.state = StateOpen
		l.mu.Unlock()
		if l.handlers.OnOpen != nil {
			l.handlers.OnOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.handlers.OnData != nil {
			l.handlers.OnData(msg.Data)
		}
	})
	dc.OnClose(func() {
		l.closeWith(nil)
	})
}

func (l *webrtcLink) Send(message string) error {
	l.mu.Lock()
	dc := l.dc
	open := l.state == StateOpen
	l.mu.Unlock()
	if !open || dc == nil {
		log.Printf("link: dropping send, channel not open")
		return nil
	}
	if err := dc.SendText(message); err != nil {
		log.Printf("link: send failed: %v", err)
		return err
	}
	return nil
}

func (l *webrtcLink) IsOpen() bool {
	return l.State() == StateOpen
}

func (l *webrtcLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *webrtcLink) Close() error {
	l.closeWith(nil)
	return nil
}

// fail surfaces a transport error, then closes the link. The session
// layer treats the pair as an eventual disconnect.
func (l *webrtcLink) fail(err error) {
	if l.handlers.OnError != nil {
		l.handlers.OnError(err)
	}
	l.closeWith(err)
}

func (l *webrtcLink) closeWith(cause error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.state = StateClosed
	l.mu.Unlock()

	if cause != nil {
		log.Printf("link (%s): closed: %v", l.role, cause)
	}
	_ = l.pc.Close()
	if l.handlers.OnClose != nil {
		l.handlers.OnClose()
	}
}
