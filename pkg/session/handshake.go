package session

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/turtlesoup-online/turtlesoup/pkg/code"
	"github.com/turtlesoup-online/turtlesoup/pkg/directory"
	"github.com/turtlesoup-online/turtlesoup/pkg/link"
)

// SignalingEnvelope wraps one transport signal with addressing so the
// recipient can verify the code was meant for it.
type SignalingEnvelope struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Signal string `json:"signal"`
}

// connectionRequest is the participant's side of the handshake: its
// offer plus enough identity for the host's accept prompt.
type connectionRequest struct {
	ParticipantID string            `json:"participantId"`
	Nickname      string            `json:"nickname"`
	InviteCode    string            `json:"inviteCode"`
	Timestamp     int64             `json:"timestamp"`
	Envelope      SignalingEnvelope `json:"envelope"`
}

// AcceptedPeer describes one handshake the host answered: hand the
// AnswerCode back to the participant (or let the signal poller pick it
// up from the directory).
type AcceptedPeer struct {
	ParticipantID string
	Nickname      string
	AnswerCode    string
}

// waitSignal blocks for the link's local signal, bounded by the signal
// timeout and the context.
func (m *Manager) waitSignal(ctx context.Context, sigCh <-chan string) (string, error) {
	timer := time.NewTimer(m.cfg.SignalTimeout)
	defer timer.Stop()
	select {
	case sig := <-sigCh:
		return sig, nil
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for local signal")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// BeginOffer starts the participant's handshake: resolve the invite,
// produce an offer and enqueue it as a connection request for the
// host. It returns the encoded request for manual delivery; the
// background poller also watches the directory so the handshake
// completes without a paste when the host answers through it.
func (m *Manager) BeginOffer(ctx context.Context, nickname, inviteCode string) (string, error) {
	if m.cfg.Role != Participant {
		return "", fmt.Errorf("session: BeginOffer is participant-only")
	}
	if nickname == "" {
		nickname = m.cfg.Nickname
	}

	rec, err := m.ResolveInvite(ctx, inviteCode)
	if err != nil {
		return "", err
	}

	l, sigCh, err := m.newPeerLink(rec.HostID, hostNickname, link.Initiator)
	if err != nil {
		return "", err
	}
	if err := l.Start(); err != nil {
		m.dropPeer(rec.HostID)
		return "", err
	}
	offer, err := m.waitSignal(ctx, sigCh)
	if err != nil {
		m.dropPeer(rec.HostID)
		return "", err
	}

	req := connectionRequest{
		ParticipantID: m.id,
		Nickname:      nickname,
		InviteCode:    code.NormalizeInviteCode(inviteCode),
		Timestamp:     time.Now().UnixMilli(),
		Envelope: SignalingEnvelope{
			FromID: m.id,
			ToID:   rec.HostID,
			Signal: offer,
		},
	}
	requestCode, err := code.Encode(req)
	if err != nil {
		m.dropPeer(rec.HostID)
		return "", err
	}

	if err := m.cfg.Directory.EnqueuePendingResponse(rec.HostID, directory.PendingResponse{
		HostID:       rec.HostID,
		Nickname:     nickname,
		ResponseCode: requestCode,
		Timestamp:    time.Now(),
	}); err != nil {
		log.Printf("session: enqueueing connection request failed: %v", err)
	}

	m.startAnswerPoll(rec.HostID)
	return requestCode, nil
}

// startAnswerPoll launches the bounded directory poll for an answer
// addressed to this peer. A manual CompleteWithAnswer paste wins the
// race harmlessly: the second apply is rejected and discarded.
func (m *Manager) startAnswerPoll(hostID string) {
	m.mu.Lock()
	if m.closed || m.answerPoll != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.answerPoll = stop
	m.mu.Unlock()

	go func() {
		deadline := time.NewTimer(m.cfg.PollTimeout)
		defer deadline.Stop()
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-deadline.C:
				log.Printf("session: gave up polling for an answer from %s", hostID)
				return
			case <-ticker.C:
				answerCode, found, err := m.cfg.Directory.TakeSignal(m.id)
				if err != nil {
					log.Printf("session: answer signal poll failed: %v", err)
					continue
				}
				if !found {
					continue
				}
				if err := m.CompleteWithAnswer(answerCode); err != nil {
					log.Printf("session: polled answer rejected: %v", err)
				}
				return
			}
		}
	}()
}

// stopAnswerPoll cancels the background answer poll once the matching
// signal has been consumed.
func (m *Manager) stopAnswerPoll() {
	m.mu.Lock()
	if m.answerPoll != nil {
		close(m.answerPoll)
		m.answerPoll = nil
	}
	m.mu.Unlock()
}

// CompleteWithAnswer finishes the participant's handshake with the
// host's answer code and stops the answer poll. A second answer for an
// already-negotiated link returns link.ErrProtocol.
func (m *Manager) CompleteWithAnswer(answerCode string) error {
	var env SignalingEnvelope
	if err := code.Decode(answerCode, &env); err != nil {
		return err
	}
	if env.ToID != m.id {
		return fmt.Errorf("%w: answer addressed to %s", ErrUnknownPeer, env.ToID)
	}

	m.mu.Lock()
	entry, ok := m.peers[env.FromID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no pending handshake with %s", ErrUnknownPeer, env.FromID)
	}
	if err := entry.link.ApplyRemoteSignal(env.Signal); err != nil {
		return err
	}
	m.stopAnswerPoll()
	return nil
}

// BeginAnswerFor answers one participant's connection request. Host
// only. The answer is both returned for manual delivery and deposited
// in the directory for the participant's poller; the host's side of
// the handshake finishes when the channel opens, no third step.
func (m *Manager) BeginAnswerFor(ctx context.Context, requestCode string) (AcceptedPeer, error) {
	if m.cfg.Role != Host {
		return AcceptedPeer{}, fmt.Errorf("session: BeginAnswerFor is host-only")
	}

	var req connectionRequest
	if err := code.Decode(requestCode, &req); err != nil {
		return AcceptedPeer{}, err
	}
	if req.ParticipantID == "" || req.Envelope.Signal == "" {
		return AcceptedPeer{}, fmt.Errorf("%w: connection request missing fields", code.ErrDecode)
	}
	if req.Envelope.ToID != "" && req.Envelope.ToID != m.id {
		return AcceptedPeer{}, fmt.Errorf("%w: request addressed to host %s", ErrUnknownPeer, req.Envelope.ToID)
	}

	nickname := req.Nickname
	if nickname == "" {
		nickname = "Anonymous"
	}

	l, sigCh, err := m.newPeerLink(req.ParticipantID, nickname, link.Answerer)
	if err != nil {
		return AcceptedPeer{}, err
	}
	if err := l.Start(); err != nil {
		m.dropPeer(req.ParticipantID)
		return AcceptedPeer{}, err
	}
	if err := l.ApplyRemoteSignal(req.Envelope.Signal); err != nil {
		m.dropPeer(req.ParticipantID)
		return AcceptedPeer{}, err
	}
	answer, err := m.waitSignal(ctx, sigCh)
	if err != nil {
		m.dropPeer(req.ParticipantID)
		return AcceptedPeer{}, err
	}

	answerCode, err := code.Encode(SignalingEnvelope{
		FromID: m.id,
		ToID:   req.ParticipantID,
		Signal: answer,
	})
	if err != nil {
		m.dropPeer(req.ParticipantID)
		return AcceptedPeer{}, err
	}

	if err := m.cfg.Directory.PutSignal(req.ParticipantID, answerCode); err != nil {
		log.Printf("session: storing answer signal failed: %v", err)
	}
	return AcceptedPeer{
		ParticipantID: req.ParticipantID,
		Nickname:      nickname,
		AnswerCode:    answerCode,
	}, nil
}

// AcceptPending drains the host's queue of waiting connection requests
// and answers each. Every drained entry is consumed exactly once, even
// when answering it fails.
func (m *Manager) AcceptPending(ctx context.Context) ([]AcceptedPeer, error) {
	if m.cfg.Role != Host {
		return nil, fmt.Errorf("session: AcceptPending is host-only")
	}

	entries, err := m.cfg.Directory.ListPendingResponses(m.id)
	if err != nil {
		return nil, fmt.Errorf("list pending responses: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	indices := make([]int, len(entries))
	for i := range entries {
		indices[i] = i
	}
	if err := m.cfg.Directory.RemovePendingResponses(m.id, indices); err != nil {
		log.Printf("session: removing pending responses failed: %v", err)
	}

	var accepted []AcceptedPeer
	for _, entry := range entries {
		peer, err := m.BeginAnswerFor(ctx, entry.ResponseCode)
		if err != nil {
			log.Printf("session: answering request from %q failed: %v", entry.Nickname, err)
			continue
		}
		accepted = append(accepted, peer)
	}
	return accepted, nil
}

// AutoAccept answers pending connection requests on an interval until
// the context ends. Host only.
func (m *Manager) AutoAccept(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.AcceptPending(ctx); err != nil {
				log.Printf("session: auto-accept pass failed: %v", err)
			}
		}
	}
}
