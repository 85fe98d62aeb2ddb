package main

import (
	"log"
	"sync"
	"time"

	"github.com/turtlesoup-online/turtlesoup/pkg/protocol"
	"github.com/turtlesoup-online/turtlesoup/pkg/session"
)

// Game events surfaced to the TUI loop.

// chatAddedMsg appends one entry to the visible history
type chatAddedMsg struct {
	entry protocol.ChatEntry
}

// peersChangedMsg refreshes the participant list
type peersChangedMsg struct {
	peers []session.Peer
}

// handRaisedMsg adds a participant to the host's raised-hands queue
type handRaisedMsg struct {
	peerID   string
	nickname string
}

// gameStateMsg delivers the room state to a (re)joining participant
type gameStateMsg struct {
	state protocol.GameState
}

// gameEndedMsg reveals the solution
type gameEndedMsg struct {
	solution string
}

// joinAnsweredMsg tells a participant its connection was confirmed
type joinAnsweredMsg struct{}

// answerLabel renders a host verdict for the chat history
func answerLabel(answer string) string {
	switch answer {
	case "yes":
		return "Yes"
	case "no":
		return "No"
	default:
		return "Uncertain"
	}
}

// hostGame runs the host side of a riddle: it owns the solution,
// relays participant questions to everyone, answers them and keeps the
// chat history that late joiners receive as a snapshot.
type hostGame struct {
	sess *session.Manager

	mu       sync.Mutex
	title    string
	solution string
	rules    protocol.Rules
	started  bool
	history  []protocol.ChatEntry
	events   chan any
}

func newHostGame(sess *session.Manager, title, solution string, rules protocol.Rules) *hostGame {
	return &hostGame{
		sess:     sess,
		title:    title,
		solution: solution,
		rules:    rules,
		events:   make(chan any, 64),
	}
}

func (g *hostGame) emit(event any) {
	select {
	case g.events <- event:
	default:
		log.Printf("game: dropping event, queue full")
	}
}

func (g *hostGame) appendHistory(entry protocol.ChatEntry) {
	g.mu.Lock()
	g.history = append(g.history, entry)
	g.mu.Unlock()
	g.emit(chatAddedMsg{entry: entry})
}

// snapshot builds the game state sent to participants: on start
// without history, on rejoin with it.
func (g *hostGame) snapshot(withHistory bool) protocol.GameState {
	g.mu.Lock()
	defer g.mu.Unlock()
	state := protocol.GameState{
		Title: g.title,
		Rules: g.rules,
	}
	for _, p := range g.sess.ListConnected() {
		state.Participants = append(state.Participants, p.Nickname)
	}
	if withHistory {
		state.History = append([]protocol.ChatEntry{}, g.history...)
	}
	return state
}

// roomSettings rebuilds the published room record; once the game has
// started it carries the in-progress flag and a state snapshot so late
// resolvers know what they are joining.
func (g *hostGame) roomSettings() protocol.RoomSettings {
	g.mu.Lock()
	title := g.title
	rules := g.rules
	started := g.started
	g.mu.Unlock()

	settings := protocol.RoomSettings{Title: title, Rules: rules}
	if started {
		state := g.snapshot(true)
		settings.GameInProgress = true
		settings.GameState = &state
	}
	return settings
}

// Start broadcasts the opening game state to every participant and
// refreshes the room record with the mid-game snapshot.
func (g *hostGame) Start() int {
	g.mu.Lock()
	g.started = true
	g.mu.Unlock()
	if err := g.sess.UpdateInvite(g.roomSettings()); err != nil {
		log.Printf("game: refreshing room record failed: %v", err)
	}
	msg := protocol.MustNew(protocol.TypeGameState, g.snapshot(false))
	return g.sess.Broadcast(msg, "")
}

// CallParticipant gives the floor to a raised hand and announces it.
func (g *hostGame) CallParticipant(peerID, nickname string) {
	relay := protocol.MustNew(protocol.TypeInteractionRelay, protocol.Interaction{
		Kind:          protocol.InteractionCallParticipant,
		ParticipantID: peerID,
		Nickname:      nickname,
	})
	g.sess.Broadcast(relay, "")
	g.appendHistory(protocol.ChatEntry{Type: "system", Sender: "Host", Content: "called on " + nickname})
}

// SendClue publishes a clue to everyone and records it locally.
func (g *hostGame) SendClue(content string) {
	msg := protocol.MustNew(protocol.TypeClue, protocol.Clue{Content: content})
	g.sess.Broadcast(msg, "")
	g.appendHistory(protocol.ChatEntry{Type: "clue", Sender: "Host", Content: content})
}

// SendAnswer publishes the host's verdict on the latest question.
func (g *hostGame) SendAnswer(answer string) {
	msg := protocol.MustNew(protocol.TypeAnswer, protocol.Answer{Answer: answer})
	g.sess.Broadcast(msg, "")
	g.appendHistory(protocol.ChatEntry{Type: "answer", Content: answerLabel(answer)})
}

// End reveals the solution to everyone.
func (g *hostGame) End() {
	g.mu.Lock()
	solution := g.solution
	g.mu.Unlock()
	msg := protocol.MustNew(protocol.TypeGameEnd, protocol.GameEnd{Solution: solution})
	g.sess.Broadcast(msg, "")
	g.emit(gameEndedMsg{solution: solution})
}

// HandleMessage processes one participant message, wired into the
// session callbacks.
func (g *hostGame) HandleMessage(msg protocol.Message, fromID, fromNickname string) {
	switch msg.Type {
	case protocol.TypeQuestion:
		var q protocol.Question
		if err := msg.Decode(&q); err != nil {
			log.Printf("game: bad question payload from %s: %v", fromNickname, err)
			return
		}
		relay := protocol.MustNew(protocol.TypeQuestionRelay, protocol.QuestionRelay{
			From:    fromNickname,
			Content: q.Content,
		})
		g.sess.Broadcast(relay, "")
		g.appendHistory(protocol.ChatEntry{Type: "question", Sender: fromNickname, Content: q.Content})

	case protocol.TypeInteraction:
		g.handleInteraction(msg, fromID, fromNickname)

	default:
		log.Printf("game: host ignoring message type %s from %s", msg.Type, fromNickname)
	}
}

func (g *hostGame) handleInteraction(msg protocol.Message, fromID, fromNickname string) {
	var in protocol.Interaction
	if err := msg.Decode(&in); err != nil {
		log.Printf("game: bad interaction payload from %s: %v", fromNickname, err)
		return
	}

	g.mu.Lock()
	rules := g.rules
	started := g.started
	g.mu.Unlock()

	switch in.Kind {
	case protocol.InteractionRaiseHand:
		if rules.QuestionMode != "raiseHand" || rules.InteractionMode == "disallow" {
			return
		}
		g.emit(handRaisedMsg{peerID: fromID, nickname: fromNickname})
		relay := protocol.MustNew(protocol.TypeInteractionRelay, protocol.Interaction{
			Kind: protocol.InteractionRaiseHand,
			From: fromNickname,
		})
		g.sess.Broadcast(relay, "")

	case protocol.InteractionThrowFlower, protocol.InteractionThrowTrash:
		if rules.InteractionMode == "disallow" {
			return
		}
		relay := protocol.MustNew(protocol.TypeInteractionRelay, protocol.Interaction{
			Kind: in.Kind,
			From: fromNickname,
		})
		g.sess.Broadcast(relay, "")
		action := "sent a flower"
		if in.Kind == protocol.InteractionThrowTrash {
			action = "threw trash"
		}
		g.appendHistory(protocol.ChatEntry{Type: "interaction", Sender: fromNickname, Content: action})

	case protocol.InteractionConnectionTest, protocol.InteractionConnectSuccess:
		// Before the game starts, acknowledge; after, replay state so a
		// late or reconnecting participant catches up.
		if !started {
			ack := protocol.MustNew(protocol.TypeInteractionRelay, protocol.Interaction{
				Kind:    protocol.InteractionTestResponse,
				Message: "connection confirmed",
			})
			if err := g.sess.SendTo(fromID, ack); err != nil {
				log.Printf("game: connection ack to %s failed: %v", fromNickname, err)
			}
			return
		}
		state := protocol.MustNew(protocol.TypeGameState, g.snapshot(true))
		if err := g.sess.SendTo(fromID, state); err != nil {
			log.Printf("game: state replay to %s failed: %v", fromNickname, err)
		}

	default:
		log.Printf("game: host ignoring interaction %q from %s", in.Kind, fromNickname)
	}
}

// PeerConnected replays game state to players who join mid-game.
func (g *hostGame) PeerConnected(peerID, nickname string) {
	g.emit(peersChangedMsg{peers: g.sess.ListConnected()})
	g.mu.Lock()
	started := g.started
	g.mu.Unlock()
	if !started {
		return
	}
	state := protocol.MustNew(protocol.TypeGameState, g.snapshot(true))
	if err := g.sess.SendTo(peerID, state); err != nil {
		log.Printf("game: state for new player %s failed: %v", nickname, err)
	}
}

// PeerDisconnected tells the remaining players someone left.
func (g *hostGame) PeerDisconnected(peerID, nickname string) {
	g.emit(peersChangedMsg{peers: g.sess.ListConnected()})
	relay := protocol.MustNew(protocol.TypeInteractionRelay, protocol.Interaction{
		Kind: protocol.InteractionDisconnect,
		From: nickname,
	})
	g.sess.Broadcast(relay, "")
	g.appendHistory(protocol.ChatEntry{Type: "system", Sender: nickname, Content: "disconnected"})
}

// participantGame runs the guesser side: it sends questions and
// interactions to the host and turns host broadcasts into chat
// entries.
type participantGame struct {
	sess *session.Manager

	mu     sync.Mutex
	rules  protocol.Rules
	events chan any
}

func newParticipantGame(sess *session.Manager) *participantGame {
	return &participantGame{
		sess:   sess,
		events: make(chan any, 64),
	}
}

func (g *participantGame) emit(event any) {
	select {
	case g.events <- event:
	default:
		log.Printf("game: dropping event, queue full")
	}
}

// Rules returns the rules from the last received game state.
func (g *participantGame) Rules() protocol.Rules {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rules
}

// SendQuestion submits a question to the host.
func (g *participantGame) SendQuestion(content string) error {
	msg := protocol.MustNew(protocol.TypeQuestion, protocol.Question{Content: content})
	return g.sess.SendToHost(msg)
}

// RaiseHand asks for the floor in raise-hand question mode.
func (g *participantGame) RaiseHand() error {
	return g.sendInteraction(protocol.InteractionRaiseHand)
}

// ThrowFlower cheers the host.
func (g *participantGame) ThrowFlower() error {
	return g.sendInteraction(protocol.InteractionThrowFlower)
}

// ThrowTrash boos the host.
func (g *participantGame) ThrowTrash() error {
	return g.sendInteraction(protocol.InteractionThrowTrash)
}

// TestConnection pings the host; mid-game this triggers a state replay.
func (g *participantGame) TestConnection() error {
	return g.sendInteraction(protocol.InteractionConnectionTest)
}

func (g *participantGame) sendInteraction(kind string) error {
	msg := protocol.MustNew(protocol.TypeInteraction, protocol.Interaction{
		Kind:      kind,
		Timestamp: time.Now().UnixMilli(),
	})
	return g.sess.SendToHost(msg)
}

// HandleMessage processes one host broadcast, wired into the session
// callbacks.
func (g *participantGame) HandleMessage(msg protocol.Message, fromID, fromNickname string) {
	switch msg.Type {
	case protocol.TypeQuestionRelay:
		var q protocol.QuestionRelay
		if err := msg.Decode(&q); err != nil {
			log.Printf("game: bad question relay: %v", err)
			return
		}
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "question", Sender: q.From, Content: q.Content}})

	case protocol.TypeAnswer:
		var a protocol.Answer
		if err := msg.Decode(&a); err != nil {
			log.Printf("game: bad answer: %v", err)
			return
		}
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "answer", Content: answerLabel(a.Answer)}})

	case protocol.TypeClue:
		var c protocol.Clue
		if err := msg.Decode(&c); err != nil {
			log.Printf("game: bad clue: %v", err)
			return
		}
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "clue", Sender: "Host", Content: c.Content}})

	case protocol.TypeGameState:
		var state protocol.GameState
		if err := msg.Decode(&state); err != nil {
			log.Printf("game: bad game state: %v", err)
			return
		}
		g.mu.Lock()
		g.rules = state.Rules
		g.mu.Unlock()
		g.emit(gameStateMsg{state: state})
		// Acknowledge so the host knows the snapshot arrived.
		ack := protocol.MustNew(protocol.TypeInteraction, protocol.Interaction{
			Kind:      protocol.InteractionStateReceived,
			Timestamp: time.Now().UnixMilli(),
		})
		if err := g.sess.SendToHost(ack); err != nil {
			log.Printf("game: state ack failed: %v", err)
		}

	case protocol.TypeInteractionRelay:
		var in protocol.Interaction
		if err := msg.Decode(&in); err != nil {
			log.Printf("game: bad interaction relay: %v", err)
			return
		}
		g.handleInteractionRelay(in)

	case protocol.TypeGameEnd:
		var end protocol.GameEnd
		if err := msg.Decode(&end); err != nil {
			log.Printf("game: bad game end: %v", err)
			return
		}
		g.emit(gameEndedMsg{solution: end.Solution})

	default:
		log.Printf("game: participant ignoring message type %s", msg.Type)
	}
}

func (g *participantGame) handleInteractionRelay(in protocol.Interaction) {
	switch in.Kind {
	case protocol.InteractionRaiseHand:
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "interaction", Sender: in.From, Content: "raised a hand"}})
	case protocol.InteractionThrowFlower:
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "interaction", Sender: in.From, Content: "sent a flower"}})
	case protocol.InteractionThrowTrash:
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "interaction", Sender: in.From, Content: "threw trash"}})
	case protocol.InteractionCallParticipant:
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "system", Sender: "Host", Content: "called on " + in.Nickname}})
	case protocol.InteractionDisconnect:
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "system", Sender: in.From, Content: "disconnected"}})
	case protocol.InteractionJoined:
		g.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "system", Sender: in.Nickname, Content: "joined"}})
	case protocol.InteractionTestResponse:
		g.emit(joinAnsweredMsg{})
	default:
		log.Printf("game: participant ignoring interaction relay %q", in.Kind)
	}
}
