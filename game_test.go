package main

import (
	"context"
	"testing"
	"time"

	"github.com/turtlesoup-online/turtlesoup/pkg/directory"
	"github.com/turtlesoup-online/turtlesoup/pkg/link"
	"github.com/turtlesoup-online/turtlesoup/pkg/protocol"
	"github.com/turtlesoup-online/turtlesoup/pkg/session"
)

// newTable builds a connected host plus participants over the
// in-process transport, mirroring the TUI's late-bound wiring.
func newTable(t *testing.T, rules protocol.Rules, nicknames ...string) (*hostGame, []*participantGame) {
	t.Helper()
	dir := directory.NewMemory()
	net := link.NewMemoryNetwork()
	ctx := context.Background()

	var hg *hostGame
	hostSess, err := session.New(session.Config{
		Role:      session.Host,
		Nickname:  "Host",
		Directory: dir,
		Links:     net,
		Callbacks: session.Callbacks{
			OnMessage: func(msg protocol.Message, fromID, fromNickname string) {
				hg.HandleMessage(msg, fromID, fromNickname)
			},
			OnPeerConnected:    func(id, nickname string) { hg.PeerConnected(id, nickname) },
			OnPeerDisconnected: func(id, nickname string) { hg.PeerDisconnected(id, nickname) },
		},
		PollInterval: time.Hour,
		PollTimeout:  2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("host session: %v", err)
	}
	t.Cleanup(hostSess.Close)
	hg = newHostGame(hostSess, "The Silent Diner", "He was the lighthouse keeper", rules)

	inviteCode, err := hostSess.CreateInvite(protocol.RoomSettings{Title: "The Silent Diner", Rules: rules})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	var games []*participantGame
	for _, nick := range nicknames {
		var pg *participantGame
		partSess, err := session.New(session.Config{
			Role:      session.Participant,
			Nickname:  nick,
			Directory: dir,
			Links:     net,
			Callbacks: session.Callbacks{
				OnMessage: func(msg protocol.Message, fromID, fromNickname string) {
					pg.HandleMessage(msg, fromID, fromNickname)
				},
			},
			PollInterval: time.Hour,
			PollTimeout:  2 * time.Hour,
		})
		if err != nil {
			t.Fatalf("participant session: %v", err)
		}
		t.Cleanup(partSess.Close)
		pg = newParticipantGame(partSess)

		requestCode, err := partSess.BeginOffer(ctx, nick, inviteCode)
		if err != nil {
			t.Fatalf("begin offer for %s: %v", nick, err)
		}
		accepted, err := hostSess.BeginAnswerFor(ctx, requestCode)
		if err != nil {
			t.Fatalf("begin answer for %s: %v", nick, err)
		}
		if err := partSess.CompleteWithAnswer(accepted.AnswerCode); err != nil {
			t.Fatalf("complete for %s: %v", nick, err)
		}
		games = append(games, pg)
	}
	return hg, games
}

// drain empties an event queue of connection-time noise.
func drain(ch chan any) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// nextEvent pops one pending event; all delivery in these tests is
// synchronous, so an empty queue means the event never fired.
func nextEvent(t *testing.T, ch chan any) any {
	t.Helper()
	select {
	case e := <-ch:
		return e
	default:
		t.Fatal("expected a pending event")
		return nil
	}
}

func assertNoEvent(t *testing.T, ch chan any) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("expected no event, got %#v", e)
	default:
	}
}

func freeRules() protocol.Rules {
	return protocol.Rules{SoupType: "red", QuestionMode: "free", InteractionMode: "allow"}
}

func TestQuestionRelayedToEveryone(t *testing.T) {
	hg, parts := newTable(t, freeRules(), "alice", "bob")
	alice, bob := parts[0], parts[1]

	hg.Start()
	drain(hg.events)
	drain(alice.events)
	drain(bob.events)

	if err := alice.SendQuestion("Did he do it on purpose?"); err != nil {
		t.Fatalf("send question: %v", err)
	}

	// The host records it and both participants see the relay, the
	// asker included.
	ev := nextEvent(t, hg.events)
	added, ok := ev.(chatAddedMsg)
	if !ok || added.entry.Type != "question" || added.entry.Sender != "alice" {
		t.Fatalf("unexpected host event %#v", ev)
	}
	for _, pg := range []*participantGame{alice, bob} {
		ev := nextEvent(t, pg.events)
		added, ok := ev.(chatAddedMsg)
		if !ok || added.entry.Sender != "alice" || added.entry.Content != "Did he do it on purpose?" {
			t.Fatalf("unexpected participant event %#v", ev)
		}
	}

	hg.mu.Lock()
	historyLen := len(hg.history)
	hg.mu.Unlock()
	if historyLen != 1 {
		t.Fatalf("expected 1 history entry, got %d", historyLen)
	}
}

func TestAnswerAndClueReachParticipants(t *testing.T) {
	hg, parts := newTable(t, freeRules(), "alice")
	alice := parts[0]

	hg.Start()
	drain(hg.events)
	drain(alice.events)

	hg.SendAnswer("yes")
	ev := nextEvent(t, alice.events)
	if added, ok := ev.(chatAddedMsg); !ok || added.entry.Type != "answer" || added.entry.Content != "Yes" {
		t.Fatalf("unexpected answer event %#v", ev)
	}

	hg.SendClue("the fog horn was silent that night")
	ev = nextEvent(t, alice.events)
	if added, ok := ev.(chatAddedMsg); !ok || added.entry.Type != "clue" || added.entry.Sender != "Host" {
		t.Fatalf("unexpected clue event %#v", ev)
	}
}

func TestRaiseHandModeGating(t *testing.T) {
	rules := freeRules()
	rules.QuestionMode = "raiseHand"
	hg, parts := newTable(t, rules, "alice", "bob")
	alice, bob := parts[0], parts[1]

	hg.Start()
	drain(hg.events)
	drain(alice.events)
	drain(bob.events)

	if err := alice.RaiseHand(); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	ev := nextEvent(t, hg.events)
	raised, ok := ev.(handRaisedMsg)
	if !ok || raised.nickname != "alice" {
		t.Fatalf("unexpected host event %#v", ev)
	}
	ev = nextEvent(t, bob.events)
	if added, ok := ev.(chatAddedMsg); !ok || added.entry.Content != "raised a hand" {
		t.Fatalf("unexpected relay event %#v", ev)
	}
}

func TestCallOnRaisedHand(t *testing.T) {
	rules := freeRules()
	rules.QuestionMode = "raiseHand"
	hg, parts := newTable(t, rules, "alice", "bob")
	alice, bob := parts[0], parts[1]

	hg.Start()
	drain(hg.events)
	drain(alice.events)
	drain(bob.events)

	if err := alice.RaiseHand(); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	raised, ok := nextEvent(t, hg.events).(handRaisedMsg)
	if !ok {
		t.Fatal("expected a raised hand on the host side")
	}
	drain(alice.events)
	drain(bob.events)

	hg.CallParticipant(raised.peerID, raised.nickname)

	// Everyone sees who got the floor, the caller included.
	for _, pg := range []*participantGame{alice, bob} {
		ev := nextEvent(t, pg.events)
		added, ok := ev.(chatAddedMsg)
		if !ok || added.entry.Type != "system" || added.entry.Content != "called on alice" {
			t.Fatalf("unexpected call event %#v", ev)
		}
	}
	ev := nextEvent(t, hg.events)
	if added, ok := ev.(chatAddedMsg); !ok || added.entry.Content != "called on alice" {
		t.Fatalf("unexpected host call event %#v", ev)
	}
}

func TestStartPublishesGameSnapshot(t *testing.T) {
	hg, _ := newTable(t, freeRules(), "alice")

	rec, err := hg.sess.ResolveInvite(context.Background(), hg.sess.CurrentInvite())
	if err != nil {
		t.Fatalf("resolve before start: %v", err)
	}
	if rec.Settings.GameInProgress || rec.Settings.GameState != nil {
		t.Fatalf("expected a fresh room record, got %+v", rec.Settings)
	}

	hg.Start()

	// Starting rewrites the room record so late resolvers see the game
	// in progress with a snapshot.
	rec, err = hg.sess.ResolveInvite(context.Background(), hg.sess.CurrentInvite())
	if err != nil {
		t.Fatalf("resolve after start: %v", err)
	}
	if !rec.Settings.GameInProgress {
		t.Fatal("expected gameInProgress in the refreshed record")
	}
	if rec.Settings.GameState == nil || rec.Settings.GameState.Title != "The Silent Diner" {
		t.Fatalf("expected a state snapshot, got %+v", rec.Settings.GameState)
	}
}

func TestRaiseHandIgnoredInFreeMode(t *testing.T) {
	hg, parts := newTable(t, freeRules(), "alice", "bob")
	alice, bob := parts[0], parts[1]

	hg.Start()
	drain(hg.events)
	drain(alice.events)
	drain(bob.events)

	if err := alice.RaiseHand(); err != nil {
		t.Fatalf("raise hand: %v", err)
	}
	assertNoEvent(t, hg.events)
	assertNoEvent(t, bob.events)
}

func TestInteractionsRespectDisallow(t *testing.T) {
	rules := freeRules()
	rules.InteractionMode = "disallow"
	hg, parts := newTable(t, rules, "alice", "bob")
	alice, bob := parts[0], parts[1]

	hg.Start()
	drain(hg.events)
	drain(alice.events)
	drain(bob.events)

	if err := alice.ThrowFlower(); err != nil {
		t.Fatalf("throw flower: %v", err)
	}
	if err := alice.ThrowTrash(); err != nil {
		t.Fatalf("throw trash: %v", err)
	}
	assertNoEvent(t, hg.events)
	assertNoEvent(t, bob.events)
}

func TestFlowerAndTrashRelay(t *testing.T) {
	hg, parts := newTable(t, freeRules(), "alice", "bob")
	alice, bob := parts[0], parts[1]

	hg.Start()
	drain(hg.events)
	drain(alice.events)
	drain(bob.events)

	if err := alice.ThrowFlower(); err != nil {
		t.Fatalf("throw flower: %v", err)
	}
	ev := nextEvent(t, bob.events)
	if added, ok := ev.(chatAddedMsg); !ok || added.entry.Content != "sent a flower" || added.entry.Sender != "alice" {
		t.Fatalf("unexpected flower relay %#v", ev)
	}
	ev = nextEvent(t, hg.events)
	if added, ok := ev.(chatAddedMsg); !ok || added.entry.Type != "interaction" {
		t.Fatalf("unexpected host flower event %#v", ev)
	}
}

func TestConnectionConfirmedBeforeStart(t *testing.T) {
	_, parts := newTable(t, freeRules(), "alice")
	alice := parts[0]
	drain(alice.events)

	if err := alice.TestConnection(); err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if _, ok := nextEvent(t, alice.events).(joinAnsweredMsg); !ok {
		t.Fatal("expected join confirmation before the game starts")
	}
}

func TestStateReplayAfterStart(t *testing.T) {
	hg, parts := newTable(t, freeRules(), "alice")
	alice := parts[0]

	hg.Start()
	hg.SendClue("nobody ordered the soup")
	drain(hg.events)
	drain(alice.events)

	// Mid-game the connection test comes back as a full state snapshot
	// with history instead of a plain ack.
	if err := alice.TestConnection(); err != nil {
		t.Fatalf("test connection: %v", err)
	}
	ev := nextEvent(t, alice.events)
	state, ok := ev.(gameStateMsg)
	if !ok {
		t.Fatalf("expected game state, got %#v", ev)
	}
	if state.state.Title != "The Silent Diner" {
		t.Fatalf("unexpected title %q", state.state.Title)
	}
	if len(state.state.History) != 1 || state.state.History[0].Content != "nobody ordered the soup" {
		t.Fatalf("expected clue in replayed history, got %+v", state.state.History)
	}
	if alice.Rules().QuestionMode != "free" {
		t.Fatalf("expected rules to be captured, got %+v", alice.Rules())
	}
}

func TestGameStartDeliversRules(t *testing.T) {
	rules := freeRules()
	rules.SoupType = "clear"
	hg, parts := newTable(t, rules, "alice")
	alice := parts[0]
	drain(alice.events)

	if got := hg.Start(); got != 1 {
		t.Fatalf("expected start to reach 1 participant, got %d", got)
	}
	ev := nextEvent(t, alice.events)
	state, ok := ev.(gameStateMsg)
	if !ok {
		t.Fatalf("expected game state, got %#v", ev)
	}
	if state.state.Rules.SoupType != "clear" {
		t.Fatalf("unexpected rules %+v", state.state.Rules)
	}
	if len(state.state.History) != 0 {
		t.Fatalf("expected no history at start, got %+v", state.state.History)
	}
}

func TestGameEndRevealsSolution(t *testing.T) {
	hg, parts := newTable(t, freeRules(), "alice")
	alice := parts[0]

	hg.Start()
	drain(hg.events)
	drain(alice.events)

	hg.End()
	ev := nextEvent(t, alice.events)
	end, ok := ev.(gameEndedMsg)
	if !ok || end.solution != "He was the lighthouse keeper" {
		t.Fatalf("unexpected end event %#v", ev)
	}
	ev = nextEvent(t, hg.events)
	if _, ok := ev.(gameEndedMsg); !ok {
		t.Fatalf("expected host end event, got %#v", ev)
	}
}

func TestDisconnectAnnouncedToRemainingPlayers(t *testing.T) {
	hg, parts := newTable(t, freeRules(), "alice", "bob")
	alice, bob := parts[0], parts[1]

	hg.Start()
	drain(hg.events)
	drain(alice.events)
	drain(bob.events)

	bob.sess.Close()

	ev := nextEvent(t, hg.events)
	changed, ok := ev.(peersChangedMsg)
	if !ok || len(changed.peers) != 1 || changed.peers[0].Nickname != "alice" {
		t.Fatalf("unexpected peers event %#v", ev)
	}
	ev = nextEvent(t, alice.events)
	if added, ok := ev.(chatAddedMsg); !ok || added.entry.Type != "system" || added.entry.Sender != "bob" {
		t.Fatalf("unexpected disconnect relay %#v", ev)
	}
}

func TestAnswerLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "yes", want: "Yes"},
		{in: "no", want: "No"},
		{in: "uncertain", want: "Uncertain"},
		{in: "", want: "Uncertain"},
	}
	for _, tt := range tests {
		if got := answerLabel(tt.in); got != tt.want {
			t.Fatalf("answerLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
