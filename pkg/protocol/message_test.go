package protocol

import (
	"strings"
	"testing"
)

func TestKnownTypes(t *testing.T) {
	known := []Type{
		TypeQuestion, TypeInteraction, TypeQuestionRelay, TypeAnswer,
		TypeClue, TypeGameState, TypeInteractionRelay, TypeGameEnd,
	}
	for _, typ := range known {
		if !typ.Known() {
			t.Fatalf("expected %s to be known", typ)
		}
	}

	unknown := []Type{"", "c2h_question", "H2A_BROADCAST", "QUESTION"}
	for _, typ := range unknown {
		if typ.Known() {
			t.Fatalf("expected %q to be unknown", typ)
		}
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msg, err := New(TypeQuestion, Question{Content: "Did he drink the soup?"})
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Type != TypeQuestion {
		t.Fatalf("expected type %s, got %s", TypeQuestion, parsed.Type)
	}
	var q Question
	if err := parsed.Decode(&q); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if q.Content != "Did he drink the soup?" {
		t.Fatalf("unexpected content %q", q.Content)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json at all")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestInteractionPayloadKindField(t *testing.T) {
	// The sub-type rides the payload "type" field on the wire.
	msg := MustNew(TypeInteraction, Interaction{Kind: InteractionRaiseHand, From: "alice"})
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `"type":"raise_hand"`
	if !strings.Contains(string(data), want) {
		t.Fatalf("expected frame to contain %s, got %s", want, data)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var in Interaction
	if err := parsed.Decode(&in); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if in.Kind != InteractionRaiseHand || in.From != "alice" {
		t.Fatalf("unexpected interaction %+v", in)
	}
}
