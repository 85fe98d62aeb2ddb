// Package protocol defines the application wire protocol spoken over an
// open peer link. Message type strings are part of the interop surface
// and must be preserved exactly.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Type tags an application message. The prefix namespaces the
// direction: C2H_ participant-to-host, H2A_ host-to-all.
type Type string

const (
	TypeQuestion         Type = "C2H_QUESTION"
	TypeInteraction      Type = "C2H_INTERACTION"
	TypeQuestionRelay    Type = "H2A_QUESTION_RELAY"
	TypeAnswer           Type = "H2A_ANSWER"
	TypeClue             Type = "H2A_CLUE"
	TypeGameState        Type = "H2A_GAME_STATE"
	TypeInteractionRelay Type = "H2A_INTERACTION_RELAY"
	TypeGameEnd          Type = "H2A_GAME_END"
)

var knownTypes = map[Type]bool{
	TypeQuestion:         true,
	TypeInteraction:      true,
	TypeQuestionRelay:    true,
	TypeAnswer:           true,
	TypeClue:             true,
	TypeGameState:        true,
	TypeInteractionRelay: true,
	TypeGameEnd:          true,
}

// Known reports whether t is part of the wire protocol. Routing drops
// unknown types instead of failing.
func (t Type) Known() bool {
	return knownTypes[t]
}

// Interaction sub-type values carried in the payload "type" field of
// C2H_INTERACTION and H2A_INTERACTION_RELAY messages.
const (
	InteractionRaiseHand       = "raise_hand"
	InteractionThrowFlower     = "throw_flower"
	InteractionThrowTrash      = "throw_trash"
	InteractionConnectionTest  = "connection_test"
	InteractionTestResponse    = "connection_test_response"
	InteractionCallParticipant = "call_participant"
	InteractionDisconnect      = "disconnect"
	InteractionJoined          = "participant_joined"
	InteractionConnectSuccess  = "connect_success"
	InteractionStateReceived   = "game_state_received"
)

// Message is one application message: a type tag plus an arbitrary
// JSON payload. Transient; never persisted.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a message of type t carrying payload.
func New(t Type, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Message{Type: t, Payload: data}, nil
}

// MustNew is New for payloads that cannot fail to marshal.
func MustNew(t Type, payload any) Message {
	m, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Parse reads a raw wire frame into a Message.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	return m, nil
}

// Encode renders the message as a wire frame.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
