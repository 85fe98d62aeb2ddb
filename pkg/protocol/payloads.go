package protocol

// Rules configures how a round is played.
type Rules struct {
	SoupType        string `json:"soupType"`        // "red" or other
	QuestionMode    string `json:"questionMode"`    // "free" or "raiseHand"
	InteractionMode string `json:"interactionMode"` // "allow" or "disallow"
}

// RoomSettings is what the host publishes with an invite: the visible
// puzzle title and rules, plus an optional snapshot for mid-game joins.
type RoomSettings struct {
	Title          string     `json:"title"`
	Rules          Rules      `json:"rules"`
	GameInProgress bool       `json:"gameInProgress,omitempty"`
	GameState      *GameState `json:"gameState,omitempty"`
}

// ChatEntry is one line of shared chat history.
type ChatEntry struct {
	Type    string `json:"type"` // question, answer, clue, interaction, system
	Sender  string `json:"sender,omitempty"`
	Content string `json:"content"`
}

// Question is the C2H_QUESTION payload.
type Question struct {
	Content string `json:"content"`
}

// QuestionRelay is the H2A_QUESTION_RELAY payload.
type QuestionRelay struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

// Answer is the H2A_ANSWER payload. Answer is "yes", "no" or "uncertain".
type Answer struct {
	Answer string `json:"answer"`
}

// Clue is the H2A_CLUE payload.
type Clue struct {
	Content string `json:"content"`
}

// GameState is the H2A_GAME_STATE payload, sent on game start and to
// late joiners (then with History filled in).
type GameState struct {
	Title        string      `json:"title"`
	Rules        Rules       `json:"rules"`
	Participants []string    `json:"participants"`
	History      []ChatEntry `json:"history,omitempty"`
	NewSoup      bool        `json:"newSoup,omitempty"`
}

// GameEnd is the H2A_GAME_END payload.
type GameEnd struct {
	Solution string `json:"solution"`
}

// Interaction is the payload of C2H_INTERACTION and
// H2A_INTERACTION_RELAY messages. Kind is one of the Interaction*
// constants; the remaining fields are kind-dependent.
type Interaction struct {
	Kind          string `json:"type"`
	From          string `json:"from,omitempty"`
	Message       string `json:"message,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}
