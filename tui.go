package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skip2/go-qrcode"

	"github.com/turtlesoup-online/turtlesoup/pkg/protocol"
	"github.com/turtlesoup-online/turtlesoup/pkg/session"
)

// View states
const (
	viewHostSetup = iota
	viewHostConnect
	viewJoin
	viewJoinWait
	viewGame
	viewGameEnd
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	clueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

// Messages
type tickMsg time.Time

type errMsg struct {
	err string
}

// sessionReadyMsg carries the freshly created host session and invite
type sessionReadyMsg struct {
	sess       *session.Manager
	game       *hostGame
	cleanup    func()
	inviteCode string
	shareLink  string
}

// offerReadyMsg carries the participant's request code to display
type offerReadyMsg struct {
	sess        *session.Manager
	game        *participantGame
	cleanup     func()
	requestCode string
}

// acceptedMsg reports handshakes answered during one accept pass
type acceptedMsg struct {
	peers []session.AcceptedPeer
}

// setupField indices on the host setup form
const (
	fieldTitle = iota
	fieldSolution
	fieldSoupType
	fieldQuestionMode
	fieldInteractionMode
	fieldCount
)

type model struct {
	config Config

	view     int
	width    int
	height   int
	quitting bool

	lastError  string
	statusLine string

	// Shared infrastructure, created once the role is known
	sess    *session.Manager
	cleanup func()
	host    *hostGame
	part    *participantGame
	events  chan any

	// Host setup form
	setupCursor int
	title       string
	solution    string
	rules       protocol.Rules

	// Connection view
	inviteCode  string
	shareLink   string
	requestCode string
	pasteBuf    string
	peers       []session.Peer
	raisedHands []handRaisedMsg
	lastAnswer  string // most recent answer code for manual relay

	// Game view
	history      []protocol.ChatEntry
	gameTitle    string
	inputBuf     string
	inputFocused bool
}

// RunTUI launches the interactive client for the configured role.
func RunTUI(config Config) error {
	m := initialModel(config)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func initialModel(config Config) model {
	m := model{
		config: config,
		events: make(chan any, 1),
		rules: protocol.Rules{
			SoupType:        "red",
			QuestionMode:    "free",
			InteractionMode: "allow",
		},
	}
	if config.Host {
		m.view = viewHostSetup
	} else {
		m.view = viewJoin
		m.pasteBuf = config.Join
	}
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.SetWindowTitle("Turtle Soup"),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// listenEvents forwards one game event into the TUI loop.
func listenEvents(events chan any) tea.Cmd {
	return func() tea.Msg {
		return <-events
	}
}

// startHostCmd builds the host session and publishes the invite.
func (m *model) startHostCmd() tea.Cmd {
	config := m.config
	title := m.title
	solution := m.solution
	rules := m.rules
	return func() tea.Msg {
		dir, cleanup, err := openDirectory(config)
		if err != nil {
			return errMsg{err: err.Error()}
		}

		var game *hostGame
		sess, err := newSession(config, session.Host, dir, session.Callbacks{
			OnMessage:          func(msg protocol.Message, id, nick string) { game.HandleMessage(msg, id, nick) },
			OnPeerConnected:    func(id, nick string) { game.PeerConnected(id, nick) },
			OnPeerDisconnected: func(id, nick string) { game.PeerDisconnected(id, nick) },
		})
		if err != nil {
			cleanup()
			return errMsg{err: err.Error()}
		}

		inviteCode, err := sess.CreateInvite(protocol.RoomSettings{Title: title, Rules: rules})
		if err != nil {
			sess.Close()
			cleanup()
			return errMsg{err: err.Error()}
		}
		shareLink, _ := sess.ShareLink("https://turtlesoup.online/join")

		game = newHostGame(sess, title, solution, rules)
		return sessionReadyMsg{sess: sess, game: game, cleanup: cleanup, inviteCode: inviteCode, shareLink: shareLink}
	}
}

// startJoinCmd builds the participant session and begins the offer.
func (m *model) startJoinCmd(target string) tea.Cmd {
	config := m.config
	return func() tea.Msg {
		dir, cleanup, err := openDirectory(config)
		if err != nil {
			return errMsg{err: err.Error()}
		}

		var game *participantGame
		sess, err := newSession(config, session.Participant, dir, session.Callbacks{
			OnMessage: func(msg protocol.Message, id, nick string) { game.HandleMessage(msg, id, nick) },
			OnPeerConnected: func(id, nick string) {
				game.emit(joinAnsweredMsg{})
			},
			OnPeerDisconnected: func(id, nick string) {
				game.emit(chatAddedMsg{entry: protocol.ChatEntry{Type: "system", Sender: nick, Content: "disconnected"}})
			},
		})
		if err != nil {
			cleanup()
			return errMsg{err: err.Error()}
		}
		game = newParticipantGame(sess)

		code := target
		if strings.Contains(target, "://") {
			code, err = sess.LoadShareLink(target)
			if err != nil {
				sess.Close()
				cleanup()
				return errMsg{err: err.Error()}
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		requestCode, err := sess.BeginOffer(ctx, config.Nickname, code)
		if err != nil {
			sess.Close()
			cleanup()
			return errMsg{err: err.Error()}
		}
		return offerReadyMsg{sess: sess, game: game, cleanup: cleanup, requestCode: requestCode}
	}
}

// acceptPendingCmd answers queued join requests on the host side.
func acceptPendingCmd(sess *session.Manager) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		peers, err := sess.AcceptPending(ctx)
		if err != nil {
			return errMsg{err: err.Error()}
		}
		if len(peers) == 0 {
			return nil
		}
		return acceptedMsg{peers: peers}
	}
}

// answerPasteCmd answers one manually pasted request code.
func answerPasteCmd(sess *session.Manager, requestCode string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		peer, err := sess.BeginAnswerFor(ctx, requestCode)
		if err != nil {
			return errMsg{err: err.Error()}
		}
		return acceptedMsg{peers: []session.AcceptedPeer{peer}}
	}
}

// completeAnswerCmd applies a manually pasted answer code.
func completeAnswerCmd(sess *session.Manager, answerCode string) tea.Cmd {
	return func() tea.Msg {
		if err := sess.CompleteWithAnswer(answerCode); err != nil {
			return errMsg{err: err.Error()}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		cmds := []tea.Cmd{tickCmd()}
		// The host sweeps its pending-join queue every tick.
		if m.sess != nil && m.sess.Role() == session.Host {
			cmds = append(cmds, acceptPendingCmd(m.sess))
		}
		return m, tea.Batch(cmds...)

	case errMsg:
		m.lastError = msg.err
		return m, nil

	case sessionReadyMsg:
		m.sess = msg.sess
		m.host = msg.game
		m.cleanup = msg.cleanup
		m.inviteCode = msg.inviteCode
		m.shareLink = msg.shareLink
		m.view = viewHostConnect
		m.lastError = ""
		m.statusLine = ""
		return m, listenEvents(m.hostEvents())

	case offerReadyMsg:
		m.sess = msg.sess
		m.part = msg.game
		m.cleanup = msg.cleanup
		m.requestCode = msg.requestCode
		m.pasteBuf = ""
		m.view = viewJoinWait
		m.lastError = ""
		m.statusLine = "Waiting for the host to answer..."
		return m, listenEvents(m.partEvents())

	case acceptedMsg:
		for _, p := range msg.peers {
			m.lastAnswer = p.AnswerCode
			m.statusLine = fmt.Sprintf("Answered %s, waiting for the channel to open", p.Nickname)
		}
		return m, nil

	case chatAddedMsg:
		m.history = append(m.history, msg.entry)
		return m, m.listenCurrent()

	case peersChangedMsg:
		m.peers = msg.peers
		return m, m.listenCurrent()

	case handRaisedMsg:
		m.raisedHands = append(m.raisedHands, msg)
		return m, m.listenCurrent()

	case gameStateMsg:
		m.gameTitle = msg.state.Title
		if len(msg.state.History) > 0 {
			m.history = append([]protocol.ChatEntry{}, msg.state.History...)
		}
		m.view = viewGame
		m.statusLine = fmt.Sprintf("Playing with %d participant(s)", len(msg.state.Participants))
		return m, m.listenCurrent()

	case joinAnsweredMsg:
		if m.view == viewJoinWait {
			m.statusLine = "Connected. Waiting for the host to start the game..."
		}
		return m, m.listenCurrent()

	case gameEndedMsg:
		m.view = viewGameEnd
		m.statusLine = "Solution: " + msg.solution
		return m, m.listenCurrent()
	}

	return m, nil
}

// hostEvents and partEvents pick the live event channel.
func (m *model) hostEvents() chan any {
	if m.host != nil {
		return m.host.events
	}
	return m.events
}

func (m *model) partEvents() chan any {
	if m.part != nil {
		return m.part.events
	}
	return m.events
}

func (m *model) listenCurrent() tea.Cmd {
	if m.host != nil {
		return listenEvents(m.host.events)
	}
	if m.part != nil {
		return listenEvents(m.part.events)
	}
	return listenEvents(m.events)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.shutdown()
		return m, tea.Quit
	}

	switch m.view {
	case viewHostSetup:
		return m.handleSetupKey(msg)
	case viewHostConnect:
		return m.handleConnectKey(msg)
	case viewJoin:
		return m.handleJoinKey(msg)
	case viewJoinWait:
		return m.handleJoinWaitKey(msg)
	case viewGame:
		return m.handleGameKey(msg)
	case viewGameEnd:
		if msg.String() == "q" {
			m.shutdown()
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *model) shutdown() {
	m.quitting = true
	if m.sess != nil {
		m.sess.Close()
	}
	if m.cleanup != nil {
		m.cleanup()
	}
}

// cycleRule advances a tri-state/bi-state rule field.
func cycleRule(current string, options ...string) string {
	for i, opt := range options {
		if opt == current {
			return options[(i+1)%len(options)]
		}
	}
	return options[0]
}

func (m model) handleSetupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		m.setupCursor = (m.setupCursor + 1) % fieldCount
		return m, nil
	case "shift+tab", "up":
		m.setupCursor = (m.setupCursor + fieldCount - 1) % fieldCount
		return m, nil
	case "enter":
		switch m.setupCursor {
		case fieldSoupType:
			m.rules.SoupType = cycleRule(m.rules.SoupType, "red", "clear")
		case fieldQuestionMode:
			m.rules.QuestionMode = cycleRule(m.rules.QuestionMode, "free", "raiseHand")
		case fieldInteractionMode:
			m.rules.InteractionMode = cycleRule(m.rules.InteractionMode, "allow", "disallow")
		default:
			if m.title == "" || m.solution == "" {
				m.lastError = "Both the riddle and its solution are required"
				return m, nil
			}
			m.lastError = ""
			m.statusLine = "Creating invite..."
			return m, m.startHostCmd()
		}
		return m, nil
	case "backspace":
		switch m.setupCursor {
		case fieldTitle:
			m.title = trimLastRune(m.title)
		case fieldSolution:
			m.solution = trimLastRune(m.solution)
		}
		return m, nil
	}

	if len(msg.Runes) > 0 {
		switch m.setupCursor {
		case fieldTitle:
			m.title += string(msg.Runes)
		case fieldSolution:
			m.solution += string(msg.Runes)
		}
	}
	return m, nil
}

func (m model) handleConnectKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.pasteBuf != "" {
			code := strings.TrimSpace(m.pasteBuf)
			m.pasteBuf = ""
			return m, answerPasteCmd(m.sess, code)
		}
		// Start the game once someone is connected.
		if len(m.peers) == 0 {
			m.lastError = "At least one participant must be connected"
			return m, nil
		}
		delivered := m.host.Start()
		m.gameTitle = m.title
		m.view = viewGame
		m.statusLine = fmt.Sprintf("Game started, state sent to %d participant(s)", delivered)
		return m, nil
	case "backspace":
		m.pasteBuf = trimLastRune(m.pasteBuf)
		return m, nil
	case "q":
		if m.pasteBuf == "" {
			m.shutdown()
			return m, tea.Quit
		}
	}
	if len(msg.Runes) > 0 {
		m.pasteBuf += string(msg.Runes)
	}
	return m, nil
}

func (m model) handleJoinKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		target := strings.TrimSpace(m.pasteBuf)
		if target == "" {
			m.lastError = "Enter an invite code or share link"
			return m, nil
		}
		m.lastError = ""
		m.statusLine = "Looking up the room..."
		return m, m.startJoinCmd(target)
	case "backspace":
		m.pasteBuf = trimLastRune(m.pasteBuf)
		return m, nil
	}
	if len(msg.Runes) > 0 {
		m.pasteBuf += string(msg.Runes)
	}
	return m, nil
}

func (m model) handleJoinWaitKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.pasteBuf != "" {
			code := strings.TrimSpace(m.pasteBuf)
			m.pasteBuf = ""
			return m, completeAnswerCmd(m.sess, code)
		}
		return m, nil
	case "backspace":
		m.pasteBuf = trimLastRune(m.pasteBuf)
		return m, nil
	}
	if len(msg.Runes) > 0 {
		m.pasteBuf += string(msg.Runes)
	}
	return m, nil
}

func (m model) handleGameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	isHost := m.sess != nil && m.sess.Role() == session.Host

	if m.inputFocused {
		switch msg.String() {
		case "esc", "tab":
			m.inputFocused = false
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.inputBuf)
			m.inputBuf = ""
			m.inputFocused = false
			if text == "" {
				return m, nil
			}
			if isHost {
				m.host.SendClue(text)
			} else {
				if err := m.part.SendQuestion(text); err != nil {
					m.lastError = err.Error()
				} else {
					m.history = append(m.history, protocol.ChatEntry{Type: "question", Sender: "You", Content: text})
				}
			}
			return m, nil
		case "backspace":
			m.inputBuf = trimLastRune(m.inputBuf)
			return m, nil
		}
		if len(msg.Runes) > 0 {
			m.inputBuf += string(msg.Runes)
		}
		return m, nil
	}

	switch msg.String() {
	case "tab", "i", "enter":
		m.inputFocused = true
		return m, nil
	case "q":
		m.shutdown()
		return m, tea.Quit
	}

	if isHost {
		switch msg.String() {
		case "y":
			m.host.SendAnswer("yes")
		case "n":
			m.host.SendAnswer("no")
		case "u":
			m.host.SendAnswer("uncertain")
		case "c":
			m.inputFocused = true
		case "g":
			m.host.End()
		case "d":
			if len(m.raisedHands) > 0 {
				hand := m.raisedHands[0]
				m.raisedHands = m.raisedHands[1:]
				m.host.CallParticipant(hand.peerID, hand.nickname)
			}
		}
		return m, nil
	}

	switch msg.String() {
	case "r":
		if err := m.part.RaiseHand(); err != nil {
			m.lastError = err.Error()
		}
	case "f":
		if err := m.part.ThrowFlower(); err != nil {
			m.lastError = err.Error()
		}
	case "t":
		if err := m.part.ThrowTrash(); err != nil {
			m.lastError = err.Error()
		}
	}
	return m, nil
}

func trimLastRune(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	return string(runes[:len(runes)-1])
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Turtle Soup") + "\n\n")

	switch m.view {
	case viewHostSetup:
		b.WriteString(m.viewSetup())
	case viewHostConnect:
		b.WriteString(m.viewConnect())
	case viewJoin:
		b.WriteString(m.viewJoin())
	case viewJoinWait:
		b.WriteString(m.viewJoinWait())
	case viewGame:
		b.WriteString(m.viewGame())
	case viewGameEnd:
		b.WriteString(m.viewEnd())
	}

	if m.lastError != "" {
		b.WriteString("\n" + errorStyle.Render("Error: "+m.lastError))
	}
	if m.statusLine != "" {
		b.WriteString("\n" + statusStyle.Render(m.statusLine))
	}
	return b.String()
}

func (m model) viewSetup() string {
	field := func(idx int, label, value string) string {
		line := fmt.Sprintf("%s: %s", label, value)
		if m.setupCursor == idx {
			return selectedStyle.Render("> " + line)
		}
		return normalStyle.Render("  " + line)
	}

	var b strings.Builder
	b.WriteString(boxStyle.Render(strings.Join([]string{
		field(fieldTitle, "Riddle", m.title),
		field(fieldSolution, "Solution (hidden from players)", m.solution),
		field(fieldSoupType, "Soup type", m.rules.SoupType),
		field(fieldQuestionMode, "Question mode", m.rules.QuestionMode),
		field(fieldInteractionMode, "Interactions", m.rules.InteractionMode),
	}, "\n")))
	b.WriteString("\n" + helpStyle.Render("tab: next field • enter: toggle / create invite • ctrl+c: quit"))
	return b.String()
}

func (m model) viewConnect() string {
	var b strings.Builder
	b.WriteString("Invite code: " + codeStyle.Render(m.inviteCode) + "\n")
	if m.shareLink != "" {
		b.WriteString("Share link:  " + dimStyle.Render(m.shareLink) + "\n")
		if qr, err := qrcode.New(m.shareLink, qrcode.Low); err == nil {
			b.WriteString(qr.ToSmallString(false))
		}
	}
	b.WriteString("\n")

	if len(m.peers) == 0 {
		b.WriteString(dimStyle.Render("No participants connected yet") + "\n")
	} else {
		b.WriteString(fmt.Sprintf("Connected (%d):\n", len(m.peers)))
		for _, p := range m.peers {
			b.WriteString("  " + selectedStyle.Render(p.Nickname) + "\n")
		}
	}

	if m.lastAnswer != "" {
		b.WriteString("\nAnswer code for manual relay:\n" + dimStyle.Render(m.lastAnswer) + "\n")
	}

	b.WriteString("\nPaste a request code (optional, auto-accept also runs):\n")
	b.WriteString(boxStyle.Render(m.pasteBuf+"▏") + "\n")
	b.WriteString(helpStyle.Render("enter: answer pasted code / start game • q: quit"))
	return b.String()
}

func (m model) viewJoin() string {
	var b strings.Builder
	b.WriteString("Join a game as " + selectedStyle.Render(m.config.Nickname) + "\n\n")
	b.WriteString("Invite code or share link:\n")
	b.WriteString(boxStyle.Render(m.pasteBuf+"▏") + "\n")
	b.WriteString(helpStyle.Render("enter: join • ctrl+c: quit"))
	return b.String()
}

func (m model) viewJoinWait() string {
	var b strings.Builder
	b.WriteString("Your request code (give this to the host if auto-connect stalls):\n")
	b.WriteString(dimStyle.Render(m.requestCode) + "\n\n")
	b.WriteString("Host answer code (only needed for manual handshakes):\n")
	b.WriteString(boxStyle.Render(m.pasteBuf+"▏") + "\n")
	b.WriteString(helpStyle.Render("enter: apply answer code • ctrl+c: quit"))
	return b.String()
}

func (m model) viewGame() string {
	isHost := m.sess != nil && m.sess.Role() == session.Host

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.gameTitle) + "\n")
	if isHost {
		b.WriteString(dimStyle.Render("Solution: "+m.solution) + "\n")
	}
	b.WriteString("\n")

	// Last screenful of history
	start := 0
	maxLines := m.height - 12
	if maxLines > 0 && len(m.history) > maxLines {
		start = len(m.history) - maxLines
	}
	for _, entry := range m.history[start:] {
		b.WriteString(renderChatEntry(entry) + "\n")
	}

	if isHost && len(m.raisedHands) > 0 {
		names := make([]string, 0, len(m.raisedHands))
		for _, hand := range m.raisedHands {
			names = append(names, hand.nickname)
		}
		b.WriteString("\nRaised hands: " + clueStyle.Render(strings.Join(names, ", ")) + "\n")
	}

	b.WriteString("\n")
	if m.inputFocused {
		b.WriteString(boxStyle.Render(m.inputBuf+"▏") + "\n")
		b.WriteString(helpStyle.Render("enter: send • esc: cancel"))
	} else if isHost {
		b.WriteString(helpStyle.Render("y/n/u: answer • c: clue • d: call on raised hand • g: end game • q: quit"))
	} else {
		b.WriteString(helpStyle.Render("enter: ask a question • r: raise hand • f: flower • t: trash • q: quit"))
	}
	return b.String()
}

func (m model) viewEnd() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Game over") + "\n\n")
	b.WriteString(m.statusLine + "\n\n")
	b.WriteString(helpStyle.Render("q: quit"))
	return b.String()
}

func renderChatEntry(entry protocol.ChatEntry) string {
	switch entry.Type {
	case "question":
		return normalStyle.Render(fmt.Sprintf("%s asks: %s", entry.Sender, entry.Content))
	case "answer":
		return selectedStyle.Render("Host: " + entry.Content)
	case "clue":
		return clueStyle.Render("Clue: " + entry.Content)
	case "interaction":
		return dimStyle.Render(fmt.Sprintf("%s %s", entry.Sender, entry.Content))
	default:
		return dimStyle.Render(fmt.Sprintf("%s %s", entry.Sender, entry.Content))
	}
}
