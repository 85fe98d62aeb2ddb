package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/turtlesoup-online/turtlesoup/pkg/directory"
	"github.com/turtlesoup-online/turtlesoup/pkg/link"
	"github.com/turtlesoup-online/turtlesoup/pkg/relay"
	"github.com/turtlesoup-online/turtlesoup/pkg/session"
	"github.com/turtlesoup-online/turtlesoup/pkg/settings"
)

// DefaultRelayServer is the default remote relay for cross-device rendezvous
const DefaultRelayServer = "wss://relay.turtlesoup.online/directory"

// LocalRelayServer is the URL for a relay running on this machine
const LocalRelayServer = "ws://localhost:8080/directory"

// Config holds runtime configuration
type Config struct {
	ServeMode bool
	Port      int
	Host      bool
	Join      string
	Nickname  string
	RelayURL  string
	DBPath    string
	Local     bool
	Help      bool

	// TURN server configuration
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
}

func parseFlags() Config {
	config := Config{}

	flag.BoolVar(&config.ServeMode, "serve", false, "Run as relay server only")
	flag.BoolVar(&config.ServeMode, "s", false, "Run as relay server only (shorthand)")

	flag.IntVar(&config.Port, "port", 8080, "Relay server port")
	flag.IntVar(&config.Port, "p", 8080, "Relay server port (shorthand)")

	flag.BoolVar(&config.Host, "host", false, "Host a new game")
	flag.StringVar(&config.Join, "join", "", "Join a game by invite code or share link")
	flag.StringVar(&config.Nickname, "nick", "", "Nickname shown to other players")

	flag.StringVar(&config.RelayURL, "relay", "", "Custom relay server URL (overrides default)")
	flag.BoolVar(&config.Local, "local", false, "Rendezvous through the local config dir instead of a relay")
	flag.StringVar(&config.DBPath, "db", "", "Back the relay with a SQLite file at this path (with --serve)")

	// TURN server flags
	flag.StringVar(&config.TURNServer, "turn", "", "TURN server URL (e.g., turn:turn.example.com:3478)")
	flag.StringVar(&config.TURNUser, "turn-user", "", "TURN server username")
	flag.StringVar(&config.TURNPass, "turn-pass", "", "TURN server password")
	flag.BoolVar(&config.ForceRelay, "force-relay", false, "Force TURN relay (disable direct P2P)")

	flag.BoolVar(&config.Help, "help", false, "Show help")
	flag.BoolVar(&config.Help, "h", false, "Show help (shorthand)")

	flag.Parse()

	return config
}

func printHelp() {
	fmt.Println(`Turtle Soup - P2P lateral-thinking riddles over WebRTC

Usage: turtlesoup [options]

By default, turtlesoup rendezvouses through the remote relay at:
  ` + DefaultRelayServer + `

Game traffic itself is peer-to-peer; the relay only passes invite
records and connection codes. Handshakes also work fully offline by
pasting codes between players.

Options:
  --host                 Host a new game
  --join <code|link>     Join a game by invite code or share link
  --nick <name>          Nickname shown to other players
  --local                Rendezvous through the local config dir (same machine)
  --relay <url>          Custom relay server URL (overrides default)
  --serve, -s            Run as relay server only
  --port, -p <port>      Relay server port (default: 8080)
  --db <path>            SQLite file backing the relay (with --serve)
  --help, -h             Show help

Network Options:
  --turn <url>           TURN server URL (e.g., turn:turn.example.com:3478)
  --turn-user <user>     TURN server username
  --turn-pass <pass>     TURN server password
  --force-relay          Force TURN relay (disable direct P2P connections)

Examples:
  turtlesoup --host                  # Host a game through the remote relay
  turtlesoup --join K7PQ2M           # Join by invite code
  turtlesoup --serve --db relay.db   # Run a relay with persistent storage
  turtlesoup --host --local          # Host for players on this machine

TUI Controls:
  Enter         Send question / answer / accept join request
  Tab           Cycle input focus
  y/n/u         Answer yes, no, uncertain (host, selected question)
  c             Send a clue (host)
  d             Call on the first raised hand (host)
  g             End the game and reveal the solution (host)
  r             Raise hand (participant)
  f / t         Throw a flower / trash (participant)
  q, Ctrl+C     Quit`)
}

func main() {
	config := parseFlags()

	if config.Help {
		printHelp()
		return
	}

	// Server-only mode
	if config.ServeMode {
		runRelayServer(config)
		return
	}

	// Persisted preferences fill the gaps the flags leave
	saved, err := settings.Load()
	if err != nil {
		log.Printf("Could not load settings: %v", err)
	}
	if config.Nickname == "" {
		config.Nickname = saved.Nickname
	}
	if config.RelayURL == "" {
		config.RelayURL = saved.RelayURL
	}
	if config.TURNServer == "" {
		config.TURNServer = saved.TURNServer
		config.TURNUser = saved.TURNUsername
		config.TURNPass = saved.TURNPassword
		config.ForceRelay = saved.ForceRelay
	}
	if config.RelayURL == "" && !config.Local {
		config.RelayURL = DefaultRelayServer
	}

	if err := RunTUI(config); err != nil {
		log.Fatalf("TUI error: %v", err)
	}
}

// openDirectory picks the rendezvous store: remote relay by default,
// the shared config-dir file in local mode.
func openDirectory(config Config) (directory.Directory, func(), error) {
	if config.Local {
		path, err := directory.DefaultPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve local directory path: %v", err)
		}
		return directory.NewFile(path), func() {}, nil
	}

	remote, err := directory.DialRemote(config.RelayURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to relay: %v", err)
	}
	return remote, func() { remote.Close() }, nil
}

// linkFactory builds the WebRTC factory with any configured TURN relay.
func linkFactory(config Config) *link.WebRTCFactory {
	var turn *link.TURNConfig
	if config.TURNServer != "" {
		turn = &link.TURNConfig{
			Server:     config.TURNServer,
			Username:   config.TURNUser,
			Password:   config.TURNPass,
			ForceRelay: config.ForceRelay,
		}
	}
	return link.NewWebRTCFactory(turn)
}

func newSession(config Config, role session.Role, dir directory.Directory, callbacks session.Callbacks) (*session.Manager, error) {
	return session.New(session.Config{
		Role:      role,
		Nickname:  config.Nickname,
		Directory: dir,
		Links:     linkFactory(config),
		Callbacks: callbacks,
	})
}

func runRelayServer(config Config) {
	var store directory.Directory
	if config.DBPath != "" {
		db, err := directory.OpenSQLite(config.DBPath)
		if err != nil {
			log.Fatalf("Failed to open relay database: %v", err)
		}
		defer db.Close()
		store = db
	} else {
		store = directory.NewMemory()
	}

	server := relay.NewServer(store)
	addr := fmt.Sprintf(":%d", config.Port)

	fmt.Printf("Starting relay server on http://localhost%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.StartServer(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
