package directory

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	code       TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_responses (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	host_id    TEXT NOT NULL,
	entry      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_host ON pending_responses(host_id);
CREATE TABLE IF NOT EXISTS signals (
	peer_id  TEXT PRIMARY KEY,
	envelope TEXT NOT NULL
);
`

// SQLite is a Directory persisted in a SQLite database, for relay
// deployments that must survive restarts. Session-scoped values stay
// in memory.
type SQLite struct {
	db *sql.DB

	mu      sync.Mutex
	session map[string]string
}

// OpenSQLite opens (or creates) the directory database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("directory: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite directory: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite directory: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply directory schema: %w", err)
	}
	return &SQLite{db: db, session: make(map[string]string)}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) PutRoom(code string, rec RoomRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultRoomTTL
	}
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal room record: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO rooms (code, record, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET record=excluded.record, created_at=excluded.created_at, expires_at=excluded.expires_at`,
		code, string(record), now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	return err
}

func (s *SQLite) GetRoom(code string) (RoomRecord, bool, error) {
	var record string
	var expiresAt int64
	err := s.db.QueryRow(`SELECT record, expires_at FROM rooms WHERE code = ?`, code).
		Scan(&record, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomRecord{}, false, nil
	}
	if err != nil {
		return RoomRecord{}, false, err
	}
	if time.Now().UnixMilli() > expiresAt {
		return RoomRecord{}, false, nil
	}
	var rec RoomRecord
	if err := json.Unmarshal([]byte(record), &rec); err != nil {
		return RoomRecord{}, false, fmt.Errorf("unmarshal room record: %w", err)
	}
	return rec, true, nil
}

func (s *SQLite) ListExpiredRooms(now time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT code FROM rooms WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *SQLite) DeleteRoom(code string) error {
	_, err := s.db.Exec(`DELETE FROM rooms WHERE code = ?`, code)
	return err
}

func (s *SQLite) EnqueuePendingResponse(hostID string, entry PendingResponse) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal pending response: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO pending_responses (host_id, entry, created_at) VALUES (?, ?, ?)`,
		hostID, string(data), time.Now().UnixMilli(),
	)
	return err
}

func (s *SQLite) ListPendingResponses(hostID string) ([]PendingResponse, error) {
	rows, err := s.db.Query(
		`SELECT entry FROM pending_responses WHERE host_id = ? ORDER BY id`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []PendingResponse
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var entry PendingResponse
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal pending response: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *SQLite) RemovePendingResponses(hostID string, indices []int) error {
	// Indices refer to the ordered listing; map them back to row ids.
	rows, err := s.db.Query(
		`SELECT id FROM pending_responses WHERE host_id = ? ORDER BY id`, hostID)
	if err != nil {
		return err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, i := range indices {
		if i < 0 || i >= len(ids) {
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM pending_responses WHERE id = ?`, ids[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) PutSignal(peerID string, envelope string) error {
	_, err := s.db.Exec(
		`INSERT INTO signals (peer_id, envelope) VALUES (?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET envelope=excluded.envelope`,
		peerID, envelope,
	)
	return err
}

func (s *SQLite) TakeSignal(peerID string) (string, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback()
	var envelope string
	err = tx.QueryRow(`SELECT envelope FROM signals WHERE peer_id = ?`, peerID).Scan(&envelope)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := tx.Exec(`DELETE FROM signals WHERE peer_id = ?`, peerID); err != nil {
		return "", false, err
	}
	return envelope, true, tx.Commit()
}

func (s *SQLite) PutSessionValue(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session[key] = value
	return nil
}

func (s *SQLite) GetSessionValue(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.session[key]
	return v, ok, nil
}

func (s *SQLite) DeleteSessionValue(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.session, key)
	return nil
}
