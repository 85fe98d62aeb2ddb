package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/turtlesoup-online/turtlesoup/pkg/code"
	"github.com/turtlesoup-online/turtlesoup/pkg/directory"
	"github.com/turtlesoup-online/turtlesoup/pkg/protocol"
)

// CreateInvite publishes a room record under a fresh invite code and
// returns the code. Calling it again (re-invite, e.g. mid-game with a
// state snapshot in settings) supersedes the previous code. Host only.
func (m *Manager) CreateInvite(settings protocol.RoomSettings) (string, error) {
	if m.cfg.Role != Host {
		return "", errors.New("session: CreateInvite is host-only")
	}

	inviteCode := code.GenerateInviteCode()
	rec := directory.RoomRecord{
		HostID:    m.id,
		Settings:  settings,
		CreatedAt: time.Now(),
	}
	if err := m.cfg.Directory.PutRoom(inviteCode, rec, m.cfg.RoomTTL); err != nil {
		return "", fmt.Errorf("store room record: %w", err)
	}

	// Cache the encoded record so share links can carry the full data
	// out-of-band, as the original did through sessionStorage.
	encoded, err := code.Encode(rec)
	if err != nil {
		return "", err
	}
	if err := m.cfg.Directory.PutSessionValue(directory.InviteDataKey+inviteCode, encoded); err != nil {
		log.Printf("session: caching invite data failed: %v", err)
	}

	m.mu.Lock()
	m.currentCode = inviteCode
	m.mu.Unlock()
	return inviteCode, nil
}

// UpdateInvite refreshes the room record under the current invite
// code, e.g. to embed a game snapshot once play begins. The code and
// its TTL window start over. Host only.
func (m *Manager) UpdateInvite(settings protocol.RoomSettings) error {
	if m.cfg.Role != Host {
		return errors.New("session: UpdateInvite is host-only")
	}
	m.mu.Lock()
	inviteCode := m.currentCode
	m.mu.Unlock()
	if inviteCode == "" {
		return errors.New("session: no active invite")
	}

	rec := directory.RoomRecord{
		HostID:    m.id,
		Settings:  settings,
		CreatedAt: time.Now(),
	}
	if err := m.cfg.Directory.PutRoom(inviteCode, rec, m.cfg.RoomTTL); err != nil {
		return fmt.Errorf("refresh room record: %w", err)
	}
	encoded, err := code.Encode(rec)
	if err != nil {
		return err
	}
	if err := m.cfg.Directory.PutSessionValue(directory.InviteDataKey+inviteCode, encoded); err != nil {
		log.Printf("session: caching invite data failed: %v", err)
	}
	return nil
}

// CurrentInvite returns the most recently created invite code, or "".
func (m *Manager) CurrentInvite() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCode
}

// resolveOnce checks every known location for an invite code: the
// shared directory, then the session-scoped invite-data cache.
func (m *Manager) resolveOnce(inviteCode string) (directory.RoomRecord, bool) {
	rec, found, err := m.cfg.Directory.GetRoom(inviteCode)
	if err != nil {
		log.Printf("session: room lookup failed: %v", err)
	}
	if found {
		return rec, true
	}

	encoded, found, err := m.cfg.Directory.GetSessionValue(directory.InviteDataKey + inviteCode)
	if err != nil || !found {
		return directory.RoomRecord{}, false
	}
	if err := code.Decode(encoded, &rec); err != nil {
		log.Printf("session: cached invite data for %s is corrupt: %v", inviteCode, err)
		return directory.RoomRecord{}, false
	}
	// Promote the cached copy so later lookups hit the directory.
	if err := m.cfg.Directory.PutRoom(inviteCode, rec, m.cfg.RoomTTL); err != nil {
		log.Printf("session: promoting cached invite data failed: %v", err)
	}
	return rec, true
}

// ResolveInvite looks an invite code up, polling the directory until
// the bounded timeout in case the record arrives out-of-band. Fails
// with ErrInviteNotFound once every location has been exhausted.
func (m *Manager) ResolveInvite(ctx context.Context, rawCode string) (directory.RoomRecord, error) {
	inviteCode := code.NormalizeInviteCode(rawCode)
	if !code.ValidateInviteCode(inviteCode) {
		return directory.RoomRecord{}, fmt.Errorf("%w: malformed code %q", ErrInviteNotFound, rawCode)
	}

	if rec, ok := m.resolveOnce(inviteCode); ok {
		return rec, nil
	}

	// Remember what we are waiting for, mirroring the original's
	// pending_invite_code marker.
	_ = m.cfg.Directory.PutSessionValue(directory.PendingCodeKey, inviteCode)
	defer m.cfg.Directory.DeleteSessionValue(directory.PendingCodeKey)

	deadline := time.NewTimer(m.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return directory.RoomRecord{}, ctx.Err()
		case <-deadline.C:
			return directory.RoomRecord{}, fmt.Errorf("%w: %s", ErrInviteNotFound, inviteCode)
		case <-ticker.C:
			if rec, ok := m.resolveOnce(inviteCode); ok {
				return rec, nil
			}
		}
	}
}

// ShareLink builds a join URL carrying both the invite code and the
// full encoded room record, so recipients on other devices can resolve
// without shared storage.
func (m *Manager) ShareLink(base string) (string, error) {
	m.mu.Lock()
	inviteCode := m.currentCode
	m.mu.Unlock()
	if inviteCode == "" {
		return "", errors.New("session: no active invite")
	}

	encoded, found, err := m.cfg.Directory.GetSessionValue(directory.InviteDataKey + inviteCode)
	if err != nil || !found {
		// Re-encode from the directory if the cache was lost.
		rec, ok, err := m.cfg.Directory.GetRoom(inviteCode)
		if err != nil || !ok {
			return "", fmt.Errorf("%w: %s", ErrInviteNotFound, inviteCode)
		}
		encoded, err = code.Encode(rec)
		if err != nil {
			return "", err
		}
		_ = m.cfg.Directory.PutSessionValue(directory.InviteDataKey+inviteCode, encoded)
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse share base url: %w", err)
	}
	q := u.Query()
	q.Set("room", inviteCode)
	q.Set("data", encoded)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LoadShareLink imports a join URL produced by ShareLink: the embedded
// room record is stored locally so ResolveInvite succeeds, and the
// invite code is returned. A link carrying only the code marks it
// pending for the polling wait instead.
func (m *Manager) LoadShareLink(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse share link: %w", err)
	}
	inviteCode := code.NormalizeInviteCode(u.Query().Get("room"))
	if inviteCode == "" {
		return "", errors.New("session: share link has no room code")
	}
	encoded := u.Query().Get("data")
	if encoded == "" {
		_ = m.cfg.Directory.PutSessionValue(directory.PendingCodeKey, inviteCode)
		return inviteCode, nil
	}

	var rec directory.RoomRecord
	if err := code.Decode(encoded, &rec); err != nil {
		return "", err
	}
	if rec.HostID == "" {
		return "", fmt.Errorf("%w: share link data has no host", code.ErrDecode)
	}
	if err := m.cfg.Directory.PutRoom(inviteCode, rec, m.cfg.RoomTTL); err != nil {
		return "", fmt.Errorf("store shared room record: %w", err)
	}
	_ = m.cfg.Directory.PutSessionValue(directory.InviteDataKey+inviteCode, encoded)
	_ = m.cfg.Directory.PutSessionValue(directory.LoadedRoomKey, inviteCode)
	return inviteCode, nil
}
