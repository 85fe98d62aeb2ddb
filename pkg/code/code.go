// Package code converts signaling payloads and room records into short
// copy-pasteable strings and back, and generates the human-enterable
// invite codes that name rooms.
package code

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// ErrDecode reports a malformed code: not valid base64, not valid
// percent-encoding, or not valid JSON. Distinct from "code not found".
var ErrDecode = errors.New("invalid or corrupted code")

// Invite code alphabet excludes 0/O/1/I/L to avoid transcription errors.
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var rng *rand.Rand

func init() {
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Encode serializes v to JSON, percent-encodes it so non-ASCII room
// titles survive, then base64-encodes the result. The output is an
// opaque transport-safe ASCII blob.
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode code: %w", err)
	}
	escaped := url.QueryEscape(string(data))
	return base64.StdEncoding.EncodeToString([]byte(escaped)), nil
}

// Decode reverses Encode into v. Any failure along the chain wraps
// ErrDecode so callers can distinguish corruption from lookup misses.
func Decode(encoded string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	unescaped, err := url.QueryUnescape(string(raw))
	if err != nil {
		return fmt.Errorf("%w: percent-encoding: %v", ErrDecode, err)
	}
	if err := json.Unmarshal([]byte(unescaped), v); err != nil {
		return fmt.Errorf("%w: json: %v", ErrDecode, err)
	}
	return nil
}

// GenerateInviteCode creates a random 6-10 character invite code from
// the restricted alphabet.
func GenerateInviteCode() string {
	length := 6 + rng.Intn(5)
	var b strings.Builder
	for i := 0; i < length; i++ {
		b.WriteByte(inviteAlphabet[rng.Intn(len(inviteAlphabet))])
	}
	return b.String()
}

// NormalizeInviteCode ensures consistent formatting (uppercase, trimmed)
func NormalizeInviteCode(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// ValidateInviteCode checks length and alphabet membership.
func ValidateInviteCode(c string) bool {
	if len(c) < 6 || len(c) > 10 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if !strings.ContainsRune(inviteAlphabet, rune(c[i])) {
			return false
		}
	}
	return true
}
