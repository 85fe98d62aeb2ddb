package directory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/turtlesoup-online/turtlesoup/pkg/protocol"
)

func sampleRecord(hostID string) RoomRecord {
	return RoomRecord{
		HostID: hostID,
		Settings: protocol.RoomSettings{
			Title: "The Silent Diner",
			Rules: protocol.Rules{SoupType: "red", QuestionMode: "free", InteractionMode: "allow"},
		},
		CreatedAt: time.Now(),
	}
}

func TestMemoryRoomRoundTrip(t *testing.T) {
	dir := NewMemory()
	rec := sampleRecord("host-1")
	if err := dir.PutRoom("K7PQ2M", rec, time.Hour); err != nil {
		t.Fatalf("put room: %v", err)
	}

	got, found, err := dir.GetRoom("K7PQ2M")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if !found {
		t.Fatal("expected room to be found")
	}
	if got.HostID != "host-1" || got.Settings.Title != "The Silent Diner" {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, found, _ := dir.GetRoom("MISSING"); found {
		t.Fatal("expected miss for unknown code")
	}
}

func TestMemoryRoomExpiry(t *testing.T) {
	dir := NewMemory()
	now := time.Now()
	dir.SetClock(func() time.Time { return now })

	if err := dir.PutRoom("K7PQ2M", sampleRecord("host-1"), DefaultRoomTTL); err != nil {
		t.Fatalf("put room: %v", err)
	}

	// Just inside the TTL the record resolves.
	now = now.Add(DefaultRoomTTL - time.Minute)
	if _, found, _ := dir.GetRoom("K7PQ2M"); !found {
		t.Fatal("expected room to resolve before expiry")
	}

	// Past the TTL it does not, and the sweep lists it.
	now = now.Add(2 * time.Minute)
	if _, found, _ := dir.GetRoom("K7PQ2M"); found {
		t.Fatal("expected expired room to be hidden")
	}
	expired, err := dir.ListExpiredRooms(now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0] != "K7PQ2M" {
		t.Fatalf("expected [K7PQ2M], got %v", expired)
	}
}

func TestMemoryPendingQueue(t *testing.T) {
	dir := NewMemory()
	for _, nick := range []string{"alice", "bob", "carol"} {
		err := dir.EnqueuePendingResponse("host-1", PendingResponse{
			HostID: "host-1", Nickname: nick, ResponseCode: "code-" + nick, Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	entries, err := dir.ListPendingResponses("host-1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Remove the first two; the third survives with its content intact.
	if err := dir.RemovePendingResponses("host-1", []int{0, 1}); err != nil {
		t.Fatalf("remove pending: %v", err)
	}
	entries, _ = dir.ListPendingResponses("host-1")
	if len(entries) != 1 || entries[0].Nickname != "carol" {
		t.Fatalf("expected carol to remain, got %+v", entries)
	}

	// Out-of-range and duplicate indices are tolerated.
	if err := dir.RemovePendingResponses("host-1", []int{0, 0, 99, -1}); err != nil {
		t.Fatalf("remove with odd indices: %v", err)
	}
	entries, _ = dir.ListPendingResponses("host-1")
	if len(entries) != 0 {
		t.Fatalf("expected empty queue, got %+v", entries)
	}
}

func TestMemorySignalConsumedOnce(t *testing.T) {
	dir := NewMemory()
	if err := dir.PutSignal("peer-1", "envelope-data"); err != nil {
		t.Fatalf("put signal: %v", err)
	}

	got, found, err := dir.TakeSignal("peer-1")
	if err != nil {
		t.Fatalf("take signal: %v", err)
	}
	if !found || got != "envelope-data" {
		t.Fatalf("expected envelope-data, got %q found=%v", got, found)
	}

	if _, found, _ := dir.TakeSignal("peer-1"); found {
		t.Fatal("expected second take to miss")
	}
}

func TestMemorySessionValues(t *testing.T) {
	dir := NewMemory()
	if err := dir.PutSessionValue(PendingCodeKey, "K7PQ2M"); err != nil {
		t.Fatalf("put session value: %v", err)
	}
	v, found, _ := dir.GetSessionValue(PendingCodeKey)
	if !found || v != "K7PQ2M" {
		t.Fatalf("expected K7PQ2M, got %q found=%v", v, found)
	}
	if err := dir.DeleteSessionValue(PendingCodeKey); err != nil {
		t.Fatalf("delete session value: %v", err)
	}
	if _, found, _ := dir.GetSessionValue(PendingCodeKey); found {
		t.Fatal("expected value to be deleted")
	}
}

func TestFileDirectoryPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.json")

	first := NewFile(path)
	if err := first.PutRoom("K7PQ2M", sampleRecord("host-1"), time.Hour); err != nil {
		t.Fatalf("put room: %v", err)
	}
	if err := first.PutSignal("peer-1", "envelope"); err != nil {
		t.Fatalf("put signal: %v", err)
	}

	// A second instance over the same file sees the shared state.
	second := NewFile(path)
	rec, found, err := second.GetRoom("K7PQ2M")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if !found || rec.HostID != "host-1" {
		t.Fatalf("expected host-1 record, got %+v found=%v", rec, found)
	}

	got, found, _ := second.TakeSignal("peer-1")
	if !found || got != "envelope" {
		t.Fatalf("expected envelope, got %q found=%v", got, found)
	}
	// The take is visible to the first instance too.
	if _, found, _ := first.TakeSignal("peer-1"); found {
		t.Fatal("expected signal to be consumed once across instances")
	}
}

func TestFileDirectoryToleratesMissingFile(t *testing.T) {
	dir := NewFile(filepath.Join(t.TempDir(), "never-written.json"))
	if _, found, err := dir.GetRoom("K7PQ2M"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
}

func TestSQLiteDirectoryRoundTrip(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	if err := db.PutRoom("K7PQ2M", sampleRecord("host-1"), time.Hour); err != nil {
		t.Fatalf("put room: %v", err)
	}
	rec, found, err := db.GetRoom("K7PQ2M")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if !found || rec.Settings.Title != "The Silent Diner" {
		t.Fatalf("unexpected record %+v found=%v", rec, found)
	}

	// Overwriting under the same code supersedes the old record.
	updated := sampleRecord("host-2")
	if err := db.PutRoom("K7PQ2M", updated, time.Hour); err != nil {
		t.Fatalf("overwrite room: %v", err)
	}
	rec, _, _ = db.GetRoom("K7PQ2M")
	if rec.HostID != "host-2" {
		t.Fatalf("expected host-2 after overwrite, got %s", rec.HostID)
	}

	if err := db.DeleteRoom("K7PQ2M"); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	if _, found, _ := db.GetRoom("K7PQ2M"); found {
		t.Fatal("expected room to be deleted")
	}
}

func TestSQLitePendingAndSignals(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "directory.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	for _, nick := range []string{"alice", "bob"} {
		err := db.EnqueuePendingResponse("host-1", PendingResponse{
			HostID: "host-1", Nickname: nick, ResponseCode: "code-" + nick, Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	entries, err := db.ListPendingResponses("host-1")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(entries) != 2 || entries[0].Nickname != "alice" {
		t.Fatalf("expected ordered [alice bob], got %+v", entries)
	}
	if err := db.RemovePendingResponses("host-1", []int{0}); err != nil {
		t.Fatalf("remove pending: %v", err)
	}
	entries, _ = db.ListPendingResponses("host-1")
	if len(entries) != 1 || entries[0].Nickname != "bob" {
		t.Fatalf("expected bob to remain, got %+v", entries)
	}

	if err := db.PutSignal("peer-1", "envelope"); err != nil {
		t.Fatalf("put signal: %v", err)
	}
	got, found, err := db.TakeSignal("peer-1")
	if err != nil || !found || got != "envelope" {
		t.Fatalf("expected envelope, got %q found=%v err=%v", got, found, err)
	}
	if _, found, _ := db.TakeSignal("peer-1"); found {
		t.Fatal("expected second take to miss")
	}
}
