package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := NewStateFile(path, 500)

	state.Authorize("100")
	state.GrantMaster("200")
	state.AddKey("ABCDE1234")
	state.AppendDeletedMessage("[t] guild=g1 author=bob(300): hello")

	if err := state.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded := NewStateFile(path, 500)
	if err := loaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.IsAuthorized("100") {
		t.Fatalf("expected 100 authorized")
	}
	if !loaded.IsAuthorized("200") || !loaded.IsMaster("200") {
		t.Fatalf("expected 200 master and authorized")
	}
	if !loaded.HasKey("ABCDE1234") {
		t.Fatalf("expected pending key to survive round trip")
	}
	deleted := loaded.DeletedMessages(0)
	if len(deleted) != 1 || !strings.Contains(deleted[0], "hello") {
		t.Fatalf("unexpected deleted messages: %v", deleted)
	}
}

func TestStateFilePersistsIDsAsNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := NewStateFile(path, 500)
	state.GrantMaster("1429445483948015727")
	if err := state.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "1429445483948015727") {
		t.Fatalf("id missing from file: %s", data)
	}
	if strings.Contains(string(data), `"1429445483948015727"`) {
		t.Fatalf("id persisted as string, want number: %s", data)
	}
}

func TestStateFileLoadAcceptsStringIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	content := `{"authorized_users": ["100", 200], "master_users": [200], "valid_keys": ["QWERT0001"]}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	state := NewStateFile(path, 500)
	if err := state.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !state.IsAuthorized("100") || !state.IsAuthorized("200") {
		t.Fatalf("expected both id shapes authorized")
	}
	if !state.IsMaster("200") {
		t.Fatalf("expected 200 master")
	}
}

func TestStateFileLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	state := NewStateFile(path, 500)
	if err := state.Load(); err == nil {
		t.Fatalf("expected parse error")
	}
	if state.IsAuthorized("100") || state.PendingKeyCount() != 0 {
		t.Fatalf("expected empty state after malformed load")
	}
}

func TestStateFileLoadMissing(t *testing.T) {
	state := NewStateFile(filepath.Join(t.TempDir(), "absent.json"), 500)
	if err := state.Load(); err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
}

func TestDeletedMessagesCapFIFO(t *testing.T) {
	state := NewStateFile(filepath.Join(t.TempDir(), "state.json"), 10)
	for i := 0; i < 25; i++ {
		state.AppendDeletedMessage(fmt.Sprintf("entry-%d", i))
	}
	entries := state.DeletedMessages(0)
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	if entries[0] != "entry-15" || entries[9] != "entry-24" {
		t.Fatalf("expected oldest evicted first, got %v", entries)
	}
}

func TestFailedSaveStaysDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing", "state.json")
	state := NewStateFile(path, 500)
	state.Authorize("100")

	if err := state.Save(); err == nil {
		t.Fatalf("expected save into a missing directory to fail")
	}
	// the failed write must leave the state dirty so the flusher retries
	if err := state.SaveIfDirty(); err == nil {
		t.Fatalf("expected retry to attempt the write and fail again")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := state.SaveIfDirty(); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	loaded := NewStateFile(path, 500)
	if err := loaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.IsAuthorized("100") {
		t.Fatalf("mutation lost across failed save")
	}
	if err := state.SaveIfDirty(); err != nil {
		t.Fatalf("clean state flush: %v", err)
	}
}

func TestConsumeKeySingleUse(t *testing.T) {
	state := NewStateFile(filepath.Join(t.TempDir(), "state.json"), 500)
	state.AddKey("ABCDE1234")
	if !state.ConsumeKey("ABCDE1234") {
		t.Fatalf("first consume must succeed")
	}
	if state.ConsumeKey("ABCDE1234") {
		t.Fatalf("second consume must fail")
	}
}
