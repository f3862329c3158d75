package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wreckit/wreckit/internal/item"
	"github.com/wreckit/wreckit/internal/wreckerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), ".store")
	s := New(root, 2*time.Second)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Add Dark Mode":       "add-dark-mode",
		"  leading/trailing ": "leading-trailing",
		"Weird!!Punctuation??": "weird-punctuation",
		"":                    "untitled",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAllocateID_MonotonicWithinSection(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.AllocateID("features", "add dark mode")
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id1 != "features/001-add-dark-mode" {
		t.Errorf("id1 = %q, want features/001-add-dark-mode", id1)
	}

	id2, err := s.AllocateID("features", "add light mode")
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id2 != "features/002-add-light-mode" {
		t.Errorf("id2 = %q, want features/002-add-light-mode", id2)
	}

	// A different section starts its own ordinal sequence.
	id3, err := s.AllocateID("bugs", "crash on save")
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id3 != "bugs/001-crash-on-save" {
		t.Errorf("id3 = %q, want bugs/001-crash-on-save", id3)
	}
}

func TestAllocateID_NeverReusesOrdinal(t *testing.T) {
	s := newTestStore(t)
	id1, _ := s.AllocateID("features", "one")
	// Simulate deletion of the item directory; the index entry remains (the
	// fix-up is Doctor's concern), but AllocateID still scans the directory
	// tree, which is now gone too, so re-derive directly: create the dir to
	// simulate "existed once" and then remove it.
	dir := s.ItemDir(id1)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	id2, err := s.AllocateID("features", "two")
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}
	if id2 != "features/002-two" {
		t.Errorf("id2 = %q, want features/002-two (ordinal must not be reused)", id2)
	}
}

func TestSaveItem_ThenLoadItem_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AllocateID("features", "dark mode")
	if err != nil {
		t.Fatalf("AllocateID: %v", err)
	}

	it := &item.Item{
		ID:        id,
		Title:     "dark mode",
		Section:   "features",
		State:     item.StateIdea,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveItem(it); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	loaded, err := s.LoadItem(id)
	if err != nil {
		t.Fatalf("LoadItem: %v", err)
	}
	if loaded.ID != id || loaded.State != item.StateIdea {
		t.Errorf("loaded item mismatch: %+v", loaded)
	}
}

func TestSaveItem_UpdatesIndex(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateID("features", "dark mode")
	it := &item.Item{ID: id, Title: "dark mode", Section: "features", State: item.StateResearching}
	if err := s.SaveItem(it); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	ids, err := s.ListItems(func(id string, e IndexEntry) bool {
		return e.State == item.StateResearching
	})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("ListItems = %v, want [%s]", ids, id)
	}
}

func TestLoadItem_MissingReturnsFileNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadItem("features/999-ghost")
	kind, ok := wreckerr.KindOf(err)
	if !ok || kind != wreckerr.KindFileNotFound {
		t.Errorf("expected FileNotFound, got %v (ok=%v)", kind, ok)
	}
}

func TestLoadItem_MalformedJSONReturnsInvalidJSON(t *testing.T) {
	s := newTestStore(t)
	dir := s.ItemDir("features/001-broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "item.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := s.LoadItem("features/001-broken")
	kind, ok := wreckerr.KindOf(err)
	if !ok || kind != wreckerr.KindInvalidJSON {
		t.Errorf("expected InvalidJson, got %v (ok=%v)", kind, ok)
	}
}

func TestWriteArtifact_ThenReadArtifact(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateID("features", "dark mode")
	content := []byte("# Summary\n\nsome content\n")
	if err := s.WriteArtifact(id, "research.md", content); err != nil {
		t.Fatalf("WriteArtifact: %v", err)
	}
	got, err := s.ReadArtifact(id, "research.md")
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("ReadArtifact = %q, want %q", got, content)
	}
	if !s.ArtifactExists(id, "research.md") {
		t.Error("expected ArtifactExists to report true")
	}
}

func TestAtomicWrite_NoPartialWriteObservedOnFailureCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "item.json")
	if err := atomicWrite(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("atomicWrite: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "item.json" {
			t.Errorf("unexpected leftover temp file: %s", e.Name())
		}
	}
}

func TestAcquireItemLock_ReleaseAllowsReacquire(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateID("features", "lockable")
	if err := os.MkdirAll(s.ItemDir(id), 0o755); err != nil {
		t.Fatal(err)
	}

	lock, err := s.AcquireItemLock(id)
	if err != nil {
		t.Fatalf("AcquireItemLock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	lock2, err := s.AcquireItemLock(id)
	if err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	defer lock2.Release()
}

func TestAcquireItemLock_TimesOutWhenHeld(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), ".store"), 100*time.Millisecond)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	id, _ := s.AllocateID("features", "contended")
	if err := os.MkdirAll(s.ItemDir(id), 0o755); err != nil {
		t.Fatal(err)
	}

	lock, err := s.AcquireItemLock(id)
	if err != nil {
		t.Fatalf("AcquireItemLock: %v", err)
	}
	defer lock.Release()

	_, err = s.AcquireItemLock(id)
	kind, ok := wreckerr.KindOf(err)
	if !ok || kind != wreckerr.KindResourceBusy {
		t.Errorf("expected ResourceBusy on contended lock, got %v (ok=%v)", kind, ok)
	}
}

func TestRebuildIndex_ReconstructsFromDisk(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AllocateID("features", "rebuild me")
	it := &item.Item{ID: id, Title: "rebuild me", Section: "features", State: item.StateResearched}
	if err := s.SaveItem(it); err != nil {
		t.Fatalf("SaveItem: %v", err)
	}

	// Corrupt the index directly to simulate drift.
	if err := os.WriteFile(filepath.Join(s.Root, indexFileName), []byte(`{"items":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := s.RebuildIndex(); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	ids, err := s.ListItems(nil)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("ListItems after rebuild = %v, want [%s]", ids, id)
	}
}

func TestAppendHealingLog_AppendsJSONLine(t *testing.T) {
	s := newTestStore(t)
	type record struct {
		Timestamp string `json:"timestamp"`
		Action    string `json:"action"`
	}
	if err := s.AppendHealingLog(record{Timestamp: "t1", Action: "rebuild_index"}); err != nil {
		t.Fatalf("AppendHealingLog: %v", err)
	}
	if err := s.AppendHealingLog(record{Timestamp: "t2", Action: "delete_stale_lock"}); err != nil {
		t.Fatalf("AppendHealingLog: %v", err)
	}

	lines, err := ReadArtifactLines(s.HealingLogPath())
	if err != nil {
		t.Fatalf("ReadArtifactLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var r record
	if err := json.Unmarshal([]byte(lines[0]), &r); err != nil {
		t.Fatalf("unmarshal line: %v", err)
	}
	if r.Action != "rebuild_index" {
		t.Errorf("Action = %q, want rebuild_index", r.Action)
	}
}
