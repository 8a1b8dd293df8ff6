package session

import (
	"testing"
	"time"

	"github.com/anthropics/agentmemory/internal/core"
	"github.com/anthropics/agentmemory/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	h, err := core.NewHeap(64)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	m, err := NewManager(h)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestRegisterIsUniqueAndCreatesHierarchyNodes(t *testing.T) {
	m := newTestManager(t)

	session, err := m.Register("sess-1", "agent-1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !session.RootNodeID.Valid() {
		t.Fatal("expected a valid root node id")
	}

	if _, err := m.Register("sess-1", "agent-1"); err == nil {
		t.Fatal("expected second Register of the same session id to fail")
	}
}

func TestUpdateContentDeduplicatesFilesAndIdentifiers(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Register("sess-1", "agent-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := m.UpdateContent("sess-1", "retryCount handles the retry logic for internal/core/hierarchy.go"); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if err := m.UpdateContent("sess-1", "retryCount is reused across calls, see internal/core/hierarchy.go again"); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}

	meta, err := m.GetMetadata("sess-1")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}

	fileCount := 0
	for _, f := range meta.FilesTouched {
		if f == "internal/core/hierarchy.go" {
			fileCount++
		}
	}
	if fileCount != 1 {
		t.Fatalf("expected the file path to be de-duplicated, got %d occurrences", fileCount)
	}

	idCount := 0
	for _, id := range meta.Identifiers {
		if id.Name == "retryCount" {
			idCount++
		}
	}
	if idCount != 1 {
		t.Fatalf("expected the identifier to be de-duplicated, got %d occurrences", idCount)
	}
}

func TestSetTitleMarksGenerated(t *testing.T) {
	m := newTestManager(t)
	m.Register("sess-1", "agent-1")

	if err := m.SetTitle("sess-1", "Debugging the arena allocator"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	meta, _ := m.GetMetadata("sess-1")
	if meta.Title != "Debugging the arena allocator" || !meta.TitleGenerated {
		t.Fatalf("unexpected title state: %+v", meta)
	}
}

func TestUpdateStatsAccumulates(t *testing.T) {
	m := newTestManager(t)
	m.Register("sess-1", "agent-1")

	m.UpdateStats("sess-1", 1, 2, 5)
	m.UpdateStats("sess-1", 1, 1, 3)

	meta, _ := m.GetMetadata("sess-1")
	if meta.MessageCount != 2 || meta.BlockCount != 3 || meta.StatementCount != 8 {
		t.Fatalf("unexpected stats: %+v", meta)
	}
}

func TestListFiltersByAgentAndTime(t *testing.T) {
	m := newTestManager(t)
	m.Register("sess-1", "agent-a")
	m.Register("sess-2", "agent-b")

	ids := m.List("agent-a", time.Time{}, time.Time{})
	if len(ids) != 1 || ids[0] != "sess-1" {
		t.Fatalf("expected only sess-1 for agent-a, got %v", ids)
	}

	future := time.Now().Add(time.Hour)
	if ids := m.List("", future, time.Time{}); len(ids) != 0 {
		t.Fatalf("expected no sessions active after %v, got %v", future, ids)
	}
}

func TestFindByKeywordAndFile(t *testing.T) {
	m := newTestManager(t)
	m.Register("sess-1", "agent-1")
	m.UpdateContent("sess-1", "investigating a deadlock in the scheduler package internal/scheduler/loop.go")

	if ids := m.FindByKeyword("DEADLOCK"); len(ids) != 1 {
		t.Fatalf("expected FindByKeyword to be case-insensitive, got %v", ids)
	}
	if ids := m.FindByFile("scheduler"); len(ids) != 1 {
		t.Fatalf("expected FindByFile substring match, got %v", ids)
	}
	if ids := m.FindByFile("nonexistent"); len(ids) != 0 {
		t.Fatalf("expected no matches, got %v", ids)
	}
}

func TestGetNextSequenceIsMonotonic(t *testing.T) {
	m := newTestManager(t)
	a := m.GetNextSequence()
	b := m.GetNextSequence()
	if b <= a {
		t.Fatalf("expected increasing sequence numbers, got %d then %d", a, b)
	}
}

func TestUpdateContentOnUnknownSessionFails(t *testing.T) {
	m := newTestManager(t)
	if err := m.UpdateContent("missing", "some text"); err != types.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// TestSessionMetadataSurvivesReopen exercises the sessions.dat round trip: a
// session's keywords, identifiers, files, title and counters are all
// accumulated, synced, and must come back intact from a fresh Manager
// bound to the same data directory.
func TestSessionMetadataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	h, err := core.Open(dir, 64, false)
	if err != nil {
		t.Fatalf("core.Open: %v", err)
	}
	m, err := NewManager(h)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := m.Register("sess-1", "agent-1"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.UpdateContent("sess-1", "retryCount handles the retry logic for internal/core/hierarchy.go"); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}
	if err := m.SetTitle("sess-1", "Debugging the arena allocator"); err != nil {
		t.Fatalf("SetTitle: %v", err)
	}
	if err := m.UpdateStats("sess-1", 2, 3, 8); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("hierarchy Close: %v", err)
	}

	h2, err := core.Open(dir, 64, false)
	if err != nil {
		t.Fatalf("core.Open (reopen): %v", err)
	}
	defer h2.Close()
	m2, err := NewManager(h2)
	if err != nil {
		t.Fatalf("NewManager (reopen): %v", err)
	}

	meta, err := m2.GetMetadata("sess-1")
	if err != nil {
		t.Fatalf("GetMetadata after reopen: %v", err)
	}
	if meta.Title != "Debugging the arena allocator" || !meta.TitleGenerated {
		t.Fatalf("title did not survive reopen: %+v", meta)
	}
	if meta.MessageCount != 2 || meta.BlockCount != 3 || meta.StatementCount != 8 {
		t.Fatalf("stats did not survive reopen: %+v", meta)
	}
	foundFile := false
	for _, f := range meta.FilesTouched {
		if f == "internal/core/hierarchy.go" {
			foundFile = true
		}
	}
	if !foundFile {
		t.Fatalf("files touched did not survive reopen: %+v", meta.FilesTouched)
	}
	foundID := false
	for _, id := range meta.Identifiers {
		if id.Name == "retryCount" {
			foundID = true
		}
	}
	if !foundID {
		t.Fatalf("identifiers did not survive reopen: %+v", meta.Identifiers)
	}

	// Sequence numbers must not collide across a reopen: the next one handed
	// out has to be strictly greater than anything persisted.
	if next := m2.GetNextSequence(); next <= meta.SequenceNum {
		t.Fatalf("expected sequence to continue past %d after reopen, got %d", meta.SequenceNum, next)
	}
}
