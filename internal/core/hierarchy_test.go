package core

import (
	"errors"
	"testing"

	"github.com/anthropics/agentmemory/pkg/types"
)

func TestCreateAgentIsIdempotent(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}

	id1, status1, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if status1 != Created {
		t.Fatalf("expected Created on first call, got %v", status1)
	}

	id2, status2, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent (repeat): %v", err)
	}
	if status2 != Exists {
		t.Fatalf("expected Exists on repeat call, got %v", status2)
	}
	if id1 != id2 {
		t.Fatalf("expected same node id, got %d and %d", id1, id2)
	}
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	s1, status1, err := h.CreateSession(agent, "sess-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if status1 != Created {
		t.Fatalf("expected Created, got %v", status1)
	}
	s2, status2, err := h.CreateSession(agent, "sess-1")
	if err != nil {
		t.Fatalf("CreateSession (repeat): %v", err)
	}
	if status2 != Exists || s1 != s2 {
		t.Fatalf("expected idempotent session creation, got (%d,%v) then (%d,%v)", s1, status1, s2, status2)
	}
}

func TestCreateChildRejectsInvalidLevel(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	session, _, err := h.CreateSession(agent, "sess-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Session (level 3) cannot parent another session (level 3): child
	// level must be strictly below parent level.
	if _, err := h.CreateChild(session, types.LevelSession); !errors.Is(err, types.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
}

func TestTypedHelpersEnforceExactParentLevel(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	// CreateMessage requires a session-level parent; agent is not one.
	if _, err := h.CreateMessage(agent); !errors.Is(err, types.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel from CreateMessage(agent), got %v", err)
	}
}

func TestSetGetTextAndEmbedding(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	if err := h.SetText(agent, "hello world"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	got, err := h.GetText(agent)
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if got != "hello world" {
		t.Fatalf("GetText = %q, want %q", got, "hello world")
	}

	vec := make([]float32, types.EmbeddingDim)
	vec[0] = 1
	if err := h.SetEmbedding(agent, vec); err != nil {
		t.Fatalf("SetEmbedding: %v", err)
	}
	gotVec, err := h.GetEmbedding(agent)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if gotVec[0] != 1 {
		t.Fatalf("GetEmbedding()[0] = %v, want 1", gotVec[0])
	}
}

func TestSetRoleRoundTrips(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if err := h.SetRole(agent, "assistant"); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	node, err := h.GetNode(agent)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Role != "assistant" {
		t.Fatalf("Role = %q, want %q", node.Role, "assistant")
	}
}

func TestOpenReplaysTextFromWAL(t *testing.T) {
	dir := t.TempDir()

	h, err := Open(dir, 16, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	session, _, err := h.CreateSession(agent, "session-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	message, err := h.CreateMessage(session)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := h.SetText(message, "remember this across a restart"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, 16, false)
	if err != nil {
		t.Fatalf("Open (reopen): %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetText(message)
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if got != "remember this across a restart" {
		t.Fatalf("GetText after reopen = %q, want %q", got, "remember this across a restart")
	}
}

func TestSimilarityZeroAcrossLevels(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	session, _, err := h.CreateSession(agent, "sess-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	sim, err := h.Similarity(agent, session)
	if err != nil {
		t.Fatalf("Similarity: %v", err)
	}
	if sim != 0 {
		t.Fatalf("expected 0 similarity across differing levels, got %v", sim)
	}
}

func TestIterSessionsVisitsRegisteredSessions(t *testing.T) {
	h, err := NewHeap(16)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	agent, _, err := h.CreateAgent("agent-1")
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if _, _, err := h.CreateSession(agent, "sess-1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, _, err := h.CreateSession(agent, "sess-2"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	seen := map[string]bool{}
	h.IterSessions(func(id types.NodeID, agentID, sessionID string) bool {
		seen[sessionID] = true
		return true
	})
	if !seen["sess-1"] || !seen["sess-2"] {
		t.Fatalf("expected both sessions visited, got %v", seen)
	}
}
