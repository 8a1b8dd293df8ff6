package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/agentmemory/internal/core"
	"github.com/anthropics/agentmemory/internal/embedding"
	"github.com/anthropics/agentmemory/internal/search"
	"github.com/anthropics/agentmemory/internal/session"
	"github.com/anthropics/agentmemory/pkg/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	hierarchy, err := core.NewHeap(64)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	embedder := embedding.NewStubEngine()
	pooler := core.NewPooler(hierarchy, embedder)
	sessions, err := session.NewManager(hierarchy)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	searchConfig := types.DefaultConfig().Search
	searchEngine, err := search.NewEngine(hierarchy, embedder, searchConfig)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	return NewServer(types.DefaultConfig().Server, hierarchy, pooler, searchEngine, sessions, embedder, nil)
}

func rpcCall(t *testing.T, s *Server, method string, params any) *Response {
	t.Helper()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}

	req := Request{JSONRPC: "2.0", Method: method, Params: paramsJSON, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	s.handleRPC(w, r)

	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v (body=%s)", err, w.Body.String())
	}
	return &resp
}

func TestHandleStoreCreatesHierarchyAndIndexesContent(t *testing.T) {
	s := newTestServer(t)

	resp := rpcCall(t, s, "store", StoreParams{
		SessionID: "sess-1",
		AgentID:   "agent-1",
		Content:   "The retryCount variable tracks attempts. See internal/core/hierarchy.go for details.",
	})
	if resp.Error != nil {
		t.Fatalf("store returned error: %+v", resp.Error)
	}

	resultBytes, _ := json.Marshal(resp.Result)
	var storeResult StoreResult
	if err := json.Unmarshal(resultBytes, &storeResult); err != nil {
		t.Fatalf("unmarshal store result: %v", err)
	}
	if !storeResult.NodeID.Valid() {
		t.Fatal("expected a valid message node id")
	}
	if !storeResult.NewSession {
		t.Fatal("expected a newly registered session")
	}

	meta, err := s.sessions.GetMetadata("sess-1")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if meta.MessageCount != 1 {
		t.Fatalf("expected MessageCount=1, got %d", meta.MessageCount)
	}

	found := false
	for _, f := range meta.FilesTouched {
		if f == "internal/core/hierarchy.go" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected file path to be extracted, got %v", meta.FilesTouched)
	}
}

func TestHandleStoreReusesExistingSession(t *testing.T) {
	s := newTestServer(t)

	rpcCall(t, s, "store", StoreParams{SessionID: "sess-1", AgentID: "agent-1", Content: "first message here"})
	resp := rpcCall(t, s, "store", StoreParams{SessionID: "sess-1", AgentID: "agent-1", Content: "second message here"})
	if resp.Error != nil {
		t.Fatalf("store returned error: %+v", resp.Error)
	}

	resultBytes, _ := json.Marshal(resp.Result)
	var storeResult StoreResult
	json.Unmarshal(resultBytes, &storeResult)
	if storeResult.NewSession {
		t.Fatal("expected the second store to reuse the existing session")
	}

	meta, _ := s.sessions.GetMetadata("sess-1")
	if meta.MessageCount != 2 {
		t.Fatalf("expected MessageCount=2, got %d", meta.MessageCount)
	}
}

func TestHandleQueryFindsStoredContent(t *testing.T) {
	s := newTestServer(t)

	rpcCall(t, s, "store", StoreParams{
		SessionID: "sess-1",
		AgentID:   "agent-1",
		Content:   "debugging a deadlock in the scheduler loop",
	})

	resp := rpcCall(t, s, "query", QueryParams{Query: "deadlock scheduler"})
	if resp.Error != nil {
		t.Fatalf("query returned error: %+v", resp.Error)
	}

	resultBytes, _ := json.Marshal(resp.Result)
	var queryResult QueryResult
	json.Unmarshal(resultBytes, &queryResult)
	if len(queryResult.Results) == 0 {
		t.Fatal("expected at least one query result")
	}
}

func TestHandleGetContextReturnsParentAndChildren(t *testing.T) {
	s := newTestServer(t)

	storeResp := rpcCall(t, s, "store", StoreParams{
		SessionID: "sess-1",
		AgentID:   "agent-1",
		Content:   "a simple message with one statement",
	})
	resultBytes, _ := json.Marshal(storeResp.Result)
	var storeResult StoreResult
	json.Unmarshal(resultBytes, &storeResult)

	resp := rpcCall(t, s, "get_context", GetContextParams{
		ID:              storeResult.NodeID,
		IncludeParent:   true,
		IncludeChildren: true,
	})
	if resp.Error != nil {
		t.Fatalf("get_context returned error: %+v", resp.Error)
	}

	ctxResultBytes, _ := json.Marshal(resp.Result)
	var ctxResult GetContextResult
	json.Unmarshal(ctxResultBytes, &ctxResult)
	if ctxResult.Node == nil || ctxResult.Node.ID != storeResult.NodeID {
		t.Fatalf("unexpected node in get_context result: %+v", ctxResult.Node)
	}
	if ctxResult.Parent == nil {
		t.Fatal("expected a parent (session node)")
	}
	if len(ctxResult.Children) == 0 {
		t.Fatal("expected at least one block child")
	}
}

func TestHandleListAndGetSession(t *testing.T) {
	s := newTestServer(t)
	rpcCall(t, s, "store", StoreParams{SessionID: "sess-1", AgentID: "agent-1", Content: "hello there"})

	listResp := rpcCall(t, s, "list_sessions", struct{}{})
	if listResp.Error != nil {
		t.Fatalf("list_sessions returned error: %+v", listResp.Error)
	}
	listBytes, _ := json.Marshal(listResp.Result)
	var listResult ListSessionsResult
	json.Unmarshal(listBytes, &listResult)
	if len(listResult.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(listResult.Sessions))
	}

	getResp := rpcCall(t, s, "get_session", GetSessionParams{SessionID: "sess-1"})
	if getResp.Error != nil {
		t.Fatalf("get_session returned error: %+v", getResp.Error)
	}
	getBytes, _ := json.Marshal(getResp.Result)
	var getResult GetSessionResult
	json.Unmarshal(getBytes, &getResult)
	if getResult.Session == nil || getResult.Session.ID != "sess-1" {
		t.Fatalf("unexpected get_session result: %+v", getResult.Session)
	}
}

func TestHandleUnknownMethodReturnsError(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "nonexistent_method", struct{}{})
	if resp.Error == nil {
		t.Fatal("expected an error for an unknown method")
	}
	if resp.Error.Code != types.RPCMethodNotFound {
		t.Fatalf("expected RPCMethodNotFound, got %d", resp.Error.Code)
	}
}

func TestHandleStoreRequiresSessionAndContent(t *testing.T) {
	s := newTestServer(t)
	resp := rpcCall(t, s, "store", StoreParams{})
	if resp.Error == nil {
		t.Fatal("expected an error for missing session_id/content")
	}
}
