package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anthropics/agentmemory/internal/core"
	"github.com/anthropics/agentmemory/internal/embedding"
	"github.com/anthropics/agentmemory/internal/events"
	"github.com/anthropics/agentmemory/internal/parser"
	"github.com/anthropics/agentmemory/internal/search"
	"github.com/anthropics/agentmemory/internal/session"
	"github.com/anthropics/agentmemory/pkg/types"
)

// Server is the HTTP server for the memory service.
type Server struct {
	config    types.ServerConfig
	hierarchy *core.Hierarchy
	pooler    *core.Pooler
	search    *search.Engine
	sessions  *session.Manager
	embedder  embedding.Engine
	emitter   *events.Emitter

	httpServer   *http.Server
	startTime    time.Time
	requestCount atomic.Uint64
}

// NewServer creates a new HTTP server.
func NewServer(
	config types.ServerConfig,
	hierarchy *core.Hierarchy,
	pooler *core.Pooler,
	searchEngine *search.Engine,
	sessions *session.Manager,
	embedder embedding.Engine,
	emitter *events.Emitter,
) *Server {
	return &Server{
		config:    config,
		hierarchy: hierarchy,
		pooler:    pooler,
		search:    searchEngine,
		sessions:  sessions,
		embedder:  embedder,
		emitter:   emitter,
		startTime: time.Now(),
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// JSON-RPC endpoint
	mux.HandleFunc("/rpc", s.handleRPC)

	// REST endpoints for MCP proxy
	mux.HandleFunc("/store", s.handleRESTStore)
	mux.HandleFunc("/query", s.handleRESTQuery)
	mux.HandleFunc("/drill_down", s.handleRESTDrillDown)
	mux.HandleFunc("/zoom_out", s.handleRESTZoomOut)
	mux.HandleFunc("/get_context", s.handleRESTGetContext)
	mux.HandleFunc("/sessions", s.handleRESTSessions)
	mux.HandleFunc("/sessions/", s.handleRESTSessionByID)
	mux.HandleFunc("/nodes/", s.handleRESTNodeByID)

	// Health and metrics
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)

	handler := s.loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	return s.httpServer.ListenAndServe()
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, lrw.statusCode, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleRPC handles JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.requestCount.Add(1)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, nil, types.RPCParseError, "failed to read request body", "")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, types.RPCParseError, "invalid JSON", "")
		return
	}

	if rpcErr := req.Validate(); rpcErr != nil {
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message, "")
		return
	}

	traceID := events.NewTraceID()

	result, rpcErr := s.dispatch(r.Context(), &req, traceID)
	if rpcErr != nil {
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message, traceID)
		return
	}

	s.writeResult(w, req.ID, result, traceID)
}

// dispatch routes a request to the appropriate handler. traceID correlates
// any events the handler emits with this request; only handlers that emit
// events need it.
func (s *Server) dispatch(ctx context.Context, req *Request, traceID string) (interface{}, *types.RPCError) {
	switch req.Method {
	case "store":
		return s.handleStore(ctx, req.Params, traceID)
	case "store_block":
		return s.handleStoreBlock(req.Params)
	case "store_statement":
		return s.handleStoreStatement(req.Params)
	case "query":
		return s.handleQuery(req.Params, traceID)
	case "drill_down":
		return s.handleDrillDown(req.Params)
	case "zoom_out":
		return s.handleZoomOut(req.Params)
	case "get_context":
		return s.handleGetContext(req.Params)
	case "list_sessions":
		return s.handleListSessions()
	case "get_session":
		return s.handleGetSession(req.Params)
	default:
		return nil, types.NewRPCError(types.RPCMethodNotFound, "method not found: "+req.Method, nil)
	}
}

// handleStore handles the "store" method. It parses content into a
// hierarchy (message -> block -> statement), embeds every leaf statement,
// and pools those embeddings up through block, message, session and agent.
// traceID tags the events it emits so a caller can correlate a store call
// with the session_created/memory_stored records in the events log.
func (s *Server) handleStore(ctx context.Context, params json.RawMessage, traceID string) (interface{}, *types.RPCError) {
	var p StoreParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.SessionID == "" || p.Content == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "session_id and content are required", nil)
	}

	sess, err := s.sessions.GetMetadata(p.SessionID)
	isNew := false
	if err != nil {
		sess, err = s.sessions.Register(p.SessionID, p.AgentID)
		if err != nil {
			return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
		}
		isNew = true
	}

	parsed := parser.Parse(p.Role, p.Content)

	messageNode, err := s.hierarchy.CreateMessage(sess.RootNodeID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}
	if err := s.hierarchy.SetText(messageNode, p.Content); err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}
	if p.Role != "" {
		if err := s.hierarchy.SetRole(messageNode, p.Role); err != nil {
			return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
		}
	}

	var leafIDs, blockIDs []types.NodeID
	var leafTexts []string
	blockCount, statementCount := 0, 0

	for _, block := range parsed.Blocks {
		blockNode, err := s.hierarchy.CreateBlock(messageNode)
		if err != nil {
			log.Printf("[store] failed to create block node: %v", err)
			continue
		}
		if err := s.hierarchy.SetText(blockNode, block.Content); err != nil {
			log.Printf("[store] failed to set block text: %v", err)
		}
		blockIDs = append(blockIDs, blockNode)
		blockCount++

		for _, stmt := range block.Statements {
			if stmt.Content == "" {
				continue
			}
			stmtNode, err := s.hierarchy.CreateStatement(blockNode)
			if err != nil {
				log.Printf("[store] failed to create statement node: %v", err)
				continue
			}
			if err := s.hierarchy.SetText(stmtNode, stmt.Content); err != nil {
				log.Printf("[store] failed to set statement text: %v", err)
			}
			leafIDs = append(leafIDs, stmtNode)
			leafTexts = append(leafTexts, stmt.Content)
			statementCount++
		}
	}

	if len(leafIDs) > 0 {
		if err := s.pooler.EmbedMessage(ctx, messageNode, leafIDs, leafTexts); err != nil {
			log.Printf("[store] pooling failed: %v", err)
		}
	}

	indexIDs := append([]types.NodeID{messageNode}, blockIDs...)
	indexIDs = append(indexIDs, leafIDs...)
	for _, id := range indexIDs {
		node, err := s.hierarchy.GetNode(id)
		if err != nil {
			continue
		}
		emb, err := s.hierarchy.GetEmbedding(id)
		if err != nil {
			emb = nil
		}
		if err := s.search.IndexNode(node, emb); err != nil {
			log.Printf("[store] indexing failed for node %d: %v", id, err)
		}
	}

	if err := s.sessions.UpdateContent(p.SessionID, p.Content); err != nil {
		log.Printf("[store] keyword extraction failed: %v", err)
	}
	if err := s.sessions.UpdateStats(p.SessionID, 1, blockCount, statementCount); err != nil {
		log.Printf("[store] stats update failed: %v", err)
	}

	if s.emitter != nil {
		if isNew {
			s.emitter.EmitWithTrace(events.SessionCreatedEvent(p.SessionID, p.AgentID), traceID)
		}
		s.emitter.EmitWithTrace(events.MemoryStoredEvent(messageNode, p.SessionID, p.AgentID), traceID)
	}

	return &StoreResult{
		NodeID:      messageNode,
		SequenceNum: s.sessions.GetNextSequence(),
		NewSession:  isNew,
	}, nil
}

// handleStoreBlock handles the "store_block" method.
func (s *Server) handleStoreBlock(params json.RawMessage) (interface{}, *types.RPCError) {
	var p StoreBlockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if !p.ParentID.Valid() || p.Content == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "parent_id and content are required", nil)
	}

	parent, err := s.hierarchy.GetNode(p.ParentID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "parent not found", nil)
	}

	node, err := s.hierarchy.CreateBlock(p.ParentID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}
	if err := s.hierarchy.SetText(node, p.Content); err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}

	if err := s.embedAndRepropagate(node, p.Content, parent.SessionID); err != nil {
		log.Printf("[store_block] embedding failed: %v", err)
	}

	return &StoreBlockResult{BlockID: node}, nil
}

// handleStoreStatement handles the "store_statement" method.
func (s *Server) handleStoreStatement(params json.RawMessage) (interface{}, *types.RPCError) {
	var p StoreStatementParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if !p.ParentID.Valid() || p.Content == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "parent_id and content are required", nil)
	}

	parent, err := s.hierarchy.GetNode(p.ParentID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "parent not found", nil)
	}

	node, err := s.hierarchy.CreateStatement(p.ParentID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}
	if err := s.hierarchy.SetText(node, p.Content); err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}

	if err := s.embedAndRepropagate(node, p.Content, parent.SessionID); err != nil {
		log.Printf("[store_statement] embedding failed: %v", err)
	}

	return &StoreStatementResult{StatementID: node}, nil
}

// embedAndRepropagate embeds a single directly-created node and recomputes
// pooled embeddings across its session.
func (s *Server) embedAndRepropagate(id types.NodeID, content, sessionID string) error {
	emb, err := s.embedder.Embed(content)
	if err != nil {
		return err
	}
	if err := s.hierarchy.SetEmbedding(id, emb); err != nil {
		return err
	}
	node, err := s.hierarchy.GetNode(id)
	if err != nil {
		return err
	}
	if err := s.search.IndexNode(node, emb); err != nil {
		return err
	}
	return s.pooler.PropagateSession(sessionID)
}

// handleQuery handles the "query" method. traceID tags the query_performed
// event it emits.
func (s *Server) handleQuery(params json.RawMessage, traceID string) (interface{}, *types.RPCError) {
	var p QueryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.Query == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "query is required", nil)
	}

	opts := types.SearchOptions{
		Query:      p.Query,
		MaxResults: p.MaxResults,
		MaxTokens:  p.MaxTokens,
		SessionID:  p.SessionID,
		AgentID:    p.AgentID,
		AfterTime:  p.AfterTime,
		BeforeTime: p.BeforeTime,
	}

	if p.TopLevel != nil {
		opts.TopLevel = *p.TopLevel
	} else {
		opts.TopLevel = types.LevelSession
	}
	if p.BottomLevel != nil {
		opts.BottomLevel = *p.BottomLevel
	} else {
		opts.BottomLevel = types.LevelStatement
	}
	if p.Level != nil {
		opts.TopLevel = *p.Level
		opts.BottomLevel = *p.Level
	}

	var result *QueryResult
	if p.MaxTokens > 0 {
		resp, err := s.search.SearchWithResponse(opts)
		if err != nil {
			return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
		}
		result = &QueryResult{
			Results:      resp.Results,
			TotalResults: resp.TotalResults,
			Truncated:    resp.Truncated,
			TokensUsed:   resp.TokensUsed,
		}
	} else {
		results, err := s.search.Search(opts)
		if err != nil {
			return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
		}
		result = &QueryResult{Results: results}
	}

	if s.emitter != nil {
		s.emitter.EmitWithTrace(events.QueryPerformedEvent(p.SessionID, p.AgentID, p.Query, len(result.Results)), traceID)
	}

	return result, nil
}

// handleGetContext handles the "get_context" method.
func (s *Server) handleGetContext(params json.RawMessage) (interface{}, *types.RPCError) {
	var p GetContextParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if !p.ID.Valid() {
		return nil, types.NewRPCError(types.RPCInvalidParams, "id is required", nil)
	}

	node, err := s.hierarchy.GetNode(p.ID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, "node not found", nil)
	}

	result := &GetContextResult{Node: node}

	if p.IncludeParent {
		if parent, err := s.hierarchy.GetParent(p.ID); err == nil {
			result.Parent = parent
		}
	}

	if p.IncludeSiblings {
		if siblings, err := s.hierarchy.GetSiblings(p.ID); err == nil {
			filtered := make([]*types.Node, 0, len(siblings))
			for _, sib := range siblings {
				if sib.ID != p.ID {
					filtered = append(filtered, sib)
				}
			}
			result.Siblings = filtered
		}
	}

	if p.IncludeChildren {
		if children, err := s.hierarchy.GetChildren(p.ID); err == nil {
			if p.MaxDepth <= 0 || p.MaxDepth >= 1 {
				result.Children = children
			}
		}
	}

	return result, nil
}

// handleDrillDown handles the "drill_down" method.
func (s *Server) handleDrillDown(params json.RawMessage) (interface{}, *types.RPCError) {
	var p DrillDownParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if !p.ID.Valid() {
		return nil, types.NewRPCError(types.RPCInvalidParams, "id is required", nil)
	}

	children, err := s.hierarchy.GetChildren(p.ID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}

	if p.Filter != "" {
		filtered := make([]*types.Node, 0)
		for _, child := range children {
			if containsIgnoreCase(child.Content, p.Filter) {
				filtered = append(filtered, child)
			}
		}
		children = filtered
	}

	if p.MaxResults > 0 && len(children) > p.MaxResults {
		children = children[:p.MaxResults]
	}

	return &DrillDownResult{Children: children}, nil
}

// handleZoomOut handles the "zoom_out" method.
func (s *Server) handleZoomOut(params json.RawMessage) (interface{}, *types.RPCError) {
	var p ZoomOutParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if !p.ID.Valid() {
		return nil, types.NewRPCError(types.RPCInvalidParams, "id is required", nil)
	}

	ancestors, err := s.hierarchy.GetAncestors(p.ID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInternalError, err.Error(), nil)
	}

	return &ZoomOutResult{Ancestors: ancestors}, nil
}

// handleListSessions handles the "list_sessions" method.
func (s *Server) handleListSessions() (interface{}, *types.RPCError) {
	ids := s.sessions.List("", time.Time{}, time.Time{})
	sessions := make([]*types.Session, 0, len(ids))
	for _, id := range ids {
		if meta, err := s.sessions.GetMetadata(id); err == nil {
			sessions = append(sessions, meta)
		}
	}
	return &ListSessionsResult{Sessions: sessions}, nil
}

// handleGetSession handles the "get_session" method.
func (s *Server) handleGetSession(params json.RawMessage) (interface{}, *types.RPCError) {
	var p GetSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "invalid params: "+err.Error(), nil)
	}
	if p.SessionID == "" {
		return nil, types.NewRPCError(types.RPCInvalidParams, "session_id is required", nil)
	}

	sess, err := s.sessions.GetMetadata(p.SessionID)
	if err != nil {
		return nil, types.NewRPCError(types.RPCInvalidParams, "session not found", nil)
	}

	return &GetSessionResult{Session: sess}, nil
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.hierarchy.Stats()
	nodeCount, _ := stats["node_count"].(uint32)

	result := HealthResult{
		Healthy:      true,
		Status:       "ok",
		NodeCount:    uint64(nodeCount),
		UptimeMs:     time.Since(s.startTime).Milliseconds(),
		RequestCount: s.requestCount.Load(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleMetrics handles Prometheus-style metrics requests.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.hierarchy.Stats()
	searchStats := s.search.Stats()
	sessionStats := s.sessions.Stats()

	w.Header().Set("Content-Type", "text/plain")

	fmt.Fprintf(w, "# HELP memory_requests_total Total number of requests\n")
	fmt.Fprintf(w, "# TYPE memory_requests_total counter\n")
	fmt.Fprintf(w, "memory_requests_total %d\n", s.requestCount.Load())

	fmt.Fprintf(w, "# HELP memory_uptime_seconds Server uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE memory_uptime_seconds gauge\n")
	fmt.Fprintf(w, "memory_uptime_seconds %.2f\n", time.Since(s.startTime).Seconds())

	if nodeCount, ok := stats["node_count"].(uint32); ok {
		fmt.Fprintf(w, "# HELP memory_nodes_total Total number of nodes\n")
		fmt.Fprintf(w, "# TYPE memory_nodes_total gauge\n")
		fmt.Fprintf(w, "memory_nodes_total %d\n", nodeCount)
	}

	if sessionCount, ok := sessionStats["total_sessions"].(int); ok {
		fmt.Fprintf(w, "# HELP memory_sessions_total Total number of sessions\n")
		fmt.Fprintf(w, "# TYPE memory_sessions_total gauge\n")
		fmt.Fprintf(w, "memory_sessions_total %d\n", sessionCount)
	}

	if vectorStats, ok := searchStats["vector_index"].(map[string]interface{}); ok {
		if total, ok := vectorStats["total_vectors"].(int); ok {
			fmt.Fprintf(w, "# HELP memory_vectors_total Total indexed vectors\n")
			fmt.Fprintf(w, "# TYPE memory_vectors_total gauge\n")
			fmt.Fprintf(w, "memory_vectors_total %d\n", total)
		}
	}
}

// Helper functions

func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}, traceID string) {
	resp := NewResponse(id, result)
	resp.TraceID = traceID
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string, traceID string) {
	resp := NewErrorResponse(id, code, message, nil)
	resp.TraceID = traceID
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// REST endpoint handlers (for MCP proxy)

func (s *Server) handleRESTStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p StoreParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleStore(r.Context(), mustMarshal(p), events.NewTraceID())
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p QueryParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleQuery(mustMarshal(p), events.NewTraceID())
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTDrillDown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p DrillDownParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleDrillDown(mustMarshal(p))
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTZoomOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p ZoomOutParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleZoomOut(mustMarshal(p))
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTGetContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var p GetContextParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	result, rpcErr := s.handleGetContext(mustMarshal(p))
	if rpcErr != nil {
		s.writeJSONError(w, http.StatusBadRequest, rpcErr.Message)
		return
	}

	s.writeJSON(w, result)
}

func (s *Server) handleRESTSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, _ := s.handleListSessions()
	s.writeJSON(w, result)
}

func (s *Server) handleRESTSessionByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if sessionID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "session_id required")
		return
	}

	sess, err := s.sessions.GetMetadata(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}

	s.writeJSON(w, sess)
}

func (s *Server) handleRESTNodeByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/nodes/")
	if idStr == "" {
		s.writeJSONError(w, http.StatusBadRequest, "node id required")
		return
	}

	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	node, err := s.hierarchy.GetNode(types.NodeID(id))
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "node not found")
		return
	}

	s.writeJSON(w, node)
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func mustMarshal(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
