// Package types defines the core data types for the memory service.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EmbeddingDim is the dimension of embedding vectors (all-MiniLM-L6-v2).
const EmbeddingDim = 384

// HierarchyLevel represents the level in the memory hierarchy.
type HierarchyLevel uint8

const (
	LevelStatement HierarchyLevel = iota // Individual sentence or code line
	LevelBlock                           // Logical section (code, explanation, tool output)
	LevelMessage                         // Single turn in conversation
	LevelSession                         // Entire agent work session
	LevelAgent                           // Agent instance (optional)
)

// NumLevels is the count of distinct hierarchy levels.
const NumLevels = int(LevelAgent) + 1

func (l HierarchyLevel) String() string {
	switch l {
	case LevelStatement:
		return "statement"
	case LevelBlock:
		return "block"
	case LevelMessage:
		return "message"
	case LevelSession:
		return "session"
	case LevelAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// ParseHierarchyLevel parses a level name produced by String back into a
// HierarchyLevel.
func ParseHierarchyLevel(s string) (HierarchyLevel, error) {
	switch s {
	case "statement":
		return LevelStatement, nil
	case "block":
		return LevelBlock, nil
	case "message":
		return LevelMessage, nil
	case "session":
		return LevelSession, nil
	case "agent":
		return LevelAgent, nil
	default:
		return 0, fmt.Errorf("unknown hierarchy level %q", s)
	}
}

// MarshalJSON encodes the level as its lowercase name so wire payloads read
// as "session"/"message"/... rather than a bare integer.
func (l HierarchyLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts either a level name or a raw integer, the latter
// kept for compatibility with internal callers that serialize
// HierarchyLevel directly.
func (l *HierarchyLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		level, err := ParseHierarchyLevel(name)
		if err != nil {
			return err
		}
		*l = level
		return nil
	}
	var n uint8
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*l = HierarchyLevel(n)
	return nil
}

// NodeID is a unique identifier for a node in the hierarchy. Ids are dense
// and allocated monotonically starting at 0.
type NodeID uint32

// InvalidNodeID marks the absence of an id (e.g. no parent, no sibling).
const InvalidNodeID NodeID = 1<<32 - 1

// Valid reports whether id is not the invalid sentinel.
func (id NodeID) Valid() bool {
	return id != InvalidNodeID
}

// Embedding represents a vector embedding.
type Embedding []float32

// Node represents a node in the memory hierarchy.
type Node struct {
	ID             NodeID         `json:"id"`
	Level          HierarchyLevel `json:"level"`
	ParentID       NodeID         `json:"parent_id"`
	FirstChildID   NodeID         `json:"first_child_id"`
	NextSiblingID  NodeID         `json:"next_sibling_id"`
	AgentID        string         `json:"agent_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Content        string         `json:"content,omitempty"`
	Role           string         `json:"role,omitempty"` // user, assistant, tool
	CreatedAt      time.Time      `json:"created_at"`
	SequenceNum    uint64         `json:"sequence_num"`
	EmbeddingIndex uint32         `json:"embedding_index"`
}

// IdentifierKind classifies an extracted code identifier.
type IdentifierKind uint8

const (
	IdentifierUnknown IdentifierKind = iota
	IdentifierFunction
	IdentifierVariable
	IdentifierType
	IdentifierConstant
)

func (k IdentifierKind) String() string {
	switch k {
	case IdentifierFunction:
		return "function"
	case IdentifierVariable:
		return "variable"
	case IdentifierType:
		return "type"
	case IdentifierConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Keyword is a scored term extracted from session content.
type Keyword struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
}

// Identifier is a classified code identifier extracted from session content.
type Identifier struct {
	Name string         `json:"name"`
	Kind IdentifierKind `json:"kind"`
}

// Session represents a conversation session.
type Session struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	Title          string       `json:"title,omitempty"`
	TitleGenerated bool         `json:"title_generated,omitempty"`
	Keywords       []Keyword    `json:"keywords,omitempty"`
	Identifiers    []Identifier `json:"identifiers,omitempty"`
	FilesTouched   []string     `json:"files_touched,omitempty"`
	RootNodeID     NodeID       `json:"root_node_id"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActiveAt   time.Time    `json:"last_active_at"`
	SequenceNum    uint64       `json:"sequence_num"`
	MessageCount   int          `json:"message_count"`
	BlockCount     int          `json:"block_count"`
	StatementCount int          `json:"statement_count"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	NodeID         NodeID         `json:"node_id"`
	Level          HierarchyLevel `json:"level"`
	Content        string         `json:"content"`
	AgentID        string         `json:"agent_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	SemanticScore  float32        `json:"semantic_score"`
	ExactScore     float32        `json:"exact_score"`
	RelevanceScore float32        `json:"relevance_score"`
	RecencyScore   float32        `json:"recency_score"`
	LevelBoost     float32        `json:"level_boost"`
	CombinedScore  float32        `json:"combined_score"`
	TokenCount     int            `json:"token_count,omitempty"`
}

// SearchResponse wraps search results with metadata.
type SearchResponse struct {
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	Truncated    bool           `json:"truncated"`
	TokensUsed   int            `json:"tokens_used,omitempty"`
}

// SearchOptions configures a search query.
type SearchOptions struct {
	Query       string         `json:"query"`
	TopLevel    HierarchyLevel `json:"top_level,omitempty"`
	BottomLevel HierarchyLevel `json:"bottom_level,omitempty"`
	MaxResults  int            `json:"max_results,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"` // Token budget for results
	SessionID   string         `json:"session_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	AfterTime   int64          `json:"after_time,omitempty"`  // Unix timestamp (nanoseconds)
	BeforeTime  int64          `json:"before_time,omitempty"` // Unix timestamp (nanoseconds)
}

// ContextOptions configures context expansion for get_context method.
type ContextOptions struct {
	NodeID          NodeID `json:"node_id"`
	IncludeParent   bool   `json:"include_parent,omitempty"`
	IncludeSiblings bool   `json:"include_siblings,omitempty"`
	IncludeChildren bool   `json:"include_children,omitempty"`
	MaxDepth        int    `json:"max_depth,omitempty"`
}

// ContextResult contains the expanded context for a node.
type ContextResult struct {
	Node     *Node   `json:"node"`
	Parent   *Node   `json:"parent,omitempty"`
	Siblings []*Node `json:"siblings,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// StoreRequest represents a request to store content.
type StoreRequest struct {
	SessionID string         `json:"session_id"`
	AgentID   string         `json:"agent_id"`
	Content   string         `json:"content"`
	Role      string         `json:"role,omitempty"`
	ParentID  NodeID         `json:"parent_id,omitempty"`
	Level     HierarchyLevel `json:"level,omitempty"`
}

// StoreResponse represents the response from a store operation.
type StoreResponse struct {
	NodeID      NodeID `json:"node_id"`
	MessageID   NodeID `json:"message_id"`
	SequenceNum uint64 `json:"sequence_num"`
	NewSession  bool   `json:"new_session,omitempty"`
}

// DrillDownRequest represents a request to get children of a node.
type DrillDownRequest struct {
	NodeID     NodeID `json:"node_id"`
	Filter     string `json:"filter,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// ZoomOutRequest represents a request to get ancestors of a node.
type ZoomOutRequest struct {
	NodeID NodeID `json:"node_id"`
}

// MaxKeywords is the maximum number of keywords per session.
const MaxKeywords = 32

// MaxKeywordLen is the maximum length of a single keyword.
const MaxKeywordLen = 64

// MaxIdentifiers is the maximum number of identifiers per session.
const MaxIdentifiers = 128

// MaxFilesTouched is the maximum number of files tracked per session.
const MaxFilesTouched = 32

// MaxSessionIDLen is the maximum length of a session ID.
const MaxSessionIDLen = 64

// MaxAgentIDLen is the maximum length of an agent ID.
const MaxAgentIDLen = 64

// MaxContentLen is the maximum length of content.
const MaxContentLen = 65536

// BatchSize is the default chunking size for embedding batches.
const BatchSize = 32

// TokenCost publishes the per-level token cost used by the search engine's
// budget truncator, indexed by HierarchyLevel.
var TokenCost = [NumLevels]int{
	LevelStatement: 50,
	LevelBlock:     200,
	LevelMessage:   500,
	LevelSession:   1000,
	LevelAgent:     2000,
}

// LevelBoost publishes the level-boost constant for final score fusion,
// indexed by HierarchyLevel.
var LevelBoost = [NumLevels]float32{
	LevelStatement: 0.0,
	LevelBlock:     0.25,
	LevelMessage:   0.5,
	LevelSession:   0.75,
	LevelAgent:     1.0,
}
