package types

import (
	"time"
)

// Config holds all configuration for the memory service.
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Embedding configuration
	Embedding EmbeddingConfig `json:"embedding"`

	// Search configuration
	Search SearchConfig `json:"search"`

	// Logging configuration
	Log LogConfig `json:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	DataDir      string `json:"data_dir"`
	MaxNodeCount uint32 `json:"max_node_count"` // arena capacity, per level
	SyncWrites   bool   `json:"sync_writes"`    // fdatasync the WAL after every append
}

// EmbeddingConfig holds embedding model configuration.
type EmbeddingConfig struct {
	ModelPath     string `json:"model_path"`
	VocabPath     string `json:"vocab_path"`
	BatchSize     int    `json:"batch_size"`
	MaxSeqLength  int    `json:"max_seq_length"`
	UseGPU        bool   `json:"use_gpu"`
	DeviceID      int    `json:"device_id"`
	Provider      string `json:"provider"` // cpu, cuda, coreml, directml, migraphx
}

// SearchConfig holds search configuration.
type SearchConfig struct {
	// HNSW parameters
	HNSWM           int `json:"hnsw_m"`            // Max connections per layer
	HNSWEfConstruct int `json:"hnsw_ef_construct"` // Construction search width
	HNSWEfSearch    int `json:"hnsw_ef_search"`    // Query search width

	// Relevance fusion (semantic vs. exact, within a single match)
	SemanticWeight float32 `json:"semantic_weight"`
	ExactWeight    float32 `json:"exact_weight"`

	// Final score fusion (relevance vs. recency vs. level)
	RelevanceWeight  float32 `json:"relevance_weight"`
	RecencyWeight    float32 `json:"recency_weight"`
	LevelBoostWeight float32 `json:"level_boost_weight"`

	// RecencyHalfLife is the time constant tau used in exp(-(age)/tau).
	RecencyHalfLife time.Duration `json:"recency_half_life"`

	// Default limits
	DefaultMaxResults int `json:"default_max_results"`
	MaxCandidates     int `json:"max_candidates"`
	MaxTokenBudget    int `json:"max_token_budget"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `json:"level"`  // trace, debug, info, warn, error
	Format string `json:"format"` // text, json
	Output string `json:"output"` // stdout, stderr, file path
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:      "./data",
			MaxNodeCount: 1_000_000,
			SyncWrites:   false,
		},
		Embedding: EmbeddingConfig{
			ModelPath:    "./models/all-MiniLM-L6-v2.onnx",
			VocabPath:    "./models/vocab.txt",
			BatchSize:    32,
			MaxSeqLength: 512,
			UseGPU:       false,
			DeviceID:     0,
			Provider:     "cpu",
		},
		Search: SearchConfig{
			HNSWM:             16,
			HNSWEfConstruct:   200,
			HNSWEfSearch:      50,
			SemanticWeight:    0.7,
			ExactWeight:       0.3,
			RelevanceWeight:   0.6,
			RecencyWeight:     0.3,
			LevelBoostWeight:  0.1,
			RecencyHalfLife:   7 * 24 * time.Hour,
			DefaultMaxResults: 10,
			MaxCandidates:     100,
			MaxTokenBudget:    4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
