package embedding

import (
	"fmt"
	"sync"

	"github.com/anthropics/agentmemory/pkg/types"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// ONNXEngine embeds text with a local ONNX model through hugot's
// feature-extraction pipeline.
type ONNXEngine struct {
	config    types.EmbeddingConfig
	dim       int
	batchSize int
	mu        sync.Mutex
	modelPath string
	provider  ProviderType

	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// NewONNXEngine opens a hugot session for config.Provider and loads a
// feature-extraction pipeline from config.ModelPath. Only the pure-Go
// backend (provider "cpu"/"" or "stub" with a model path) ships in this
// build; accelerated providers need a session constructor
// (hugot.NewORTSession, hugot.NewXLASession) guarded by a build tag and an
// external libonnxruntime install this module doesn't assume, so they fail
// fast here instead of silently running on CPU.
func NewONNXEngine(config types.EmbeddingConfig) (*ONNXEngine, error) {
	provider := ProviderType(config.Provider)
	if provider == "" {
		provider = ProviderCPU
	}

	session, err := newSessionForProvider(provider)
	if err != nil {
		return nil, err
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = types.BatchSize
	}

	e := &ONNXEngine{
		config:    config,
		dim:       types.EmbeddingDim,
		batchSize: batchSize,
		modelPath: config.ModelPath,
		provider:  provider,
		session:   session,
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath: config.ModelPath,
		Name:      "embedding",
	}
	pipelineConfig.Options = append(pipelineConfig.Options, pipelines.WithNormalization())

	pipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("failed to create embedding pipeline for model %q: %w", config.ModelPath, err)
	}
	e.pipeline = pipeline

	return e, nil
}

// newSessionForProvider picks the hugot session backend for provider,
// rejecting providers this build can't actually execute rather than
// quietly substituting the CPU backend.
func newSessionForProvider(provider ProviderType) (*hugot.Session, error) {
	switch provider {
	case ProviderCPU, ProviderStub:
		session, err := hugot.NewGoSession()
		if err != nil {
			return nil, fmt.Errorf("failed to create hugot CPU session: %w", err)
		}
		return session, nil
	case ProviderORT, ProviderCUDA, ProviderGPU, ProviderTensorRT, ProviderDirectML, ProviderMIGraphX:
		return nil, fmt.Errorf("execution provider %q requires a build with libonnxruntime and the matching build tag (hugot.NewORTSession); rebuild with that tag or use -provider cpu", provider)
	case ProviderCoreML:
		return nil, fmt.Errorf("execution provider %q requires a build with the coreml build tag (hugot.NewXLASession); rebuild with that tag or use -provider cpu", provider)
	default:
		return nil, fmt.Errorf("unknown execution provider %q", provider)
	}
}

// Embed generates an embedding for a single text.
func (e *ONNXEngine) Embed(text string) (types.Embedding, error) {
	embeddings, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding generated")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts, chunking the inference calls
// at e.batchSize regardless of how the caller grouped its input: a pooler
// that re-embeds a whole subtree at once should not hand the ONNX runtime
// an unbounded batch.
func (e *ONNXEngine) EmbedBatch(texts []string) ([]types.Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]types.Embedding, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		result, err := e.pipeline.RunPipeline(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding inference failed on batch [%d:%d]: %w", start, end, err)
		}
		for _, emb := range result.Embeddings {
			out = append(out, types.Embedding(emb))
		}
	}

	return out, nil
}

// Dimension returns the embedding dimension.
func (e *ONNXEngine) Dimension() int {
	return e.dim
}

// Provider returns the execution provider name.
func (e *ONNXEngine) Provider() string {
	return string(e.provider)
}

// Close releases ONNX resources.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

var _ Engine = (*ONNXEngine)(nil)
