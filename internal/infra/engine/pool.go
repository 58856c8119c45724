// Package engine provides the inference backend abstraction used by the
// pool core's loader contract. The actual llama.cpp CGO backend and the
// subprocess backend both sit behind InferenceBackend; tests use MockBackend.
package engine

import (
	"context"

	"github.com/tutu-network/modelcore/internal/domain"
)

// ─── InferenceBackend Interface ─────────────────────────────────────────────
// This abstracts the actual llama.cpp CGO layer.

// InferenceBackend is the low-level model loading/inference interface. A
// worker in the pool core calls LoadModel exactly once during its Loading
// state and closes the resulting ModelHandle once, as its goroutine exits.
type InferenceBackend interface {
	LoadModel(path string, opts LoadOptions) (ModelHandle, error)
	Close()
}

// ModelHandle represents a loaded model in memory, owned by a single worker.
type ModelHandle interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (<-chan domain.Token, error)
	Embed(ctx context.Context, input []string) ([][]float32, error)
	MemoryBytes() uint64
	Close()
}

// LoadOptions configures model loading.
type LoadOptions struct {
	NumGPULayers int // -1 = auto, 0 = CPU only, N = specific
	NumCtx       int // Context window size (default 4096)
	NumThreads   int // 0 = auto (runtime.NumCPU())
}

// GenerateParams holds sampling parameters.
type GenerateParams struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string
}

// ChatMessage is one turn in a chat-formatted prompt.
type ChatMessage struct {
	Role    string
	Content string
}
