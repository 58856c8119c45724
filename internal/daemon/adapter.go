package daemon

import (
	"context"
	"fmt"

	"github.com/tutu-network/modelcore/internal/domain"
	"github.com/tutu-network/modelcore/internal/infra/engine"
	"github.com/tutu-network/modelcore/internal/poolcore"
)

// GenerateRequest is the payload poolcore.Request carries for the
// generate/chat capability: a bare prompt when Messages is empty, a chat
// turn sequence otherwise.
type GenerateRequest struct {
	Prompt   string
	Messages []engine.ChatMessage
	Params   engine.GenerateParams
}

// EmbedRequest is the payload for the embed capability.
type EmbedRequest struct {
	Input []string
}

// chatCapable is satisfied by engine.ModelHandle implementations that also
// support multi-turn chat (both SubprocessHandle and MockModelHandle do).
type chatCapable interface {
	Chat(ctx context.Context, messages []engine.ChatMessage, params engine.GenerateParams) (<-chan domain.Token, error)
}

// newLoader adapts an engine.InferenceBackend + resolved model path into a
// poolcore.Loader: loading happens on the worker's own goroutine, matching
// the backend's expectation that LoadModel is called off any shared lock.
func newLoader(backend engine.InferenceBackend, path string, opts engine.LoadOptions) poolcore.Loader {
	return func() (poolcore.LoadedModel, error) {
		handle, err := backend.LoadModel(path, opts)
		if err != nil {
			return nil, err
		}
		return &chatAdapter{handle: handle, chat: asChatCapable(handle)}, nil
	}
}

func asChatCapable(h engine.ModelHandle) chatCapable {
	if c, ok := h.(chatCapable); ok {
		return c
	}
	return nil
}

// chatAdapter adapts an engine.ModelHandle to poolcore.LoadedModel, using
// the optional Chat path for message-based requests and falling back to
// Generate when the underlying handle doesn't implement it.
type chatAdapter struct {
	handle engine.ModelHandle
	chat   chatCapable
}

func (a *chatAdapter) Invoke(ctx context.Context, payload any) (any, error) {
	switch req := payload.(type) {
	case GenerateRequest:
		if len(req.Messages) > 0 && a.chat != nil {
			return a.chat.Chat(ctx, req.Messages, req.Params)
		}
		return a.handle.Generate(ctx, req.Prompt, req.Params)
	case EmbedRequest:
		return a.handle.Embed(ctx, req.Input)
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %T", domain.ErrRuntimeError, payload)
	}
}

func (a *chatAdapter) Close() { a.handle.Close() }
