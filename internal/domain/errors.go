package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Model store / loader errors
	ErrModelNotFound  = errors.New("model not found")
	ErrModelExists    = errors.New("model already exists")
	ErrModelCorrupted = errors.New("model integrity check failed")
	ErrModelTooLarge  = errors.New("insufficient storage for model")
	ErrOffline        = errors.New("no internet connection available")
	ErrRegistryDown   = errors.New("model registry is unreachable")

	// Pool core errors — exhaustive. Every operation in the pool core returns
	// one of these (or wraps one with %w), never a bare ad-hoc error, so
	// callers can switch on them directly.
	ErrMemoryExhausted  = errors.New("memory exhausted: cannot admit allocation")
	ErrQueueFull        = errors.New("request queue full")
	ErrCircuitOpen      = errors.New("circuit breaker open: model unavailable")
	ErrNoHealthyWorkers = errors.New("no healthy workers for model")
	ErrTimeout          = errors.New("request timed out waiting for a worker")
	ErrShutdown         = errors.New("pool is shutting down")
	ErrDuplicateKey     = errors.New("model already registered under this key")
	ErrWrongCapability  = errors.New("registry key already registered under a different capability")
	ErrLoadError        = errors.New("model failed to load")
	ErrRuntimeError     = errors.New("model runtime error during inference")
)
