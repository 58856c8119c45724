package poolcore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tutu-network/modelcore/internal/domain"
)

// WorkerState is the worker's lifecycle state, published via an atomic so
// dispatch and maintenance can observe it without locking. The worker loop
// moves Spawning -> Loading -> Ready <-> Processing, and on shutdown
// Draining -> Dead. A load error moves Loading -> Failed; a panic in the
// worker goroutine moves it straight to Dead. StateIdle is defined (and
// counts as alive) but the worker loop never sets it.
type WorkerState int32

const (
	StateSpawning WorkerState = iota
	StateLoading
	StateReady
	StateProcessing
	StateIdle
	StateDraining
	StateFailed
	StateDead
)

func (s WorkerState) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// alive reports whether a worker in this state may still receive dispatch.
func (s WorkerState) alive() bool {
	switch s {
	case StateReady, StateProcessing, StateIdle:
		return true
	default:
		return false
	}
}

// LoadedModel is the live in-memory model instance owned exclusively by one
// worker. The pool core treats it as opaque: tokenization, tensor math, and
// file formats are an external collaborator's concern.
type LoadedModel interface {
	// Invoke runs one request against the model. Workers call this exactly
	// once per request on their own thread; the model never needs to be
	// Send-safe because it is never shared.
	Invoke(ctx context.Context, payload any) (any, error)
	Close()
}

// Loader materializes a LoadedModel. It must be safe to call exactly once
// per worker and runs on the worker's own goroutine/thread.
type Loader func() (LoadedModel, error)

// healthPong is the reply to a health ping.
type healthPong struct {
	workerID     uint64
	unixNanos    int64
	queueDepth   int
}

// WorkerHandle is the shared, reference-counted view of a worker used by
// dispatch and maintenance. The worker goroutine owns the backing model;
// every other component only ever touches the handle's atomics and
// channels.
type WorkerHandle struct {
	WorkerID    uint64
	RegistryKey string
	PerWorkerMB uint64

	state              atomic.Int32
	pendingRequests    atomic.Int64
	processedRequests  atomic.Int64
	failedRequests     atomic.Int64
	lastUsedUnixSecs   atomic.Int64

	requestTx    chan *Request
	shutdownTx   chan struct{}
	healthPingTx chan chan healthPong

	breaker *CircuitBreaker
	guard   *AllocationGuard

	readyCh chan error // closed/sent once after Loading resolves

	// onFree is pinged (non-blocking) after the worker finishes a request
	// and returns to Ready, so a model's dispatch loop can wake up and hand
	// it the next queued request.
	onFree func()
}

// State reads the worker's published state (Acquire).
func (h *WorkerHandle) State() WorkerState { return WorkerState(h.state.Load()) }

func (h *WorkerHandle) setState(s WorkerState) { h.state.Store(int32(s)) }

// Alive reports whether the worker can currently accept dispatch.
func (h *WorkerHandle) Alive() bool { return h.State().alive() }

// Pending, Processed, Failed, LastUsed are read-only observability
// accessors used by the dispatcher's selection heuristic and by snapshots.
func (h *WorkerHandle) Pending() int64    { return h.pendingRequests.Load() }
func (h *WorkerHandle) Processed() int64  { return h.processedRequests.Load() }
func (h *WorkerHandle) Failed() int64     { return h.failedRequests.Load() }
func (h *WorkerHandle) LastUsed() int64   { return h.lastUsedUnixSecs.Load() }

// spawnWorker starts a worker goroutine for registry key with the given
// descriptor's loader and memory guard, and returns at once; callers use
// WaitReady to block until loading resolves to Ready or Failed, so no
// request is raced against in-progress loading.
func spawnWorker(workerID uint64, registryKey string, perWorkerMB uint64, loader Loader, guard *AllocationGuard, breaker *CircuitBreaker, hooks *Hooks, onFree func()) *WorkerHandle {
	h := &WorkerHandle{
		WorkerID:     workerID,
		RegistryKey:  registryKey,
		PerWorkerMB:  perWorkerMB,
		requestTx:    make(chan *Request),
		shutdownTx:   make(chan struct{}, 1),
		healthPingTx: make(chan chan healthPong),
		breaker:      breaker,
		guard:        guard,
		readyCh:      make(chan error, 1),
		onFree:       onFree,
	}
	h.setState(StateSpawning)

	go h.run(loader, hooks)
	return h
}

// WaitReady blocks until the worker finishes loading, returning the load
// error if any.
func (h *WorkerHandle) WaitReady() error { return <-h.readyCh }

func (h *WorkerHandle) run(loader Loader, hooks *Hooks) {
	defer h.guard.Release()
	defer func() {
		if r := recover(); r != nil {
			h.setState(StateDead)
			hooks.fireWorkerFail(h, domain.ErrRuntimeError)
		}
	}()

	h.setState(StateLoading)
	model, err := loader()
	if err != nil {
		h.setState(StateFailed)
		h.guard.Release()
		hooks.fireWorkerFail(h, err)
		h.readyCh <- err
		return
	}
	defer model.Close()

	h.setState(StateReady)
	h.touch()
	h.readyCh <- nil
	hooks.fireWorkerReady(h)

	for {
		select {
		case req := <-h.requestTx:
			h.processOne(model, req)

		case respCh := <-h.healthPingTx:
			respCh <- healthPong{
				workerID:   h.WorkerID,
				unixNanos:  time.Now().UnixNano(),
				queueDepth: int(h.pendingRequests.Load()),
			}

		case <-h.shutdownTx:
			h.setState(StateDraining)
			h.drainOnShutdown(model)
			h.setState(StateDead)
			return
		}
	}
}

func (h *WorkerHandle) drainOnShutdown(model LoadedModel) {
	// Best-effort: accept one more in-flight request if it arrives within a
	// short grace window, otherwise proceed straight to Dead. The worker
	// does not suspend cooperatively beyond this — there is no mid-inference
	// cancellation.
	select {
	case req := <-h.requestTx:
		h.processOne(model, req)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *WorkerHandle) processOne(model LoadedModel, req *Request) {
	h.setState(StateProcessing)

	ctx := req.ctx
	result, err := model.Invoke(ctx, req.Payload)

	if err != nil {
		h.failedRequests.Add(1)
		h.breaker.RecordFailure()
		req.reply(Response{Err: domainWrapRuntime(err)})
	} else {
		h.processedRequests.Add(1)
		h.breaker.RecordSuccess()
		req.reply(Response{Value: result})
	}

	h.touch()
	h.setState(StateReady)

	if h.onFree != nil {
		h.onFree()
	}
}

func (h *WorkerHandle) touch() {
	h.lastUsedUnixSecs.Store(time.Now().Unix())
}

// ping sends a health ping with the given timeout and reports whether a
// pong arrived in time, along with how stale it looked.
func (h *WorkerHandle) ping(timeout time.Duration) (healthPong, bool) {
	respCh := make(chan healthPong, 1)
	select {
	case h.healthPingTx <- respCh:
	case <-time.After(timeout):
		return healthPong{}, false
	}
	select {
	case pong := <-respCh:
		return pong, true
	case <-time.After(timeout):
		return healthPong{}, false
	}
}

// shutdown signals the worker to drain and exit. Non-blocking: shutdownTx
// holds one pending signal, so a worker busy with a request picks it up on
// its next select; a further signal while one is pending is dropped.
func (h *WorkerHandle) shutdown() {
	select {
	case h.shutdownTx <- struct{}{}:
	default:
	}
}

func domainWrapRuntime(err error) error {
	if err == nil {
		return nil
	}
	return &runtimeError{cause: err}
}

type runtimeError struct{ cause error }

func (e *runtimeError) Error() string { return "runtime error: " + e.cause.Error() }
func (e *runtimeError) Unwrap() error { return domain.ErrRuntimeError }
func (e *runtimeError) Cause() error  { return e.cause }
