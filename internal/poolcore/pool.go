package poolcore

import (
	"sync"
	"sync/atomic"

	"github.com/tutu-network/modelcore/internal/domain"
)

// ModelDescriptor is everything the pool needs to know about a registered
// model to spawn and dispatch to it. RegistryKey is the pool's identity for
// the model (distinct from any on-disk digest); registering a key that is
// already held is rejected with ErrDuplicateKey under the same capability
// and ErrWrongCapability under a different one.
type ModelDescriptor struct {
	RegistryKey string
	Capability  Capability
	PerWorkerMB uint64
	Loader      Loader

	MinWorkers int
	MaxWorkers int
}

// modelEntry is the pool's live bookkeeping for one registered model: its
// descriptor, workers, queue, breaker, and spawn serialization.
type modelEntry struct {
	desc ModelDescriptor

	mu      sync.RWMutex
	workers []*WorkerHandle

	queue      *RequestQueue
	breaker    *CircuitBreaker
	spawnMu    sync.Mutex
	nextWorker atomic.Uint64

	wake   chan struct{}
	stopCh chan struct{}
}

func newModelEntry(desc ModelDescriptor, laneCapacity int) *modelEntry {
	return &modelEntry{
		desc:    desc,
		queue:   NewRequestQueue(laneCapacity),
		breaker: NewCircuitBreaker(DefaultBreakerConfig()),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// ping wakes the model's dispatch loop without blocking if it's busy.
func (m *modelEntry) ping() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *modelEntry) snapshotWorkers() []*WorkerHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkerHandle, len(m.workers))
	copy(out, m.workers)
	return out
}

func (m *modelEntry) addWorker(h *WorkerHandle) {
	m.mu.Lock()
	m.workers = append(m.workers, h)
	m.mu.Unlock()
}

func (m *modelEntry) removeWorker(workerID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.workers {
		if w.WorkerID == workerID {
			m.workers = append(m.workers[:i], m.workers[i+1:]...)
			return
		}
	}
}

func (m *modelEntry) aliveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, w := range m.workers {
		if w.Alive() {
			n++
		}
	}
	return n
}

// allCapabilities enumerates the capability pools a Pool shards models
// across; registration and key lookup walk this list.
var allCapabilities = [...]Capability{CapGenerate, CapChat, CapEmbed, CapVision, CapRerank}

// Pool is the registry of models for one runtime instance, sharded into
// five typed sub-registries — one per Capability — so a chat model and an
// embedding model never share a key space even when colocated in the same
// Pool. A registry key is unique across ALL capability pools: registering
// a key already held by a different capability's pool is rejected with
// ErrWrongCapability rather than silently adopting it into the new
// capability.
type Pool struct {
	governor *MemoryGovernor
	cfg      PoolConfig
	hooks    *Hooks

	mu     sync.RWMutex
	pools  map[Capability]map[string]*modelEntry
	nextID atomic.Uint64

	shuttingDown atomic.Bool
}

// NewPool creates an empty pool, with one empty sub-registry per
// capability, bound to governor and cfg.
func NewPool(governor *MemoryGovernor, cfg PoolConfig, hooks *Hooks) *Pool {
	if hooks == nil {
		hooks = &Hooks{}
	}
	pools := make(map[Capability]map[string]*modelEntry, len(allCapabilities))
	for _, c := range allCapabilities {
		pools[c] = make(map[string]*modelEntry)
	}
	return &Pool{
		governor: governor,
		cfg:      cfg,
		hooks:    hooks,
		pools:    pools,
	}
}

// Register adds a model descriptor to its capability's sub-registry
// without spawning any workers. ErrDuplicateKey if the key is already
// registered under the same capability; ErrWrongCapability if it's
// already registered under a different one — keys are unique across every
// capability pool, not just the one being targeted.
func (p *Pool) Register(desc ModelDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for poolCap, models := range p.pools {
		if _, exists := models[desc.RegistryKey]; exists {
			if poolCap == desc.Capability {
				return domain.ErrDuplicateKey
			}
			return domain.ErrWrongCapability
		}
	}

	if desc.MaxWorkers <= 0 {
		desc.MaxWorkers = p.cfg.MaxWorkersPerModel
	}
	if desc.MinWorkers <= 0 {
		desc.MinWorkers = p.cfg.MinWorkersPerModel
	}
	m := newModelEntry(desc, 1024)
	m.queue.priority = newLaneQueue(128)
	p.pools[desc.Capability][desc.RegistryKey] = m
	go p.dispatchLoop(m)
	return nil
}

// Unregister stops the model's dispatch loop and drops its bookkeeping.
// Callers must drain its workers first; Unregister does not shut them
// down itself.
func (p *Pool) Unregister(registryKey string) {
	p.mu.Lock()
	var m *modelEntry
	for _, models := range p.pools {
		if e, ok := models[registryKey]; ok {
			m = e
			delete(models, registryKey)
			break
		}
	}
	p.mu.Unlock()
	if m != nil {
		close(m.stopCh)
	}
}

func (p *Pool) entry(registryKey string) (*modelEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, models := range p.pools {
		if e, ok := models[registryKey]; ok {
			return e, true
		}
	}
	return nil, false
}

// ModelKeys lists every registered registry key across all capability
// pools, for maintenance sweeps.
func (p *Pool) ModelKeys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, 8)
	for _, models := range p.pools {
		for k := range models {
			keys = append(keys, k)
		}
	}
	return keys
}

func (p *Pool) nextWorkerID() uint64 {
	return p.nextID.Add(1)
}

// IsShuttingDown reports whether Shutdown has been called.
func (p *Pool) IsShuttingDown() bool { return p.shuttingDown.Load() }

// ModelSnapshot reports a registered model's live worker state, used by
// callers that want to display pool status (e.g. a `ps`-style command)
// without reaching into modelEntry internals.
type ModelSnapshot struct {
	RegistryKey  string
	Capability   Capability
	PerWorkerMB  uint64
	WorkerCount  int
	IdleCount    int
	QueueDepth   int
	BreakerState CBState
	LastUsedUnix int64
}

// Snapshot returns the current state of every registered model.
func (p *Pool) Snapshot() []ModelSnapshot {
	p.mu.RLock()
	keys := make([]string, 0, 8)
	entries := make([]*modelEntry, 0, 8)
	for _, models := range p.pools {
		for k, m := range models {
			keys = append(keys, k)
			entries = append(entries, m)
		}
	}
	p.mu.RUnlock()

	out := make([]ModelSnapshot, 0, len(entries))
	for i, m := range entries {
		workers := m.snapshotWorkers()
		var lastUsed int64
		idle := 0
		for _, w := range workers {
			if w.LastUsed() > lastUsed {
				lastUsed = w.LastUsed()
			}
			if w.State() == StateReady {
				idle++
			}
		}
		out = append(out, ModelSnapshot{
			RegistryKey:  keys[i],
			Capability:   m.desc.Capability,
			PerWorkerMB:  m.desc.PerWorkerMB,
			WorkerCount:  len(workers),
			IdleCount:    idle,
			QueueDepth:   m.queue.Len(),
			BreakerState: m.breaker.State(),
			LastUsedUnix: lastUsed,
		})
	}
	return out
}
