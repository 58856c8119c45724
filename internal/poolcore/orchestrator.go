package poolcore

import (
	"context"
	"sync"
	"time"
)

// Orchestrator is the top-level handle a daemon embeds: it owns the
// memory governor, the pool of registered models, the dispatcher, and the
// maintenance loop, and coordinates their startup and graceful shutdown.
type Orchestrator struct {
	cfg      PoolConfig
	governor *MemoryGovernor
	pool     *Pool
	dispatch *Dispatcher
	maint    *MaintenanceLoop
	hooks    *Hooks

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewOrchestrator wires a governor sized to limitMB, a pool, a dispatcher,
// and a maintenance loop, all sharing cfg and hooks.
func NewOrchestrator(limitMB uint64, cfg PoolConfig, hooks *Hooks) *Orchestrator {
	if hooks == nil {
		hooks = &Hooks{}
	}
	governor := NewMemoryGovernor(limitMB)
	pool := NewPool(governor, cfg, hooks)
	return &Orchestrator{
		cfg:      cfg,
		governor: governor,
		pool:     pool,
		dispatch: NewDispatcher(pool),
		maint:    NewMaintenanceLoop(pool, governor, cfg),
		hooks:    hooks,
	}
}

// Start launches the maintenance loop. Idempotent.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		go o.maint.Start()
	})
}

// RegisterModel adds a model to the pool without spawning workers. Workers
// are created lazily on first Submit (cold start) or eagerly by callers
// that want to pre-warm a model via Warm.
func (o *Orchestrator) RegisterModel(desc ModelDescriptor) error {
	return o.pool.Register(desc)
}

// UnregisterModel stops the model's dispatch loop, shuts down its workers,
// and drops its bookkeeping. Blocks until every worker has exited or
// ShutdownGrace elapses, whichever comes first.
func (o *Orchestrator) UnregisterModel(registryKey string) {
	entry, ok := o.pool.entry(registryKey)
	if !ok {
		return
	}
	o.drainWorkers(entry, o.cfg.ShutdownGrace)
	o.pool.Unregister(registryKey)
}

// Warm eagerly runs the cold-start spawn for a model with no live worker:
// a first batch of up to two workers, then a top-up toward MinWorkers. It
// returns an error only when the first batch spawns nothing; top-up
// shortfalls are not reported.
func (o *Orchestrator) Warm(registryKey string) error {
	entry, ok := o.pool.entry(registryKey)
	if !ok {
		return nil
	}
	return o.pool.ensureWorkersSpawned(entry)
}

// Submit dispatches req and blocks for its response. ctx governs
// cancellation independent of the request's own Deadline field.
func (o *Orchestrator) Submit(ctx context.Context, req *Request) (Response, error) {
	req.ctx = ctx
	return o.dispatch.Submit(req)
}

// Snapshot reports live worker state for every registered model.
func (o *Orchestrator) Snapshot() []ModelSnapshot {
	return o.pool.Snapshot()
}

// GovernorUsage reports the current (allocatedMB, limitMB, pressure).
func (o *Orchestrator) GovernorUsage() (allocatedMB, limitMB uint64, pressure PressureLevel) {
	a, l := o.governor.CurrentUsage()
	return a, l, o.governor.Pressure()
}

// Shutdown stops accepting new work, drains every registered model's
// workers within grace, and stops the maintenance loop. Idempotent.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.stopOnce.Do(func() {
		o.pool.shuttingDown.Store(true)

		var wg sync.WaitGroup
		for _, key := range o.pool.ModelKeys() {
			entry, ok := o.pool.entry(key)
			if !ok {
				continue
			}
			wg.Add(1)
			go func(e *modelEntry) {
				defer wg.Done()
				o.drainWorkers(e, grace)
			}(entry)
		}
		wg.Wait()

		o.maint.Stop()
	})
}

// drainWorkers signals every worker in m to shut down and waits up to
// grace for them to report Dead, polling rather than blocking forever on
// any single stuck worker.
func (o *Orchestrator) drainWorkers(m *modelEntry, grace time.Duration) {
	workers := m.snapshotWorkers()
	for _, w := range workers {
		w.shutdown()
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		allDead := true
		for _, w := range workers {
			if w.State() != StateDead {
				allDead = false
				break
			}
		}
		if allDead {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}
