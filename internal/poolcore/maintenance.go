package poolcore

import (
	"sort"
	"time"
)

// MaintenanceLoop periodically sweeps every registered model: first
// reaping dead workers, then validating the health of the survivors, then
// evicting idle workers (LRU first, pressure-biased once memory is tight).
// Order matters — a dead worker still counted as "alive" would poison LRU
// selection and double-count memory that already freed on panic.
type MaintenanceLoop struct {
	pool         *Pool
	governor     *MemoryGovernor
	cfg          PoolConfig
	healthProbe  time.Duration
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewMaintenanceLoop creates a loop bound to pool, ticking at
// cfg.MaintenanceInterval.
func NewMaintenanceLoop(pool *Pool, governor *MemoryGovernor, cfg PoolConfig) *MaintenanceLoop {
	return &MaintenanceLoop{
		pool:        pool,
		governor:    governor,
		cfg:         cfg,
		healthProbe: 2 * time.Second,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the maintenance tick loop until Stop is called. Intended to be
// run in its own goroutine by the orchestrator.
func (ml *MaintenanceLoop) Start() {
	defer close(ml.doneCh)

	ticker := time.NewTicker(ml.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ml.stopCh:
			return
		case <-ticker.C:
			ml.tick()
		}
	}
}

// Stop signals the loop to exit and blocks until it has.
func (ml *MaintenanceLoop) Stop() {
	close(ml.stopCh)
	<-ml.doneCh
}

func (ml *MaintenanceLoop) tick() {
	for _, key := range ml.pool.ModelKeys() {
		entry, ok := ml.pool.entry(key)
		if !ok {
			continue
		}
		ml.reapDead(entry)
		ml.reapTimedOutRequests(entry)
		ml.validateHealth(entry)
		ml.evictIdle(entry)
	}
}

// reapDead removes workers whose state has settled to Dead or Failed —
// this must run before any idle-eviction pass, since a dead worker's
// last_used timestamp is stale and would otherwise look like the best LRU
// eviction candidate while contributing nothing to capacity.
func (ml *MaintenanceLoop) reapDead(m *modelEntry) {
	for _, w := range m.snapshotWorkers() {
		switch w.State() {
		case StateDead, StateFailed:
			m.removeWorker(w.WorkerID)
			ml.pool.hooks.fireWorkerEvict(m.desc.RegistryKey, w.WorkerID, "dead")
		}
	}
}

func (ml *MaintenanceLoop) reapTimedOutRequests(m *modelEntry) {
	m.queue.ReapExpired(time.Now())
}

// validateHealth pings every remaining worker; one that doesn't answer
// within the probe window is presumed wedged and shut down, freeing it to
// be reaped as Dead on the next tick once its goroutine actually exits.
func (ml *MaintenanceLoop) validateHealth(m *modelEntry) {
	for _, w := range m.snapshotWorkers() {
		if w.State() != StateReady && w.State() != StateIdle {
			continue
		}
		if _, ok := w.ping(ml.healthProbe); !ok {
			w.shutdown()
		}
	}
}

// evictIdle drops at most one worker per tick under normal conditions: a
// worker is evictable iff it has no pending requests, sits in Ready or
// Idle, and has been unused for at least IdleTimeout, and eviction only
// fires when every worker for the model is simultaneously evictable — a
// model that's even partly in use is left alone entirely, never trimmed
// worker-by-worker. Under PressureCritical that restraint drops: every
// evictable worker is shut down immediately (subject to KeepLastWarm),
// regardless of whether the rest of the fleet is also idle.
func (ml *MaintenanceLoop) evictIdle(m *modelEntry) {
	workers := m.snapshotWorkers()
	idle := make([]*WorkerHandle, 0, len(workers))
	for _, w := range workers {
		if w.State() == StateReady || w.State() == StateIdle {
			idle = append(idle, w)
		}
	}
	if len(idle) == 0 {
		return
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].LastUsed() < idle[j].LastUsed() })

	now := time.Now().Unix()
	threshold := int64(ml.cfg.IdleTimeout.Seconds())
	evictable := make([]*WorkerHandle, 0, len(idle))
	for _, w := range idle {
		if w.Pending() == 0 && now-w.LastUsed() >= threshold {
			evictable = append(evictable, w)
		}
	}
	if len(evictable) == 0 {
		return
	}

	minKeep := 0
	if ml.cfg.KeepLastWarm {
		minKeep = 1
	}

	if ml.governor.Pressure() == PressureCritical {
		remaining := len(workers)
		for _, w := range evictable {
			if remaining <= minKeep {
				break
			}
			ml.evict(m, w, "idle_critical_pressure")
			remaining--
		}
		return
	}

	if len(evictable) != len(workers) {
		// Some worker is still busy or too fresh to evict; leave the whole
		// model alone rather than trim the ones that happen to qualify.
		return
	}
	if len(workers)-minKeep <= 0 {
		return
	}
	ml.evict(m, evictable[0], "idle_timeout")
}

func (ml *MaintenanceLoop) evict(m *modelEntry, w *WorkerHandle, reason string) {
	w.shutdown()
	ml.pool.hooks.fireWorkerEvict(m.desc.RegistryKey, w.WorkerID, reason)
}
