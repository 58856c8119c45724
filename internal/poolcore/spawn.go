package poolcore

import (
	"github.com/tutu-network/modelcore/internal/domain"
)

// ensureWorkersSpawned guarantees at least one live worker exists for the
// model. It serializes on the model's spawn lock so concurrent first
// requests for the same key don't race into duplicate cold starts.
//
// Cold start always attempts to admit two workers (the pool's standing
// assumption that traffic arrives in pairs), falling back to one if the
// second doesn't fit, and only reporting MemoryExhausted if neither does.
// Beyond that initial batch, desc.MinWorkers is topped up opportunistically:
// a mid-batch memory shortage only costs the workers that didn't fit, and
// the model is left usable with fewer than MinWorkers until memory frees.
func (p *Pool) ensureWorkersSpawned(m *modelEntry) error {
	m.spawnMu.Lock()
	defer m.spawnMu.Unlock()

	if m.aliveCount() > 0 {
		return nil
	}

	estimate := m.desc.PerWorkerMB
	spawned, err := p.spawnInitialBatch(m, estimate)
	if err != nil {
		return err
	}

	target := m.desc.MinWorkers
	if target < spawned {
		target = spawned
	}
	for i := spawned; i < target; i++ {
		g, err := p.governor.TryAllocate(estimate)
		if err != nil {
			// Partial cold start is acceptable: the model is usable with
			// fewer than MinWorkers workers until memory frees up.
			break
		}
		if err := p.spawnOne(m, g); err != nil {
			g.Release()
			break
		}
	}
	return nil
}

// spawnInitialBatch implements the cold-start sizing dance: reserve room for
// two workers at once (a speculative over-reservation, since the exact
// footprint is only known after the first real load), and if that holds,
// spawn both for real one at a time. If the double reservation doesn't fit,
// fall back to admitting a single worker with a plain TryAllocate. Returns
// the number of workers spawned, or ErrMemoryExhausted if even one doesn't
// fit.
func (p *Pool) spawnInitialBatch(m *modelEntry, estimate uint64) (int, error) {
	want := 2
	if m.desc.MaxWorkers > 0 && m.desc.MaxWorkers < want {
		want = m.desc.MaxWorkers
	}
	if want < 1 {
		want = 1
	}

	if want < 2 {
		return p.spawnSingleFallback(m, estimate)
	}

	reservation, err := p.governor.Reserve(estimate * 2)
	if err != nil {
		return p.spawnSingleFallback(m, estimate)
	}
	reservation.Cancel() // the speculative over-reservation is no longer needed

	spawned := 0
	var spawnErr error
	for i := 0; i < 2; i++ {
		guard, err := p.governor.TryAllocate(estimate)
		if err != nil {
			break
		}
		if err := p.spawnOne(m, guard); err != nil {
			guard.Release()
			spawnErr = err
			break
		}
		spawned++
	}
	if spawned == 0 {
		if spawnErr != nil {
			return 0, spawnErr
		}
		return 0, domain.ErrMemoryExhausted
	}
	return spawned, nil
}

// spawnSingleFallback admits exactly one worker via a plain TryAllocate,
// the "else 1" branch of the cold-start policy when the double reservation
// didn't fit.
func (p *Pool) spawnSingleFallback(m *modelEntry, estimate uint64) (int, error) {
	guard, err := p.governor.TryAllocate(estimate)
	if err != nil {
		return 0, domain.ErrMemoryExhausted
	}
	if err := p.spawnOne(m, guard); err != nil {
		guard.Release()
		return 0, err
	}
	return 1, nil
}

func (p *Pool) spawnOne(m *modelEntry, guard *AllocationGuard) error {
	id := p.nextWorkerID()
	p.hooks.fireWorkerSpawn(m.desc.RegistryKey, id)

	h := spawnWorker(id, m.desc.RegistryKey, guard.MB(), m.desc.Loader, guard, m.breaker, p.hooks, m.ping)
	if err := h.WaitReady(); err != nil {
		return domain.ErrLoadError
	}
	m.addWorker(h)
	m.ping()
	return nil
}

// maybeScaleOut spawns one additional worker if every existing worker is
// currently busy, the model is below MaxWorkers, and memory allows it.
// Re-checks both conditions after acquiring the spawn lock since the
// decision to scale is made from a stale read of busy/worker counts.
func (p *Pool) maybeScaleOut(m *modelEntry) {
	workers := m.snapshotWorkers()
	if len(workers) == 0 || len(workers) >= m.desc.MaxWorkers {
		return
	}
	if !allBusy(workers) {
		return
	}

	if !m.spawnMu.TryLock() {
		return // a spawn is already in flight; don't pile on
	}
	defer m.spawnMu.Unlock()

	workers = m.snapshotWorkers()
	if len(workers) >= m.desc.MaxWorkers || !allBusy(workers) {
		return
	}

	guard, err := p.governor.TryAllocate(m.desc.PerWorkerMB)
	if err != nil {
		return
	}
	if err := p.spawnOne(m, guard); err != nil {
		guard.Release()
	}
}

func allBusy(workers []*WorkerHandle) bool {
	for _, w := range workers {
		if w.State() != StateProcessing {
			return false
		}
	}
	return true
}
