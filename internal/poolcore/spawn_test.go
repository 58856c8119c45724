package poolcore

import (
	"context"
	"testing"
	"time"

	"github.com/tutu-network/modelcore/internal/domain"
)

func TestEnsureWorkersSpawned_ColdStartsMinWorkers(t *testing.T) {
	p := newTestPool(t, 1024)
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		MinWorkers:  3,
		MaxWorkers:  4,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, _ := p.entry("m1")

	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("ensureWorkersSpawned: %v", err)
	}
	if got := m.aliveCount(); got != 3 {
		t.Errorf("aliveCount() = %d, want 3", got)
	}
}

func TestEnsureWorkersSpawned_FallsBackToSingleWorkerWhenDoubleReservationFails(t *testing.T) {
	// limit_mb=500, per_worker_mb=400: 2x (800) doesn't fit, but 1x (400)
	// does, so cold start must fall back to a single worker rather than
	// reporting MemoryExhausted.
	p := newTestPool(t, 500)
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 400,
		MinWorkers:  1,
		MaxWorkers:  4,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, _ := p.entry("m1")

	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("ensureWorkersSpawned: %v", err)
	}
	if got := m.aliveCount(); got != 1 {
		t.Errorf("aliveCount() = %d, want 1 (fallback to single worker)", got)
	}
	allocated, _ := p.governor.CurrentUsage()
	if allocated != 400 {
		t.Errorf("allocated = %d, want 400", allocated)
	}
}

func TestEnsureWorkersSpawned_MemoryExhaustedWhenEvenOneWorkerDoesNotFit(t *testing.T) {
	p := newTestPool(t, 300)
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 400,
		MinWorkers:  1,
		MaxWorkers:  4,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, _ := p.entry("m1")

	if err := p.ensureWorkersSpawned(m); err != domain.ErrMemoryExhausted {
		t.Errorf("ensureWorkersSpawned() = %v, want ErrMemoryExhausted", err)
	}
	if got := m.aliveCount(); got != 0 {
		t.Errorf("aliveCount() = %d, want 0", got)
	}
}

func TestEnsureWorkersSpawned_NoopWhenAlreadyAlive(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 64)
	m, _ := p.entry("m1")

	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("first ensureWorkersSpawned: %v", err)
	}
	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("second ensureWorkersSpawned: %v", err)
	}
	if got := m.aliveCount(); got != 2 {
		t.Errorf("aliveCount() = %d, want 2 (no duplicate cold start)", got)
	}
}

func TestEnsureWorkersSpawned_PartialOnMemoryShortage(t *testing.T) {
	// 192MB covers the first worker's cold-start reservation dance
	// (reserve 128, allocate 64) plus two more 64MB workers exactly, but
	// not a fourth: MinWorkers asks for 4, only 3 fit.
	p := newTestPool(t, 192)
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		MinWorkers:  4,
		MaxWorkers:  4,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, _ := p.entry("m1")

	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("ensureWorkersSpawned: %v", err)
	}
	if got := m.aliveCount(); got != 3 {
		t.Errorf("aliveCount() = %d, want 3 (partial cold start under memory pressure)", got)
	}
}

func TestMaybeScaleOut_AddsWorkerWhenAllBusy(t *testing.T) {
	p := newTestPool(t, 1024)
	release := make(chan struct{})
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		MinWorkers:  1,
		MaxWorkers:  3, // cold start spawns 2; room for maybeScaleOut to add a third
		Loader: okLoader(&stubModel{invokeFn: func(ctx context.Context, payload any) (any, error) {
			<-release
			return payload, nil
		}}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, _ := p.entry("m1")
	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("ensureWorkersSpawned: %v", err)
	}
	if got := m.aliveCount(); got != 2 {
		t.Fatalf("aliveCount() after cold start = %d, want 2", got)
	}

	// Occupy both cold-started workers so maybeScaleOut sees allBusy.
	reqs := make([]*Request, 0, 2)
	for _, w := range m.snapshotWorkers() {
		req := NewRequest(context.Background(), "m1", CapChat, "x")
		w.pendingRequests.Add(1)
		w.requestTx <- req
		reqs = append(reqs, req)
	}

	deadline := time.After(time.Second)
	for !allBusy(m.snapshotWorkers()) {
		select {
		case <-deadline:
			t.Fatalf("workers never entered Processing")
		default:
		}
	}

	p.maybeScaleOut(m)
	if got := m.aliveCount(); got != 3 {
		t.Errorf("aliveCount() after maybeScaleOut = %d, want 3", got)
	}

	close(release)
	for _, req := range reqs {
		<-req.responseTx
	}
}

func TestMaybeScaleOut_NoopAtMaxWorkers(t *testing.T) {
	p := newTestPool(t, 1024)
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		MinWorkers:  1,
		MaxWorkers:  1,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	m, _ := p.entry("m1")
	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("ensureWorkersSpawned: %v", err)
	}

	p.maybeScaleOut(m)
	if got := m.aliveCount(); got != 1 {
		t.Errorf("aliveCount() = %d, want 1 (already at MaxWorkers)", got)
	}
}

func TestMaybeScaleOut_NoopWhenNotAllBusy(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 64)
	m, _ := p.entry("m1")
	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("ensureWorkersSpawned: %v", err)
	}

	p.maybeScaleOut(m)
	if got := m.aliveCount(); got != 2 {
		t.Errorf("aliveCount() = %d, want 2 (idle workers, no scale-out needed)", got)
	}
}
