package poolcore

import (
	"context"
	"testing"
	"time"

	"github.com/tutu-network/modelcore/internal/domain"
)

func TestPool_RegisterRejectsDuplicateKey(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 128)

	err := p.Register(ModelDescriptor{RegistryKey: "m1", Capability: CapChat, PerWorkerMB: 128, Loader: okLoader(&stubModel{})})
	if err != domain.ErrDuplicateKey {
		t.Errorf("second Register() under the same capability = %v, want ErrDuplicateKey", err)
	}
}

func TestPool_RegisterRejectsCrossCapabilityKeyCollision(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 128) // registered under CapChat

	err := p.Register(ModelDescriptor{RegistryKey: "m1", Capability: CapEmbed, PerWorkerMB: 128, Loader: okLoader(&stubModel{})})
	if err != domain.ErrWrongCapability {
		t.Errorf("Register() under a different capability = %v, want ErrWrongCapability", err)
	}
}

func TestPool_UnregisterDropsFromModelKeys(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 128)
	registerEchoModel(t, p, "m2", 128)

	p.Unregister("m1")

	keys := p.ModelKeys()
	if len(keys) != 1 || keys[0] != "m2" {
		t.Errorf("ModelKeys() after Unregister(m1) = %v, want [m2]", keys)
	}
}

func TestPool_SnapshotReportsWorkerState(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 128)
	d := NewDispatcher(p)

	req := NewRequest(context.Background(), "m1", CapChat, "x")
	if _, err := d.Submit(req); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}
	s := snap[0]
	if s.RegistryKey != "m1" {
		t.Errorf("RegistryKey = %q, want m1", s.RegistryKey)
	}
	if s.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want 2 (cold start tries two workers)", s.WorkerCount)
	}
	if s.LastUsedUnix == 0 {
		t.Error("LastUsedUnix should be set after a completed request")
	}
}

func TestPool_AliveCountExcludesDeadWorkers(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 128)
	m, _ := p.entry("m1")

	if err := p.ensureWorkersSpawned(m); err != nil {
		t.Fatalf("ensureWorkersSpawned: %v", err)
	}
	if m.aliveCount() != 2 {
		t.Fatalf("aliveCount() = %d, want 2 (cold start tries two workers)", m.aliveCount())
	}

	for _, w := range m.snapshotWorkers() {
		w.shutdown()
	}

	deadline := time.After(time.Second)
	for m.aliveCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("aliveCount() never reached 0")
		default:
		}
	}
}
