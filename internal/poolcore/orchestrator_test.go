package poolcore

import (
	"context"
	"testing"
	"time"
)

func newTestOrchestrator(t *testing.T, limitMB uint64) *Orchestrator {
	t.Helper()
	cfg := DefaultPoolConfig()
	cfg.MinWorkersPerModel = 1
	cfg.MaxWorkersPerModel = 4
	cfg.RequestTimeout = time.Second
	cfg.MaintenanceInterval = 10 * time.Millisecond
	cfg.ShutdownGrace = time.Second
	o := NewOrchestrator(limitMB, cfg, &Hooks{})
	o.Start()
	return o
}

func TestOrchestrator_RegisterAndSubmitRoundTrip(t *testing.T) {
	o := newTestOrchestrator(t, 1024)
	defer o.Shutdown(time.Second)

	err := o.RegisterModel(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}

	resp, err := o.Submit(context.Background(), NewRequest(context.Background(), "m1", CapChat, "hi"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Value != "hi" {
		t.Errorf("resp.Value = %v, want %q", resp.Value, "hi")
	}
}

func TestOrchestrator_WarmPreSpawnsWorkers(t *testing.T) {
	o := newTestOrchestrator(t, 1024)
	defer o.Shutdown(time.Second)

	err := o.RegisterModel(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	if err := o.Warm("m1"); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	snap := o.Snapshot()
	if len(snap) != 1 || snap[0].WorkerCount != 2 {
		t.Errorf("Snapshot() = %+v, want one model with 2 workers already warm (cold start tries two)", snap)
	}
}

func TestOrchestrator_UnregisterModelDrainsWorkers(t *testing.T) {
	o := newTestOrchestrator(t, 1024)
	defer o.Shutdown(time.Second)

	err := o.RegisterModel(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	if err := o.Warm("m1"); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	o.UnregisterModel("m1")

	if got := o.Snapshot(); len(got) != 0 {
		t.Errorf("Snapshot() after UnregisterModel = %+v, want empty", got)
	}
	allocated, _, _ := o.GovernorUsage()
	if allocated != 0 {
		t.Errorf("GovernorUsage() allocated = %d, want 0 after drain", allocated)
	}
}

func TestOrchestrator_GovernorUsageReflectsPressure(t *testing.T) {
	o := newTestOrchestrator(t, 100)
	defer o.Shutdown(time.Second)

	err := o.RegisterModel(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 30,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	if err := o.Warm("m1"); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	allocated, limit, pressure := o.GovernorUsage()
	if allocated != 60 {
		t.Errorf("allocated = %d, want 60 (cold start tries two 30MB workers)", allocated)
	}
	if limit != 100 {
		t.Errorf("limit = %d, want 100", limit)
	}
	if pressure != PressureNormal {
		t.Errorf("pressure = %v, want Normal at 60%% usage", pressure)
	}
}

func TestOrchestrator_ShutdownRejectsFurtherSubmits(t *testing.T) {
	o := newTestOrchestrator(t, 1024)
	err := o.RegisterModel(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 64,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}

	o.Shutdown(time.Second)

	_, err = o.Submit(context.Background(), NewRequest(context.Background(), "m1", CapChat, "x"))
	if err == nil {
		t.Error("Submit after Shutdown should fail")
	}
}

func TestOrchestrator_ShutdownIsIdempotent(t *testing.T) {
	o := newTestOrchestrator(t, 1024)
	o.Shutdown(time.Second)
	o.Shutdown(time.Second) // must not block or panic
}
