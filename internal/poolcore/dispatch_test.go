package poolcore

import (
	"context"
	"testing"
	"time"

	"github.com/tutu-network/modelcore/internal/domain"
)

func newTestPool(t *testing.T, limitMB uint64) *Pool {
	t.Helper()
	cfg := DefaultPoolConfig()
	cfg.MinWorkersPerModel = 1
	cfg.MaxWorkersPerModel = 4
	cfg.RequestTimeout = time.Second
	return NewPool(NewMemoryGovernor(limitMB), cfg, &Hooks{})
}

func registerEchoModel(t *testing.T, p *Pool, key string, perWorkerMB uint64) {
	t.Helper()
	err := p.Register(ModelDescriptor{
		RegistryKey: key,
		Capability:  CapChat,
		PerWorkerMB: perWorkerMB,
		Loader:      okLoader(&stubModel{}),
	})
	if err != nil {
		t.Fatalf("Register(%q): %v", key, err)
	}
}

func TestDispatcher_SubmitColdStartsAndDispatches(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 128)
	d := NewDispatcher(p)

	req := NewRequest(context.Background(), "m1", CapChat, "hello")
	resp, err := d.Submit(req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if resp.Value != "hello" {
		t.Errorf("resp.Value = %v, want %q (echoed payload)", resp.Value, "hello")
	}
}

func TestDispatcher_SubmitUnknownModel(t *testing.T) {
	p := newTestPool(t, 1024)
	d := NewDispatcher(p)

	req := NewRequest(context.Background(), "ghost", CapChat, "x")
	_, err := d.Submit(req)
	if err != domain.ErrNoHealthyWorkers {
		t.Errorf("Submit() for unregistered model = %v, want ErrNoHealthyWorkers", err)
	}
}

func TestDispatcher_SubmitAfterShutdownRejects(t *testing.T) {
	p := newTestPool(t, 1024)
	registerEchoModel(t, p, "m1", 128)
	p.shuttingDown.Store(true)
	d := NewDispatcher(p)

	req := NewRequest(context.Background(), "m1", CapChat, "x")
	_, err := d.Submit(req)
	if err != domain.ErrShutdown {
		t.Errorf("Submit() after shutdown = %v, want ErrShutdown", err)
	}
}

func TestDispatcher_QueuesWhenAllWorkersBusy(t *testing.T) {
	p := newTestPool(t, 1024)
	release := make(chan struct{})
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 128,
		MinWorkers:  1,
		MaxWorkers:  1, // force queuing instead of scale-out
		Loader: okLoader(&stubModel{invokeFn: func(ctx context.Context, payload any) (any, error) {
			<-release
			return payload, nil
		}}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := NewDispatcher(p)

	done := make(chan Response, 2)
	go func() {
		resp, _ := d.Submit(NewRequest(context.Background(), "m1", CapChat, "first"))
		done <- resp
	}()
	// Give the first request time to occupy the sole worker.
	time.Sleep(50 * time.Millisecond)

	go func() {
		resp, _ := d.Submit(NewRequest(context.Background(), "m1", CapChat, "second"))
		done <- resp
	}()
	time.Sleep(50 * time.Millisecond)

	m, _ := p.entry("m1")
	if m.queue.Len() != 1 {
		t.Errorf("queue.Len() = %d, want 1 (second request waiting)", m.queue.Len())
	}

	close(release)
	first := <-done
	second := <-done
	if first.Value != "first" && second.Value != "first" {
		t.Error("first request result missing")
	}
	if first.Value != "second" && second.Value != "second" {
		t.Error("second request result missing")
	}
}

func TestDispatcher_SelectWorkerTieBreaksByProcessedThenWorkerID(t *testing.T) {
	d := &Dispatcher{}

	a := &WorkerHandle{WorkerID: 1}
	a.setState(StateReady)
	b := &WorkerHandle{WorkerID: 2}
	b.setState(StateReady)

	// Equal pending, a has fewer processed: a wins regardless of sampling.
	a.processedRequests.Store(1)
	b.processedRequests.Store(5)
	for i := 0; i < 20; i++ {
		w, ok := d.selectWorker([]*WorkerHandle{a, b})
		if !ok || w != a {
			t.Fatalf("selectWorker() = %v, want a (fewer processed_requests)", w)
		}
	}

	// Equal pending and processed: lower worker_id wins.
	b.processedRequests.Store(1)
	for i := 0; i < 20; i++ {
		w, ok := d.selectWorker([]*WorkerHandle{a, b})
		if !ok || w != a {
			t.Fatalf("selectWorker() = %v, want a (lower worker_id on full tie)", w)
		}
	}

	// Fewer pending always wins regardless of processed_requests.
	b.pendingRequests.Store(-1) // b has negative pending, i.e. "fewer"
	for i := 0; i < 20; i++ {
		w, ok := d.selectWorker([]*WorkerHandle{a, b})
		if !ok || w != b {
			t.Fatalf("selectWorker() = %v, want b (fewer pending_requests)", w)
		}
	}
}

func TestDispatcher_RequestDeadlineTimesOutInQueue(t *testing.T) {
	p := newTestPool(t, 1024)
	release := make(chan struct{})
	defer close(release)
	err := p.Register(ModelDescriptor{
		RegistryKey: "m1",
		Capability:  CapChat,
		PerWorkerMB: 128,
		MinWorkers:  1,
		MaxWorkers:  1,
		Loader: okLoader(&stubModel{invokeFn: func(ctx context.Context, payload any) (any, error) {
			<-release
			return payload, nil
		}}),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	d := NewDispatcher(p)

	go d.Submit(NewRequest(context.Background(), "m1", CapChat, "occupy"))
	time.Sleep(50 * time.Millisecond)

	req := NewRequest(context.Background(), "m1", CapChat, "late")
	req.Deadline = time.Now().Add(30 * time.Millisecond)
	_, err = d.Submit(req)
	if err != domain.ErrTimeout {
		t.Errorf("Submit() past deadline = %v, want ErrTimeout", err)
	}
}
