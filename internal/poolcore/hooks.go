package poolcore

// Hooks are non-blocking lifecycle callbacks the orchestrator's caller can
// attach for observability (metrics, logging, admin UIs). Every field is
// optional; a nil field is simply not called. Callbacks run synchronously
// on the calling goroutine (worker loop or dispatcher) and must not block —
// callers needing to do slow work should hand off to their own goroutine.
type Hooks struct {
	OnWorkerSpawn func(registryKey string, workerID uint64)
	OnWorkerReady func(registryKey string, workerID uint64)
	OnWorkerEvict func(registryKey string, workerID uint64, reason string)
	OnWorkerFail  func(registryKey string, workerID uint64, err error)

	OnRequestStart    func(registryKey string, requestID string)
	OnRequestComplete func(registryKey string, requestID string)
	OnRequestFail     func(registryKey string, requestID string, err error)
}

func (h *Hooks) fireWorkerSpawn(registryKey string, workerID uint64) {
	if h != nil && h.OnWorkerSpawn != nil {
		h.OnWorkerSpawn(registryKey, workerID)
	}
}

func (h *Hooks) fireWorkerReady(w *WorkerHandle) {
	if h != nil && h.OnWorkerReady != nil {
		h.OnWorkerReady(w.RegistryKey, w.WorkerID)
	}
}

func (h *Hooks) fireWorkerEvict(registryKey string, workerID uint64, reason string) {
	if h != nil && h.OnWorkerEvict != nil {
		h.OnWorkerEvict(registryKey, workerID, reason)
	}
}

func (h *Hooks) fireWorkerFail(w *WorkerHandle, err error) {
	if h != nil && h.OnWorkerFail != nil {
		h.OnWorkerFail(w.RegistryKey, w.WorkerID, err)
	}
}

func (h *Hooks) fireRequestStart(registryKey, requestID string) {
	if h != nil && h.OnRequestStart != nil {
		h.OnRequestStart(registryKey, requestID)
	}
}

func (h *Hooks) fireRequestComplete(registryKey, requestID string) {
	if h != nil && h.OnRequestComplete != nil {
		h.OnRequestComplete(registryKey, requestID)
	}
}

func (h *Hooks) fireRequestFail(registryKey, requestID string, err error) {
	if h != nil && h.OnRequestFail != nil {
		h.OnRequestFail(registryKey, requestID, err)
	}
}
