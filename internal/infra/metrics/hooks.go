package metrics

import (
	"errors"

	"github.com/tutu-network/modelcore/internal/domain"
	"github.com/tutu-network/modelcore/internal/poolcore"
)

// NewPoolHooks wires the pool core's lifecycle callbacks to the Prometheus
// metrics declared in this package, so the daemon can pass the result
// straight to poolcore.NewOrchestrator without hand-wiring each event.
func NewPoolHooks() *poolcore.Hooks {
	return &poolcore.Hooks{
		OnWorkerSpawn: func(registryKey string, workerID uint64) {
			WorkersSpawned.WithLabelValues(registryKey).Inc()
			WorkersLive.WithLabelValues(registryKey).Inc()
		},
		OnWorkerReady: func(registryKey string, workerID uint64) {},
		OnWorkerEvict: func(registryKey string, workerID uint64, reason string) {
			WorkersEvicted.WithLabelValues(registryKey, reason).Inc()
			WorkersLive.WithLabelValues(registryKey).Dec()
		},
		OnWorkerFail: func(registryKey string, workerID uint64, err error) {
			// A worker panic also fires OnWorkerFail, with ErrRuntimeError.
			if !errors.Is(err, domain.ErrRuntimeError) {
				WorkerLoadFailures.WithLabelValues(registryKey).Inc()
			}
			WorkersLive.WithLabelValues(registryKey).Dec()
		},
		OnRequestStart: func(registryKey, requestID string) {},
		OnRequestComplete: func(registryKey, requestID string) {
			RequestsDispatched.WithLabelValues(registryKey).Inc()
		},
		OnRequestFail: func(registryKey, requestID string, err error) {
			RequestsFailed.WithLabelValues(registryKey, reasonLabel(err)).Inc()
		},
	}
}

func reasonLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
