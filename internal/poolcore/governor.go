package poolcore

import (
	"sync/atomic"

	"github.com/tutu-network/modelcore/internal/domain"
)

// PressureLevel is a derived view of allocated/limit used to bias eviction
// and throttle spawns.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	PressureElevated
	PressureHigh
	PressureCritical
)

func (p PressureLevel) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureElevated:
		return "elevated"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MemoryGovernor is the global admission controller for model memory. A
// single instance is shared by every capability pool.
type MemoryGovernor struct {
	limitMB     uint64
	allocatedMB atomic.Uint64
	pendingMB   atomic.Uint64
}

// NewMemoryGovernor creates a governor with a fixed budget in megabytes.
// Callers compute limitMB as floor(system_total_mb * fraction).
func NewMemoryGovernor(limitMB uint64) *MemoryGovernor {
	return &MemoryGovernor{limitMB: limitMB}
}

// AllocationGuard is a single-owner RAII-style token returned by
// TryAllocate. Release must be called exactly once; it is safe to call
// multiple times (later calls are no-ops) so deferred release composes with
// explicit error-path release.
type AllocationGuard struct {
	gov      *MemoryGovernor
	mb       uint64
	released atomic.Bool
}

// Release decrements allocated_mb by the exact amount this guard reserved.
// Safe to call more than once; only the first call has an effect.
func (g *AllocationGuard) Release() {
	if g == nil || g.gov == nil {
		return
	}
	if g.released.CompareAndSwap(false, true) {
		g.gov.allocatedMB.Add(^(g.mb - 1)) // subtract g.mb
	}
}

// MB reports the amount this guard holds reserved.
func (g *AllocationGuard) MB() uint64 { return g.mb }

// TryAllocate attempts to admit an allocation of mb megabytes. It is a
// compare-and-swap loop: read current allocated_mb, verify the sum stays
// under the limit, CAS to the new total. No blocking — on failure the
// caller decides whether to queue, reject, or wait.
func (g *MemoryGovernor) TryAllocate(mb uint64) (*AllocationGuard, error) {
	for {
		cur := g.allocatedMB.Load()
		pending := g.pendingMB.Load()
		if cur+pending+mb > g.limitMB {
			return nil, domain.ErrMemoryExhausted
		}
		if g.allocatedMB.CompareAndSwap(cur, cur+mb) {
			return &AllocationGuard{gov: g, mb: mb}, nil
		}
	}
}

// ReservationHandle is the two-phase variant: it reserves mb under
// pending_mb so a caller can later Commit (move the reservation into
// allocated_mb and receive an AllocationGuard) or Cancel (release the
// reservation without ever allocating). Used when a batch of workers must
// succeed together.
type ReservationHandle struct {
	gov      *MemoryGovernor
	mb       uint64
	resolved atomic.Bool
}

// Reserve increments pending_mb; the reservation must be Committed or
// Cancelled exactly once.
func (g *MemoryGovernor) Reserve(mb uint64) (*ReservationHandle, error) {
	for {
		cur := g.allocatedMB.Load()
		pending := g.pendingMB.Load()
		if cur+pending+mb > g.limitMB {
			return nil, domain.ErrMemoryExhausted
		}
		if g.pendingMB.CompareAndSwap(pending, pending+mb) {
			return &ReservationHandle{gov: g, mb: mb}, nil
		}
	}
}

// Commit moves the reservation into allocated_mb and returns the resulting
// AllocationGuard. Calling Commit twice, or after Cancel, is a no-op
// returning nil.
func (r *ReservationHandle) Commit() *AllocationGuard {
	if !r.resolved.CompareAndSwap(false, true) {
		return nil
	}
	r.gov.pendingMB.Add(^(r.mb - 1))
	r.gov.allocatedMB.Add(r.mb)
	return &AllocationGuard{gov: r.gov, mb: r.mb}
}

// Cancel releases the reservation without allocating. No-op if already
// resolved.
func (r *ReservationHandle) Cancel() {
	if r.resolved.CompareAndSwap(false, true) {
		r.gov.pendingMB.Add(^(r.mb - 1))
	}
}

// CurrentUsage returns a lock-free snapshot of (allocated_mb, limit_mb).
func (g *MemoryGovernor) CurrentUsage() (allocatedMB, limitMB uint64) {
	return g.allocatedMB.Load(), g.limitMB
}

// Pressure derives the current PressureLevel from allocated/limit.
func (g *MemoryGovernor) Pressure() PressureLevel {
	allocated, limit := g.CurrentUsage()
	if limit == 0 {
		return PressureCritical
	}
	ratio := float64(allocated) / float64(limit)
	switch {
	case ratio >= 0.95:
		return PressureCritical
	case ratio >= 0.85:
		return PressureHigh
	case ratio >= 0.70:
		return PressureElevated
	default:
		return PressureNormal
	}
}
