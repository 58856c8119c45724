// Package health provides automated health checks with auto-recovery.
// Architecture Part XVI: 3 checks run every 60 seconds.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tutu-network/modelcore/internal/infra/sqlite"
)

// Check defines a single health check with optional recovery action.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// NewChecker creates a health checker with the standard 3 checks
// (sqlite, disk_space, model_integrity).
func NewChecker(db *sqlite.DB, modelsDir string) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
				RecoverFn: func(ctx context.Context) error {
					return nil // SQLite auto-recovers via WAL
				},
			},
			{
				Name: "disk_space",
				CheckFn: func(ctx context.Context) error {
					return checkDiskSpace(modelsDir, 500*1024*1024) // 500MB min
				},
				RecoverFn: func(ctx context.Context) error {
					return nil // Phase 1: manual cleanup for now
				},
			},
			{
				Name: "model_integrity",
				CheckFn: func(ctx context.Context) error {
					return checkModelsDir(modelsDir)
				},
				RecoverFn: func(ctx context.Context) error {
					return nil // Phase 1: log warning only
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			// Attempt recovery
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDiskSpace(dir string, minBytes int64) error {
	// Use os.Stat to check dir exists. Actual free space checking
	// requires platform-specific syscalls — added in Step 1.1 polish.
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Dir doesn't exist yet, that's fine
		}
		return fmt.Errorf("check disk: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func checkModelsDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No models yet
		}
		return fmt.Errorf("check models dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("models path %s is not a directory", dir)
	}
	return nil
}
