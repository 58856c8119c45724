package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tutu-network/modelcore/internal/domain"
	"github.com/tutu-network/modelcore/internal/health"
	"github.com/tutu-network/modelcore/internal/infra/engine"
	"github.com/tutu-network/modelcore/internal/infra/metrics"
	"github.com/tutu-network/modelcore/internal/infra/registry"
	"github.com/tutu-network/modelcore/internal/infra/resource"
	"github.com/tutu-network/modelcore/internal/infra/sqlite"
	"github.com/tutu-network/modelcore/internal/poolcore"
)

// Daemon is the resident process: it owns the model registry, the
// inference backend, and the pool core orchestrator, and exposes the
// single Submit entry point every CLI command funnels through.
type Daemon struct {
	Config       Config
	DB           *sqlite.DB
	Models       *registry.Manager
	Backend      engine.InferenceBackend
	Orchestrator *poolcore.Orchestrator
	Health       *health.Checker
	Resources    *resource.Governor

	cancel context.CancelFunc

	mu         sync.Mutex
	registered map[string]poolcore.Capability
}

// New creates and initializes a Daemon with all services wired, loading
// configuration from the default path.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	db, err := sqlite.Open(tutuHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	modelsDir := cfg.Models.Dir
	if modelsDir == "" {
		modelsDir = filepath.Join(tutuHome(), "models")
	}
	mgr := registry.NewManager(modelsDir, db)

	backend, err := loadBackend()
	if err != nil {
		return nil, err
	}

	poolCfg, err := poolcore.LoadPoolConfigTOML(configPath())
	if err != nil {
		return nil, fmt.Errorf("load pool config: %w", err)
	}

	limitMB := resource.TotalMemoryMB()
	if limitMB == 0 {
		limitMB = 16384 // conservative fallback when host memory can't be detected
	}
	limitMB = uint64(float64(limitMB) * poolCfg.MemoryFraction)

	orch := poolcore.NewOrchestrator(limitMB, poolCfg, metrics.NewPoolHooks())

	govCfg := resource.DefaultGovernorConfig()
	govCfg.ThermalThrottle = cfg.Resources.ThermalThrottle
	govCfg.ThermalShutdown = cfg.Resources.ThermalShutdown

	d := &Daemon{
		Config:       cfg,
		DB:           db,
		Models:       mgr,
		Backend:      backend,
		Orchestrator: orch,
		Health:       health.NewChecker(db, modelsDir),
		Resources:    resource.NewGovernor(govCfg),
		registered:   make(map[string]poolcore.Capability),
	}
	return d, nil
}

// loadBackend tries the real llama-server subprocess backend first,
// auto-downloading the binary if it isn't present, and falls back to the
// mock backend (no real inference) if neither is possible.
func loadBackend() (engine.InferenceBackend, error) {
	backend, err := engine.NewSubprocessBackend(tutuHome())
	if err == nil {
		return backend, nil
	}

	fmt.Fprintf(os.Stderr, "  llama-server not found — downloading automatically...\n")
	_, dlErr := engine.DownloadLlamaServer(tutuHome(), func(status string, pct float64) {
		fmt.Fprintf(os.Stderr, "\r  %-70s", status)
	})
	fmt.Fprintln(os.Stderr)
	if dlErr != nil {
		fmt.Fprintf(os.Stderr, "  WARNING: could not auto-download llama-server: %v\n", dlErr)
		fmt.Fprintf(os.Stderr, "  Using mock backend (no real AI inference).\n")
		return engine.NewMockBackend(), nil
	}

	backend, err = engine.NewSubprocessBackend(tutuHome())
	if err != nil {
		fmt.Fprintf(os.Stderr, "  WARNING: downloaded but cannot use llama-server: %v\n", err)
		return engine.NewMockBackend(), nil
	}
	return backend, nil
}

// ensureRegistered resolves modelName to an on-disk path and registers it
// with the pool core under a registry key equal to the model name, if it
// hasn't been registered already. Idempotent.
func (d *Daemon) ensureRegistered(modelName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.registered[modelName]; ok {
		return nil
	}

	info, err := d.Models.Show(modelName)
	if err != nil {
		return err
	}
	path, err := d.Models.Resolve(modelName)
	if err != nil {
		return err
	}

	perWorkerMB := uint64(info.SizeBytes / (1024 * 1024))
	if perWorkerMB == 0 {
		perWorkerMB = 512
	}

	loadOpts := engine.LoadOptions{
		NumGPULayers: d.Config.Inference.GPULayers,
		NumCtx:       d.Config.Inference.ContextLength,
		NumThreads:   d.Config.Inference.Threads,
	}

	capability := inferCapability(info)
	err = d.Orchestrator.RegisterModel(poolcore.ModelDescriptor{
		RegistryKey: modelName,
		Capability:  capability,
		PerWorkerMB: perWorkerMB,
		Loader:      newLoader(d.Backend, path, loadOpts),
	})
	if err != nil && err != domain.ErrDuplicateKey {
		return err
	}
	d.registered[modelName] = capability
	return nil
}

// inferCapability classifies a model by name and family so it lands in the
// matching capability pool. The registry doesn't carry an explicit task
// tag, so this falls back to the same naming conventions the model
// catalogs themselves use, matching substrings such as "embed", "llava" or
// "rerank" anywhere in the name or family.
func inferCapability(info *domain.ModelInfo) poolcore.Capability {
	name := strings.ToLower(info.Name + " " + info.Family)
	switch {
	case strings.Contains(name, "rerank"):
		return poolcore.CapRerank
	case strings.Contains(name, "embed"):
		return poolcore.CapEmbed
	case strings.Contains(name, "llava"), strings.Contains(name, "vision"), strings.Contains(name, "vl"):
		return poolcore.CapVision
	case strings.Contains(name, "instruct"), strings.Contains(name, "chat"):
		return poolcore.CapChat
	default:
		return poolcore.CapGenerate
	}
}

// Submit resolves modelName, registers it with the pool on first use, and
// dispatches payload through the orchestrator.
func (d *Daemon) Submit(ctx context.Context, modelName string, payload any, priority poolcore.Priority) (poolcore.Response, error) {
	if err := d.ensureRegistered(modelName); err != nil {
		return poolcore.Response{}, err
	}

	d.mu.Lock()
	capability := d.registered[modelName]
	d.mu.Unlock()

	req := poolcore.NewRequest(ctx, modelName, capability, payload)
	req.Priority = priority
	return d.Orchestrator.Submit(ctx, req)
}

// StopModel unregisters a model, shutting down its workers within the
// configured grace period.
func (d *Daemon) StopModel(modelName string) {
	d.mu.Lock()
	delete(d.registered, modelName)
	d.mu.Unlock()
	d.Orchestrator.UnregisterModel(modelName)
}

// ModelSnapshot reports a registered model's live worker state, used by
// the `ps` command.
type ModelSnapshot = poolcore.ModelSnapshot

// LoadedModels returns a snapshot of every registered model, including
// models that currently have no worker.
func (d *Daemon) LoadedModels() []ModelSnapshot {
	return d.Orchestrator.Snapshot()
}

// Serve starts the maintenance loop and health checker and blocks until a
// termination signal arrives or ctx is cancelled, then drains every model
// within the configured shutdown grace period.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Orchestrator.Start()
	go d.Health.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("modelcore runtime started")
	if d.Config.Telemetry.Prometheus {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go http.ListenAndServe(fmt.Sprintf(":%d", d.Config.Telemetry.PrometheusPort), mux) //nolint:errcheck
		fmt.Printf("  Metrics: :%d/metrics\n", d.Config.Telemetry.PrometheusPort)
	}

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	d.Close()
	return nil
}

// Close shuts down all daemon resources. Safe to call more than once.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.Orchestrator != nil {
		d.Orchestrator.Shutdown(d.Config.poolShutdownGrace())
	}
	if d.Backend != nil {
		d.Backend.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

// configPath is where both Config and the embedded [pool] table live.
func configPath() string {
	return filepath.Join(tutuHome(), "config.toml")
}

// poolShutdownGrace re-reads the pool config file and returns its
// ShutdownGrace, or 10s when the file cannot be parsed.
func (c Config) poolShutdownGrace() time.Duration {
	cfg, err := poolcore.LoadPoolConfigTOML(configPath())
	if err != nil {
		return 10 * time.Second
	}
	return cfg.ShutdownGrace
}

// parseStorageSize parses a human size like "50GB" or "1TB" into bytes.
// Falls back to a 50GB default on an empty or unrecognized input.
func parseStorageSize(s string) uint64 {
	const defaultBytes = 50 * 1024 * 1024 * 1024
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return defaultBytes
	}

	units := []struct {
		suffix string
		factor uint64
	}{
		{"TB", 1024 * 1024 * 1024 * 1024},
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
	}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n, err := strconv.ParseUint(strings.TrimSuffix(s, u.suffix), 10, 64)
			if err != nil {
				return defaultBytes
			}
			return n * u.factor
		}
	}
	return defaultBytes
}
