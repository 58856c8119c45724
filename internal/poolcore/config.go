// Package poolcore implements the multi-model worker pool: memory-governed
// admission, adaptive scaling, circuit breaking, and idle eviction for a
// local model-serving runtime.
package poolcore

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// PoolConfig holds the tunables described in the external interfaces
// contract. Every field has a default, and every field except KeepLastWarm
// has an environment variable.
type PoolConfig struct {
	MemoryFraction      float64       // POOL_MEMORY_FRACTION
	MinWorkersPerModel  int           // POOL_MIN_WORKERS_PER_MODEL
	MaxWorkersPerModel  int           // POOL_MAX_WORKERS_PER_MODEL
	IdleTimeout         time.Duration // POOL_IDLE_SECS
	MaintenanceInterval time.Duration // POOL_MAINTENANCE_SECS
	RequestTimeout      time.Duration // POOL_REQUEST_TIMEOUT_SECS
	ShutdownGrace       time.Duration // POOL_SHUTDOWN_GRACE_SECS

	// KeepLastWarm decides whether idle eviction ever drops a model's last
	// remaining worker. Left unspecified by the source (DESIGN.md open
	// question); default true when MinWorkersPerModel >= 1.
	KeepLastWarm bool
}

// DefaultPoolConfig returns the documented defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MemoryFraction:      0.80,
		MinWorkersPerModel:  0,
		MaxWorkersPerModel:  8,
		IdleTimeout:         300 * time.Second,
		MaintenanceInterval: 60 * time.Second,
		RequestTimeout:      60 * time.Second,
		ShutdownGrace:       10 * time.Second,
		KeepLastWarm:        false,
	}
}

// LoadPoolConfigEnv overlays environment variables onto the defaults.
func LoadPoolConfigEnv() PoolConfig {
	cfg := DefaultPoolConfig()

	if v, ok := os.LookupEnv("POOL_MEMORY_FRACTION"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MemoryFraction = f
		}
	}
	if v, ok := os.LookupEnv("POOL_MIN_WORKERS_PER_MODEL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinWorkersPerModel = n
		}
	}
	if v, ok := os.LookupEnv("POOL_MAX_WORKERS_PER_MODEL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxWorkersPerModel = n
		}
	}
	if v, ok := os.LookupEnv("POOL_IDLE_SECS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IdleTimeout = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("POOL_MAINTENANCE_SECS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaintenanceInterval = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("POOL_REQUEST_TIMEOUT_SECS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RequestTimeout = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("POOL_SHUTDOWN_GRACE_SECS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ShutdownGrace = time.Duration(n) * time.Second
		}
	}

	cfg.KeepLastWarm = cfg.MinWorkersPerModel >= 1
	return cfg
}

// poolConfigTOML mirrors PoolConfig with TOML tags and plain seconds, for
// embedding a [pool] table inside a larger daemon config file.
type poolConfigTOML struct {
	MemoryFraction      float64 `toml:"memory_fraction"`
	MinWorkersPerModel  int     `toml:"min_workers_per_model"`
	MaxWorkersPerModel  int     `toml:"max_workers_per_model"`
	IdleSecs            int     `toml:"idle_secs"`
	MaintenanceSecs     int     `toml:"maintenance_secs"`
	RequestTimeoutSecs  int     `toml:"request_timeout_secs"`
	ShutdownGraceSecs   int     `toml:"shutdown_grace_secs"`
	KeepLastWarm        bool    `toml:"keep_last_warm"`
}

// LoadPoolConfigTOML decodes a "[pool]" table from the given TOML file path,
// falling back to defaults for any field not present. Missing files are not
// an error: the defaults apply.
func LoadPoolConfigTOML(path string) (PoolConfig, error) {
	cfg := DefaultPoolConfig()

	var wrapper struct {
		Pool poolConfigTOML `toml:"pool"`
	}
	wrapper.Pool = poolConfigTOML{
		MemoryFraction:      cfg.MemoryFraction,
		MinWorkersPerModel:  cfg.MinWorkersPerModel,
		MaxWorkersPerModel:  cfg.MaxWorkersPerModel,
		IdleSecs:            int(cfg.IdleTimeout.Seconds()),
		MaintenanceSecs:     int(cfg.MaintenanceInterval.Seconds()),
		RequestTimeoutSecs:  int(cfg.RequestTimeout.Seconds()),
		ShutdownGraceSecs:   int(cfg.ShutdownGrace.Seconds()),
		KeepLastWarm:        cfg.KeepLastWarm,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	md, err := toml.DecodeFile(path, &wrapper)
	if err != nil {
		return cfg, err
	}

	cfg.MemoryFraction = wrapper.Pool.MemoryFraction
	cfg.MinWorkersPerModel = wrapper.Pool.MinWorkersPerModel
	cfg.MaxWorkersPerModel = wrapper.Pool.MaxWorkersPerModel
	cfg.IdleTimeout = time.Duration(wrapper.Pool.IdleSecs) * time.Second
	cfg.MaintenanceInterval = time.Duration(wrapper.Pool.MaintenanceSecs) * time.Second
	cfg.RequestTimeout = time.Duration(wrapper.Pool.RequestTimeoutSecs) * time.Second
	cfg.ShutdownGrace = time.Duration(wrapper.Pool.ShutdownGraceSecs) * time.Second
	cfg.KeepLastWarm = wrapper.Pool.KeepLastWarm
	if !md.IsDefined("pool", "keep_last_warm") {
		cfg.KeepLastWarm = cfg.MinWorkersPerModel >= 1
	}
	return cfg, nil
}
