package domain

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the pool core depends on them.

// ModelStore abstracts persistent model metadata storage.
type ModelStore interface {
	UpsertModel(info ModelInfo) error
	GetModel(name string) (*ModelInfo, error)
	ListModels() ([]ModelInfo, error)
	DeleteModel(name string) error
	TouchModel(name string) error // Update last_used
}

// ModelManager abstracts pull/resolve/show operations on the local model store.
// Implemented by infra/registry.Manager. This is the model-file downloader/cache
// collaborator: it sits outside the pool core and hands the core a local file
// path to load, nothing more.
type ModelManager interface {
	// Pull downloads a model by name with progress reporting.
	Pull(name string, progress func(status string, pct float64)) error

	// Resolve returns the local file path for a model's weights.
	Resolve(name string) (string, error)

	// HasLocal checks whether a model exists locally.
	HasLocal(ref ModelRef) (bool, error)

	// List returns all locally installed models.
	List() ([]ModelInfo, error)

	// Remove deletes a model from local storage.
	Remove(name string) error

	// Show returns detailed info about a model.
	Show(name string) (*ModelInfo, error)
}
