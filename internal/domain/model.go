package domain

import (
	"fmt"
	"time"
)

// ModelRef identifies a model by name and optional tag, e.g. "llama3:8b".
type ModelRef struct {
	Name string
	Tag  string
}

// String renders the ref back into "name:tag" form (bare name if untagged).
func (r ModelRef) String() string {
	if r.Tag == "" {
		return r.Name
	}
	return r.Name + ":" + r.Tag
}

// Layer is one content-addressed blob referenced by a Manifest.
type Layer struct {
	MediaType string
	Digest    string
	Size      int64
}

// Manifest describes the blobs that make up a locally stored model.
type Manifest struct {
	SchemaVersion int
	MediaType     string
	Layers        []Layer
}

// ModelInfo is the persisted record for a locally installed model.
type ModelInfo struct {
	Name         string
	Digest       string
	SizeBytes    int64
	Format       string
	Family       string
	Parameters   string
	Quantization string
	PulledAt     time.Time
	LastUsed     time.Time
	Pinned       bool
}

// Token is one streamed unit of generated output.
type Token struct {
	Text string
	Done bool
}

// HumanSize renders a byte count as a human-readable string, e.g. "4.3 GB".
func HumanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
