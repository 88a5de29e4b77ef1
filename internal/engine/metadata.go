package engine

import (
	"context"
	"strings"
)

// Metadata is the JSON-like description of an operation. The engine reads
// only a few fields; adapters may interpret the rest.
type Metadata map[string]any

// Name returns the human label, or "" when absent.
func (m Metadata) Name() string {
	s, _ := m["name"].(string)
	return s
}

// Operation returns the "operation" section, or nil.
func (m Metadata) Operation() map[string]any {
	op, _ := m["operation"].(map[string]any)
	return op
}

// AdapterOp returns operation.adapter, the adapter-qualified operation
// string such as "test:echo".
func (m Metadata) AdapterOp() string {
	s, _ := m.Operation()["adapter"].(string)
	return s
}

// MetadataStore resolves content-addressed operation metadata.
type MetadataStore interface {
	Get(ctx context.Context, hash string) (Metadata, bool, error)
}

// LiteralMetadata describes an "adapter:operation" reference that has no
// stored metadata.
func LiteralMetadata(ref string) Metadata {
	return Metadata{"operation": map[string]any{"adapter": ref}}
}

// IsLiteralRef reports whether ref names an operation directly rather than
// by hash.
func IsLiteralRef(ref string) bool {
	return strings.Contains(ref, ":")
}

// SplitRef splits "adapter:operation" at the first colon. A reference
// without a colon names the adapter alone.
func SplitRef(ref string) (adapter, operation string) {
	adapter, operation, _ = strings.Cut(ref, ":")
	return adapter, operation
}
