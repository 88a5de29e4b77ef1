// Package catalog is an in-memory, content-addressed store of operation
// metadata. Entries are keyed by the SHA-256 of their canonical JSON.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"venue/internal/apperrors"
	"venue/internal/engine"

	"gopkg.in/yaml.v3"
)

// Entry is one stored metadata document.
type Entry struct {
	Hash string          `json:"hash"`
	Meta engine.Metadata `json:"meta"`
}

// Catalog implements engine.MetadataStore.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]engine.Metadata
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{entries: make(map[string]engine.Metadata)}
}

// Hash returns the content address of meta.
func Hash(meta engine.Metadata) (string, error) {
	// encoding/json sorts map keys, which makes the encoding canonical.
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Put stores meta and returns its hash. Storing the same document twice
// is a no-op.
func (c *Catalog) Put(meta engine.Metadata) (string, error) {
	normalized, err := normalize(meta)
	if err != nil {
		return "", apperrors.Validationf("metadata", "metadata is not JSON-compatible: %v", err)
	}
	if normalized.AdapterOp() == "" {
		return "", apperrors.Validation("operation.adapter", "metadata must name an adapter operation")
	}
	hash, err := Hash(normalized)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.entries[hash] = normalized
	c.mu.Unlock()
	return hash, nil
}

// Get implements engine.MetadataStore. Hashes match case-insensitively.
func (c *Catalog) Get(_ context.Context, hash string) (engine.Metadata, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.entries[strings.ToLower(hash)]
	return meta, ok, nil
}

// List returns all entries ordered by hash.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Entry, 0, len(c.entries))
	for hash, meta := range c.entries {
		result = append(result, Entry{Hash: hash, Meta: meta})
	}
	slices.SortFunc(result, func(a, b Entry) int {
		return strings.Compare(a.Hash, b.Hash)
	})
	return result
}

// file is the YAML catalog layout.
type file struct {
	Operations []map[string]any `yaml:"operations"`
}

// Load reads a YAML catalog and stores every operation in it. It returns
// the hashes in file order.
func (c *Catalog) Load(r io.Reader) ([]string, error) {
	var f file
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	hashes := make([]string, 0, len(f.Operations))
	for i, doc := range f.Operations {
		hash, err := c.Put(engine.Metadata(doc))
		if err != nil {
			return nil, fmt.Errorf("catalog operation %d: %w", i, err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// LoadFile loads a YAML catalog from path.
func (c *Catalog) LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	hashes, err := c.Load(f)
	if err != nil {
		return nil, err
	}
	slog.Info("Catalog loaded", "component", "catalog", "path", path, "operations", len(hashes))
	return hashes, nil
}

// normalize converts YAML-decoded values into the shapes encoding/json
// produces, so stored metadata looks the same however it arrived.
func normalize(meta engine.Metadata) (engine.Metadata, error) {
	data, err := json.Marshal(jsonCompatible(map[string]any(meta)))
	if err != nil {
		return nil, err
	}
	var out engine.Metadata
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonCompatible(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonCompatible(val)
		}
		return out
	default:
		return v
	}
}
