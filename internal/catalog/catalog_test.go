package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"venue/internal/apperrors"
	"venue/internal/engine"
)

const testCatalog = `
operations:
  - name: Echo
    operation:
      adapter: test:echo
  - name: Pipeline
    operation:
      adapter: orchestrator
      steps:
        - op: test:echo
          input: [INPUT, x]
        - op: test:echo
          input: [0, message]
      result: [1, message]
`

func TestCatalog_PutGet(t *testing.T) {
	t.Parallel()
	c := New()
	meta := engine.Metadata{"name": "Echo", "operation": map[string]any{"adapter": "test:echo"}}

	hash, err := c.Put(meta)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if len(hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(hash))
	}

	again, err := c.Put(engine.Metadata{"operation": map[string]any{"adapter": "test:echo"}, "name": "Echo"})
	if err != nil || again != hash {
		t.Errorf("equal documents hashed differently: %s vs %s (%v)", hash, again, err)
	}

	got, ok, err := c.Get(context.Background(), strings.ToUpper(hash))
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if got.Name() != "Echo" {
		t.Errorf("Name() = %q", got.Name())
	}
	if _, ok, _ := c.Get(context.Background(), "missing"); ok {
		t.Error("Get(missing) found an entry")
	}
	if n := len(c.List()); n != 1 {
		t.Errorf("List() = %d entries, want 1", n)
	}
}

func TestCatalog_PutRequiresAdapter(t *testing.T) {
	t.Parallel()
	_, err := New().Put(engine.Metadata{"name": "nothing"})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Put() error = %v, want validation error", err)
	}
}

func TestCatalog_LoadFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o600); err != nil {
		t.Fatal(err)
	}

	c := New()
	hashes, err := c.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("LoadFile() = %d hashes, want 2", len(hashes))
	}

	meta, ok, _ := c.Get(context.Background(), hashes[1])
	if !ok {
		t.Fatal("pipeline not stored")
	}
	steps, ok := meta.Operation()["steps"].([]any)
	if !ok || len(steps) != 2 {
		t.Fatalf("steps = %#v", meta.Operation()["steps"])
	}
	second := steps[1].(map[string]any)["input"].([]any)
	if n, ok := second[0].(float64); !ok || n != 0 {
		t.Errorf("step index decoded as %#v, want float64 0", second[0])
	}
}

func TestCatalog_LoadErrors(t *testing.T) {
	t.Parallel()
	c := New()
	if _, err := c.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadFile(absent) succeeded")
	}
	if _, err := c.Load(strings.NewReader("operations:\n  - name: bare\n")); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Load(no adapter) error = %v, want validation error", err)
	}
	hashes, err := c.Load(strings.NewReader(""))
	if err != nil || len(hashes) != 0 {
		t.Errorf("Load(empty) = %v, %v", hashes, err)
	}
}
