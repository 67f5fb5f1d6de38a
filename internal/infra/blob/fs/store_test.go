package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"commandcore/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "alpha/test.txt", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"k": "v"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "alpha/test.txt" || info.Size != 5 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "alpha/test.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	h, err := store.Head(ctx, "alpha/test.txt")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "alpha/test.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != "hello" || g.ETag != h.ETag || g.Metadata["k"] != "v" {
		t.Fatalf("unexpected get artifacts %q %+v", b, g)
	}

	if _, err := store.Put(ctx, "beta/other.txt", bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	list, err := store.List(ctx, "alpha/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "alpha/test.txt" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 2 || all[0].Key != "alpha/test.txt" {
		t.Fatalf("unexpected full list %+v %v", all, err)
	}

	removed, err := store.Delete(ctx, "alpha/test.txt")
	if err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if removed, err := store.Delete(ctx, "alpha/test.txt"); err != nil || removed {
		t.Fatalf("second delete: %v %v", removed, err)
	}
	if _, err := store.Head(ctx, "alpha/test.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "alpha/test.txt"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStoreRejectsUnsafeKeys(t *testing.T) {
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "/etc/passwd", "../escape", "a/../../b", "x.meta"} {
		if _, err := store.Put(context.Background(), key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestStoreLeavesNoTempFiles(t *testing.T) {
	store := newTempStore(t)
	if _, err := store.Put(context.Background(), "dir/blob", bytes.NewReader([]byte("data")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), "dir"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected blob and sidecar only, got %d entries", len(entries))
	}
}

func TestNewDefaultsRoot(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Root() != DefaultRoot || store.Driver() != core.DriverFilesystem {
		t.Fatalf("unexpected store %s %s", store.Root(), store.Driver())
	}
}
