package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"commandcore/internal/blob/core"
)

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	meta := map[string]string{"type": "Account"}
	info, err := s.Put(ctx, "snapshots/a/Account.json", strings.NewReader(`[]`), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	meta["type"] = "mutated"
	if info.Size != 2 || info.ETag == "" || info.Metadata["type"] != "Account" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "snapshots/a/Account.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, rc, err := s.Get(ctx, "snapshots/a/Account.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "[]" || got.ContentType != "application/json" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}

	if _, err := s.Put(ctx, "snapshots/b/manifest.json", strings.NewReader("{}"), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, err := s.List(ctx, "snapshots/a/")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one listed blob, got %v %v", list, err)
	}

	removed, err := s.Delete(ctx, "snapshots/a/Account.json")
	if err != nil || !removed {
		t.Fatalf("delete: %v %v", removed, err)
	}
	if removed, _ := s.Delete(ctx, "snapshots/a/Account.json"); removed {
		t.Fatalf("second delete must report absence")
	}
	if _, err := s.Head(ctx, "snapshots/a/Account.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutRejectsEmptyKeyAndCancelledContext(t *testing.T) {
	s := New()
	if _, err := s.Put(context.Background(), " ", strings.NewReader(""), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Put(ctx, "k", strings.NewReader(""), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
