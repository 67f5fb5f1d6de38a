package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"commandcore/internal/config"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		cfg  config.Blob
		want Driver
	}{
		{config.Blob{Driver: "memory"}, DriverMemory},
		{config.Blob{Driver: "fs", FSRoot: t.TempDir()}, DriverFilesystem},
		{config.Blob{Driver: "", FSRoot: t.TempDir()}, DriverFilesystem},
		{config.Blob{Driver: " MEMORY "}, DriverMemory},
	}
	for _, tc := range cases {
		store, err := Open(ctx, tc.cfg)
		if err != nil {
			t.Fatalf("open %q: %v", tc.cfg.Driver, err)
		}
		if store.Driver() != tc.want {
			t.Fatalf("open %q: got %s want %s", tc.cfg.Driver, store.Driver(), tc.want)
		}
	}
	if _, err := Open(ctx, config.Blob{Driver: "tape"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	if _, err := Open(ctx, config.Blob{Driver: "s3"}); err == nil {
		t.Fatalf("expected error for s3 without bucket")
	}
}

func TestStoresShareContract(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("fs: %v", err)
	}
	stores := map[string]Store{"memory": NewMemory(), "fs": fs, "s3": NewMockS3ForTests()}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put(ctx, "snap/1/manifest.json", bytes.NewReader([]byte("{}")), PutOptions{ContentType: "application/json"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if _, err := store.Put(ctx, "snap/1/manifest.json", bytes.NewReader(nil), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			_, rc, err := store.Get(ctx, "snap/1/manifest.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			b, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(b) != "{}" {
				t.Fatalf("unexpected body %q", b)
			}
			if _, err := store.Head(ctx, "snap/2/manifest.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			infos, err := store.List(ctx, "snap/")
			if err != nil || len(infos) != 1 {
				t.Fatalf("list: %v %+v", err, infos)
			}
		})
	}
}
