// Package blob is the single entry point to blob storage. Callers depend on
// Store and the constructors here; the backends live under internal/infra/blob.
package blob

import (
	"context"
	"fmt"
	"strings"

	"commandcore/internal/blob/core"
	"commandcore/internal/config"
	fsstore "commandcore/internal/infra/blob/fs"
	memstore "commandcore/internal/infra/blob/memory"
	s3store "commandcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// Sentinel errors shared by every backend.
var (
	ErrNotFound   = core.ErrNotFound
	ErrExists     = core.ErrExists
	ErrInvalidKey = core.ErrInvalidKey
)

// NewFilesystem returns a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fsstore.New(root)
}

// NewMemory returns an in-memory store.
func NewMemory() Store {
	return memstore.New()
}

// NewS3 returns an S3-backed store.
func NewS3(ctx context.Context, cfg config.S3) (Store, error) {
	return s3store.New(ctx, s3store.Config{
		Region:          cfg.Region,
		Bucket:          cfg.Bucket,
		Endpoint:        cfg.Endpoint,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		SessionToken:    cfg.SessionToken,
		PathStyle:       cfg.PathStyle,
	})
}

// NewMockS3ForTests returns an S3 store backed by an in-process fake bucket.
func NewMockS3ForTests() Store {
	return s3store.NewMockForTests()
}

// Open selects a Store from cfg.Driver (fs, s3 or memory).
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	driver := Driver(strings.ToLower(strings.TrimSpace(cfg.Driver)))
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
