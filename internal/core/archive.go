package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"commandcore/internal/blob"
	"commandcore/internal/infra/persistence/memory"
	"commandcore/pkg/domain"
)

const (
	archivePrefix   = "snapshots/"
	manifestName    = "manifest.json"
	archiveParallel = 4
)

// ErrArchiveNotFound is returned by Restore for an unknown archive ID.
var ErrArchiveNotFound = errors.New("archive not found")

// Snapshotter exports and imports a repository's full state.
type Snapshotter interface {
	ExportState() (memory.Snapshot, error)
	ImportState(snapshot memory.Snapshot) error
}

// stateReplacer is implemented by backends that must also rewrite durable
// storage when the state is swapped.
type stateReplacer interface {
	ReplaceState(ctx context.Context, snapshot memory.Snapshot) error
}

// ArchiveBucket describes one entity type inside an archive.
type ArchiveBucket struct {
	Type    domain.EntityType `json:"type"`
	Key     string            `json:"key"`
	Counter int64             `json:"counter"`
	Records int               `json:"records"`
}

// ArchiveManifest is written last, so only complete archives are listed.
type ArchiveManifest struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Buckets   []ArchiveBucket `json:"buckets"`
}

// Archiver writes repository snapshots to a blob store and restores them.
// Each archive is stored as one JSON object per entity type plus a manifest
// under snapshots/<id>/.
type Archiver struct {
	repo   Snapshotter
	blobs  blob.Store
	logger Logger
	clock  Clock
	newID  func() string
}

// ArchiverOption configures an Archiver.
type ArchiverOption func(*Archiver)

// WithArchiveLogger sets the archiver's logger.
func WithArchiveLogger(logger Logger) ArchiverOption {
	return func(a *Archiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithArchiveClock overrides the clock stamping manifests.
func WithArchiveClock(clock Clock) ArchiverOption {
	return func(a *Archiver) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// NewArchiver binds repo to a blob store.
func NewArchiver(repo Snapshotter, blobs blob.Store, opts ...ArchiverOption) *Archiver {
	a := &Archiver{
		repo:   repo,
		blobs:  blobs,
		logger: noopLogger{},
		clock:  ClockFunc(nil),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func archiveKey(id, name string) string {
	return archivePrefix + id + "/" + name
}

// Export writes the current repository state as a new archive.
func (a *Archiver) Export(ctx context.Context) (ArchiveManifest, error) {
	snapshot, err := a.repo.ExportState()
	if err != nil {
		return ArchiveManifest{}, fmt.Errorf("export state: %w", err)
	}
	manifest := ArchiveManifest{ID: a.newID(), CreatedAt: a.clock.Now()}
	for _, t := range snapshot.Types() {
		bs := snapshot.Buckets[t]
		manifest.Buckets = append(manifest.Buckets, ArchiveBucket{
			Type:    t,
			Key:     archiveKey(manifest.ID, string(t)+".json"),
			Counter: bs.Counter,
			Records: len(bs.Records),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveParallel)
	for _, b := range manifest.Buckets {
		g.Go(func() error {
			return a.putJSON(gctx, b.Key, snapshot.Buckets[b.Type])
		})
	}
	if err := g.Wait(); err != nil {
		return ArchiveManifest{}, fmt.Errorf("archive %s: %w", manifest.ID, err)
	}
	if err := a.putJSON(ctx, archiveKey(manifest.ID, manifestName), manifest); err != nil {
		return ArchiveManifest{}, fmt.Errorf("archive %s manifest: %w", manifest.ID, err)
	}
	a.logger.Info("archive exported", "archive_id", manifest.ID, "buckets", len(manifest.Buckets))
	return manifest, nil
}

// Restore replaces the repository state with the archive identified by id.
func (a *Archiver) Restore(ctx context.Context, id string) (ArchiveManifest, error) {
	var manifest ArchiveManifest
	if err := a.getJSON(ctx, archiveKey(id, manifestName), &manifest); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return ArchiveManifest{}, fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
		}
		return ArchiveManifest{}, err
	}

	snapshot := memory.Snapshot{Buckets: make(map[domain.EntityType]memory.BucketSnapshot, len(manifest.Buckets))}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(archiveParallel)
	for _, b := range manifest.Buckets {
		g.Go(func() error {
			var bs memory.BucketSnapshot
			if err := a.getJSON(gctx, b.Key, &bs); err != nil {
				return err
			}
			mu.Lock()
			snapshot.Buckets[b.Type] = bs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ArchiveManifest{}, fmt.Errorf("restore %s: %w", id, err)
	}

	var err error
	if r, ok := a.repo.(stateReplacer); ok {
		err = r.ReplaceState(ctx, snapshot)
	} else {
		err = a.repo.ImportState(snapshot)
	}
	if err != nil {
		return ArchiveManifest{}, fmt.Errorf("restore %s: %w", id, err)
	}
	a.logger.Info("archive restored", "archive_id", id, "buckets", len(manifest.Buckets))
	return manifest, nil
}

// List returns every complete archive, oldest first.
func (a *Archiver) List(ctx context.Context) ([]ArchiveManifest, error) {
	infos, err := a.blobs.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	var out []ArchiveManifest
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, "/"+manifestName) {
			continue
		}
		var m ArchiveManifest
		if err := a.getJSON(ctx, info.Key, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (a *Archiver) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = a.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"})
	return err
}

func (a *Archiver) getJSON(ctx context.Context, key string, v any) error {
	_, rc, err := a.blobs.Get(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
