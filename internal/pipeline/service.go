// Package pipeline drives the ingest flow for engineering model files:
// chunked resumable upload to the remote content store, conversion job
// monitoring, and derivative extraction into the local catalog. Each
// operation runs asynchronously and reports through a progress bus.
package pipeline

import (
	"context"
	"fmt"

	"github.com/bmms/bmms-server/internal/download"
	"github.com/bmms/bmms-server/internal/progress"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/bmms/bmms-server/internal/storage"
	"github.com/bmms/bmms-server/pkg/config"
	"github.com/bmms/bmms-server/pkg/types"
	"github.com/rs/zerolog/log"
)

// Catalog is the record collaborator the extractor upserts into.
type Catalog interface {
	Exists(ctx context.Context, name string) (bool, error)
	FindOne(ctx context.Context, name string) (*types.ModelRecord, error)
	Create(ctx context.Context, record *types.ModelRecord) error
	Update(ctx context.Context, record *types.ModelRecord) error
}

// Downloader pulls a conversion job's full output to local disk.
type Downloader interface {
	Download(ctx context.Context, derivationKey string, opts download.Options) error
}

// Service runs the upload, translate, and extract operations. Operations
// for distinct object names may run concurrently; callers must not start
// two operations for the same name at once.
type Service struct {
	store       remote.ContentStore
	derivatives remote.DerivativeService
	downloader  Downloader
	catalog     Catalog
	uploads     *storage.Store
	outputs     *storage.Store
	cfg         config.PipelineConfig
}

// NewService creates the pipeline service.
func NewService(store remote.ContentStore, derivatives remote.DerivativeService,
	downloader Downloader, cat Catalog, uploads, outputs *storage.Store,
	cfg config.PipelineConfig) *Service {
	return &Service{
		store:       store,
		derivatives: derivatives,
		downloader:  downloader,
		catalog:     cat,
		uploads:     uploads,
		outputs:     outputs,
		cfg:         cfg,
	}
}

// resolveObject locates an object in the configured bucket by key.
func (s *Service) resolveObject(ctx context.Context, name string) (*remote.Object, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	found := false
	for _, bucket := range buckets {
		if bucket.BucketKey == s.cfg.BucketKey {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("bucket %s: %w", s.cfg.BucketKey, remote.ErrNotFound)
	}

	objects, err := s.store.ListObjects(ctx, s.cfg.BucketKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	for i := range objects {
		if objects[i].ObjectKey == name {
			return &objects[i], nil
		}
	}
	return nil, fmt.Errorf("object %s: %w", name, remote.ErrNotFound)
}

// fail publishes the terminal error event for a phase. The event stream is
// the sole error-reporting channel; nothing propagates to the caller.
func (s *Service) fail(bus *progress.Bus, phase progress.Phase, err error) {
	log.Error().Err(err).Str("phase", string(phase)).Msg("pipeline operation failed")
	bus.Publish(progress.Event{Phase: phase, Status: progress.StatusError, Error: err.Error()})
}
