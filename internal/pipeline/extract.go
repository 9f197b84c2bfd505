package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/bmms/bmms-server/internal/catalog"
	"github.com/bmms/bmms-server/internal/download"
	"github.com/bmms/bmms-server/internal/progress"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/bmms/bmms-server/pkg/types"
	"github.com/rs/zerolog/log"
)

// Extract downloads a successfully translated object's derivative output,
// locates the primary viewable in the manifest tree, and upserts the
// catalog record pointing at the output path on disk.
func (s *Service) Extract(ctx context.Context, name string) *progress.Bus {
	bus := progress.NewBus()
	go s.runExtract(ctx, name, bus)
	return bus
}

func (s *Service) runExtract(ctx context.Context, name string, bus *progress.Bus) {
	defer bus.Close()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	object, err := s.resolveObject(ctx, name)
	if err != nil {
		s.fail(bus, progress.PhaseExtract, err)
		return
	}
	derivationKey := DerivationKey(object.ObjectID)

	// Downloader log lines become inprogress events on this bus.
	err = s.downloader.Download(ctx, derivationKey, download.Options{
		OutputDir: s.cfg.OutputDir,
		OnLog: func(message string) {
			bus.Publish(progress.Event{
				Phase:   progress.PhaseExtract,
				Status:  progress.StatusInProgress,
				Message: message,
			})
		},
	})
	if err != nil {
		s.fail(bus, progress.PhaseExtract, err)
		return
	}
	if bus.IsCancelled() {
		return
	}

	outputPath, err := s.locateViewable(ctx, derivationKey)
	if err != nil {
		s.fail(bus, progress.PhaseExtract, err)
		return
	}
	if bus.IsCancelled() {
		return
	}

	record := &types.ModelRecord{
		Name:           name,
		SourcePath:     s.uploads.Resolve(name),
		DerivativePath: outputPath,
	}
	if err := s.upsertRecord(ctx, record); err != nil {
		s.fail(bus, progress.PhaseExtract, err)
		return
	}

	log.Info().Str("name", name).Str("derivative_path", outputPath).Msg("extract complete")
	bus.Publish(progress.Event{
		Phase:   progress.PhaseExtract,
		Status:  progress.StatusComplete,
		Message: "extract completed",
	})
}

// locateViewable walks the manifest tree: the svf derivative, its first
// geometry child, and that child's graphics or pdf-page node. Returns the
// on-disk path of the viewable output.
func (s *Service) locateViewable(ctx context.Context, derivationKey string) (string, error) {
	manifest, err := s.derivatives.GetManifest(ctx, derivationKey)
	if err != nil {
		return "", err
	}

	svf := manifest.FindDerivative("svf")
	if svf == nil {
		return "", fmt.Errorf("no svf derivative in manifest: %w", remote.ErrManifestShape)
	}

	geometries := svf.GeometryChildren()
	if len(geometries) == 0 {
		return "", fmt.Errorf("no geometry nodes in svf derivative: %w", remote.ErrManifestShape)
	}

	// First geometry child is the canonical derivative.
	viewable := geometries[0].FindViewable()
	if viewable == nil {
		return "", fmt.Errorf("geometry %s has no viewable child: %w", geometries[0].GUID, remote.ErrManifestShape)
	}

	return filepath.Join(s.cfg.OutputDir, derivationKey, viewable.GUID), nil
}

// upsertRecord creates or updates the catalog record. When a record is
// replaced and previous-output removal is configured, the superseded
// derivative directory is dropped from disk first.
func (s *Service) upsertRecord(ctx context.Context, record *types.ModelRecord) error {
	exists, err := s.catalog.Exists(ctx, record.Name)
	if err != nil {
		return err
	}
	if !exists {
		return s.catalog.Create(ctx, record)
	}

	if s.cfg.RemovePreviousOutput {
		previous, err := s.catalog.FindOne(ctx, record.Name)
		if err != nil && !errors.Is(err, catalog.ErrRecordNotFound) {
			return err
		}
		if previous != nil && previous.DerivativePath != "" && previous.DerivativePath != record.DerivativePath {
			if err := s.outputs.RemoveTree(previous.DerivativePath); err != nil {
				// The stale directory is an eventual-cleanup concern, not a
				// reason to lose the new record.
				log.Warn().Err(err).Str("path", previous.DerivativePath).Msg("failed to remove previous output")
			}
		}
	}
	return s.catalog.Update(ctx, record)
}
