// Package download fetches the full output of a conversion job to local
// disk, file by file, reporting per-file progress through a log callback.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/bmms/bmms-server/internal/remote"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Options controls a bulk download. OnLog receives one human-readable line
// per downloaded file; callers adapt it into their own progress stream.
type Options struct {
	OutputDir string
	OnLog     func(message string)
}

// Downloader pulls derivative assets from the conversion service.
type Downloader struct {
	derivatives remote.DerivativeService
}

// NewDownloader creates a bulk derivative downloader.
func NewDownloader(derivatives remote.DerivativeService) *Downloader {
	return &Downloader{derivatives: derivatives}
}

// Download fetches every asset in the job's derivative tree into
// OutputDir. Assets under a viewable land in
// outputDir/derivationKey/<viewable guid>/, everything else directly under
// outputDir/derivationKey/.
func (d *Downloader) Download(ctx context.Context, derivationKey string, opts Options) error {
	manifest, err := d.derivatives.GetManifest(ctx, derivationKey)
	if err != nil {
		return fmt.Errorf("failed to fetch manifest: %w", err)
	}

	baseDir := filepath.Join(opts.OutputDir, derivationKey)
	count := 0

	for _, deriv := range manifest.Derivatives {
		for i := range deriv.Children {
			child := &deriv.Children[i]
			targetDir := baseDir
			if child.Type == remote.NodeTypeGeometry {
				if viewable := child.FindViewable(); viewable != nil {
					if err := d.fetchTree(ctx, derivationKey, viewable, filepath.Join(baseDir, viewable.GUID), opts, &count); err != nil {
						return err
					}
					continue
				}
			}
			if err := d.fetchTree(ctx, derivationKey, child, targetDir, opts, &count); err != nil {
				return err
			}
		}
	}

	log.Info().
		Str("derivation_key", derivationKey).
		Int("files", count).
		Msg("derivative download complete")
	d.logf(opts, "downloaded %d files to %s", count, baseDir)
	return nil
}

func (d *Downloader) fetchTree(ctx context.Context, derivationKey string, node *remote.ManifestNode, dir string, opts Options, count *int) error {
	if node.URN != "" {
		if err := d.fetchAsset(ctx, derivationKey, node, dir, opts); err != nil {
			return err
		}
		*count++
	}
	for i := range node.Children {
		if err := d.fetchTree(ctx, derivationKey, &node.Children[i], dir, opts, count); err != nil {
			return err
		}
	}
	return nil
}

func (d *Downloader) fetchAsset(ctx context.Context, derivationKey string, node *remote.ManifestNode, dir string, opts Options) error {
	body, err := d.derivatives.DownloadAsset(ctx, derivationKey, node.URN)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", node.URN, err)
	}
	defer body.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	target := filepath.Join(dir, path.Base(node.URN))
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, body)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}

	d.logf(opts, "downloaded %s (%s)", path.Base(node.URN), humanize.Bytes(uint64(written)))
	return nil
}

func (d *Downloader) logf(opts Options, format string, args ...interface{}) {
	if opts.OnLog != nil {
		opts.OnLog(fmt.Sprintf(format, args...))
	}
}
