package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/bmms/bmms-server/internal/progress"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Upload transfers a staged file to the remote store in fixed-size chunks,
// resuming past any byte ranges the store already holds. The returned bus
// carries a percent event per chunk and a terminal complete or error event.
func (s *Service) Upload(ctx context.Context, name string) *progress.Bus {
	bus := progress.NewBus()
	go s.runUpload(ctx, name, bus)
	return bus
}

func (s *Service) runUpload(ctx context.Context, name string, bus *progress.Bus) {
	defer bus.Close()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	// The fingerprint stream is separate from the chunk reader; both are
	// released on every exit path.
	hashFile, err := s.uploads.Open(name)
	if err != nil {
		s.fail(bus, progress.PhaseUpload, fmt.Errorf("failed to open %s: %w", name, err))
		return
	}
	fingerprint, err := ComputeFingerprint(s.cfg.BucketKey, name, hashFile)
	hashFile.Close()
	if err != nil {
		s.fail(bus, progress.PhaseUpload, err)
		return
	}

	file, err := s.uploads.Open(name)
	if err != nil {
		s.fail(bus, progress.PhaseUpload, fmt.Errorf("failed to open %s: %w", name, err))
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.fail(bus, progress.PhaseUpload, fmt.Errorf("failed to stat %s: %w", name, err))
		return
	}
	totalBytes := info.Size()

	sessionID, err := newSessionID(fingerprint)
	if err != nil {
		s.fail(bus, progress.PhaseUpload, err)
		return
	}

	log.Info().
		Str("name", name).
		Str("session_id", sessionID).
		Str("size", humanize.Bytes(uint64(totalBytes))).
		Msg("starting chunked upload")

	// A session the store has never seen yields not-found; that means no
	// prior ranges, not a failure.
	ranges, err := s.store.ResumableRanges(ctx, s.cfg.BucketKey, name, sessionID)
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			log.Debug().Err(err).Str("name", name).Msg("resumable status unavailable, assuming no prior ranges")
		}
		ranges = nil
	}

	buf := make([]byte, s.cfg.ChunkSize)
	var lastByte int64

	sendChunk := func(offset, size int64) error {
		if _, err := file.ReadAt(buf[:size], offset); err != nil {
			return fmt.Errorf("failed to read chunk at %d: %w", offset, err)
		}
		if err := s.store.UploadChunk(ctx, s.cfg.BucketKey, name, buf[:size], offset, totalBytes, sessionID); err != nil {
			return err
		}
		log.Debug().
			Str("name", name).
			Int64("offset", offset).
			Str("chunk", humanize.Bytes(uint64(size))).
			Msg("chunk accepted")
		return nil
	}

	emitPercent := func() bool {
		percent := int(math.Round(100 * float64(lastByte) / float64(totalBytes)))
		return bus.Publish(progress.Event{Phase: progress.PhaseUpload, Status: progress.StatusProcess, Percent: percent})
	}

	// Fill the gaps before each accepted range, then skip past the range
	// itself; those bytes are already on the remote side.
	for _, rng := range ranges {
		for lastByte < rng.Start {
			if bus.IsCancelled() {
				return
			}
			size := min64(rng.Start-lastByte, s.cfg.ChunkSize)
			if err := sendChunk(lastByte, size); err != nil {
				s.fail(bus, progress.PhaseUpload, err)
				return
			}
			lastByte += size
			if !emitPercent() {
				return
			}
		}
		lastByte = rng.End + 1
	}

	for lastByte < totalBytes-1 {
		if bus.IsCancelled() {
			return
		}
		size := min64(totalBytes-lastByte, s.cfg.ChunkSize)
		if err := sendChunk(lastByte, size); err != nil {
			s.fail(bus, progress.PhaseUpload, err)
			return
		}
		lastByte += size
		if !emitPercent() {
			return
		}
	}

	log.Info().Str("name", name).Msg("upload complete")
	bus.Publish(progress.Event{Phase: progress.PhaseUpload, Status: progress.StatusComplete})
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
