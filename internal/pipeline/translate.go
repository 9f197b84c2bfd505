package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bmms/bmms-server/internal/progress"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/rs/zerolog/log"
)

// Translate submits a conversion job for a previously uploaded object and
// polls its manifest to completion, relaying the remote status and progress
// text on every tick. Polling stops on success, failed, or timeout.
func (s *Service) Translate(ctx context.Context, name string) *progress.Bus {
	bus := progress.NewBus()
	go s.runTranslate(ctx, name, bus)
	return bus
}

func (s *Service) runTranslate(ctx context.Context, name string, bus *progress.Bus) {
	defer bus.Close()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	object, err := s.resolveObject(ctx, name)
	if err != nil {
		s.failTranslate(bus, err)
		return
	}

	derivationKey := DerivationKey(object.ObjectID)
	spec := remote.JobSpec{OutputType: "svf", Views: []string{"2d", "3d"}}

	if err := s.derivatives.SubmitJob(ctx, derivationKey, spec); err != nil {
		s.failTranslate(bus, err)
		return
	}

	log.Info().
		Str("name", name).
		Str("derivation_key", derivationKey).
		Msg("translation job submitted, polling manifest")

	start := time.Now()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bus.Cancelled():
			return
		case <-ctx.Done():
			bus.Publish(progress.Event{
				Phase:    progress.PhaseTranslate,
				Status:   progress.StatusTimeout,
				Progress: "polling deadline exceeded",
			})
			return
		case <-ticker.C:
			manifest, err := s.derivatives.GetManifest(ctx, derivationKey)
			if err != nil {
				s.failTranslate(bus, err)
				return
			}

			ok := bus.Publish(progress.Event{
				Phase:    progress.PhaseTranslate,
				Status:   progress.Status(manifest.Status),
				Progress: firstWord(manifest.Progress),
				Elapsed:  int(time.Since(start).Seconds()),
			})
			if !ok {
				return
			}

			switch manifest.Status {
			case remote.StatusSuccess, remote.StatusFailed, remote.StatusTimeout:
				log.Info().
					Str("name", name).
					Str("status", manifest.Status).
					Dur("duration", time.Since(start)).
					Msg("translation finished")
				return
			}
		}
	}
}

// failTranslate emits the terminal failed event carrying the remote
// diagnostic when one is available.
func (s *Service) failTranslate(bus *progress.Bus, err error) {
	log.Error().Err(err).Msg("translation failed")

	var message string
	var storeErr *remote.StoreError
	if errors.As(err, &storeErr) {
		message = storeErr.Diagnostic
	}
	bus.Publish(progress.Event{
		Phase:    progress.PhaseTranslate,
		Status:   progress.StatusFailed,
		Progress: message,
	})
}

// firstWord trims the remote progress text ("42% complete") to its leading
// token.
func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
