package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/bmms/bmms-server/internal/common"
	"github.com/bmms/bmms-server/internal/pipeline"
	"github.com/bmms/bmms-server/internal/progress"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/bmms/bmms-server/internal/storage"
	"github.com/bmms/bmms-server/pkg/config"
	"github.com/bmms/bmms-server/pkg/types"
)

// statusCacheTTL bounds how stale the annotated object listing can get.
const statusCacheTTL = 10 * time.Second

// handleStageFile accepts a multipart upload and stages it into the local
// uploads area under its original file name.
func handleStageFile(uploads *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "missing file field",
			})
			return
		}

		name := filepath.Base(fileHeader.Filename)
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   "failed to read uploaded file",
			})
			return
		}
		defer file.Close()

		size, err := uploads.Save(name, file)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   "failed to stage file",
			})
			return
		}

		log.Info().Str("name", name).Int64("size", size).Msg("file staged")
		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Message: "file staged successfully",
			Data:    gin.H{"name": name, "size": size},
		})
	}
}

// handleListStagedFiles lists the files currently staged in the local
// uploads area.
func handleListStagedFiles(uploads *storage.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := uploads.List("")
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   "failed to list staged files",
			})
			return
		}
		if names == nil {
			names = []string{}
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: names})
	}
}

// modelCatalog is the slice of the catalog service the listing handler uses.
type modelCatalog interface {
	List(ctx context.Context, name string) ([]types.ModelRecord, error)
}

// handleListModels serves the extracted-model catalog, optionally filtered
// by a name substring.
func handleListModels(cat modelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := cat.List(c.Request.Context(), c.Query("name"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.APIResponse{
				Success: false,
				Error:   "failed to list models",
			})
			return
		}
		if records == nil {
			records = []types.ModelRecord{}
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: records})
	}
}

// objectHandlers serves the remote object listing annotated with
// translation state.
type objectHandlers struct {
	store  remote.ContentStore
	derivs remote.DerivativeService
	cache  *common.Cache
	cfg    config.PipelineConfig
}

func newObjectHandlers(store remote.ContentStore, derivs remote.DerivativeService,
	cache *common.Cache, cfg config.PipelineConfig) *objectHandlers {
	return &objectHandlers{store: store, derivs: derivs, cache: cache, cfg: cfg}
}

func (h *objectHandlers) handleListObjects(c *gin.Context) {
	ctx := c.Request.Context()

	objects, err := h.store.ListObjects(ctx, h.cfg.BucketKey)
	if err != nil {
		c.JSON(http.StatusBadGateway, types.APIResponse{
			Success: false,
			Error:   "failed to list objects",
		})
		return
	}

	statuses := make([]types.ObjectStatus, 0, len(objects))
	for i := range objects {
		statuses = append(statuses, h.annotate(ctx, &objects[i]))
	}

	c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: statuses})
}

func (h *objectHandlers) handleGetObject(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	objects, err := h.store.ListObjects(ctx, h.cfg.BucketKey)
	if err != nil {
		c.JSON(http.StatusBadGateway, types.APIResponse{
			Success: false,
			Error:   "failed to list objects",
		})
		return
	}

	for i := range objects {
		if objects[i].ObjectKey == name {
			c.JSON(http.StatusOK, types.APIResponse{
				Success: true,
				Data:    h.annotate(ctx, &objects[i]),
			})
			return
		}
	}

	c.JSON(http.StatusNotFound, types.APIResponse{
		Success: false,
		Error:   fmt.Sprintf("object %s not found", name),
	})
}

// annotate attaches the object's manifest status. Statuses are cached
// briefly so listing pages do not hammer the conversion service; objects
// mid-translation carry a refresh hint for the caller.
func (h *objectHandlers) annotate(ctx context.Context, object *remote.Object) types.ObjectStatus {
	status := types.ObjectStatus{
		ObjectKey: object.ObjectKey,
		ObjectID:  object.ObjectID,
		Size:      object.Size,
	}

	cacheKey := "object-status:" + object.ObjectKey
	if h.cache != nil {
		var cached types.ObjectStatus
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached
		}
	}

	manifest, err := h.derivs.GetManifest(ctx, pipeline.DerivationKey(object.ObjectID))
	if err != nil {
		if !errors.Is(err, remote.ErrNotFound) {
			log.Warn().Err(err).Str("object", object.ObjectKey).Msg("failed to fetch manifest status")
		}
		return status
	}

	status.Status = manifest.Status
	status.Progress = manifest.Progress
	status.Refresh = manifest.Status == remote.StatusPending || manifest.Status == remote.StatusInProgress

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, &status, statusCacheTTL); err != nil {
			log.Warn().Err(err).Str("object", object.ObjectKey).Msg("failed to cache object status")
		}
	}
	return status
}

// pipelineRunner is the slice of the pipeline service the SSE handlers use.
type pipelineRunner interface {
	Upload(ctx context.Context, name string) *progress.Bus
	Translate(ctx context.Context, name string) *progress.Bus
	Extract(ctx context.Context, name string) *progress.Bus
}

func handleUploadStream(service pipelineRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamBus(c, service.Upload(context.Background(), c.Param("name")))
	}
}

func handleTranslateStream(service pipelineRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamBus(c, service.Translate(context.Background(), c.Param("name")))
	}
}

func handleExtractStream(service pipelineRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamBus(c, service.Extract(context.Background(), c.Param("name")))
	}
}

// streamBus relays progress events as server-sent events until the bus
// closes. A client disconnect cancels the bus so the producer stops.
func streamBus(c *gin.Context, bus *progress.Bus) {
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			bus.Cancel()
			return false
		case event, open := <-bus.Events():
			if !open {
				return false
			}
			c.SSEvent(string(event.Phase), event)
			return true
		}
	})
}
