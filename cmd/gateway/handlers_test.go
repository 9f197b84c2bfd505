package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bmms/bmms-server/internal/pipeline"
	"github.com/bmms/bmms-server/internal/progress"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/bmms/bmms-server/internal/storage"
	"github.com/bmms/bmms-server/pkg/config"
	"github.com/bmms/bmms-server/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubContentStore struct {
	objects []remote.Object
	err     error
}

func (s *stubContentStore) ListBuckets(ctx context.Context) ([]remote.Bucket, error) {
	return []remote.Bucket{{BucketKey: "bmms_oss"}}, nil
}

func (s *stubContentStore) ListObjects(ctx context.Context, bucketKey string) ([]remote.Object, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.objects, nil
}

func (s *stubContentStore) ResumableRanges(ctx context.Context, bucketKey, objectKey, sessionID string) ([]remote.ResumableRange, error) {
	return nil, remote.ErrNotFound
}

func (s *stubContentStore) UploadChunk(ctx context.Context, bucketKey, objectKey string, chunk []byte, offset, totalBytes int64, sessionID string) error {
	return nil
}

type stubDerivativeService struct {
	manifests map[string]*remote.Manifest
}

func (s *stubDerivativeService) SubmitJob(ctx context.Context, derivationKey string, spec remote.JobSpec) error {
	return nil
}

func (s *stubDerivativeService) GetManifest(ctx context.Context, derivationKey string) (*remote.Manifest, error) {
	manifest, ok := s.manifests[derivationKey]
	if !ok {
		return nil, fmt.Errorf("manifest: %w", remote.ErrNotFound)
	}
	return manifest, nil
}

func (s *stubDerivativeService) DownloadAsset(ctx context.Context, derivationKey, assetURN string) (io.ReadCloser, error) {
	return nil, remote.ErrNotFound
}

func TestHandleStageFile(t *testing.T) {
	uploads, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	router := gin.New()
	router.POST("/files", handleStageFile(uploads))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "model.ipt")
	require.NoError(t, err)
	_, err = part.Write([]byte("model content"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, uploads.Exists("model.ipt"))

	size, err := uploads.Size("model.ipt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("model content")), size)
}

func TestHandleStageFile_MissingField(t *testing.T) {
	uploads, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	router := gin.New()
	router.POST("/files", handleStageFile(uploads))

	req := httptest.NewRequest(http.MethodPost, "/files", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListStagedFiles(t *testing.T) {
	uploads, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	_, err = uploads.Save("model.ipt", bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	_, err = uploads.Save("housing.ipt", bytes.NewReader([]byte("b")))
	require.NoError(t, err)

	router := gin.New()
	router.GET("/files", handleListStagedFiles(uploads))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"model.ipt", "housing.ipt"}, resp.Data)
}

func TestHandleListStagedFiles_Empty(t *testing.T) {
	uploads, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	router := gin.New()
	router.GET("/files", handleListStagedFiles(uploads))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

type stubCatalog struct {
	records    []types.ModelRecord
	err        error
	nameFilter string
}

func (s *stubCatalog) List(ctx context.Context, name string) ([]types.ModelRecord, error) {
	s.nameFilter = name
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func TestHandleListModels(t *testing.T) {
	cat := &stubCatalog{records: []types.ModelRecord{
		{Name: "gearbox.ipt", SourcePath: "./uploads/gearbox.ipt", DerivativePath: "./downloads/urn123/guid456"},
	}}

	router := gin.New()
	router.GET("/models", handleListModels(cat))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models?name=gear", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gear", cat.nameFilter)

	var resp struct {
		Data []types.ModelRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "gearbox.ipt", resp.Data[0].Name)
	assert.Equal(t, "./downloads/urn123/guid456", resp.Data[0].DerivativePath)
}

func TestHandleListModels_EmptyCatalog(t *testing.T) {
	router := gin.New()
	router.GET("/models", handleListModels(&stubCatalog{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"data":[]`)
}

func TestHandleListModels_CatalogError(t *testing.T) {
	router := gin.New()
	router.GET("/models", handleListModels(&stubCatalog{err: fmt.Errorf("db gone")}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func objectTestHandlers(store *stubContentStore, derivs *stubDerivativeService) *objectHandlers {
	return newObjectHandlers(store, derivs, nil, config.PipelineConfig{BucketKey: "bmms_oss"})
}

func TestHandleListObjects_AnnotatesStatus(t *testing.T) {
	objectID := "urn:adsk.objects:os.object:bmms_oss/model.ipt"
	store := &stubContentStore{objects: []remote.Object{
		{BucketKey: "bmms_oss", ObjectKey: "model.ipt", ObjectID: objectID, Size: 1024},
		{BucketKey: "bmms_oss", ObjectKey: "fresh.ipt", ObjectID: objectID + "2", Size: 64},
	}}
	derivs := &stubDerivativeService{manifests: map[string]*remote.Manifest{
		pipeline.DerivationKey(objectID): {Status: remote.StatusInProgress, Progress: "42% complete"},
	}}

	router := gin.New()
	router.GET("/objects", objectTestHandlers(store, derivs).handleListObjects)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/objects", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    []types.ObjectStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)

	assert.Equal(t, "model.ipt", resp.Data[0].ObjectKey)
	assert.Equal(t, remote.StatusInProgress, resp.Data[0].Status)
	assert.Equal(t, "42% complete", resp.Data[0].Progress)
	assert.True(t, resp.Data[0].Refresh)

	// No manifest yet: bare listing entry, no refresh hint.
	assert.Empty(t, resp.Data[1].Status)
	assert.False(t, resp.Data[1].Refresh)
}

func TestHandleGetObject(t *testing.T) {
	objectID := "urn:adsk.objects:os.object:bmms_oss/model.ipt"
	store := &stubContentStore{objects: []remote.Object{
		{BucketKey: "bmms_oss", ObjectKey: "model.ipt", ObjectID: objectID, Size: 1024},
	}}
	derivs := &stubDerivativeService{manifests: map[string]*remote.Manifest{
		pipeline.DerivationKey(objectID): {Status: remote.StatusSuccess, Progress: "complete"},
	}}

	router := gin.New()
	router.GET("/objects/:name", objectTestHandlers(store, derivs).handleGetObject)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/objects/model.ipt", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data types.ObjectStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, remote.StatusSuccess, resp.Data.Status)
	assert.False(t, resp.Data.Refresh)
}

func TestHandleGetObject_NotFound(t *testing.T) {
	router := gin.New()
	router.GET("/objects/:name", objectTestHandlers(&stubContentStore{}, &stubDerivativeService{}).handleGetObject)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/objects/absent.ipt", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubRunner struct {
	events []progress.Event
}

func (s *stubRunner) run() *progress.Bus {
	bus := progress.NewBus()
	go func() {
		defer bus.Close()
		for _, ev := range s.events {
			if !bus.Publish(ev) {
				return
			}
		}
	}()
	return bus
}

func (s *stubRunner) Upload(ctx context.Context, name string) *progress.Bus    { return s.run() }
func (s *stubRunner) Translate(ctx context.Context, name string) *progress.Bus { return s.run() }
func (s *stubRunner) Extract(ctx context.Context, name string) *progress.Bus   { return s.run() }

func TestHandleUploadStream_RelaysEvents(t *testing.T) {
	runner := &stubRunner{events: []progress.Event{
		{Phase: progress.PhaseUpload, Status: progress.StatusProcess, Percent: 40},
		{Phase: progress.PhaseUpload, Status: progress.StatusComplete, Percent: 100},
	}}

	router := gin.New()
	router.GET("/pipeline/upload/:name", handleUploadStream(runner))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/upload/model.ipt", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "event:upload")
	assert.Contains(t, body, `"percent":40`)
	assert.Contains(t, body, `"status":"complete"`)
}

func TestHandleTranslateStream_RelaysTerminalFailure(t *testing.T) {
	runner := &stubRunner{events: []progress.Event{
		{Phase: progress.PhaseTranslate, Status: progress.StatusFailed, Progress: "conversion rejected"},
	}}

	router := gin.New()
	router.GET("/pipeline/translate/:name", handleTranslateStream(runner))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipeline/translate/model.ipt", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "event:translate")
	assert.Contains(t, body, `"status":"failed"`)
	assert.Contains(t, body, "conversion rejected")
}
