package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bmms/bmms-server/internal/catalog"
	"github.com/bmms/bmms-server/internal/download"
	"github.com/bmms/bmms-server/internal/progress"
	"github.com/bmms/bmms-server/internal/remote"
	"github.com/bmms/bmms-server/internal/storage"
	"github.com/bmms/bmms-server/pkg/config"
	"github.com/bmms/bmms-server/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeContentStore records uploaded chunks and serves scripted ranges.
type fakeContentStore struct {
	mu        sync.Mutex
	buckets   []remote.Bucket
	objects   map[string][]remote.Object
	ranges    []remote.ResumableRange
	rangesErr error
	chunks    []chunkCall
	failAt    int // 1-based chunk index to fail on, 0 = never
	onChunk   func(call chunkCall)
}

type chunkCall struct {
	offset int64
	data   []byte
	total  int64
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{
		buckets:   []remote.Bucket{{BucketKey: "bmms_oss"}},
		objects:   map[string][]remote.Object{},
		rangesErr: fmt.Errorf("session unknown: %w", remote.ErrNotFound),
	}
}

func (f *fakeContentStore) ListBuckets(ctx context.Context) ([]remote.Bucket, error) {
	return f.buckets, nil
}

func (f *fakeContentStore) ListObjects(ctx context.Context, bucketKey string) ([]remote.Object, error) {
	return f.objects[bucketKey], nil
}

func (f *fakeContentStore) ResumableRanges(ctx context.Context, bucketKey, objectKey, sessionID string) ([]remote.ResumableRange, error) {
	if f.rangesErr != nil {
		return nil, f.rangesErr
	}
	return f.ranges, nil
}

func (f *fakeContentStore) UploadChunk(ctx context.Context, bucketKey, objectKey string, chunk []byte, offset, totalBytes int64, sessionID string) error {
	f.mu.Lock()
	call := chunkCall{offset: offset, data: append([]byte(nil), chunk...), total: totalBytes}
	f.chunks = append(f.chunks, call)
	n := len(f.chunks)
	f.mu.Unlock()

	if f.failAt > 0 && n == f.failAt {
		return &remote.StoreError{Op: "upload chunk", StatusCode: 500, Diagnostic: "backend unavailable"}
	}
	if f.onChunk != nil {
		f.onChunk(call)
	}
	return nil
}

func (f *fakeContentStore) uploadedChunks() []chunkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chunkCall(nil), f.chunks...)
}

// fakeDerivativeService serves scripted manifests in sequence.
type fakeDerivativeService struct {
	mu        sync.Mutex
	submitted []remote.JobSpec
	submitErr error
	manifests []*remote.Manifest
	polls     int
	getErr    error
}

func (f *fakeDerivativeService) SubmitJob(ctx context.Context, derivationKey string, spec remote.JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, spec)
	return nil
}

func (f *fakeDerivativeService) GetManifest(ctx context.Context, derivationKey string) (*remote.Manifest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if len(f.manifests) == 0 {
		return nil, fmt.Errorf("manifest: %w", remote.ErrNotFound)
	}
	manifest := f.manifests[0]
	if len(f.manifests) > 1 {
		f.manifests = f.manifests[1:]
	}
	f.polls++
	return manifest, nil
}

func (f *fakeDerivativeService) DownloadAsset(ctx context.Context, derivationKey, assetURN string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte("asset"))), nil
}

// fakeDownloader records invocations and replays scripted log lines.
type fakeDownloader struct {
	logLines   []string
	err        error
	calls      int
	lastKey    string
	onDownload func()
}

func (f *fakeDownloader) Download(ctx context.Context, derivationKey string, opts download.Options) error {
	f.calls++
	f.lastKey = derivationKey
	if f.onDownload != nil {
		f.onDownload()
	}
	if f.err != nil {
		return f.err
	}
	for _, line := range f.logLines {
		opts.OnLog(line)
	}
	return nil
}

// fakeCatalog is an in-memory catalog collaborator.
type fakeCatalog struct {
	mu      sync.Mutex
	records map[string]*types.ModelRecord
	creates int
	updates int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{records: map[string]*types.ModelRecord{}}
}

func (f *fakeCatalog) Exists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[name]
	return ok, nil
}

func (f *fakeCatalog) FindOne(ctx context.Context, name string) (*types.ModelRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[name]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", name, catalog.ErrRecordNotFound)
	}
	copied := *record
	return &copied, nil
}

func (f *fakeCatalog) Create(ctx context.Context, record *types.ModelRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	copied := *record
	f.records[record.Name] = &copied
	return nil
}

func (f *fakeCatalog) Update(ctx context.Context, record *types.ModelRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	copied := *record
	f.records[record.Name] = &copied
	return nil
}

type testEnv struct {
	service  *Service
	store    *fakeContentStore
	derivs   *fakeDerivativeService
	download *fakeDownloader
	catalog  *fakeCatalog
	uploads  *storage.Store
	outputs  *storage.Store
	cfg      config.PipelineConfig
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	uploads, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)
	outputs, err := storage.NewStore(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		store:    newFakeContentStore(),
		derivs:   &fakeDerivativeService{},
		download: &fakeDownloader{},
		catalog:  newFakeCatalog(),
		uploads:  uploads,
		outputs:  outputs,
		cfg: config.PipelineConfig{
			BucketKey:        "bmms_oss",
			OutputDir:        outputs.BasePath(),
			ChunkSize:        2 << 20,
			PollInterval:     time.Millisecond,
			OperationTimeout: 10 * time.Second,
		},
	}
	env.rebuild()
	return env
}

func (e *testEnv) rebuild() {
	e.service = NewService(e.store, e.derivs, e.download, e.catalog, e.uploads, e.outputs, e.cfg)
}

func (e *testEnv) stageFile(t *testing.T, name string, size int) {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	_, err := e.uploads.Save(name, bytes.NewReader(data))
	require.NoError(t, err)
}

func (e *testEnv) addObject(name string) {
	e.store.objects["bmms_oss"] = append(e.store.objects["bmms_oss"], remote.Object{
		BucketKey: "bmms_oss",
		ObjectKey: name,
		ObjectID:  "urn:adsk.objects:os.object:bmms_oss/" + name,
	})
}

func drain(t *testing.T, bus *progress.Bus) []progress.Event {
	t.Helper()
	var events []progress.Event
	for ev := range bus.Events() {
		events = append(events, ev)
	}
	return events
}
