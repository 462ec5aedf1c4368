package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/fetch"
	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/vector"
)

// mockJobRepo implements repositories.IndexJobRepository with the
// single-flight invariant enforced under a mutex, mirroring what the
// partial unique index does in Postgres.
type mockJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.IndexJob
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{jobs: make(map[uuid.UUID]*models.IndexJob)}
}

func (m *mockJobRepo) Enqueue(_ context.Context, job *models.IndexJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.TenantID == job.TenantID && existing.Status.Active() {
			return apperrors.ErrJobAlreadyActive
		}
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobStatusQueued
	job.CreatedAt = time.Now()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *mockJobRepo) MarkRunning(_ context.Context, _, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != models.JobStatusQueued {
		return apperrors.ErrInvalidState
	}
	job.Status = models.JobStatusRunning
	return nil
}

func (m *mockJobRepo) MarkFailed(_ context.Context, _, jobID uuid.UUID, errorText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || !job.Status.Active() {
		return apperrors.ErrInvalidState
	}
	job.Status = models.JobStatusFailed
	job.ErrorText = &errorText
	return nil
}

func (m *mockJobRepo) RequestCancel(_ context.Context, _, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || !job.Status.Active() {
		return apperrors.ErrInvalidState
	}
	job.CancelRequested = true
	return nil
}

func (m *mockJobRepo) IsCancelRequested(_ context.Context, _, jobID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return false, apperrors.ErrNotFound
	}
	return job.CancelRequested, nil
}

func (m *mockJobRepo) Get(_ context.Context, _, jobID uuid.UUID) (*models.IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *mockJobRepo) GetActive(_ context.Context, tenantID uuid.UUID) (*models.IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.TenantID == tenantID && job.Status.Active() {
			copied := *job
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockJobRepo) List(_ context.Context, tenantID uuid.UUID, _ int) ([]*models.IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.IndexJob
	for _, job := range m.jobs {
		if job.TenantID == tenantID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

// mockIndexRepo implements repositories.KBIndexRepository.
type mockIndexRepo struct {
	mu        sync.Mutex
	indexes   map[uuid.UUID]*models.KBIndex
	activeID  *uuid.UUID
	jobs      *mockJobRepo
	lastStats *models.IndexJobStats
}

func newMockIndexRepo(jobs *mockJobRepo) *mockIndexRepo {
	return &mockIndexRepo{indexes: make(map[uuid.UUID]*models.KBIndex), jobs: jobs}
}

func (m *mockIndexRepo) Create(_ context.Context, index *models.KBIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index.ID == uuid.Nil {
		index.ID = uuid.New()
	}
	index.Status = models.IndexStatusBuilding
	index.CreatedAt = time.Now()
	copied := *index
	m.indexes[index.ID] = &copied
	return nil
}

func (m *mockIndexRepo) ActivateAndCompleteJob(ctx context.Context, tenantID, indexID, jobID uuid.UUID, stats *models.IndexJobStats, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, ok := m.indexes[indexID]
	if !ok || index.Status != models.IndexStatusBuilding {
		return apperrors.ErrInvalidState
	}
	if m.activeID != nil {
		m.indexes[*m.activeID].Status = models.IndexStatusSuperseded
	}
	now := time.Now()
	index.Status = models.IndexStatusActive
	index.ActivatedAt = &now
	m.activeID = &indexID
	m.lastStats = stats

	m.jobs.mu.Lock()
	defer m.jobs.mu.Unlock()
	job, ok := m.jobs.jobs[jobID]
	if !ok || job.Status != models.JobStatusRunning {
		return apperrors.ErrInvalidState
	}
	job.Status = models.JobStatusSuccess
	job.Stats = stats
	return nil
}

func (m *mockIndexRepo) MarkDiscarded(_ context.Context, _, indexID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, ok := m.indexes[indexID]
	if !ok || index.Status != models.IndexStatusBuilding {
		return apperrors.ErrInvalidState
	}
	index.Status = models.IndexStatusDiscarded
	return nil
}

func (m *mockIndexRepo) GetActive(_ context.Context, _ uuid.UUID) (*models.KBIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == nil {
		return nil, apperrors.ErrNotFound
	}
	copied := *m.indexes[*m.activeID]
	return &copied, nil
}

func (m *mockIndexRepo) Get(_ context.Context, _, indexID uuid.UUID) (*models.KBIndex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	index, ok := m.indexes[indexID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *index
	return &copied, nil
}

func (m *mockIndexRepo) List(_ context.Context, _ uuid.UUID, _ int) ([]*models.KBIndex, error) {
	return nil, nil
}

// mockSourceRepo implements repositories.KBSourceRepository.
type mockSourceRepo struct {
	mu      sync.Mutex
	sources map[uuid.UUID]*models.KBSource
	fetches map[uuid.UUID]string
}

func newMockSourceRepo() *mockSourceRepo {
	return &mockSourceRepo{
		sources: make(map[uuid.UUID]*models.KBSource),
		fetches: make(map[uuid.UUID]string),
	}
}

func (m *mockSourceRepo) Create(_ context.Context, source *models.KBSource, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	m.sources[source.ID] = source
	return nil
}

func (m *mockSourceRepo) Get(_ context.Context, _, sourceID uuid.UUID) (*models.KBSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[sourceID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func (m *mockSourceRepo) List(_ context.Context, tenantID uuid.UUID) ([]*models.KBSource, error) {
	return m.ListEnabled(context.Background(), tenantID)
}

func (m *mockSourceRepo) ListEnabled(_ context.Context, tenantID uuid.UUID) ([]*models.KBSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.KBSource
	for _, s := range m.sources {
		if s.TenantID == tenantID && s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSourceRepo) Update(_ context.Context, _ *models.KBSource, _ string) error { return nil }
func (m *mockSourceRepo) Delete(_ context.Context, _, _ uuid.UUID, _ string) error     { return nil }

func (m *mockSourceRepo) RecordFetchResult(_ context.Context, _, sourceID uuid.UUID, hash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[sourceID] = hash
	if s, ok := m.sources[sourceID]; ok {
		s.LastHash = &hash
	}
	return nil
}

// mockFetcher implements fetch.Fetcher with per-source canned results.
type mockFetcher struct {
	docs     map[uuid.UUID]*fetch.Document
	failures map[uuid.UUID]error
}

func (m *mockFetcher) FetchSource(_ context.Context, src models.FrozenSource) (*fetch.Document, error) {
	if err, ok := m.failures[src.ID]; ok {
		return nil, &apperrors.SourceFetchError{SourceID: src.ID, Err: err}
	}
	doc, ok := m.docs[src.ID]
	if !ok {
		return nil, &apperrors.SourceFetchError{SourceID: src.ID, Err: errors.New("no canned document")}
	}
	return doc, nil
}

// mockEmbedder implements embeddings.Embedder.
type mockEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOn != nil {
		return nil, m.failOn
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return 4 }

// mockStore implements vector.Store.
type mockStore struct {
	mu         sync.Mutex
	upserted   map[string]int
	deleted    []string
	upsertErr  error
	collection string
}

func newMockStore() *mockStore {
	return &mockStore{upserted: make(map[string]int)}
}

func (m *mockStore) EnsureCollection(_ context.Context, name string, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collection = name
	return nil
}

func (m *mockStore) Upsert(_ context.Context, collection string, points []vector.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted[collection] += len(points)
	return nil
}

func (m *mockStore) Search(_ context.Context, _ string, _ []float32, _ int) ([]vector.SearchResult, error) {
	return nil, nil
}

func (m *mockStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockStore) Close() error { return nil }

func strPtr(s string) *string { return &s }

func newTestIndexer(jobs *mockJobRepo, indexes *mockIndexRepo, sources *mockSourceRepo, fetcher fetch.Fetcher, embedder *mockEmbedder, store *mockStore) *IndexerService {
	return NewIndexerService(nil, jobs, indexes, sources, fetcher, embedder, store,
		NewChunker(1600, 200), zap.NewNop())
}

func urlSource(tenantID uuid.UUID, url string) *models.KBSource {
	return &models.KBSource{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Enabled:   true,
		Type:      models.SourceTypeURL,
		SourceURL: strPtr(url),
	}
}

func TestIndexerService_Run_PartialFetchFailuresStillSucceed(t *testing.T) {
	tenantID := uuid.New()
	jobs := newMockJobRepo()
	indexes := newMockIndexRepo(jobs)
	sources := newMockSourceRepo()
	fetcher := &mockFetcher{
		docs:     make(map[uuid.UUID]*fetch.Document),
		failures: make(map[uuid.UUID]error),
	}

	for i := 0; i < 5; i++ {
		src := urlSource(tenantID, fmt.Sprintf("https://example.com/%d", i))
		require.NoError(t, sources.Create(context.Background(), src, "ops"))
		if i < 2 {
			fetcher.failures[src.ID] = errors.New("connection refused")
		} else {
			fetcher.docs[src.ID] = &fetch.Document{
				Text:     fmt.Sprintf("content for source %d", i),
				TextHash: fmt.Sprintf("hash-%d", i),
			}
		}
	}

	embedder := &mockEmbedder{}
	store := newMockStore()
	svc := newTestIndexer(jobs, indexes, sources, fetcher, embedder, store)

	job, err := svc.Enqueue(context.Background(), EnqueueInput{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, job.Sources, 5)

	require.NoError(t, svc.Run(context.Background(), tenantID, job.ID))

	finished, err := jobs.Get(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, finished.Status)
	require.NotNil(t, finished.Stats)
	assert.Equal(t, 5, finished.Stats.SourcesTotal)
	assert.Equal(t, 3, finished.Stats.SourcesProcessed)
	assert.Equal(t, 2, finished.Stats.SourcesFailed)
	assert.Equal(t, 0, finished.Stats.SourcesSkipped)
	assert.Positive(t, finished.Stats.ChunksCount)

	active, err := indexes.GetActive(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, models.IndexStatusActive, active.Status)
}

func TestIndexerService_Run_EmbedFailureLeavesPointerUntouched(t *testing.T) {
	tenantID := uuid.New()
	jobs := newMockJobRepo()
	indexes := newMockIndexRepo(jobs)
	sources := newMockSourceRepo()

	src := urlSource(tenantID, "https://example.com/doc")
	require.NoError(t, sources.Create(context.Background(), src, "ops"))
	fetcher := &mockFetcher{
		docs: map[uuid.UUID]*fetch.Document{
			src.ID: {Text: "some content", TextHash: "h1"},
		},
	}

	embedder := &mockEmbedder{failOn: errors.New("embedding service down")}
	store := newMockStore()
	svc := newTestIndexer(jobs, indexes, sources, fetcher, embedder, store)

	job, err := svc.Enqueue(context.Background(), EnqueueInput{TenantID: tenantID})
	require.NoError(t, err)

	err = svc.Run(context.Background(), tenantID, job.ID)
	require.Error(t, err)
	var esErr *apperrors.EmbeddingServiceError
	assert.ErrorAs(t, err, &esErr)

	finished, err := jobs.Get(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, finished.Status)
	require.NotNil(t, finished.ErrorText)

	// No index activated, pointer untouched.
	_, err = indexes.GetActive(context.Background(), tenantID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	for _, idx := range indexes.indexes {
		assert.Equal(t, models.IndexStatusDiscarded, idx.Status)
	}
}

func TestIndexerService_Run_UnchangedHashSkipsEmbedding(t *testing.T) {
	tenantID := uuid.New()
	jobs := newMockJobRepo()
	indexes := newMockIndexRepo(jobs)
	sources := newMockSourceRepo()

	src := urlSource(tenantID, "https://example.com/doc")
	src.LastHash = strPtr("same-hash")
	require.NoError(t, sources.Create(context.Background(), src, "ops"))
	fetcher := &mockFetcher{
		docs: map[uuid.UUID]*fetch.Document{
			src.ID: {Text: "unchanged content", TextHash: "same-hash"},
		},
	}

	embedder := &mockEmbedder{}
	store := newMockStore()
	svc := newTestIndexer(jobs, indexes, sources, fetcher, embedder, store)

	job, err := svc.Enqueue(context.Background(), EnqueueInput{TenantID: tenantID})
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background(), tenantID, job.ID))

	finished, err := jobs.Get(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, finished.Status)
	assert.Equal(t, 1, finished.Stats.SourcesSkipped)
	assert.Equal(t, 0, finished.Stats.SourcesProcessed)
	assert.Equal(t, 0, embedder.calls)
}

func TestIndexerService_Run_ForceReembedsUnchangedSources(t *testing.T) {
	tenantID := uuid.New()
	jobs := newMockJobRepo()
	indexes := newMockIndexRepo(jobs)
	sources := newMockSourceRepo()

	src := urlSource(tenantID, "https://example.com/doc")
	src.LastHash = strPtr("same-hash")
	require.NoError(t, sources.Create(context.Background(), src, "ops"))
	fetcher := &mockFetcher{
		docs: map[uuid.UUID]*fetch.Document{
			src.ID: {Text: "unchanged content", TextHash: "same-hash"},
		},
	}

	embedder := &mockEmbedder{}
	store := newMockStore()
	svc := newTestIndexer(jobs, indexes, sources, fetcher, embedder, store)

	job, err := svc.Enqueue(context.Background(), EnqueueInput{TenantID: tenantID, Force: true})
	require.NoError(t, err)
	require.NoError(t, svc.Run(context.Background(), tenantID, job.ID))

	finished, err := jobs.Get(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, finished.Status)
	assert.Equal(t, 1, finished.Stats.SourcesProcessed)
	assert.Equal(t, 1, embedder.calls)
	// Force rebuilds drop the old collection first.
	assert.NotEmpty(t, store.deleted)
}

func TestIndexerService_Run_CancellationBeforeActivation(t *testing.T) {
	tenantID := uuid.New()
	jobs := newMockJobRepo()
	indexes := newMockIndexRepo(jobs)
	sources := newMockSourceRepo()
	fetcher := &mockFetcher{docs: make(map[uuid.UUID]*fetch.Document)}

	embedder := &mockEmbedder{}
	store := newMockStore()
	svc := newTestIndexer(jobs, indexes, sources, fetcher, embedder, store)

	job, err := svc.Enqueue(context.Background(), EnqueueInput{TenantID: tenantID})
	require.NoError(t, err)

	// Flag the queued job before the worker runs.
	require.NoError(t, jobs.RequestCancel(context.Background(), tenantID, job.ID))

	err = svc.Run(context.Background(), tenantID, job.ID)
	require.Error(t, err)

	finished, err := jobs.Get(context.Background(), tenantID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, finished.Status)

	_, err = indexes.GetActive(context.Background(), tenantID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIndexerService_Enqueue_SingleFlightPerTenant(t *testing.T) {
	tenantID := uuid.New()
	jobs := newMockJobRepo()
	indexes := newMockIndexRepo(jobs)
	sources := newMockSourceRepo()
	svc := newTestIndexer(jobs, indexes, sources, &mockFetcher{}, &mockEmbedder{}, newMockStore())

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Enqueue(context.Background(), EnqueueInput{TenantID: tenantID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrJobAlreadyActive):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)

	// A different tenant is not blocked.
	_, err := svc.Enqueue(context.Background(), EnqueueInput{TenantID: uuid.New()})
	assert.NoError(t, err)
}
