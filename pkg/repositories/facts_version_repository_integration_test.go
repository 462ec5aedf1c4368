//go:build integration

package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/testhelpers"
)

// newTestTenant registers a fresh tenant and returns it with a scoped context.
// The scope is closed via t.Cleanup.
func newTestTenant(t *testing.T, db *database.DB) (*models.Tenant, context.Context) {
	t.Helper()
	ctx := context.Background()

	regScope, err := db.WithoutTenant(ctx)
	require.NoError(t, err)
	tenant := &models.Tenant{
		Slug: fmt.Sprintf("tenant-%s", uuid.New().String()[:8]),
		Name: "Test Tenant",
	}
	require.NoError(t, NewTenantRepository().Create(database.SetTenantScope(ctx, regScope), tenant))
	regScope.Close()

	scope, err := db.WithTenant(ctx, tenant.ID)
	require.NoError(t, err)
	t.Cleanup(scope.Close)

	return tenant, database.SetTenantScope(ctx, scope)
}

func createDraft(t *testing.T, ctx context.Context, repo FactsVersionRepository, tenantID uuid.UUID, payload string) *models.FactsVersion {
	t.Helper()
	version := &models.FactsVersion{TenantID: tenantID, CreatedBy: "test"}
	require.NoError(t, repo.CreateDraft(ctx, version, json.RawMessage(payload)))
	return version
}

func TestFactsVersionRepository_PublishRollbackRoundTrip(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewFactsVersionRepository()

	v1 := createDraft(t, ctx, repo, tenant.ID, `{"v":1}`)
	published, err := repo.Publish(ctx, tenant.ID, v1.ID, nil, "ops", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	payload, err := repo.GetPublishedSnapshot(ctx, tenant.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(payload))

	// Second publish archives v1.
	time.Sleep(10 * time.Millisecond) // distinct published_at ordering
	v2 := createDraft(t, ctx, repo, tenant.ID, `{"v":2}`)
	_, err = repo.Publish(ctx, tenant.ID, v2.ID, &v1.ID, "ops", nil)
	require.NoError(t, err)

	payload, err = repo.GetPublishedSnapshot(ctx, tenant.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(payload))

	archived, err := repo.Get(ctx, tenant.ID, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusArchived, archived.Status)

	// Rollback returns to v1 and preserves its original published_at.
	restored, err := repo.Rollback(ctx, tenant.ID, "ops", nil)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, restored.ID)
	assert.Equal(t, models.VersionStatusPublished, restored.Status)
	require.NotNil(t, restored.PublishedAt)
	assert.WithinDuration(t, *published.PublishedAt, *restored.PublishedAt, time.Second)

	payload, err = repo.GetPublishedSnapshot(ctx, tenant.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(payload))

	// Nothing published before v1 remains; a second rollback has no target.
	_, err = repo.Rollback(ctx, tenant.ID, "ops", nil)
	assert.ErrorIs(t, err, apperrors.ErrNoPriorVersion)
}

func TestFactsVersionRepository_PublishCASConflict(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewFactsVersionRepository()

	v1 := createDraft(t, ctx, repo, tenant.ID, `{"v":1}`)
	_, err := repo.Publish(ctx, tenant.ID, v1.ID, nil, "ops", nil)
	require.NoError(t, err)

	// First-publish insert against an existing pointer.
	v2 := createDraft(t, ctx, repo, tenant.ID, `{"v":2}`)
	_, err = repo.Publish(ctx, tenant.ID, v2.ID, nil, "ops", nil)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// Stale expected pointer.
	stale := uuid.New()
	_, err = repo.Publish(ctx, tenant.ID, v2.ID, &stale, "ops", nil)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// The failed attempts left everything intact.
	payload, err := repo.GetPublishedSnapshot(ctx, tenant.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(payload))

	draft, err := repo.Get(ctx, tenant.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusDraft, draft.Status)
}

func TestFactsVersionRepository_ConcurrentPublishExactlyOneWins(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewFactsVersionRepository()

	const attempts = 6
	drafts := make([]*models.FactsVersion, attempts)
	for i := range drafts {
		drafts[i] = createDraft(t, ctx, repo, tenant.ID, fmt.Sprintf(`{"v":%d}`, i))
	}

	// All racers observed "never published" and try the first publish.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []uuid.UUID
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(draft *models.FactsVersion) {
			defer wg.Done()
			scope, err := db.DB.WithTenant(context.Background(), tenant.ID)
			if err != nil {
				t.Error(err)
				return
			}
			defer scope.Close()
			gctx := database.SetTenantScope(context.Background(), scope)

			_, err = repo.Publish(gctx, tenant.ID, draft.ID, nil, "ops", nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, draft.ID)
			case errors.Is(err, apperrors.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(drafts[i])
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, attempts-1, conflicts)

	// The pointer names the winner and the losers are untouched drafts.
	current, err := repo.GetPublishedVersionID(ctx, tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, winners[0], *current)

	for _, draft := range drafts {
		if draft.ID == winners[0] {
			continue
		}
		loaded, err := repo.Get(ctx, tenant.ID, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, models.VersionStatusDraft, loaded.Status)
	}
}

func TestFactsVersionRepository_PublishPreconditions(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewFactsVersionRepository()

	// Unknown version.
	_, err := repo.Publish(ctx, tenant.ID, uuid.New(), nil, "ops", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Already-published version cannot be published again.
	v1 := createDraft(t, ctx, repo, tenant.ID, `{"v":1}`)
	_, err = repo.Publish(ctx, tenant.ID, v1.ID, nil, "ops", nil)
	require.NoError(t, err)
	_, err = repo.Publish(ctx, tenant.ID, v1.ID, &v1.ID, "ops", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestFactsVersionRepository_EveryMutationWritesChangeLog(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewFactsVersionRepository()
	changeLog := NewChangeLogRepository()

	v1 := createDraft(t, ctx, repo, tenant.ID, `{"v":1}`)
	_, err := repo.Publish(ctx, tenant.ID, v1.ID, nil, "ops", nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	v2 := createDraft(t, ctx, repo, tenant.ID, `{"v":2}`)
	_, err = repo.Publish(ctx, tenant.ID, v2.ID, &v1.ID, "ops", nil)
	require.NoError(t, err)
	_, err = repo.Rollback(ctx, tenant.ID, "ops", nil)
	require.NoError(t, err)

	entries, err := changeLog.ListByTenant(ctx, tenant.ID, 100)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	// Newest first: rollback, publish, create, publish, create.
	assert.Equal(t, models.ChangeActionRollback, entries[0].Action)
	assert.Equal(t, models.ChangeActionPublish, entries[1].Action)
	assert.Equal(t, models.ChangeActionCreate, entries[2].Action)
	assert.Equal(t, models.ChangeActionPublish, entries[3].Action)
	assert.Equal(t, models.ChangeActionCreate, entries[4].Action)
}

func TestFactsVersionRepository_SnapshotImmutableAcrossStatusChanges(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewFactsVersionRepository()

	v1 := createDraft(t, ctx, repo, tenant.ID, `{"hours":"9-17"}`)
	_, err := repo.Publish(ctx, tenant.ID, v1.ID, nil, "ops", nil)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	v2 := createDraft(t, ctx, repo, tenant.ID, `{"hours":"10-18"}`)
	_, err = repo.Publish(ctx, tenant.ID, v2.ID, &v1.ID, "ops", nil)
	require.NoError(t, err)

	// The archived version's snapshot is byte-for-byte what was created.
	payload, err := repo.GetSnapshot(ctx, v1.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hours":"9-17"}`, string(payload))
}
