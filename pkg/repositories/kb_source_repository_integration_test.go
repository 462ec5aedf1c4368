//go:build integration

package repositories

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/testhelpers"
)

func TestKBSourceRepository_CRUDWithChangeLog(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewKBSourceRepository()
	changeLog := NewChangeLogRepository()

	url := "https://example.com/visitor-guide"
	source := &models.KBSource{
		TenantID:  tenant.ID,
		Enabled:   true,
		Type:      models.SourceTypeURL,
		SourceURL: &url,
	}
	require.NoError(t, repo.Create(ctx, source, "ops"))

	loaded, err := repo.Get(ctx, tenant.ID, source.ID)
	require.NoError(t, err)
	assert.Equal(t, url, *loaded.SourceURL)
	assert.True(t, loaded.Enabled)

	loaded.Enabled = false
	require.NoError(t, repo.Update(ctx, loaded, "ops"))

	enabled, err := repo.ListEnabled(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := repo.List(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, tenant.ID, source.ID, "ops"))
	_, err = repo.Get(ctx, tenant.ID, source.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// Create, update and delete each wrote one entry.
	entries, err := changeLog.ListByEntity(ctx, models.ChangeEntityKBSources, source.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.ChangeActionDelete, entries[0].Action)
	assert.Equal(t, models.ChangeActionUpdate, entries[1].Action)
	assert.Equal(t, models.ChangeActionCreate, entries[2].Action)
}

func TestKBSourceRepository_RecordFetchResult(t *testing.T) {
	db := testhelpers.GetEngineDB(t)
	tenant, ctx := newTestTenant(t, db.DB)
	repo := NewKBSourceRepository()

	url := "https://example.com/faq"
	source := &models.KBSource{
		TenantID:  tenant.ID,
		Enabled:   true,
		Type:      models.SourceTypeURL,
		SourceURL: &url,
	}
	require.NoError(t, repo.Create(ctx, source, "ops"))

	fetchedAt := time.Now()
	require.NoError(t, repo.RecordFetchResult(ctx, tenant.ID, source.ID, "hash-1", fetchedAt))

	loaded, err := repo.Get(ctx, tenant.ID, source.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastHash)
	assert.Equal(t, "hash-1", *loaded.LastHash)
	require.NotNil(t, loaded.LastFetchedAt)
	assert.WithinDuration(t, fetchedAt, *loaded.LastFetchedAt, time.Second)

	// Deleted source: bookkeeping reports not-found, callers ignore it.
	require.NoError(t, repo.Delete(ctx, tenant.ID, source.ID, "ops"))
	err = repo.RecordFetchResult(ctx, tenant.ID, source.ID, "hash-2", time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
