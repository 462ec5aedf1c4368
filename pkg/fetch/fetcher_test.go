package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/models"
)

func strPtr(s string) *string { return &s }

func TestFetchSource_URLSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body><h1>Visitor Info</h1><p>Open 9-17.</p></body></html>`))
	}))
	defer server.Close()

	f := NewFetcher(5 * time.Second)
	doc, err := f.FetchSource(context.Background(), models.FrozenSource{
		ID:        uuid.New(),
		Type:      models.SourceTypeURL,
		SourceURL: strPtr(server.URL),
		Title:     strPtr("Visitor Info"),
	})

	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Visitor Info")
	assert.Contains(t, doc.Text, "Open 9-17.")
	assert.Equal(t, "text/html", doc.ContentType)
	assert.Equal(t, "Visitor Info", doc.Title)
	assert.NotEmpty(t, doc.TextHash)
}

func TestFetchSource_HTTPErrorWrapsSourceFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sourceID := uuid.New()
	f := NewFetcher(5 * time.Second)
	_, err := f.FetchSource(context.Background(), models.FrozenSource{
		ID:        sourceID,
		Type:      models.SourceTypeURL,
		SourceURL: strPtr(server.URL),
	})

	require.Error(t, err)
	var fetchErr *apperrors.SourceFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, sourceID, fetchErr.SourceID)
}

func TestFetchSource_MissingLocation(t *testing.T) {
	f := NewFetcher(5 * time.Second)

	_, err := f.FetchSource(context.Background(), models.FrozenSource{
		ID:   uuid.New(),
		Type: models.SourceTypeURL,
	})
	assert.Error(t, err)

	_, err = f.FetchSource(context.Background(), models.FrozenSource{
		ID:   uuid.New(),
		Type: models.SourceTypeFile,
	})
	assert.Error(t, err)
}

func TestFetchSource_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Plain text source content."), 0o644))

	f := NewFetcher(5 * time.Second)
	doc, err := f.FetchSource(context.Background(), models.FrozenSource{
		ID:       uuid.New(),
		Type:     models.SourceTypeFile,
		FilePath: strPtr(path),
	})

	require.NoError(t, err)
	assert.Equal(t, "Plain text source content.", doc.Text)
	assert.Equal(t, "text/plain", doc.ContentType)
	assert.Equal(t, HashText("Plain text source content."), doc.TextHash)
}

func TestFetchSource_UnchangedContentSameHash(t *testing.T) {
	handler := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(body))
		}
	}

	// Markup differs, visible text identical.
	first := httptest.NewServer(handler(`<p>Open   daily.</p>`))
	defer first.Close()
	second := httptest.NewServer(handler(`<div>Open daily.</div>`))
	defer second.Close()

	f := NewFetcher(5 * time.Second)
	docA, err := f.FetchSource(context.Background(), models.FrozenSource{
		ID: uuid.New(), Type: models.SourceTypeURL, SourceURL: strPtr(first.URL),
	})
	require.NoError(t, err)
	docB, err := f.FetchSource(context.Background(), models.FrozenSource{
		ID: uuid.New(), Type: models.SourceTypeURL, SourceURL: strPtr(second.URL),
	})
	require.NoError(t, err)

	assert.Equal(t, docA.TextHash, docB.TextHash)
}
