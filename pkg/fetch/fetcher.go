// Package fetch retrieves knowledge-base source documents and normalizes
// them into plain text with a stable content hash. The hash is computed over
// whitespace-collapsed, lowercased text so cosmetic markup changes do not
// register as content changes.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/models"
)

// Document is the normalized result of fetching one source.
type Document struct {
	Text        string
	Title       string
	SourceURL   string
	ContentType string

	// TextHash is the sha256 hex digest of the normalized text, compared
	// against KBSource.LastHash for change detection.
	TextHash string
}

// Fetcher retrieves source content by type. Implementations must be safe for
// concurrent use; one indexing job may fetch sources for several tenants in
// parallel workers.
type Fetcher interface {
	FetchSource(ctx context.Context, src models.FrozenSource) (*Document, error)
}

// HTTPFetcher fetches url/pdf/file sources. URL fetches go through the
// shared HTTP client; file paths are read from local disk.
type HTTPFetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

var _ Fetcher = (*HTTPFetcher)(nil)

// FetchSource dispatches on the source type. All failures are wrapped in
// *apperrors.SourceFetchError so the indexer can record them per source
// without aborting the job.
func (f *HTTPFetcher) FetchSource(ctx context.Context, src models.FrozenSource) (*Document, error) {
	doc, err := f.fetch(ctx, src)
	if err != nil {
		return nil, &apperrors.SourceFetchError{SourceID: src.ID, Err: err}
	}
	return doc, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, src models.FrozenSource) (*Document, error) {
	switch src.Type {
	case models.SourceTypeFile:
		if src.FilePath == nil || *src.FilePath == "" {
			return nil, fmt.Errorf("file_path is required for source_type=file")
		}
		return f.fetchFile(*src.FilePath, title(src))

	case models.SourceTypeURL:
		if src.SourceURL == nil || *src.SourceURL == "" {
			return nil, fmt.Errorf("source_url is required for source_type=url")
		}
		return f.fetchURL(ctx, *src.SourceURL, title(src))

	case models.SourceTypePDF:
		if src.FilePath != nil && *src.FilePath != "" {
			return f.fetchPDFFile(*src.FilePath, title(src), src.SourceURL)
		}
		if src.SourceURL != nil && *src.SourceURL != "" {
			return f.fetchPDFURL(ctx, *src.SourceURL, title(src))
		}
		return nil, fmt.Errorf("file_path or source_url is required for source_type=pdf")

	default:
		return nil, fmt.Errorf("unsupported source_type: %q", src.Type)
	}
}

func (f *HTTPFetcher) fetchFile(path, docTitle string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	text := string(raw)
	contentType := "text/plain"
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
		text = htmlToText(text)
		contentType = "text/html"
	}

	return newDocument(text, docTitle, "", contentType), nil
}

func (f *HTTPFetcher) fetchURL(ctx context.Context, url, docTitle string) (*Document, error) {
	body, contentType, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}

	if contentType == "application/pdf" || strings.HasSuffix(strings.ToLower(url), ".pdf") {
		text, err := pdfToText(body)
		if err != nil {
			return nil, err
		}
		return newDocument(text, docTitle, url, "application/pdf"), nil
	}

	if contentType == "" {
		contentType = "text/html"
	}
	return newDocument(htmlToText(string(body)), docTitle, url, contentType), nil
}

func (f *HTTPFetcher) fetchPDFURL(ctx context.Context, url, docTitle string) (*Document, error) {
	body, contentType, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/pdf"
	}

	text, err := pdfToText(body)
	if err != nil {
		return nil, err
	}
	return newDocument(text, docTitle, url, contentType), nil
}

func (f *HTTPFetcher) fetchPDFFile(path, docTitle string, sourceURL *string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	text, err := pdfToText(raw)
	if err != nil {
		return nil, err
	}

	url := ""
	if sourceURL != nil {
		url = *sourceURL
	}
	return newDocument(text, docTitle, url, "application/pdf"), nil
}

// get performs an HTTP GET and returns the body plus the bare content type
// (parameters stripped).
func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("http get %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return body, strings.TrimSpace(contentType), nil
}

func newDocument(text, docTitle, sourceURL, contentType string) *Document {
	text = strings.TrimSpace(text)
	return &Document{
		Text:        text,
		Title:       docTitle,
		SourceURL:   sourceURL,
		ContentType: contentType,
		TextHash:    HashText(text),
	}
}

func title(src models.FrozenSource) string {
	if src.Title != nil {
		return *src.Title
	}
	return ""
}
