package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Chunk is one embeddable slice of a source document.
type Chunk struct {
	// ID is deterministic for a given source, position and text, so
	// re-indexing unchanged content produces identical point IDs.
	ID       string
	SourceID uuid.UUID
	Ordinal  int
	Text     string
}

// Chunker splits normalized document text into overlapping windows.
type Chunker struct {
	sizeChars    int
	overlapChars int
}

// NewChunker creates a Chunker. size must be positive and overlap must be
// smaller than size; config validation guarantees both.
func NewChunker(sizeChars, overlapChars int) *Chunker {
	return &Chunker{sizeChars: sizeChars, overlapChars: overlapChars}
}

// Split produces chunks of at most sizeChars characters with overlapChars of
// context carried between consecutive chunks. When title is non-empty, each
// chunk is prefixed with a "Title: ...\n\n" header so retrieval hits keep
// their provenance. Empty or whitespace-only text yields no chunks.
func (c *Chunker) Split(sourceID uuid.UUID, title, text string) []Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	header := ""
	if title = strings.TrimSpace(title); title != "" {
		header = "Title: " + title + "\n\n"
	}

	// Windows are measured in runes so multi-byte text never splits inside
	// a character.
	runes := []rune(text)
	step := c.sizeChars - c.overlapChars

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + c.sizeChars
		if end > len(runes) {
			end = len(runes)
		}

		body := strings.TrimSpace(string(runes[start:end]))
		if body == "" {
			continue
		}

		ordinal := len(chunks)
		chunks = append(chunks, Chunk{
			ID:       chunkID(sourceID, ordinal, body),
			SourceID: sourceID,
			Ordinal:  ordinal,
			Text:     header + body,
		})

		if end == len(runes) {
			break
		}
	}
	return chunks
}

// chunkID derives a stable UUID from the source, position and content.
func chunkID(sourceID uuid.UUID, ordinal int, text string) string {
	seed := fmt.Sprintf("%s:%d:%s", sourceID, ordinal, text)
	return uuid.NewMD5(uuid.NameSpaceOID, []byte(seed)).String()
}
