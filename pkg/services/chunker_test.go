package services

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_Split_ShortText(t *testing.T) {
	c := NewChunker(1600, 200)
	sourceID := uuid.New()

	chunks := c.Split(sourceID, "Opening Hours", "We open at 9am daily.")

	require.Len(t, chunks, 1)
	assert.Equal(t, "Title: Opening Hours\n\nWe open at 9am daily.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, sourceID, chunks[0].SourceID)
}

func TestChunker_Split_NoTitle(t *testing.T) {
	c := NewChunker(1600, 200)

	chunks := c.Split(uuid.New(), "", "Plain content without a title.")

	require.Len(t, chunks, 1)
	assert.Equal(t, "Plain content without a title.", chunks[0].Text)
}

func TestChunker_Split_EmptyText(t *testing.T) {
	c := NewChunker(1600, 200)

	assert.Nil(t, c.Split(uuid.New(), "Title", ""))
	assert.Nil(t, c.Split(uuid.New(), "Title", "   \n\t  "))
}

func TestChunker_Split_OverlappingWindows(t *testing.T) {
	c := NewChunker(100, 20)
	text := strings.Repeat("abcdefghij", 25) // 250 chars

	chunks := c.Split(uuid.New(), "", text)

	// Windows advance by 80: [0,100) [80,180) [160,250)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Text, 100)
	assert.Len(t, chunks[1].Text, 100)
	assert.Len(t, chunks[2].Text, 90)

	// Consecutive chunks share the overlap region.
	assert.Equal(t, chunks[0].Text[80:], chunks[1].Text[:20])
	assert.Equal(t, chunks[1].Text[80:], chunks[2].Text[:20])
}

func TestChunker_Split_StableIDs(t *testing.T) {
	c := NewChunker(100, 20)
	sourceID := uuid.New()
	text := strings.Repeat("park information ", 30)

	first := c.Split(sourceID, "Guide", text)
	second := c.Split(sourceID, "Guide", text)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}

	// A different source yields different IDs for identical text.
	other := c.Split(uuid.New(), "Guide", text)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestChunker_Split_MultibyteSafe(t *testing.T) {
	c := NewChunker(10, 2)
	text := strings.Repeat("日本語テキスト", 5)

	chunks := c.Split(uuid.New(), "", text)

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, len([]rune(chunk.Text)) <= 10)
		// No broken runes.
		assert.NotContains(t, chunk.Text, string(rune(0xFFFD)))
	}
}
