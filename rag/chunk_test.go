package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkShortTextSingleChunk(t *testing.T) {
	chunks := Chunk("short text", DefaultMaxChars, DefaultOverlapChars)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short text", chunks[0])
}

func TestChunkEmpty(t *testing.T) {
	assert.Nil(t, Chunk("", DefaultMaxChars, DefaultOverlapChars))
}

func TestChunkRespectsMaxChars(t *testing.T) {
	paragraphs := make([]string, 12)
	for i := range paragraphs {
		paragraphs[i] = strings.Repeat("word ", 100) // ~500 chars each
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := Chunk(text, DefaultMaxChars, DefaultOverlapChars)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), DefaultMaxChars, "chunk %d over budget", i)
	}
}

func TestChunkOverlapCarriesTail(t *testing.T) {
	para1 := strings.Repeat("a", 1400)
	para2 := strings.Repeat("b", 1000)
	chunks := Chunk(para1+"\n\n"+para2, 1500, 150)
	require.Len(t, chunks, 2)

	// Second chunk begins with the tail of the first
	assert.True(t, strings.HasPrefix(chunks[1], strings.Repeat("a", 150)+" "),
		"overlap prefix missing")
}

func TestChunkOverlapClampedToThird(t *testing.T) {
	text := strings.Repeat("x", 200) + "\n\n" + strings.Repeat("y", 200)
	chunks := Chunk(text, 300, 250) // overlap asked > max/3
	require.Len(t, chunks, 2)

	// Effective overlap is clamped to 100 (= 300/3)
	prefix := strings.TrimRight(strings.SplitN(chunks[1], " ", 2)[0], " ")
	assert.LessOrEqual(t, len(prefix), 100)
}

func TestChunkHardCutsOversizedSentence(t *testing.T) {
	text := strings.Repeat("z", 4000) // no separators at all
	chunks := Chunk(text, 1500, 150)
	require.GreaterOrEqual(t, len(chunks), 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 1500)
	}
}

func TestChunkCJKSentenceBoundaries(t *testing.T) {
	sentence := strings.Repeat("股", 400) + "。"
	text := sentence + sentence + sentence
	chunks := Chunk(text, 500, 50)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 500)
	}
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("First sentence here. Second sentence there. ", 120)
	a := Chunk(text, DefaultMaxChars, DefaultOverlapChars)
	b := Chunk(text, DefaultMaxChars, DefaultOverlapChars)
	require.Equal(t, a, b, "replacement idempotence depends on deterministic chunking")
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one. 第三句。第四句！")
	require.Len(t, got, 4)
	assert.Equal(t, "First one.", got[0])
	assert.Equal(t, "第三句。", got[2])
	assert.Equal(t, "第四句！", got[3])
}
