package rag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(sourceID string, chunk int) SearchResult {
	return SearchResult{
		ChunkText:  "text-" + sourceID,
		SourceType: "news",
		SourceID:   sourceID,
		ChunkIndex: chunk,
	}
}

func TestFuseRRFNonIncreasing(t *testing.T) {
	vector := []SearchResult{result("a", 0), result("b", 0), result("c", 0)}
	keyword := []SearchResult{result("b", 0), result("d", 0)}

	fused := FuseRRF(
		map[string][]SearchResult{"vector": vector, "keyword": keyword},
		map[string]float64{"vector": 0.7, "keyword": 0.3},
		10,
	)
	require.NotEmpty(t, fused)
	for i := 1; i < len(fused); i++ {
		assert.GreaterOrEqual(t, fused[i-1].Score, fused[i].Score, "fused order must be non-increasing")
	}
}

func TestFuseRRFSingleListScore(t *testing.T) {
	vector := []SearchResult{result("a", 0), result("b", 0)}

	fused := FuseRRF(
		map[string][]SearchResult{"vector": vector, "keyword": nil},
		map[string]float64{"vector": 0.7, "keyword": 0.3},
		10,
	)
	require.Len(t, fused, 2)

	// Items appearing in only one list score weight / (60 + rank + 1)
	byID := map[string]float64{}
	for _, r := range fused {
		byID[r.SourceID] = r.Score
	}
	assert.InDelta(t, 0.7/61.0, byID["a"], 1e-9)
	assert.InDelta(t, 0.7/62.0, byID["b"], 1e-9)
}

func TestFuseRRFSharedItemSumsBothLists(t *testing.T) {
	vector := []SearchResult{result("shared", 0)}
	keyword := []SearchResult{result("other", 0), result("shared", 0)}

	fused := FuseRRF(
		map[string][]SearchResult{"vector": vector, "keyword": keyword},
		map[string]float64{"vector": 0.7, "keyword": 0.3},
		10,
	)
	byID := map[string]float64{}
	for _, r := range fused {
		byID[r.SourceID] = r.Score
	}
	assert.InDelta(t, 0.7/61.0+0.3/62.0, byID["shared"], 1e-9)
	assert.Equal(t, "shared", fused[0].SourceID, "shared item must rank first")
}

func TestFuseRRFTopK(t *testing.T) {
	var vector []SearchResult
	for i := 0; i < 20; i++ {
		vector = append(vector, result(string(rune('a'+i)), 0))
	}
	fused := FuseRRF(map[string][]SearchResult{"vector": vector}, map[string]float64{"vector": 1}, 5)
	assert.Len(t, fused, 5)
}

func TestFreshnessDecayBoostsRecent(t *testing.T) {
	now := time.Now().UTC()
	old := result("old", 0)
	old.Score = 1.0
	old.CreatedAt = now.AddDate(0, 0, -120)
	recent := result("recent", 0)
	recent.Score = 0.95
	recent.CreatedAt = now

	out := ApplyFreshnessDecay([]SearchResult{old, recent}, 0.8, 60, 10)
	require.Len(t, out, 2)
	assert.Equal(t, "recent", out[0].SourceID, "freshness decay should promote the recent item")
}

func TestFreshnessDecayFormula(t *testing.T) {
	now := time.Now().UTC()
	r := result("x", 0)
	r.Score = 1.0
	r.CreatedAt = now.AddDate(0, 0, -60) // exactly one half-life

	out := ApplyFreshnessDecay([]SearchResult{r}, 0.8, 60, 10)
	// freshness = 1/(1+1) = 0.5 → score = 0.8 + 0.2·0.5 = 0.9
	assert.InDelta(t, 0.9, out[0].Score, 0.01)
}

func TestFreshnessDecaySkipsZeroTime(t *testing.T) {
	r := result("x", 0)
	r.Score = 0.42
	out := ApplyFreshnessDecay([]SearchResult{r}, 0.8, 60, 10)
	assert.InDelta(t, 0.42, out[0].Score, 1e-9)
}

func TestAdvisoryKeyStable(t *testing.T) {
	a := advisoryKey("news", "id-1")
	b := advisoryKey("news", "id-1")
	c := advisoryKey("news", "id-2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
