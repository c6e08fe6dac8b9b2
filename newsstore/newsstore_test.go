package newsstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zerolog.New(io.Discard))
	require.NoError(t, err)
	return s
}

func TestSaveReadRoundTrip(t *testing.T) {
	s := testStore(t)
	id := uuid.New()
	published := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	rel, err := s.Save(id, "AAPL", &Blob{
		URL:       "https://example.com/a",
		Title:     "Q3 earnings",
		FullText:  "Revenue up 18% year over year.",
		Authors:   []string{"J. Doe"},
		Language:  "en",
		WordCount: 6,
		Metadata:  map[string]any{"source_tag": "htmlparse"},
	}, &published)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("2026", "03", "15", "AAPL", id.String()+".json"), rel)

	blob, err := s.Read(rel)
	require.NoError(t, err)
	assert.Equal(t, id.String(), blob.NewsID)
	assert.Equal(t, "AAPL", blob.Symbol)
	assert.Equal(t, "Revenue up 18% year over year.", blob.FullText)
	assert.Equal(t, "htmlparse", blob.Metadata["source_tag"])
	assert.False(t, blob.SavedAt.IsZero())
}

func TestSymbolSanitized(t *testing.T) {
	s := testStore(t)
	published := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	rel, err := s.Save(uuid.New(), "600519.sh/??", &Blob{FullText: "x"}, &published)
	require.NoError(t, err)
	assert.Contains(t, rel, "600519.SH___")
}

func TestReadMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.Read("2026/01/01/AAPL/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePrunesEmptyDirs(t *testing.T) {
	s := testStore(t)
	published := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rel, err := s.Save(uuid.New(), "TSLA", &Blob{FullText: "x"}, &published)
	require.NoError(t, err)

	assert.True(t, s.Delete(rel))

	// The whole date partition should be gone once emptied
	_, err = os.Stat(filepath.Join(s.base, "2026"))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is a no-op success
	assert.True(t, s.Delete(rel))
}

func TestCleanupOlderThan(t *testing.T) {
	s := testStore(t)

	old := time.Now().UTC().AddDate(0, 0, -60)
	fresh := time.Now().UTC()

	_, err := s.Save(uuid.New(), "OLD", &Blob{FullText: "stale"}, &old)
	require.NoError(t, err)
	freshRel, err := s.Save(uuid.New(), "NEW", &Blob{FullText: "recent"}, &fresh)
	require.NoError(t, err)

	deleted := s.CleanupOlderThan(30)
	assert.Equal(t, 1, deleted)

	_, err = s.Read(freshRel)
	assert.NoError(t, err, "recent content must survive cleanup")
}

func TestCleanupInvalidDays(t *testing.T) {
	s := testStore(t)
	assert.Zero(t, s.CleanupOlderThan(0))
}

func TestStats(t *testing.T) {
	s := testStore(t)
	published := time.Now().UTC()
	_, err := s.Save(uuid.New(), "AAPL", &Blob{FullText: "one"}, &published)
	require.NoError(t, err)
	_, err = s.Save(uuid.New(), "MSFT", &Blob{FullText: "two"}, &published)
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 2, st.TotalFiles)
	assert.Greater(t, st.TotalBytes, int64(0))
	assert.NotEmpty(t, st.NewestFile)
}
