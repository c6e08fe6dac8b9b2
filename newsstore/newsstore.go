/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Durable JSON blob store for full article content,
             partitioned as YYYY/MM/DD/SYMBOL/{id}.json. Save is
             atomic (write temp, rename). Retention cleanup
             removes whole day directories past the cutoff.
Root Cause:  Sprint task N040 — news content storage.
Context:     Created only by the content fetcher; read by the
             cleaning and filter stages; deleted by retention.
Suitability: L2 for filesystem plumbing.
──────────────────────────────────────────────────────────────
*/

package newsstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a blob path does not exist.
var ErrNotFound = errors.New("news content not found")

// Blob is the JSON document stored per article.
type Blob struct {
	NewsID    string         `json:"news_id"`
	Symbol    string         `json:"symbol"`
	URL       string         `json:"url"`
	Title     string         `json:"title"`
	FullText  string         `json:"full_text"`
	Authors   []string       `json:"authors"`
	Keywords  []string       `json:"keywords"`
	TopImage  string         `json:"top_image,omitempty"`
	Language  string         `json:"language"`
	FetchedAt time.Time      `json:"fetched_at"`
	WordCount int            `json:"word_count"`
	IsPartial bool           `json:"is_partial"`
	Metadata  map[string]any `json:"metadata"`
	SavedAt   time.Time      `json:"saved_at"`
}

// Stats summarises the blob tree for the admin surface.
type Stats struct {
	TotalFiles  int    `json:"total_files"`
	TotalBytes  int64  `json:"total_size_bytes"`
	OldestFile  string `json:"oldest_file,omitempty"`
	NewestFile  string `json:"newest_file,omitempty"`
	BasePath    string `json:"base_path"`
}

// Store is the filesystem-backed content store.
type Store struct {
	base string
	log  zerolog.Logger
}

// New creates the store and ensures the base directory exists.
func New(base string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create news storage dir %s: %w", base, err)
	}
	return &Store{
		base: base,
		log:  log.With().Str("component", "newsstore").Logger(),
	}, nil
}

// sanitizeSymbol upcases the symbol, keeps A-Z, 0-9 and ".-_", and
// replaces every other character with "_".
func sanitizeSymbol(symbol string) string {
	if symbol == "" {
		return "GLOBAL"
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(symbol) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (s *Store) buildPath(id uuid.UUID, symbol string, publishedAt *time.Time) string {
	at := time.Now().UTC()
	if publishedAt != nil {
		at = publishedAt.UTC()
	}
	return filepath.Join(
		at.Format("2006"), at.Format("01"), at.Format("02"),
		sanitizeSymbol(symbol),
		id.String()+".json",
	)
}

// Save writes the blob atomically and returns its relative path.
func (s *Store) Save(id uuid.UUID, symbol string, blob *Blob, publishedAt *time.Time) (string, error) {
	rel := s.buildPath(id, symbol, publishedAt)
	full := filepath.Join(s.base, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create content dir: %w", err)
	}

	blob.NewsID = id.String()
	blob.Symbol = symbol
	blob.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal content: %w", err)
	}

	// Write-then-rename keeps readers from ever seeing a torn file.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write content: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename content: %w", err)
	}

	s.log.Info().
		Str("news_id", id.String()).
		Str("symbol", symbol).
		Str("path", rel).
		Msg("saved news content")
	return rel, nil
}

// Read loads a blob by relative path.
func (s *Store) Read(rel string) (*Blob, error) {
	data, err := os.ReadFile(filepath.Join(s.base, rel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read content %s: %w", rel, err)
	}

	var blob Blob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("invalid content JSON %s: %w", rel, err)
	}
	return &blob, nil
}

// Delete removes a blob and prunes emptied parent directories.
// Returns true when the file is gone afterwards.
func (s *Store) Delete(rel string) bool {
	full := filepath.Join(s.base, rel)
	err := os.Remove(full)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Error().Err(err).Str("path", rel).Msg("failed to delete content")
		return false
	}
	s.pruneEmptyDirs(filepath.Dir(full))
	return true
}

// pruneEmptyDirs removes empty directories walking up to the base.
func (s *Store) pruneEmptyDirs(dir string) {
	base, err := filepath.Abs(s.base)
	if err != nil {
		return
	}
	for {
		abs, err := filepath.Abs(dir)
		if err != nil || abs == base || !strings.HasPrefix(abs, base) {
			return
		}
		entries, err := os.ReadDir(abs)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(abs); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// CleanupOlderThan deletes whole day directories older than the cutoff
// and returns the number of content files removed.
func (s *Store) CleanupOlderThan(days int) int {
	if days <= 0 {
		s.log.Warn().Int("days", days).Msg("invalid retention days")
		return 0
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	deleted := 0

	years, err := os.ReadDir(s.base)
	if err != nil {
		return 0
	}
	for _, yearDir := range years {
		year, ok := dirInt(yearDir)
		if !ok {
			continue
		}
		yearPath := filepath.Join(s.base, yearDir.Name())
		months, _ := os.ReadDir(yearPath)
		for _, monthDir := range months {
			month, ok := dirInt(monthDir)
			if !ok {
				continue
			}
			monthPath := filepath.Join(yearPath, monthDir.Name())
			dayDirs, _ := os.ReadDir(monthPath)
			for _, dayDir := range dayDirs {
				day, ok := dirInt(dayDir)
				if !ok {
					continue
				}
				dirDate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
				if !dirDate.Before(cutoff) {
					continue
				}
				dayPath := filepath.Join(monthPath, dayDir.Name())
				count := countJSONFiles(dayPath)
				if err := os.RemoveAll(dayPath); err != nil {
					s.log.Error().Err(err).Str("dir", dayPath).Msg("cleanup failed")
					continue
				}
				deleted += count
				s.log.Info().Str("dir", dayPath).Int("files", count).Msg("deleted old news directory")
			}
			removeIfEmpty(monthPath)
		}
		removeIfEmpty(yearPath)
	}

	s.log.Info().Int("deleted", deleted).Int("days", days).Msg("cleanup completed")
	return deleted
}

// Stats walks the tree and summarises file counts and sizes.
func (s *Store) Stats() Stats {
	st := Stats{BasePath: s.base}
	var oldest, newest time.Time

	_ = filepath.Walk(s.base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		st.TotalFiles++
		st.TotalBytes += info.Size()
		mt := info.ModTime()
		if oldest.IsZero() || mt.Before(oldest) {
			oldest = mt
		}
		if newest.IsZero() || mt.After(newest) {
			newest = mt
		}
		return nil
	})

	if !oldest.IsZero() {
		st.OldestFile = oldest.UTC().Format(time.RFC3339)
		st.NewestFile = newest.UTC().Format(time.RFC3339)
	}
	return st
}

func dirInt(e os.DirEntry) (int, bool) {
	if !e.IsDir() {
		return 0, false
	}
	n, err := strconv.Atoi(e.Name())
	if err != nil {
		return 0, false
	}
	return n, true
}

func countJSONFiles(dir string) int {
	count := 0
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".json") {
			count++
		}
		return nil
	})
	return count
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}
