/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Retention sweeper: removes articles whose publish
             date is past the configured retention window,
             cascading to embedding rows and content blobs, then
             sweeps orphaned blob directories.
Root Cause:  Sprint task N096 — retention.
Context:     Runs on a cron schedule; retention days come from
             live system settings (default 30).
Suitability: L2 for a cleanup job.
──────────────────────────────────────────────────────────────
*/

package retention

import (
	"context"
	"time"

	"github.com/avesed/webstock/services/newscore/newsstore"
	"github.com/avesed/webstock/services/newscore/rag"
	"github.com/avesed/webstock/services/newscore/store"
	"github.com/rs/zerolog"
)

// Sweeper deletes expired articles and their derived data.
type Sweeper struct {
	news     *store.NewsStore
	blobs    *newsstore.Store
	indexer  *rag.Indexer
	settings *store.SettingsStore
	log      zerolog.Logger
}

// NewSweeper creates the sweeper.
func NewSweeper(news *store.NewsStore, blobs *newsstore.Store, indexer *rag.Indexer, settings *store.SettingsStore, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		news:     news,
		blobs:    blobs,
		indexer:  indexer,
		settings: settings,
		log:      log.With().Str("component", "retention").Logger(),
	}
}

// Run performs one sweep.
func (s *Sweeper) Run(ctx context.Context) {
	sys, err := s.settings.Load(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("cannot load settings, skipping sweep")
		return
	}
	days := sys.NewsRetentionDays
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	expired, err := s.news.ListOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("cannot list expired articles")
		return
	}

	removed := 0
	for _, e := range expired {
		if _, err := s.indexer.DeleteSource(ctx, "news", e.ID.String()); err != nil {
			s.log.Warn().Err(err).Str("news_id", e.ID.String()).Msg("embedding cascade failed")
			continue
		}
		if e.ContentFilePath != "" {
			s.blobs.Delete(e.ContentFilePath)
		}
		if err := s.news.Delete(ctx, e.ID); err != nil {
			s.log.Warn().Err(err).Str("news_id", e.ID.String()).Msg("row delete failed")
			continue
		}
		removed++
	}

	orphans := s.blobs.CleanupOlderThan(days)

	s.log.Info().
		Int("articles", removed).
		Int("orphan_files", orphans).
		Int("retention_days", days).
		Msg("retention sweep completed")
}
