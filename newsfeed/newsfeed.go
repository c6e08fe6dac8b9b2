/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Global news feed poller: pulls headline batches from
             Finnhub (general, forex, crypto, merger) and the
             AKShare sidecar's trending A-share feed, then
             enqueues ProcessArticle tasks. Replay-safe: the
             pipeline dedups by canonical URL.
Root Cause:  Sprint task N082 — news ingestion scheduling.
Suitability: L2 for feed polling.
──────────────────────────────────────────────────────────────
*/

package newsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avesed/webstock/services/newscore/pipeline"
	"github.com/rs/zerolog"
)

const finnhubBaseURL = "https://finnhub.io/api/v1"

var finnhubCategories = []string{"general", "forex", "crypto", "merger"}

// Enqueuer receives discovered articles.
type Enqueuer interface {
	Enqueue(ctx context.Context, ref pipeline.ArticleRef) error
}

// Poller fetches headlines from the configured feeds.
type Poller struct {
	finnhubKey  string
	akshareBase string
	client      *http.Client
	queue       Enqueuer
	log         zerolog.Logger
}

// NewPoller creates the poller. Feeds without credentials are skipped.
func NewPoller(finnhubKey, akshareBase string, queue Enqueuer, log zerolog.Logger) *Poller {
	return &Poller{
		finnhubKey:  finnhubKey,
		akshareBase: strings.TrimRight(akshareBase, "/"),
		client:      &http.Client{Timeout: 15 * time.Second},
		queue:       queue,
		log:         log.With().Str("component", "newsfeed").Logger(),
	}
}

type finnhubArticle struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Source   string `json:"source"`
	Datetime int64  `json:"datetime"`
	Related  string `json:"related"`
}

// Run performs one polling pass across all feeds.
func (p *Poller) Run(ctx context.Context) {
	enqueued := 0
	if p.finnhubKey != "" {
		for _, category := range finnhubCategories {
			n, err := p.pollFinnhub(ctx, category)
			if err != nil {
				p.log.Warn().Err(err).Str("category", category).Msg("finnhub poll failed")
				continue
			}
			enqueued += n
		}
	}
	if p.akshareBase != "" {
		n, err := p.pollAKShare(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("akshare trending poll failed")
		} else {
			enqueued += n
		}
	}
	p.log.Info().Int("enqueued", enqueued).Msg("news feed poll completed")
}

func (p *Poller) pollFinnhub(ctx context.Context, category string) (int, error) {
	endpoint := fmt.Sprintf("%s/news?category=%s&token=%s",
		finnhubBaseURL, url.QueryEscape(category), url.QueryEscape(p.finnhubKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("finnhub status %d", resp.StatusCode)
	}

	var articles []finnhubArticle
	if err := json.NewDecoder(resp.Body).Decode(&articles); err != nil {
		return 0, err
	}

	count := 0
	for _, a := range articles {
		if a.URL == "" || a.Headline == "" {
			continue
		}
		published := time.Unix(a.Datetime, 0).UTC()
		symbol := ""
		if a.Related != "" {
			symbol = strings.SplitN(a.Related, ",", 2)[0]
		}
		ref := pipeline.ArticleRef{
			URL:         a.URL,
			Symbol:      symbol,
			Market:      "US",
			Title:       a.Headline,
			Summary:     a.Summary,
			Source:      firstNonEmpty(a.Source, "finnhub"),
			PublishedAt: &published,
		}
		if err := p.queue.Enqueue(ctx, ref); err != nil {
			p.log.Warn().Err(err).Str("url", a.URL).Msg("enqueue failed")
			continue
		}
		count++
	}
	return count, nil
}

type aksharetrendingArticle struct {
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Symbol      string     `json:"symbol"`
	Market      string     `json:"market"`
	PublishedAt *time.Time `json:"published_at"`
}

func (p *Poller) pollAKShare(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.akshareBase+"/news/trending", nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("akshare status %d", resp.StatusCode)
	}

	var articles []aksharetrendingArticle
	if err := json.NewDecoder(resp.Body).Decode(&articles); err != nil {
		return 0, err
	}

	count := 0
	for _, a := range articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		market := a.Market
		if market == "" {
			market = "SH"
		}
		ref := pipeline.ArticleRef{
			URL:         a.URL,
			Symbol:      a.Symbol,
			Market:      market,
			Title:       a.Title,
			Summary:     a.Summary,
			Source:      firstNonEmpty(a.Source, "akshare"),
			PublishedAt: a.PublishedAt,
		}
		if err := p.queue.Enqueue(ctx, ref); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
