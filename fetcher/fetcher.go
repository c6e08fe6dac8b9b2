/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L3
Logic:       Multi-strategy full-text fetcher. Tries the
             requested primary strategy, then the remaining
             strategies in default order, accepting the first
             non-empty text. A strategy that raised is not
             retried within the same attempt.
Root Cause:  Sprint task N041 — content fetching.
Context:     htmlparse is in-process; browser is an out-of-process
             headless renderer called over HTTP; extract is a
             commercial API tried last. Browser timeouts are
             strategy failures, not fatal errors.
Suitability: L3 for fallback coordination.
──────────────────────────────────────────────────────────────
*/

package fetcher

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Strategy tags. These also appear as metadata.source_tag in stored blobs.
const (
	TagHTMLParse = "htmlparse"
	TagBrowser   = "browser"
	TagExtract   = "extract"
)

// ErrNoContent is returned when every strategy fails or yields empty text.
var ErrNoContent = errors.New("no content fetched")

// Result is the outcome of one successful strategy.
type Result struct {
	FullText  string
	RawHTML   string // set by strategies that see the page markup
	WordCount int
	Language  string
	Authors   []string
	Keywords  []string
	TopImage  string
	IsPartial bool
	SourceTag string
}

// Strategy fetches article text from a URL one particular way.
type Strategy interface {
	Tag() string
	Fetch(ctx context.Context, url string) (*Result, error)
}

// Fetcher coordinates strategies with fallback.
type Fetcher struct {
	log        zerolog.Logger
	strategies map[string]Strategy
	order      []string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithStrategy registers a strategy. Registration order defines the
// default fallback order.
func WithStrategy(s Strategy) Option {
	return func(f *Fetcher) {
		f.strategies[s.Tag()] = s
		f.order = append(f.order, s.Tag())
	}
}

// New creates a fetcher with the given strategies.
func New(log zerolog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		log:        log.With().Str("component", "fetcher").Logger(),
		strategies: make(map[string]Strategy),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// fallbackOrder puts the requested primary first, then the remaining
// registered strategies in default order.
func (f *Fetcher) fallbackOrder(primary string) []string {
	order := make([]string, 0, len(f.order))
	if _, ok := f.strategies[primary]; ok {
		order = append(order, primary)
	}
	for _, tag := range f.order {
		if tag != primary {
			order = append(order, tag)
		}
	}
	return order
}

// Fetch runs the strategies until one produces non-empty text. Each
// strategy is attempted at most once; retrying a whole fetch is the
// scheduler's decision on a later tick.
func (f *Fetcher) Fetch(ctx context.Context, url, primary string) (*Result, error) {
	var lastErr error

	for _, tag := range f.fallbackOrder(primary) {
		strategy := f.strategies[tag]
		result, err := strategy.Fetch(ctx, url)
		if err != nil {
			f.log.Warn().Err(err).Str("strategy", tag).Str("url", url).Msg("strategy failed, falling through")
			lastErr = err
			continue
		}
		if result == nil || result.FullText == "" {
			f.log.Debug().Str("strategy", tag).Str("url", url).Msg("strategy returned empty text")
			continue
		}
		result.SourceTag = tag
		if result.WordCount == 0 {
			result.WordCount = countWords(result.FullText)
		}
		if tag != primary {
			f.log.Info().Str("strategy", tag).Str("url", url).Msg("fallback strategy succeeded")
		}
		return result, nil
	}

	if lastErr != nil {
		return nil, errors.Join(ErrNoContent, lastErr)
	}
	return nil, ErrNoContent
}
