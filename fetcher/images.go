/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Image URL extraction from article HTML for
             multimodal analysis. Filters tracking pixels, ads,
             icons, and social widgets; prioritizes images whose
             URL or alt text suggests charts, tables, or other
             financial data.
Root Cause:  Sprint task N045 — candidate image selection.
Context:     Feeds the content cleaning stage, which downloads
             up to three candidates and sends them base64-encoded
             to the vision model.
Suitability: L2 for heuristic filtering.
──────────────────────────────────────────────────────────────
*/

package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// MaxCandidateImages is the default cap on returned image URLs.
const MaxCandidateImages = 5

// Images smaller than this on either axis are icons or spacers.
const minImageDimension = 100

var excludePatterns = compileAll(
	`pixel`, `tracker`, `beacon`, `analytics`,
	`facebook\.com`, `twitter\.com`, `linkedin\.com`, `gravatar\.com`,
	`\.gif(\?|$)`, `\blogo\b`, `\bicon\b`, `\bavatar\b`, `\bbadge\b`,
	`\bbutton\b`, `\bbanner\b`, `advertisement`, `sponsor`, `\bpromo\b`,
	`spacer`, `blank\.(png|jpg|gif)`, `1x1\.`, `transparent\.`,
	`share[-_]?icon`, `social[-_]?(icon|button|share)`,
	`emoticon`, `emoji`, `widget`,
)

var excludeDomains = map[string]bool{
	"ad.doubleclick.net":            true,
	"pagead2.googlesyndication.com": true,
	"pixel.quantserve.com":          true,
	"b.scorecardresearch.com":       true,
	"www.google-analytics.com":      true,
	"www.facebook.com":              true,
	"connect.facebook.net":          true,
	"platform.twitter.com":          true,
}

type scoredPattern struct {
	re    *regexp.Regexp
	score int
}

var priorityPatterns = []scoredPattern{
	{regexp.MustCompile(`(?i)chart`), 3},
	{regexp.MustCompile(`(?i)graph`), 3},
	{regexp.MustCompile(`(?i)candlestick`), 3},
	{regexp.MustCompile(`(?i)balance[-_]?sheet`), 3},
	{regexp.MustCompile(`(?i)income[-_]?statement`), 3},
	{regexp.MustCompile(`(?i)cash[-_]?flow`), 3},
	{regexp.MustCompile(`(?i)figure`), 2},
	{regexp.MustCompile(`(?i)table`), 2},
	{regexp.MustCompile(`(?i)financial`), 2},
	{regexp.MustCompile(`(?i)earnings`), 2},
	{regexp.MustCompile(`(?i)revenue`), 2},
	{regexp.MustCompile(`(?i)quarterly`), 2},
	{regexp.MustCompile(`(?i)screenshot`), 2},
	{regexp.MustCompile(`(?i)forecast`), 2},
	{regexp.MustCompile(`(?i)valuation`), 2},
	{regexp.MustCompile(`(?i)infographic`), 2},
	{regexp.MustCompile(`(?i)stock`), 1},
	{regexp.MustCompile(`(?i)market`), 1},
	{regexp.MustCompile(`(?i)report`), 1},
	{regexp.MustCompile(`(?i)\bdata\b`), 1},
	{regexp.MustCompile(`(?i)performance`), 1},
	{regexp.MustCompile(`(?i)comparison`), 1},
}

var validExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".webp": true, ".bmp": true, ".tiff": true, ".svg": true,
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// ExtractImageURLs pulls candidate image URLs out of article HTML,
// ordered by descending financial-relevance score.
func ExtractImageURLs(htmlContent, baseURL string, maxImages int) []string {
	if htmlContent == "" || baseURL == "" {
		return nil
	}
	if maxImages <= 0 {
		maxImages = MaxCandidateImages
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil
	}

	type candidate struct {
		url   string
		score int
		order int
	}
	seen := make(map[string]bool)
	var candidates []candidate

	doc.Find("img").Each(func(i int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		src = strings.TrimSpace(src)
		if !ok || src == "" || strings.HasPrefix(src, "data:") {
			return
		}

		ref, err := url.Parse(src)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		absStr := abs.String()
		if seen[absStr] {
			return
		}
		seen[absStr] = true

		if excludeDomains[abs.Hostname()] {
			return
		}
		for _, re := range excludePatterns {
			if re.MatchString(absStr) {
				return
			}
		}
		if tooSmall(sel) {
			return
		}
		if !hasValidExtension(abs.Path) {
			return
		}

		candidates = append(candidates, candidate{
			url:   absStr,
			score: priorityScore(absStr, sel),
			order: i,
		})
	})

	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	if len(candidates) > maxImages {
		candidates = candidates[:maxImages]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.url
	}
	return out
}

func dimension(sel *goquery.Selection, attr string) (int, bool) {
	if v, ok := sel.Attr(attr); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, true
		}
	}
	return 0, false
}

var (
	styleWidthRe  = regexp.MustCompile(`(?i)width\s*:\s*(\d+)\s*px`)
	styleHeightRe = regexp.MustCompile(`(?i)height\s*:\s*(\d+)\s*px`)
)

// tooSmall excludes images whose declared dimensions are below the
// minimum. Undeclared dimensions pass: size is unknowable without a
// download.
func tooSmall(sel *goquery.Selection) bool {
	width, wOK := dimension(sel, "width")
	height, hOK := dimension(sel, "height")

	style, _ := sel.Attr("style")
	if !wOK {
		if m := styleWidthRe.FindStringSubmatch(style); m != nil {
			width, _ = strconv.Atoi(m[1])
			wOK = true
		}
	}
	if !hOK {
		if m := styleHeightRe.FindStringSubmatch(style); m != nil {
			height, _ = strconv.Atoi(m[1])
			hOK = true
		}
	}

	if wOK && width < minImageDimension {
		return true
	}
	if hOK && height < minImageDimension {
		return true
	}
	return false
}

func priorityScore(imageURL string, sel *goquery.Selection) int {
	alt, _ := sel.Attr("alt")
	searchText := imageURL + " " + alt

	score := 0
	for _, p := range priorityPatterns {
		if p.re.MatchString(searchText) {
			score += p.score
		}
	}
	if w, ok := dimension(sel, "width"); ok && w >= 600 {
		score++
	}
	if h, ok := dimension(sel, "height"); ok && h >= 400 {
		score++
	}
	return score
}

// hasValidExtension accepts image extensions and extensionless CDN URLs.
func hasValidExtension(path string) bool {
	clean := path
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	name := clean
	if i := strings.LastIndex(clean, "/"); i >= 0 {
		name = clean[i+1:]
	}
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return true
	}
	return validExtensions[strings.ToLower(name[dot:])]
}

// DownloadDataURI fetches an image and returns it as a base64 data URI
// for multimodal LLM requests.
func DownloadDataURI(ctx context.Context, client *http.Client, imageURL string, maxBytes int64) (string, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image fetch status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return "", err
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	if i := strings.Index(mime, ";"); i > 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
