/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       In-process HTML parse strategy: plain GET, strip
             chrome elements, extract paragraph text plus page
             metadata (language, authors, keywords, top image).
Root Cause:  Sprint task N042 — htmlparse strategy.
Context:     Handles the common case; JS-rendered pages fall
             through to the browser strategy.
Suitability: L2 for DOM extraction.
──────────────────────────────────────────────────────────────
*/

package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const userAgent = "Mozilla/5.0 (compatible; webstock-newscore/1.0)"

// HTMLParseStrategy extracts text from server-rendered pages.
type HTMLParseStrategy struct {
	client *http.Client
}

// NewHTMLParseStrategy creates the strategy with the given timeout.
func NewHTMLParseStrategy(timeout time.Duration) *HTMLParseStrategy {
	return &HTMLParseStrategy{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTMLParseStrategy) Tag() string { return TagHTMLParse }

func (s *HTMLParseStrategy) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("htmlparse: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("htmlparse: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("htmlparse: unexpected status %d for %s", resp.StatusCode, url)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("htmlparse: parse: %w", err)
	}

	rawHTML, _ := doc.Html()

	// Strip obvious non-article chrome before text extraction
	doc.Find("script, style, nav, header, footer, aside, form, iframe, noscript").Remove()

	root := doc.Find("article")
	if root.Length() == 0 {
		root = doc.Find("main")
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	var paragraphs []string
	root.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	fullText := strings.Join(paragraphs, "\n\n")
	if fullText == "" {
		fullText = strings.TrimSpace(root.Text())
	}

	result := &Result{
		FullText:  fullText,
		RawHTML:   rawHTML,
		WordCount: countWords(fullText),
		Language:  pageLanguage(doc),
		TopImage:  metaContent(doc, `meta[property="og:image"]`),
	}
	if author := metaContent(doc, `meta[name="author"]`); author != "" {
		result.Authors = []string{author}
	}
	if kw := metaContent(doc, `meta[name="keywords"]`); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				result.Keywords = append(result.Keywords, k)
			}
		}
	}
	return result, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func pageLanguage(doc *goquery.Document) string {
	lang, _ := doc.Find("html").First().Attr("lang")
	if lang == "" {
		return ""
	}
	// "zh-CN" → "zh"
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return strings.ToLower(lang)
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
