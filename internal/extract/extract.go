package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/go-resty/resty/v2"

	"github.com/bilgisen/newswire/internal/failure"
)

const (
	minTextLength = 200
	maxPageBytes  = 5 << 20
	userAgent     = "Mozilla/5.0 (compatible; newswire/1.0; +https://github.com/bilgisen/newswire)"
)

// Article is the readable content of a source page
type Article struct {
	Title    string
	Text     string
	ImageURL string
	HTMLSize int
}

// Extractor pulls the full body text out of an article page
type Extractor struct {
	client *resty.Client
}

func New(timeout time.Duration) *Extractor {
	return &Extractor{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"),
	}
}

// Extract downloads pageURL and returns its main text. Readability runs
// first; when it yields too little text the page is scanned for the largest
// article block instead.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (Article, error) {
	const op = "extract"
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return Article{}, failure.Invalidf(op, fmt.Errorf("%w: bad url %q", failure.ErrInvalidResponse, pageURL))
	}

	resp, err := e.client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		if failure.IsTimeout(err) {
			return Article{}, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrTimeout, err))
		}
		return Article{}, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrProviderUnavailable, err))
	}
	if resp.IsError() {
		return Article{}, failure.FromHTTPStatus(op, resp.StatusCode(), 0)
	}
	body := resp.Body()
	if len(body) > maxPageBytes {
		body = body[:maxPageBytes]
	}
	return Parse(body, parsed)
}

// Parse extracts the article from an already downloaded page
func Parse(page []byte, pageURL *url.URL) (Article, error) {
	const op = "extract"
	out := Article{HTMLSize: len(page)}

	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if docErr == nil {
		out.ImageURL = leadImage(doc, pageURL)
	}

	if art, err := readability.FromReader(bytes.NewReader(page), pageURL); err == nil {
		out.Title = strings.TrimSpace(art.Title)
		out.Text = paragraphs(art.Content)
		if out.Text == "" {
			out.Text = collapse(art.TextContent)
		}
		if out.ImageURL == "" {
			out.ImageURL = art.Image
		}
	}

	if len(out.Text) < minTextLength && docErr == nil {
		if text := fallbackText(doc); len(text) > len(out.Text) {
			out.Text = text
		}
	}

	if len(out.Text) < minTextLength {
		return out, failure.Invalidf(op, fmt.Errorf("%w: not enough text on page", failure.ErrInvalidResponse))
	}
	return out, nil
}

// paragraphs turns readability's cleaned HTML into blank-line separated text
func paragraphs(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}
	var parts []string
	doc.Find("p, h2, h3, li, blockquote").Each(func(i int, s *goquery.Selection) {
		if s.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if text := collapse(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}

func fallbackText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, iframe, nav, footer, aside, form").Remove()

	best := ""
	doc.Find("article, main, [itemprop=articleBody], .article-body, .post-content, .entry-content").Each(func(i int, s *goquery.Selection) {
		if text := collapse(s.Text()); len(text) > len(best) {
			best = text
		}
	})
	if len(best) >= minTextLength {
		return best
	}

	var parts []string
	doc.Find("p").Each(func(i int, s *goquery.Selection) {
		if text := collapse(s.Text()); len(text) > 40 {
			parts = append(parts, text)
		}
	})
	if joined := strings.Join(parts, "\n\n"); len(joined) > len(best) {
		return joined
	}
	return best
}

func leadImage(doc *goquery.Document, base *url.URL) string {
	for _, sel := range []string{
		`meta[property="og:image"]`,
		`meta[property="og:image:url"]`,
		`meta[name="twitter:image"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return resolve(base, strings.TrimSpace(v))
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
