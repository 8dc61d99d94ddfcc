package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bilgisen/newswire/internal/failure"
)

var (
	controlChars   = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
	scriptBlocks   = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	dangerousTags  = regexp.MustCompile(`(?i)</?(script|iframe|object|embed|link|meta|style)[^>]*>`)
	leadingHeading = regexp.MustCompile(`^#\s+[^\n]*\n+`)
	tagCleaner     = regexp.MustCompile(`[^\p{L}\p{N}\s-]+`)
)

type PostProcessor struct {
	maxTitleLength       int
	maxDescriptionLength int
	minContentLength     int
	maxTweetLength       int
	maxTags              int
}

func NewPostProcessor() *PostProcessor {
	return &PostProcessor{
		maxTitleLength:       110,
		maxDescriptionLength: 160,
		minContentLength:     50,
		maxTweetLength:       280,
		maxTags:              7,
	}
}

// ProcessRewrite validates and cleans a generated title/body pair. A reply
// that fails validation is an invalid response.
func (p *PostProcessor) ProcessRewrite(r *Rewrite) error {
	r.Title = p.cleanText(r.Title)
	r.Body = p.cleanMarkdown(r.Body)

	if r.Title == "" {
		return failure.Invalidf("rewrite", fmt.Errorf("%w: missing required field: title", failure.ErrInvalidResponse))
	}
	if len(r.Body) < p.minContentLength {
		return failure.Invalidf("rewrite", fmt.Errorf("%w: body too short, minimum %d characters required", failure.ErrInvalidResponse, p.minContentLength))
	}
	r.Title = truncate(r.Title, p.maxTitleLength)
	return nil
}

// CleanMeta normalizes a meta description to one line within length
func (p *PostProcessor) CleanMeta(s string) string {
	return truncate(p.cleanText(s), p.maxDescriptionLength)
}

// CleanSocial normalizes every social variant
func (p *PostProcessor) CleanSocial(s Social) Social {
	return Social{
		Twitter:  truncate(p.cleanText(s.Twitter), p.maxTweetLength),
		Facebook: p.cleanText(s.Facebook),
		LinkedIn: p.cleanText(s.LinkedIn),
	}
}

// CleanTags lowercases, dedupes and caps the tag list
func (p *PostProcessor) CleanTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		t = strings.ToLower(strings.Join(strings.Fields(tagCleaner.ReplaceAllString(t, " ")), " "))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == p.maxTags {
			break
		}
	}
	return out
}

// cleanText removes unwanted characters and normalizes whitespace
func (p *PostProcessor) cleanText(s string) string {
	s = controlChars.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// cleanMarkdown strips dangerous HTML and a leading title heading
func (p *PostProcessor) cleanMarkdown(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = scriptBlocks.ReplaceAllString(content, "")
	content = dangerousTags.ReplaceAllString(content, "")
	content = controlChars.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)
	content = leadingHeading.ReplaceAllString(content, "")
	return strings.TrimSpace(content)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}
