package feed

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/utils"
)

// newsapi appends "[+1234 chars]" to truncated content
var truncationMarker = regexp.MustCompile(`\s*…?\s*\[\+\d+ chars\]\s*$`)

// Parser handles cleaning and normalizing provider items
type Parser struct {
	htmlTagRegex *regexp.Regexp
}

func NewParser() *Parser {
	return &Parser{
		htmlTagRegex: regexp.MustCompile(`<[^>]*>`),
	}
}

// CleanHTML removes HTML tags and normalizes whitespace
func (p *Parser) CleanHTML(input string) string {
	// Remove HTML tags
	cleaned := p.htmlTagRegex.ReplaceAllString(input, " ")
	// Unescape HTML entities
	cleaned = html.UnescapeString(cleaned)
	// Normalize whitespace
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimSpace(cleaned)
}

// NormalizeItem cleans a single raw item
func (p *Parser) NormalizeItem(item models.RawItem) models.RawItem {
	return models.RawItem{
		ExternalID:  strings.TrimSpace(item.ExternalID),
		Title:       p.CleanHTML(item.Title),
		Body:        truncationMarker.ReplaceAllString(p.CleanHTML(item.Body), ""),
		SourceURL:   strings.TrimSpace(item.SourceURL),
		ImageURL:    strings.TrimSpace(item.ImageURL),
		Language:    strings.ToLower(strings.TrimSpace(item.Language)),
		PublishedAt: item.PublishedAt.UTC(),
	}
}

// ValidateItem checks if the item has the required fields
func (p *Parser) ValidateItem(item models.RawItem) error {
	if item.Title == "" || item.Title == "[Removed]" {
		return fmt.Errorf("missing required field: title")
	}
	// the fingerprint is built from the normalized title
	if utils.NormalizeTitle(item.Title) == "" {
		return fmt.Errorf("title has no letters or digits: %q", item.Title)
	}
	if item.SourceURL == "" {
		return fmt.Errorf("missing required field: url")
	}
	return nil
}

// ProcessItems normalizes and validates items concurrently. The returned
// slice keeps provider order; invalid items are reported in errs.
func (p *Parser) ProcessItems(ctx context.Context, items []models.RawItem) ([]models.RawItem, []error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	slots := make([]*models.RawItem, len(items))
	semaphore := make(chan struct{}, 10) // Limit concurrent processing

	for i, item := range items {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, append(errs, ctx.Err())
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()

			normalized := p.NormalizeItem(item)
			if err := p.ValidateItem(normalized); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("invalid item %s: %w", item.ExternalID, err))
				mu.Unlock()
				return
			}
			slots[i] = &normalized
		}()
	}

	wg.Wait()

	valid := make([]models.RawItem, 0, len(items))
	for _, it := range slots {
		if it != nil {
			valid = append(valid, *it)
		}
	}
	return valid, errs
}
