package feed

import (
	"context"
	"time"

	"github.com/bilgisen/newswire/internal/models"
)

// Query is what a sync run asks a provider for
type Query struct {
	Keywords []string
	Language string
	Country  string
	Since    time.Time
	Limit    int
}

// SearchResult is a provider's normalized hits plus the raw exchange for the response log
type SearchResult struct {
	Items    []models.RawItem
	Request  string
	Raw      []byte
	Cached   bool
	Duration time.Duration
}

// Provider is one upstream search API
type Provider interface {
	Name() models.Provider
	// Summaries reports whether hits carry only a summary, so the full body
	// has to be extracted from the source page
	Summaries() bool
	Search(ctx context.Context, q Query) (SearchResult, error)
}
