package models

import "time"

// Provider identifies the upstream API an article was ingested from
type Provider string

const (
	ProviderNews  Provider = "news"
	ProviderTweet Provider = "tweet"
)

// Valid reports whether p names a known provider
func (p Provider) Valid() bool {
	return p == ProviderNews || p == ProviderTweet
}

// Lifecycle is the ownership flag of a SourceArticle. Only the stage that
// owns the current flag may move the article to the next one.
type Lifecycle string

const (
	FlagNew           Lifecycle = "new"
	FlagFilteredOut   Lifecycle = "filtered"
	FlagSelected      Lifecycle = "selected"
	FlagRewriting     Lifecycle = "rewriting"
	FlagRewritten     Lifecycle = "rewritten"
	FlagRewriteFailed Lifecycle = "rewrite_failed"
)

// SourceArticle is the deduplicated canonical record of an ingested item
type SourceArticle struct {
	ID            int64      `json:"id"`
	Provider      Provider   `json:"provider"`
	URI           string     `json:"uri"`
	Fingerprint   string     `json:"fingerprint"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	SourceURL     string     `json:"source_url"`
	ImageURL      string     `json:"image_url,omitempty"`
	Language      string     `json:"language,omitempty"`
	PublishedAt   time.Time  `json:"published_at"`
	Category      string     `json:"category,omitempty"`
	TitleWords    int        `json:"title_words"`
	BodyWords     int        `json:"body_words"`
	SyncSettingID int64      `json:"sync_setting_id"`
	Flag          Lifecycle  `json:"flag"`
	BodyExtracted bool       `json:"body_extracted"`
	// RoutedAt is set once the article's next task has been queued
	RoutedAt      *time.Time `json:"routed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RawItem is a provider hit normalized to the common shape before dedup
type RawItem struct {
	ExternalID  string
	Title       string
	Body        string
	SourceURL   string
	ImageURL    string
	Language    string
	PublishedAt time.Time
}
