package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/responselog"
	"github.com/bilgisen/newswire/internal/utils"
)

// ArticleStore is the part of the storage layer ingestion writes to
type ArticleStore interface {
	InsertSourceArticle(ctx context.Context, a *models.SourceArticle) (bool, error)
	RecordSyncRun(ctx context.Context, id int64, run models.SyncTotals) error
}

// CandidateStatus is what ingestion decided for one provider hit
type CandidateStatus string

const (
	CandidateNew      CandidateStatus = "new"
	CandidateExisting CandidateStatus = "existing"
	CandidateOmitted  CandidateStatus = "omitted"
)

// Candidate is one provider hit and its outcome
type Candidate struct {
	Item      models.RawItem  `json:"item"`
	Status    CandidateStatus `json:"status"`
	ArticleID int64           `json:"article_id,omitempty"`
}

// IngestResult summarizes one sync run
type IngestResult struct {
	models.SyncTotals
	Candidates []Candidate `json:"candidates"`
	// Pending lists, in provider order, the articles of this setting that
	// still await routing: this run's new ones plus earlier ones an
	// interrupted run stored but never queued onward
	Pending []int64 `json:"pending"`
}

// Ingestor runs a sync setting against its provider and stores new articles
type Ingestor struct {
	providers map[models.Provider]Provider
	parser    *Parser
	store     ArticleStore
	responses responselog.Recorder
	limit     int
	log       zerolog.Logger
	now       func() time.Time
}

func NewIngestor(store ArticleStore, responses responselog.Recorder, limit int, log zerolog.Logger, providers ...Provider) *Ingestor {
	ing := &Ingestor{
		providers: make(map[models.Provider]Provider, len(providers)),
		parser:    NewParser(),
		store:     store,
		responses: responses,
		limit:     limit,
		log:       log,
		now:       time.Now,
	}
	for _, p := range providers {
		ing.providers[p.Name()] = p
	}
	return ing
}

// Provider returns the adapter registered for name
func (ing *Ingestor) Provider(name models.Provider) (Provider, bool) {
	p, ok := ing.providers[name]
	return p, ok
}

// SearchAndIngest queries the setting's provider, keeps hits that match the
// keywords at the configured location and inserts those not yet stored.
// A missing keyword or a provider failure aborts before any write.
func (ing *Ingestor) SearchAndIngest(ctx context.Context, setting *models.SyncSetting) (IngestResult, error) {
	const op = "search and ingest"
	log := ing.log.With().Int64("setting_id", setting.ID).Str("provider", string(setting.Provider)).Logger()

	matcher := NewMatcher(setting.Keywords, setting.KeywordLocation)
	if matcher.Empty() {
		return IngestResult{}, failure.Configurationf(op, failure.ErrNoKeyword)
	}
	provider, ok := ing.providers[setting.Provider]
	if !ok {
		return IngestResult{}, failure.Configurationf(op, fmt.Errorf("no adapter for provider %q", setting.Provider))
	}

	window := time.Duration(setting.WindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	// Truncated so retries inside the same quarter hour hit the provider cache.
	since := ing.now().Add(-window).Truncate(15 * time.Minute)

	res, err := provider.Search(ctx, Query{
		Keywords: setting.Keywords,
		Language: setting.Language,
		Country:  setting.Country,
		Since:    since,
		Limit:    ing.limit,
	})
	entry := models.ResponseLogEntry{
		Group:      models.GroupIngest,
		SourceType: models.SourceSetting,
		SourceID:   setting.ID,
		Request:    res.Request,
		Response:   string(res.Raw),
		Duration:   res.Duration,
		Cost:       len(res.Raw),
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		ing.responses.Record(ctx, entry)
		log.Error().Err(err).Msg("Provider search failed")
		return IngestResult{}, err
	}
	if res.Cached {
		entry.Cost = 0
	}
	ing.responses.Record(ctx, entry)

	valid, errs := ing.parser.ProcessItems(ctx, res.Items)
	if len(errs) > 0 {
		log.Warn().Errs("validation_errors", errs).Msg("Dropped invalid provider items")
	}
	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}

	result := IngestResult{Candidates: make([]Candidate, 0, len(res.Items))}
	result.Found = len(res.Items)
	result.Omitted = len(res.Items) - len(valid)
	windowStart := ing.now().Add(-window)

	for _, item := range valid {
		if !matcher.Match(item.Title, item.Body) {
			result.Omitted++
			result.Candidates = append(result.Candidates, Candidate{Item: item, Status: CandidateOmitted})
			continue
		}

		article := &models.SourceArticle{
			Provider:      setting.Provider,
			URI:           canonicalURI(setting.Provider, item),
			Fingerprint:   utils.Fingerprint(item.Title),
			Title:         item.Title,
			Body:          item.Body,
			SourceURL:     item.SourceURL,
			ImageURL:      item.ImageURL,
			Language:      firstNonEmpty(item.Language, setting.Language),
			PublishedAt:   item.PublishedAt,
			Category:      setting.Category,
			SyncSettingID: setting.ID,
			Flag:          models.FlagNew,
		}
		created, err := ing.store.InsertSourceArticle(ctx, article)
		if err != nil {
			return IngestResult{}, fmt.Errorf("%s: %w", op, err)
		}

		c := Candidate{Item: item, ArticleID: article.ID}
		switch {
		case created:
			c.Status = CandidateNew
			result.New++
			result.Pending = append(result.Pending, article.ID)
		default:
			c.Status = CandidateExisting
			result.Existing++
			if article.SyncSettingID == setting.ID && awaitsRouting(article) && article.CreatedAt.After(windowStart) {
				result.Pending = append(result.Pending, article.ID)
			}
		}
		result.Candidates = append(result.Candidates, c)
	}

	if err := ing.store.RecordSyncRun(ctx, setting.ID, result.SyncTotals); err != nil {
		return result, fmt.Errorf("%s: %w", op, err)
	}

	log.Info().
		Int("found", result.Found).
		Int("existing", result.Existing).
		Int("new", result.New).
		Int("omitted", result.Omitted).
		Bool("cached", res.Cached).
		Msg("Sync run ingested")
	return result, nil
}

// awaitsRouting reports whether an existing article was stored but its next
// task never queued. Routed articles are left alone even when still new, so
// a dropped filter batch is not asked again.
func awaitsRouting(a *models.SourceArticle) bool {
	if a.RoutedAt != nil {
		return false
	}
	return a.Flag == models.FlagNew || a.Flag == models.FlagSelected
}

// canonicalURI is the provider-namespaced identity of an item
func canonicalURI(p models.Provider, item models.RawItem) string {
	if p == models.ProviderTweet && item.ExternalID != "" {
		return "https://twitter.com/i/web/status/" + item.ExternalID
	}
	return item.SourceURL
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
