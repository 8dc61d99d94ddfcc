package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/ai"
	"github.com/bilgisen/newswire/internal/assets"
	"github.com/bilgisen/newswire/internal/distribute"
	"github.com/bilgisen/newswire/internal/extract"
	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/feed"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/queue"
	"github.com/bilgisen/newswire/internal/responselog"
	"github.com/bilgisen/newswire/internal/storage"
)

// Extractor pulls full text from a source page
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (extract.Article, error)
}

// ImageProcessor normalizes and stores a lead image
type ImageProcessor interface {
	Process(ctx context.Context, imageURL, name string) (assets.Result, error)
}

// SiteClient talks to subscriber sites
type SiteClient interface {
	Deliver(ctx context.Context, site *models.Site, article *models.FinishedArticle, siteCategories []string) (distribute.Receipt, error)
	FetchTerms(ctx context.Context, site *models.Site) (models.SiteTerms, error)
}

// Deps are the collaborators a Pipeline drives
type Deps struct {
	Store     *storage.Store
	Queue     *queue.Queue
	Ingestor  *feed.Ingestor
	Generator ai.Generator
	Extractor Extractor
	Images    ImageProcessor
	Sites     SiteClient
	Responses responselog.Recorder
	Log       zerolog.Logger
}

// Options tune stage behaviour
type Options struct {
	DefaultAudience string
	// RewriteAttempts is how many times a malformed rewrite reply is re-asked
	// within one task before the article is marked rewrite_failed
	RewriteAttempts int
	FilterBatchSize int
	// ClaimTimeout is how long a rewrite claim holds before another envelope
	// may take the article over. It should match the queue visibility timeout.
	ClaimTimeout    time.Duration
}

// Pipeline implements every queued stage of the article lifecycle
type Pipeline struct {
	store     *storage.Store
	queue     *queue.Queue
	ingestor  *feed.Ingestor
	gen       ai.Generator
	extractor Extractor
	images    ImageProcessor
	sites     SiteClient
	responses responselog.Recorder
	post      *ai.PostProcessor
	opts      Options
	log       zerolog.Logger
	now       func() time.Time
}

func New(d Deps, opts Options) *Pipeline {
	if opts.RewriteAttempts <= 0 {
		opts.RewriteAttempts = 2
	}
	if opts.FilterBatchSize <= 0 {
		opts.FilterBatchSize = 40
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 15 * time.Minute
	}
	if opts.DefaultAudience == "" {
		opts.DefaultAudience = "general news readers"
	}
	return &Pipeline{
		store:     d.Store,
		queue:     d.Queue,
		ingestor:  d.Ingestor,
		gen:       d.Generator,
		extractor: d.Extractor,
		images:    d.Images,
		sites:     d.Sites,
		responses: d.Responses,
		post:      ai.NewPostProcessor(),
		opts:      opts,
		log:       d.Log,
		now:       time.Now,
	}
}

// Register installs every stage handler and dead-letter hook on r
func (p *Pipeline) Register(r *Runner) {
	r.Handle(models.TaskSyncRun, p.handleSyncRun)
	r.Handle(models.TaskFilterBatch, p.handleFilterBatch)
	r.Handle(models.TaskExtract, p.handleExtract)
	r.Handle(models.TaskRewrite, p.handleRewrite)
	r.Handle(models.TaskEnrich, p.handleEnrich)
	r.Handle(models.TaskImage, p.handleImage)
	r.Handle(models.TaskDistribute, p.handleDistribute)
	r.Handle(models.TaskSiteTerms, p.handleSiteTerms)

	r.OnExhausted(models.TaskFilterBatch, p.filterExhausted)
	r.OnExhausted(models.TaskExtract, p.extractExhausted)
	r.OnExhausted(models.TaskRewrite, p.rewriteExhausted)
	r.OnExhausted(models.TaskEnrich, p.enrichExhausted)
	r.OnExhausted(models.TaskImage, p.imageExhausted)
	r.OnExhausted(models.TaskDistribute, p.distributeExhausted)
}

// EnqueueSync schedules a sync run for one setting
func (p *Pipeline) EnqueueSync(ctx context.Context, settingID int64) error {
	_, err := p.queue.Enqueue(ctx, models.TaskSyncRun, models.SyncRunPayload{SettingID: settingID}, models.SettingGroup(settingID))
	return err
}

// EnqueuePublished schedules a sync run for every published setting
func (p *Pipeline) EnqueuePublished(ctx context.Context) (int, error) {
	settings, err := p.store.ListSettings(ctx, models.StatusPublish)
	if err != nil {
		return 0, err
	}
	for _, st := range settings {
		if err := p.EnqueueSync(ctx, st.ID); err != nil {
			return 0, fmt.Errorf("enqueue sync for setting %d: %w", st.ID, err)
		}
	}
	return len(settings), nil
}

// SyncNow runs ingestion for one setting inline and routes the new articles.
// Configuration problems surface to the caller directly.
func (p *Pipeline) SyncNow(ctx context.Context, settingID int64) (feed.IngestResult, error) {
	setting, err := p.store.GetSetting(ctx, settingID)
	if err != nil {
		return feed.IngestResult{}, err
	}
	res, err := p.ingestor.SearchAndIngest(ctx, setting)
	if err != nil {
		return res, err
	}
	if err := p.route(ctx, setting, res.Pending); err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) handleSyncRun(ctx context.Context, env models.Envelope) error {
	var payload models.SyncRunPayload
	if err := env.Decode(&payload); err != nil {
		return failure.Invalidf("sync run", err)
	}
	_, err := p.SyncNow(ctx, payload.SettingID)
	return err
}

// route pushes freshly ingested articles onward according to the setting's
// mode and then marks them routed. Articles that skip filtering are selected
// here; the filter stage selects the rest.
func (p *Pipeline) route(ctx context.Context, setting *models.SyncSetting, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	group := setting.GroupID()

	if setting.Route() == models.RouteFilter {
		for start := 0; start < len(ids); start += p.opts.FilterBatchSize {
			end := min(start+p.opts.FilterBatchSize, len(ids))
			batch := models.FilterBatchPayload{SettingID: setting.ID, ArticleIDs: ids[start:end]}
			if _, err := p.queue.Enqueue(ctx, models.TaskFilterBatch, batch, group); err != nil {
				return fmt.Errorf("enqueue filter batch: %w", err)
			}
		}
		return p.store.MarkRouted(ctx, ids)
	}

	if _, err := p.store.TransitionFlags(ctx, ids, []models.Lifecycle{models.FlagNew}, models.FlagSelected); err != nil {
		return err
	}
	for _, id := range ids {
		if err := p.forward(ctx, setting, id); err != nil {
			return err
		}
	}
	return p.store.MarkRouted(ctx, ids)
}

// forward enqueues the next step for one accepted article: extraction when
// the provider only supplies summaries, otherwise rewrite or promotion.
func (p *Pipeline) forward(ctx context.Context, setting *models.SyncSetting, articleID int64) error {
	promote := postFilterRoute(setting) == models.RouteActual
	group := setting.GroupID()

	if provider, ok := p.ingestor.Provider(setting.Provider); ok && provider.Summaries() {
		_, err := p.queue.Enqueue(ctx, models.TaskExtract, models.ExtractPayload{ArticleID: articleID, Promote: promote}, group)
		return err
	}
	return p.afterExtract(ctx, setting, articleID, promote)
}

// afterExtract queues the rewrite task, which also performs promotion so a
// single claim guards both paths
func (p *Pipeline) afterExtract(ctx context.Context, setting *models.SyncSetting, articleID int64, promote bool) error {
	_, err := p.queue.Enqueue(ctx, models.TaskRewrite, models.ArticlePayload{ArticleID: articleID, Promote: promote}, setting.GroupID())
	return err
}

// postFilterRoute is the route selected articles follow once filtering has
// accepted them
func postFilterRoute(setting *models.SyncSetting) models.Route {
	s := *setting
	s.FilteringEnabled = false
	return s.Route()
}

// generate performs one generator call and records exactly one response log
// entry for it, covering both transport and parse failures.
func (p *Pipeline) generate(ctx context.Context, group models.LogGroup, st models.SourceType, id int64, prompt string, parse func(text string) error) error {
	start := time.Now()
	completion, err := p.gen.Generate(ctx, prompt)
	if err == nil {
		err = parse(completion.Text)
	}
	entry := models.ResponseLogEntry{
		Group:      group,
		SourceType: st,
		SourceID:   id,
		Request:    prompt,
		Response:   completion.Text,
		Duration:   time.Since(start),
		Cost:       completion.Tokens,
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	p.responses.Record(ctx, entry)
	return err
}

func (p *Pipeline) audience(setting *models.SyncSetting) string {
	if setting.Audience != "" {
		return setting.Audience
	}
	return p.opts.DefaultAudience
}

func isTransient(err error) bool {
	return failure.KindOf(err) == failure.Transient
}

// DeleteSetting removes a setting and drops its pending envelopes. Settings
// referenced by the response log are refused.
func (p *Pipeline) DeleteSetting(ctx context.Context, id int64) error {
	if err := p.store.DeleteSetting(ctx, id); err != nil {
		return err
	}
	n, err := p.queue.CancelGroup(ctx, models.SettingGroup(id))
	if err != nil {
		return fmt.Errorf("cancel pending work for setting %d: %w", id, err)
	}
	if n > 0 {
		p.log.Info().Int64("setting_id", id).Int64("cancelled", n).Msg("Dropped pending envelopes of deleted setting")
	}
	return nil
}
