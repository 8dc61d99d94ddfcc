package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bilgisen/newswire/internal/ai"
	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/storage"
)

func (p *Pipeline) handleFilterBatch(ctx context.Context, env models.Envelope) error {
	var payload models.FilterBatchPayload
	if err := env.Decode(&payload); err != nil {
		return failure.Invalidf("filter batch", err)
	}
	setting, err := p.store.GetSetting(ctx, payload.SettingID)
	if err != nil {
		return err
	}
	articles, err := p.store.ListSourceArticles(ctx, storage.ArticleFilter{IDs: payload.ArticleIDs})
	if err != nil {
		return err
	}

	var candidates []ai.SelectionCandidate
	var ids, reselected []int64
	for _, a := range articles {
		switch a.Flag {
		case models.FlagNew:
			ids = append(ids, a.ID)
			candidates = append(candidates, ai.SelectionCandidate{ID: a.ID, Title: a.Title, Snippet: a.Body})
		case models.FlagSelected:
			// accepted by an earlier delivery of this batch that crashed before forwarding
			reselected = append(reselected, a.ID)
		}
	}

	log := p.log.With().Int64("setting_id", setting.ID).Int64("envelope_id", env.ID).Logger()
	if len(ids) > 0 {
		prompt := ai.BuildSelectionPrompt(p.audience(setting), setting.CustomInstruction, candidates)
		var selected []int64
		err := p.generate(ctx, models.GroupFilter, models.SourceSetting, setting.ID, prompt, func(text string) error {
			var err error
			selected, err = ai.ParseSelection(text, ids)
			return err
		})
		if err != nil {
			log.Error().Err(err).Int("batch_size", len(ids)).Msg("Filtering call failed, articles stay new")
			return err
		}

		chosen := make(map[int64]bool, len(selected))
		for _, id := range selected {
			chosen[id] = true
		}
		var rejected []int64
		for _, id := range ids {
			if !chosen[id] {
				rejected = append(rejected, id)
			}
		}
		if _, err := p.store.TransitionFlags(ctx, selected, []models.Lifecycle{models.FlagNew}, models.FlagSelected); err != nil {
			return err
		}
		if _, err := p.store.TransitionFlags(ctx, rejected, []models.Lifecycle{models.FlagNew}, models.FlagFilteredOut); err != nil {
			return err
		}
		log.Info().Int("batch_size", len(ids)).Int("selected", len(selected)).Msg("Filtered batch")
		reselected = append(reselected, selected...)
	}

	for _, id := range reselected {
		if err := p.forward(ctx, setting, id); err != nil {
			return err
		}
	}
	return nil
}

// filterExhausted runs when a batch is dead-lettered. After a rate limit or
// timeout the articles are handed back to the next sync run; an unusable
// reply leaves them new and routed, so they are not asked about again.
func (p *Pipeline) filterExhausted(ctx context.Context, env models.Envelope, cause error) {
	var payload models.FilterBatchPayload
	if err := env.Decode(&payload); err != nil {
		return
	}
	log := p.log.With().Int64("setting_id", payload.SettingID).Ints64("article_ids", payload.ArticleIDs).Logger()
	if !isTransient(cause) {
		log.Error().Err(cause).Msg("Filter batch dropped, articles stay new")
		return
	}
	n, err := p.store.ClearRouted(ctx, payload.ArticleIDs)
	if err != nil {
		log.Error().Err(err).Msg("Failed to release articles of exhausted filter batch")
		return
	}
	log.Warn().Err(cause).Int64("released", n).Msg("Filter batch gave up, articles return on the next sync")
}

func (p *Pipeline) handleExtract(ctx context.Context, env models.Envelope) error {
	var payload models.ExtractPayload
	if err := env.Decode(&payload); err != nil {
		return failure.Invalidf("extract", err)
	}
	article, err := p.store.GetSourceArticle(ctx, payload.ArticleID)
	if err != nil {
		return err
	}
	if article.Flag != models.FlagSelected {
		return nil
	}
	setting, err := p.store.GetSetting(ctx, article.SyncSettingID)
	if err != nil {
		return err
	}

	if !article.BodyExtracted && article.SourceURL != "" {
		start := time.Now()
		res, err := p.extractor.Extract(ctx, article.SourceURL)
		entry := models.ResponseLogEntry{
			Group:      models.GroupExtract,
			SourceType: models.SourceArticleT,
			SourceID:   article.ID,
			Request:    "GET " + article.SourceURL,
			Response:   res.Text,
			Duration:   time.Since(start),
			Cost:       res.HTMLSize,
			Success:    err == nil,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		p.responses.Record(ctx, entry)

		switch {
		case err == nil:
			if err := p.store.SaveExtractedBody(ctx, article.ID, res.Text, res.ImageURL); err != nil {
				return err
			}
		case isTransient(err):
			return err
		default:
			p.log.Warn().Err(err).Int64("article_id", article.ID).Msg("Extraction failed, keeping provider summary")
		}
	}
	return p.afterExtract(ctx, setting, article.ID, payload.Promote)
}

// extractExhausted continues with the provider summary once extraction gave up
func (p *Pipeline) extractExhausted(ctx context.Context, env models.Envelope, cause error) {
	var payload models.ExtractPayload
	if err := env.Decode(&payload); err != nil {
		return
	}
	article, err := p.store.GetSourceArticle(ctx, payload.ArticleID)
	if err != nil {
		return
	}
	setting, err := p.store.GetSetting(ctx, article.SyncSettingID)
	if err != nil {
		return
	}
	if err := p.afterExtract(ctx, setting, article.ID, payload.Promote); err != nil {
		p.log.Error().Err(err).Int64("article_id", article.ID).Msg("Failed to continue after extraction gave up")
	}
}

// promote publishes the source text unchanged as an enriched finished
// article. The caller holds the rewriting claim.
func (p *Pipeline) promote(ctx context.Context, setting *models.SyncSetting, article *models.SourceArticle) error {
	f := &models.FinishedArticle{
		SourceArticleID: article.ID,
		SyncSettingID:   setting.ID,
		Title:           article.Title,
		Body:            article.Body,
		Category:        firstNonEmpty(setting.Category, article.Category),
		State:           models.StateEnriched,
	}
	if _, err := p.store.CreateFinishedArticle(ctx, f); err != nil {
		return err
	}
	if f.State == models.StateEnriched {
		if err := p.enqueueFinished(ctx, models.TaskImage, f); err != nil {
			return err
		}
	}
	return p.finishClaim(ctx, article.ID)
}

// claim takes exclusive ownership of a selected article for this envelope.
// A claim left behind by a crashed worker expires after ClaimTimeout.
func (p *Pipeline) claim(ctx context.Context, articleID int64, env models.Envelope) (bool, error) {
	return p.store.ClaimArticle(ctx, articleID, env.ID, p.now().Add(-p.opts.ClaimTimeout))
}

func (p *Pipeline) finishClaim(ctx context.Context, articleID int64) error {
	_, err := p.store.TransitionFlag(ctx, articleID, []models.Lifecycle{models.FlagRewriting}, models.FlagRewritten)
	return err
}

func (p *Pipeline) handleRewrite(ctx context.Context, env models.Envelope) error {
	var payload models.ArticlePayload
	if err := env.Decode(&payload); err != nil {
		return failure.Invalidf("rewrite", err)
	}
	article, err := p.store.GetSourceArticle(ctx, payload.ArticleID)
	if err != nil {
		return err
	}
	won, err := p.claim(ctx, article.ID, env)
	if err != nil {
		return err
	}
	if !won {
		p.log.Debug().Int64("article_id", article.ID).Str("flag", string(article.Flag)).Msg("Article owned elsewhere, skipping rewrite")
		return nil
	}

	err = p.rewrite(ctx, article, payload.Promote)
	if err != nil && isTransient(err) {
		// retries arrive as new envelopes and must be able to claim again
		if rerr := p.store.ReleaseArticle(ctx, article.ID, env.ID); rerr != nil {
			p.log.Error().Err(rerr).Int64("article_id", article.ID).Msg("Failed to release rewrite claim")
		}
	}
	return err
}

func (p *Pipeline) rewrite(ctx context.Context, article *models.SourceArticle, promote bool) error {
	setting, err := p.store.GetSetting(ctx, article.SyncSettingID)
	if err != nil {
		return err
	}
	if promote {
		return p.promote(ctx, setting, article)
	}

	f := &models.FinishedArticle{
		SourceArticleID: article.ID,
		SyncSettingID:   setting.ID,
		Category:        firstNonEmpty(setting.Category, article.Category),
	}
	if _, err := p.store.CreateFinishedArticle(ctx, f); err != nil {
		return err
	}
	if f.State != models.StatePending {
		// stored by an earlier delivery that died before acking
		if f.State == models.StateTitleReady {
			if err := p.enqueueFinished(ctx, models.TaskEnrich, f); err != nil {
				return err
			}
		}
		return p.finishClaim(ctx, article.ID)
	}

	log := p.log.With().Int64("article_id", article.ID).Int64("finished_id", f.ID).Logger()
	prompt := ai.BuildRewritePrompt(p.audience(setting), setting.CustomInstruction, article.Title, article.Body)

	var rw ai.Rewrite
	for attempt := 1; attempt <= p.opts.RewriteAttempts; attempt++ {
		err = p.generate(ctx, models.GroupRewrite, models.SourceArticleT, article.ID, prompt, func(text string) error {
			r, err := ai.ParseRewrite(text)
			if err != nil {
				return err
			}
			if err := p.post.ProcessRewrite(&r); err != nil {
				return err
			}
			rw = r
			return nil
		})
		if err == nil || failure.KindOf(err) != failure.Invalid {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Malformed rewrite reply")
	}
	if err != nil {
		if failure.KindOf(err) != failure.Transient {
			p.failRewrite(ctx, article.ID, f.ID, err)
		}
		return err
	}

	saved, err := p.store.SaveRewrite(ctx, f.ID, rw.Title, rw.Body)
	if err != nil {
		return err
	}
	if saved {
		if err := p.enqueueFinished(ctx, models.TaskEnrich, f); err != nil {
			return err
		}
		log.Info().Str("title", rw.Title).Msg("Article rewritten")
	}
	return p.finishClaim(ctx, article.ID)
}

func (p *Pipeline) failRewrite(ctx context.Context, articleID, finishedID int64, cause error) {
	from := []models.Lifecycle{models.FlagSelected, models.FlagRewriting}
	if _, err := p.store.TransitionFlag(ctx, articleID, from, models.FlagRewriteFailed); err != nil {
		p.log.Error().Err(err).Int64("article_id", articleID).Msg("Failed to flag rewrite failure")
	}
	if finishedID == 0 {
		return
	}
	if _, err := p.store.MarkFailed(ctx, finishedID, "rewrite: "+cause.Error()); err != nil {
		p.log.Error().Err(err).Int64("finished_id", finishedID).Msg("Failed to mark finished article failed")
	}
}

func (p *Pipeline) rewriteExhausted(ctx context.Context, env models.Envelope, cause error) {
	var payload models.ArticlePayload
	if err := env.Decode(&payload); err != nil {
		return
	}
	var finishedID int64
	if f, err := p.store.GetFinishedBySource(ctx, payload.ArticleID); err == nil {
		finishedID = f.ID
	}
	p.failRewrite(ctx, payload.ArticleID, finishedID, cause)
}

func (p *Pipeline) handleEnrich(ctx context.Context, env models.Envelope) error {
	f, err := p.finishedFromEnvelope(ctx, env)
	if err != nil {
		return err
	}
	switch f.State {
	case models.StateTitleReady:
	case models.StateEnriched:
		return p.enqueueFinished(ctx, models.TaskImage, f)
	default:
		return nil
	}

	if f.Meta == "" {
		err := p.enrichStep(ctx, f, "meta", ai.BuildMetaPrompt(f.Title, f.Body), func(text string) (storage.FinishedUpdate, error) {
			meta, err := ai.ParseMeta(text)
			meta = p.post.CleanMeta(meta)
			return storage.FinishedUpdate{Meta: &meta}, err
		})
		if err != nil {
			return err
		}
	}
	if f.Social.Empty() {
		err := p.enrichStep(ctx, f, "social", ai.BuildSocialPrompt(f.Title, f.Body), func(text string) (storage.FinishedUpdate, error) {
			s, err := ai.ParseSocial(text)
			s = p.post.CleanSocial(s)
			return storage.FinishedUpdate{Social: &models.SocialCopy{Twitter: s.Twitter, Facebook: s.Facebook, LinkedIn: s.LinkedIn}}, err
		})
		if err != nil {
			return err
		}
	}
	if len(f.Tags) == 0 {
		err := p.enrichStep(ctx, f, "tags", ai.BuildTagsPrompt(f.Title, f.Body), func(text string) (storage.FinishedUpdate, error) {
			tags, err := ai.ParseTags(text)
			return storage.FinishedUpdate{Tags: p.post.CleanTags(tags)}, err
		})
		if err != nil {
			return err
		}
	}

	return p.advanceEnriched(ctx, f)
}

// enrichStep runs one follow-up generation. Only transient failures are
// returned; anything else leaves the field empty and lets the article move on.
func (p *Pipeline) enrichStep(ctx context.Context, f *models.FinishedArticle, step, prompt string, parse func(text string) (storage.FinishedUpdate, error)) error {
	var update storage.FinishedUpdate
	err := p.generate(ctx, models.GroupEnrich, models.SourceFinished, f.ID, prompt, func(text string) error {
		var err error
		update, err = parse(text)
		return err
	})
	if err != nil {
		if isTransient(err) {
			return err
		}
		p.log.Warn().Err(err).Int64("finished_id", f.ID).Str("step", step).Msg("Enrichment step produced nothing usable")
		return nil
	}
	return p.store.UpdateFinished(ctx, f.ID, update)
}

func (p *Pipeline) advanceEnriched(ctx context.Context, f *models.FinishedArticle) error {
	advanced, err := p.store.Advance(ctx, f.ID, models.StateEnriched)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}
	return p.enqueueFinished(ctx, models.TaskImage, f)
}

// enrichExhausted lets the article continue with whatever enrichment was stored
func (p *Pipeline) enrichExhausted(ctx context.Context, env models.Envelope, cause error) {
	f, err := p.finishedFromEnvelope(ctx, env)
	if err != nil {
		return
	}
	if err := p.advanceEnriched(ctx, f); err != nil {
		p.log.Error().Err(err).Int64("finished_id", f.ID).Msg("Failed to advance after enrichment gave up")
	}
}

func (p *Pipeline) handleImage(ctx context.Context, env models.Envelope) error {
	f, err := p.finishedFromEnvelope(ctx, env)
	if err != nil {
		return err
	}
	switch f.State {
	case models.StateEnriched:
	case models.StateReadyForDistribution:
		// an earlier delivery advanced the article but died before fanning out
		return p.fanOutLive(ctx, f)
	default:
		return nil
	}

	if f.ImageURL == "" {
		if source, err := p.store.GetSourceArticle(ctx, f.SourceArticleID); err == nil && source.ImageURL != "" {
			if err := p.storeImage(ctx, f, source.ImageURL); err != nil {
				return err
			}
		}
	}

	advanced, err := p.store.Advance(ctx, f.ID, models.StateReadyForDistribution)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}
	p.log.Info().Int64("finished_id", f.ID).Msg("Article ready for distribution")
	return p.fanOutLive(ctx, f)
}

// fanOutLive queues delivery of a ready article of a live setting to every
// active site that has no delivery entry yet
func (p *Pipeline) fanOutLive(ctx context.Context, f *models.FinishedArticle) error {
	setting, err := p.store.GetSetting(ctx, f.SyncSettingID)
	if err != nil {
		return err
	}
	if !setting.LiveMode {
		return nil
	}
	sites, err := p.store.ListSites(ctx, true)
	if err != nil {
		return err
	}
	var pending []int64
	for _, site := range sites {
		if _, seen := f.DeliveryLog[models.SiteKey(site.ID)]; !seen {
			pending = append(pending, site.ID)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if _, err := p.Send(ctx, f.ID, pending, Deferred); err != nil {
		p.log.Error().Err(err).Int64("finished_id", f.ID).Msg("Live fan-out failed")
		return err
	}
	return nil
}

// storeImage copies the lead image. Only transient errors are returned; an
// unusable image means the article goes out without one.
func (p *Pipeline) storeImage(ctx context.Context, f *models.FinishedArticle, imageURL string) error {
	start := time.Now()
	res, err := p.images.Process(ctx, imageURL, f.GUID)
	entry := models.ResponseLogEntry{
		Group:      models.GroupImage,
		SourceType: models.SourceFinished,
		SourceID:   f.ID,
		Request:    "GET " + imageURL,
		Response:   res.URL,
		Duration:   time.Since(start),
		Cost:       res.Bytes,
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	p.responses.Record(ctx, entry)

	if err != nil {
		if isTransient(err) {
			return err
		}
		p.log.Warn().Err(err).Int64("finished_id", f.ID).Msg("Lead image unusable, continuing without it")
		return nil
	}
	return p.store.UpdateFinished(ctx, f.ID, storage.FinishedUpdate{ImageURL: &res.URL})
}

func (p *Pipeline) imageExhausted(ctx context.Context, env models.Envelope, cause error) {
	var payload models.FinishedPayload
	if err := env.Decode(&payload); err != nil {
		return
	}
	if _, err := p.store.MarkFailed(ctx, payload.FinishedID, "image: "+cause.Error()); err != nil {
		p.log.Error().Err(err).Int64("finished_id", payload.FinishedID).Msg("Failed to mark finished article failed")
	}
}

func (p *Pipeline) finishedFromEnvelope(ctx context.Context, env models.Envelope) (*models.FinishedArticle, error) {
	var payload models.FinishedPayload
	if err := env.Decode(&payload); err != nil {
		return nil, failure.Invalidf(string(env.Kind), err)
	}
	return p.store.GetFinishedArticle(ctx, payload.FinishedID)
}

func (p *Pipeline) enqueueFinished(ctx context.Context, kind models.TaskKind, f *models.FinishedArticle) error {
	_, err := p.queue.Enqueue(ctx, kind, models.FinishedPayload{FinishedID: f.ID}, models.SettingGroup(f.SyncSettingID))
	if err != nil {
		return fmt.Errorf("enqueue %s for finished article %d: %w", kind, f.ID, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
