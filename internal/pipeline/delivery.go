package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
)

// ErrNotReady is returned when sending an article that has not finished processing
var ErrNotReady = errors.New("finished article is not ready for distribution")

// Mode selects how Send delivers
type Mode int

const (
	// Deferred queues one distribute task per site and returns immediately
	Deferred Mode = iota
	// Immediate calls every site inline and returns the final outcomes
	Immediate
)

// SendOutcome is the per-site result of Send
type SendOutcome struct {
	SiteID    int64  `json:"site_id"`
	Status    string `json:"status"`
	RemoteID  string `json:"remote_id,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Send delivers a ready article to siteIDs, or to every active site when
// siteIDs is empty. Sites are independent: one failing does not stop the rest.
func (p *Pipeline) Send(ctx context.Context, finishedID int64, siteIDs []int64, mode Mode) ([]SendOutcome, error) {
	const op = "send"
	f, err := p.store.GetFinishedArticle(ctx, finishedID)
	if err != nil {
		return nil, err
	}
	if f.State != models.StateReadyForDistribution {
		return nil, failure.Invalidf(op, fmt.Errorf("%w: article %d is %s", ErrNotReady, f.ID, f.State))
	}
	sites, err := p.targetSites(ctx, siteIDs)
	if err != nil {
		return nil, err
	}

	outcomes := make([]SendOutcome, 0, len(sites))
	for _, site := range sites {
		if !site.Active {
			outcomes = append(outcomes, SendOutcome{SiteID: site.ID, Status: models.DeliveryFailed, Error: "site is inactive"})
			continue
		}
		if mode == Deferred {
			if err := p.store.SetDeliveryStatus(ctx, f.ID, site.ID, models.DeliveryStatus{Status: models.DeliveryQueued}); err != nil {
				return outcomes, err
			}
			payload := models.DistributePayload{FinishedID: f.ID, SiteID: site.ID}
			if _, err := p.queue.Enqueue(ctx, models.TaskDistribute, payload, models.SettingGroup(f.SyncSettingID)); err != nil {
				return outcomes, fmt.Errorf("enqueue delivery to site %d: %w", site.ID, err)
			}
			outcomes = append(outcomes, SendOutcome{SiteID: site.ID, Status: models.DeliveryQueued})
			continue
		}

		out, err := p.deliver(ctx, f, site)
		if err != nil {
			p.markDelivery(ctx, f.ID, site.ID, models.DeliveryFailed, err)
		}
		outcomes = append(outcomes, out)
	}

	p.log.Info().
		Int64("finished_id", f.ID).
		Int("sites", len(sites)).
		Bool("immediate", mode == Immediate).
		Msg("Article sent")
	return outcomes, nil
}

func (p *Pipeline) targetSites(ctx context.Context, siteIDs []int64) ([]*models.Site, error) {
	if len(siteIDs) == 0 {
		return p.store.ListSites(ctx, true)
	}
	sites := make([]*models.Site, 0, len(siteIDs))
	for _, id := range siteIDs {
		site, err := p.store.GetSite(ctx, id)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// deliver performs one site call and records the remote reference
func (p *Pipeline) deliver(ctx context.Context, f *models.FinishedArticle, site *models.Site) (SendOutcome, error) {
	out := SendOutcome{SiteID: site.ID}
	terms, err := p.store.Terms(ctx, site.ID)
	if err != nil {
		p.log.Warn().Err(err).Int64("site_id", site.ID).Msg("Could not load site terms, sending category as is")
	}

	receipt, err := p.sites.Deliver(ctx, site, f, terms.Categories)
	if err != nil {
		out.Status = models.DeliveryFailed
		out.Error = err.Error()
		return out, err
	}

	rec := &models.SiteDeliveryRecord{
		FinishedArticleID: f.ID,
		SiteID:            site.ID,
		RemoteID:          receipt.RemoteID,
		RemoteURL:         receipt.RemoteURL,
	}
	if err := p.store.UpsertDelivery(ctx, rec); err != nil {
		return out, err
	}
	status := models.DeliveryStatus{Status: models.DeliverySent, RemoteID: receipt.RemoteID, RemoteURL: receipt.RemoteURL}
	if err := p.store.SetDeliveryStatus(ctx, f.ID, site.ID, status); err != nil {
		return out, err
	}

	out.Status = models.DeliverySent
	out.RemoteID = receipt.RemoteID
	out.RemoteURL = receipt.RemoteURL
	return out, nil
}

func (p *Pipeline) markDelivery(ctx context.Context, finishedID, siteID int64, status string, cause error) {
	st := models.DeliveryStatus{Status: status}
	if cause != nil {
		st.Error = cause.Error()
	}
	if err := p.store.SetDeliveryStatus(ctx, finishedID, siteID, st); err != nil {
		p.log.Error().Err(err).Int64("finished_id", finishedID).Int64("site_id", siteID).Msg("Failed to update delivery log")
	}
}

func (p *Pipeline) handleDistribute(ctx context.Context, env models.Envelope) error {
	var payload models.DistributePayload
	if err := env.Decode(&payload); err != nil {
		return failure.Invalidf("distribute", err)
	}
	f, err := p.store.GetFinishedArticle(ctx, payload.FinishedID)
	if err != nil {
		return err
	}
	site, err := p.store.GetSite(ctx, payload.SiteID)
	if err != nil {
		return err
	}
	if f.State != models.StateReadyForDistribution || !site.Active {
		p.markDelivery(ctx, f.ID, site.ID, models.DeliveryFailed, fmt.Errorf("article %s, site active %v", f.State, site.Active))
		return nil
	}

	if _, err := p.deliver(ctx, f, site); err != nil {
		status := models.DeliveryFailed
		if isTransient(err) {
			status = models.DeliveryQueued
		}
		p.markDelivery(ctx, f.ID, site.ID, status, err)
		return err
	}
	return nil
}

func (p *Pipeline) distributeExhausted(ctx context.Context, env models.Envelope, cause error) {
	var payload models.DistributePayload
	if err := env.Decode(&payload); err != nil {
		return
	}
	p.markDelivery(ctx, payload.FinishedID, payload.SiteID, models.DeliveryFailed, cause)
}

// TermsResult summarizes a site term sync
type TermsResult struct {
	Categories int `json:"categories"`
	Tags       int `json:"tags"`
	Added      int `json:"added"`
}

// SyncTerms pulls a site's categories and tags and stores the ones not yet known
func (p *Pipeline) SyncTerms(ctx context.Context, siteID int64) (TermsResult, error) {
	site, err := p.store.GetSite(ctx, siteID)
	if err != nil {
		return TermsResult{}, err
	}
	terms, err := p.sites.FetchTerms(ctx, site)
	if err != nil {
		return TermsResult{}, err
	}
	added, err := p.store.SaveTerms(ctx, site.ID, terms)
	if err != nil {
		return TermsResult{}, err
	}
	p.log.Info().Int64("site_id", site.ID).Int("added", added).Msg("Site terms synced")
	return TermsResult{Categories: len(terms.Categories), Tags: len(terms.Tags), Added: added}, nil
}

// EnqueueTerms schedules a deferred term sync for a site
func (p *Pipeline) EnqueueTerms(ctx context.Context, siteID int64) error {
	_, err := p.queue.Enqueue(ctx, models.TaskSiteTerms, models.SiteTermsPayload{SiteID: siteID}, fmt.Sprintf("site:%d", siteID))
	return err
}

func (p *Pipeline) handleSiteTerms(ctx context.Context, env models.Envelope) error {
	var payload models.SiteTermsPayload
	if err := env.Decode(&payload); err != nil {
		return failure.Invalidf("site terms", err)
	}
	_, err := p.SyncTerms(ctx, payload.SiteID)
	return err
}
