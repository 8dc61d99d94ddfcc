package distribute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/responselog"
)

// Receipt is what a site returns for an accepted article
type Receipt struct {
	RemoteID  string
	RemoteURL string
}

// Client performs authenticated calls against subscriber sites
type Client struct {
	client    *resty.Client
	responses responselog.Recorder
	log       zerolog.Logger
}

func NewClient(timeout time.Duration, responses responselog.Recorder, log zerolog.Logger) *Client {
	return &Client{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "newswire/1.0"),
		responses: responses,
		log:       log,
	}
}

// remoteID accepts both numeric and string identifiers
type remoteID string

func (r *remoteID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = remoteID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*r = remoteID(n.String())
	return nil
}

type deliveryResponse struct {
	RemoteID  remoteID `json:"remote_id"`
	RemoteURL string   `json:"remote_url"`
}

// Deliver posts the article to the site and returns the remote reference
func (c *Client) Deliver(ctx context.Context, site *models.Site, article *models.FinishedArticle, siteCategories []string) (Receipt, error) {
	const op = "deliver"
	payload, err := BuildPayload(article, siteCategories)
	if err != nil {
		return Receipt{}, failure.Invalidf(op, err)
	}

	req, err := c.request(ctx, site)
	if err != nil {
		c.record(ctx, models.SourceFinished, article.ID, "POST "+site.Endpoint, "", 0, err)
		return Receipt{}, err
	}

	start := time.Now()
	resp, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(site.Endpoint)
	elapsed := time.Since(start)
	summary := fmt.Sprintf("POST %s site=%d guid=%s", site.Endpoint, site.ID, article.GUID)

	if err = classify(op, resp, err); err != nil {
		c.record(ctx, models.SourceFinished, article.ID, summary, body(resp), elapsed, err)
		return Receipt{}, err
	}

	var out deliveryResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.RemoteID == "" {
		if err == nil {
			err = fmt.Errorf("missing remote_id")
		}
		err = failure.Invalidf(op, fmt.Errorf("%w: %v", failure.ErrInvalidResponse, err))
		c.record(ctx, models.SourceFinished, article.ID, summary, body(resp), elapsed, err)
		return Receipt{}, err
	}

	c.record(ctx, models.SourceFinished, article.ID, summary, body(resp), elapsed, nil)
	c.log.Info().
		Int64("finished_id", article.ID).
		Int64("site_id", site.ID).
		Str("remote_id", string(out.RemoteID)).
		Dur("duration", elapsed).
		Msg("Delivered article")
	return Receipt{RemoteID: string(out.RemoteID), RemoteURL: out.RemoteURL}, nil
}

// FetchTerms reads the categories and tags a site already has
func (c *Client) FetchTerms(ctx context.Context, site *models.Site) (models.SiteTerms, error) {
	const op = "fetch terms"
	if site.TermsEndpoint == "" {
		err := failure.Configurationf(op, fmt.Errorf("site %q has no terms endpoint", site.Name))
		c.recordTerms(ctx, site, "GET", "", 0, err)
		return models.SiteTerms{}, err
	}

	req, err := c.request(ctx, site)
	if err != nil {
		c.recordTerms(ctx, site, "GET "+site.TermsEndpoint, "", 0, err)
		return models.SiteTerms{}, err
	}

	start := time.Now()
	resp, err := req.Get(site.TermsEndpoint)
	elapsed := time.Since(start)
	summary := "GET " + site.TermsEndpoint

	if err = classify(op, resp, err); err != nil {
		c.recordTerms(ctx, site, summary, body(resp), elapsed, err)
		return models.SiteTerms{}, err
	}

	var terms models.SiteTerms
	if err := json.Unmarshal(resp.Body(), &terms); err != nil {
		err = failure.Invalidf(op, fmt.Errorf("%w: %v", failure.ErrInvalidResponse, err))
		c.recordTerms(ctx, site, summary, body(resp), elapsed, err)
		return models.SiteTerms{}, err
	}
	c.recordTerms(ctx, site, summary, body(resp), elapsed, nil)
	return terms, nil
}

// request builds an authenticated request for site
func (c *Client) request(ctx context.Context, site *models.Site) (*resty.Request, error) {
	const op = "site auth"
	req := c.client.R().SetContext(ctx)
	switch site.AuthMode {
	case models.AuthBasic:
		if site.Username == "" {
			return nil, failure.Configurationf(op, fmt.Errorf("%w: basic auth for %q", failure.ErrMissingCredentials, site.Name))
		}
		req.SetBasicAuth(site.Username, site.Password)
	case models.AuthBearer:
		if site.Token == "" {
			return nil, failure.Configurationf(op, fmt.Errorf("%w: bearer token for %q", failure.ErrMissingCredentials, site.Name))
		}
		req.SetAuthToken(site.Token)
	case models.AuthParams:
		if site.Token == "" {
			return nil, failure.Configurationf(op, fmt.Errorf("%w: token param for %q", failure.ErrMissingCredentials, site.Name))
		}
		param := site.TokenParam
		if param == "" {
			param = "token"
		}
		req.SetQueryParam(param, site.Token)
		if site.Username != "" {
			req.SetQueryParam("user", site.Username)
		}
	case models.AuthNone, "":
	default:
		return nil, failure.Configurationf(op, fmt.Errorf("unknown auth mode %q", site.AuthMode))
	}
	return req, nil
}

func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		if failure.IsTimeout(err) {
			return failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrTimeout, err))
		}
		return failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrProviderUnavailable, err))
	}
	if resp.IsError() {
		return failure.FromHTTPStatus(op, resp.StatusCode(), retryAfter(resp.Header().Get("Retry-After")))
	}
	return nil
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func body(resp *resty.Response) string {
	if resp == nil {
		return ""
	}
	return resp.String()
}

func (c *Client) recordTerms(ctx context.Context, site *models.Site, req, resp string, d time.Duration, err error) {
	entry := models.ResponseLogEntry{
		Group:      models.GroupTerms,
		SourceType: models.SourceSite,
		SourceID:   site.ID,
		Request:    req,
		Response:   resp,
		Duration:   d,
		Cost:       len(resp),
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.responses.Record(ctx, entry)
}

func (c *Client) record(ctx context.Context, st models.SourceType, id int64, req, resp string, d time.Duration, err error) {
	entry := models.ResponseLogEntry{
		Group:      models.GroupDistribute,
		SourceType: st,
		SourceID:   id,
		Request:    req,
		Response:   resp,
		Duration:   d,
		Cost:       len(resp),
		Success:    err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	c.responses.Record(ctx, entry)
}
