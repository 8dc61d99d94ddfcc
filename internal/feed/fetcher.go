package feed

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/cache"
	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/utils"
)

// Fetcher performs provider GETs and caches successful raw bodies for a
// short TTL so a retried sync run does not re-bill the provider
type Fetcher struct {
	client *resty.Client
	cache  cache.Cache
	ttl    time.Duration
	log    zerolog.Logger
}

func NewFetcher(c cache.Cache, ttl, timeout time.Duration, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second),
		cache: c,
		ttl:   ttl,
		log:   log,
	}
}

// Request describes one provider call
type Request struct {
	URL     string
	Params  map[string]string
	Headers map[string]string
}

// Summary renders the request for the response log without credentials
func (r Request) Summary() string {
	return "GET " + r.URL + "?" + r.encodedParams()
}

func (r Request) encodedParams() string {
	v := url.Values{}
	for k, val := range r.Params {
		v.Set(k, val)
	}
	return v.Encode()
}

func (r Request) cacheKey() string {
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(r.URL)
	for _, k := range keys {
		b.WriteString("|" + k + "=" + r.Params[k])
	}
	return "provider:" + utils.Hash(b.String())
}

// Get returns the raw response body and whether it came from the cache
func (f *Fetcher) Get(ctx context.Context, op string, req Request) ([]byte, bool, error) {
	key := req.cacheKey()
	if f.cache != nil {
		if body, ok, err := f.cache.Get(ctx, key); err != nil {
			f.log.Warn().Err(err).Str("op", op).Msg("Provider cache read failed")
		} else if ok {
			return body, true, nil
		}
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeaders(req.Headers).
		SetQueryParams(req.Params).
		Get(req.URL)
	if err != nil {
		if failure.IsTimeout(err) {
			return nil, false, failure.Transientf(op, fmt.Errorf("%w: %w: %v", failure.ErrProviderUnavailable, failure.ErrTimeout, err))
		}
		return nil, false, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrProviderUnavailable, err))
	}
	if resp.IsError() {
		return resp.Body(), false, failure.FromHTTPStatus(op, resp.StatusCode(), retryAfter(resp.Header().Get("Retry-After")))
	}

	body := resp.Body()
	if f.cache != nil && f.ttl > 0 {
		if err := f.cache.Set(ctx, key, body, f.ttl); err != nil {
			f.log.Warn().Err(err).Str("op", op).Msg("Provider cache write failed")
		}
	}
	return body, false, nil
}

func retryAfter(v string) time.Duration {
	var secs int
	if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
