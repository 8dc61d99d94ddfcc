package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
)

// NewsClient searches a newsapi.org compatible /v2/everything endpoint
type NewsClient struct {
	fetcher *Fetcher
	baseURL string
	apiKey  string
}

func NewNewsClient(fetcher *Fetcher, baseURL, apiKey string) *NewsClient {
	return &NewsClient{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

type newsResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		URLToImage  string `json:"urlToImage"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

func (n *NewsClient) Name() models.Provider { return models.ProviderNews }

func (n *NewsClient) Summaries() bool { return true }

func (n *NewsClient) Search(ctx context.Context, q Query) (SearchResult, error) {
	const op = "news search"
	if n.apiKey == "" {
		return SearchResult{}, failure.Configurationf(op, failure.ErrMissingCredentials)
	}

	params := map[string]string{
		"q":        keywordQuery(q.Keywords),
		"sortBy":   "publishedAt",
		"pageSize": strconv.Itoa(clamp(q.Limit, 1, 100)),
	}
	if !q.Since.IsZero() {
		params["from"] = q.Since.UTC().Format(time.RFC3339)
	}
	if q.Language != "" {
		params["language"] = q.Language
	}
	req := Request{
		URL:     n.baseURL + "/v2/everything",
		Params:  params,
		Headers: map[string]string{"X-Api-Key": n.apiKey},
	}

	start := time.Now()
	raw, cached, err := n.fetcher.Get(ctx, op, req)
	result := SearchResult{Request: req.Summary(), Raw: raw, Cached: cached, Duration: time.Since(start)}
	if err != nil {
		return result, err
	}

	var body newsResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return result, failure.Invalidf(op, fmt.Errorf("%w: %v", failure.ErrInvalidResponse, err))
	}
	if body.Status == "error" {
		return result, failure.Invalidf(op, fmt.Errorf("%w: %s: %s", failure.ErrInvalidResponse, body.Code, body.Message))
	}

	for _, a := range body.Articles {
		published, _ := time.Parse(time.RFC3339, a.PublishedAt)
		text := a.Content
		if text == "" {
			text = a.Description
		}
		result.Items = append(result.Items, models.RawItem{
			ExternalID:  a.URL,
			Title:       a.Title,
			Body:        text,
			SourceURL:   a.URL,
			ImageURL:    a.URLToImage,
			Language:    q.Language,
			PublishedAt: published,
		})
	}
	return result, nil
}

// keywordQuery ORs the keywords, quoting phrases
func keywordQuery(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.ContainsAny(k, " \t") {
			k = `"` + k + `"`
		}
		parts = append(parts, k)
	}
	return strings.Join(parts, " OR ")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
