package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
)

const tweetTitleRunes = 100

// TweetClient searches the recent-tweets endpoint of the X/Twitter v2 API
type TweetClient struct {
	fetcher *Fetcher
	baseURL string
	token   string
}

func NewTweetClient(fetcher *Fetcher, baseURL, token string) *TweetClient {
	return &TweetClient{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

type tweetResponse struct {
	Data []struct {
		ID          string `json:"id"`
		Text        string `json:"text"`
		CreatedAt   string `json:"created_at"`
		Lang        string `json:"lang"`
		Attachments struct {
			MediaKeys []string `json:"media_keys"`
		} `json:"attachments"`
	} `json:"data"`
	Includes struct {
		Media []struct {
			MediaKey        string `json:"media_key"`
			Type            string `json:"type"`
			URL             string `json:"url"`
			PreviewImageURL string `json:"preview_image_url"`
		} `json:"media"`
	} `json:"includes"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (t *TweetClient) Name() models.Provider { return models.ProviderTweet }

func (t *TweetClient) Summaries() bool { return false }

func (t *TweetClient) Search(ctx context.Context, q Query) (SearchResult, error) {
	const op = "tweet search"
	if t.token == "" {
		return SearchResult{}, failure.Configurationf(op, failure.ErrMissingCredentials)
	}

	query := "(" + keywordQuery(q.Keywords) + ") -is:retweet"
	if q.Language != "" {
		query += " lang:" + q.Language
	}
	params := map[string]string{
		"query":        query,
		"max_results":  strconv.Itoa(clamp(q.Limit, 10, 100)),
		"tweet.fields": "created_at,lang,attachments",
		"expansions":   "attachments.media_keys",
		"media.fields": "url,preview_image_url,type",
	}
	// The recent endpoint only reaches back seven days.
	if !q.Since.IsZero() && time.Since(q.Since) < 7*24*time.Hour {
		params["start_time"] = q.Since.UTC().Format(time.RFC3339)
	}
	req := Request{
		URL:     t.baseURL + "/2/tweets/search/recent",
		Params:  params,
		Headers: map[string]string{"Authorization": "Bearer " + t.token},
	}

	start := time.Now()
	raw, cached, err := t.fetcher.Get(ctx, op, req)
	result := SearchResult{Request: req.Summary(), Raw: raw, Cached: cached, Duration: time.Since(start)}
	if err != nil {
		return result, err
	}

	var body tweetResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return result, failure.Invalidf(op, fmt.Errorf("%w: %v", failure.ErrInvalidResponse, err))
	}
	if len(body.Data) == 0 && len(body.Errors) > 0 {
		return result, failure.Invalidf(op, fmt.Errorf("%w: %s: %s", failure.ErrInvalidResponse, body.Errors[0].Title, body.Errors[0].Detail))
	}

	media := make(map[string]string, len(body.Includes.Media))
	for _, m := range body.Includes.Media {
		u := m.URL
		if u == "" {
			u = m.PreviewImageURL
		}
		media[m.MediaKey] = u
	}

	for _, tw := range body.Data {
		created, _ := time.Parse(time.RFC3339, tw.CreatedAt)
		var image string
		for _, key := range tw.Attachments.MediaKeys {
			if u := media[key]; u != "" {
				image = u
				break
			}
		}
		result.Items = append(result.Items, models.RawItem{
			ExternalID:  tw.ID,
			Title:       tweetTitle(tw.Text),
			Body:        tw.Text,
			SourceURL:   "https://twitter.com/i/web/status/" + tw.ID,
			ImageURL:    image,
			Language:    tw.Lang,
			PublishedAt: created,
		})
	}
	return result, nil
}

// tweetTitle cuts the text at a word boundary so it can serve as a headline
func tweetTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= tweetTitleRunes {
		return text
	}
	r := []rune(text)[:tweetTitleRunes]
	cut := string(r)
	if i := strings.LastIndexByte(cut, ' '); i > tweetTitleRunes/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
