package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bilgisen/newswire/internal/failure"
)

const defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"

type GeminiClient struct {
	client  *resty.Client
	apiKey  string
	model   string
	baseURL string
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewGeminiClient builds a client for the generateContent endpoint. An empty
// baseURL selects the public API.
func NewGeminiClient(apiKey, model, baseURL string, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = defaultGeminiURL
	}
	return &GeminiClient{
		client:  resty.New().SetTimeout(timeout),
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (g *GeminiClient) Name() string {
	return "gemini"
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (Completion, error) {
	const op = "gemini generate"
	if g.apiKey == "" {
		return Completion{}, failure.Configurationf(op, failure.ErrMissingCredentials)
	}

	url := fmt.Sprintf("%s/%s:generateContent", g.baseURL, g.model)
	req := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{
				Text: prompt,
			}},
		}},
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", g.apiKey).
		SetBody(req).
		Post(url)
	if err != nil {
		if failure.IsTimeout(err) {
			return Completion{}, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrTimeout, err))
		}
		return Completion{}, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrProviderUnavailable, err))
	}
	if resp.IsError() {
		return Completion{}, failure.FromHTTPStatus(op, resp.StatusCode(), parseRetryAfter(resp.Header().Get("Retry-After")))
	}

	var body geminiResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return Completion{}, failure.Invalidf(op, fmt.Errorf("%w: %v", failure.ErrInvalidResponse, err))
	}
	if body.Error != nil {
		return Completion{}, failure.Invalidf(op, fmt.Errorf("%w: %s", failure.ErrInvalidResponse, body.Error.Message))
	}
	if len(body.Candidates) == 0 || len(body.Candidates[0].Content.Parts) == 0 {
		return Completion{}, failure.Invalidf(op, fmt.Errorf("%w: no content in response", failure.ErrInvalidResponse))
	}

	var text strings.Builder
	for _, part := range body.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Completion{}, failure.Invalidf(op, fmt.Errorf("%w: empty text", failure.ErrInvalidResponse))
	}
	return Completion{Text: text.String(), Tokens: body.UsageMetadata.TotalTokenCount}, nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
