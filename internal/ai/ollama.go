package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/bilgisen/newswire/internal/failure"
)

// OllamaClient generates text with a locally served model
type OllamaClient struct {
	client  *ollama.Client
	model   string
	timeout time.Duration
}

// NewOllamaClient connects to baseURL, or to OLLAMA_HOST when baseURL is empty
func NewOllamaClient(baseURL, model string, timeout time.Duration) (*OllamaClient, error) {
	var (
		client *ollama.Client
		err    error
	)
	if baseURL == "" {
		client, err = ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("ollama client from environment: %w", err)
		}
	} else {
		u, perr := url.Parse(baseURL)
		if perr != nil {
			return nil, fmt.Errorf("parse ollama url: %w", perr)
		}
		client = ollama.NewClient(u, http.DefaultClient)
	}
	return &OllamaClient{client: client, model: model, timeout: timeout}, nil
}

func (o *OllamaClient) Name() string {
	return "ollama"
}

func (o *OllamaClient) Generate(ctx context.Context, prompt string) (Completion, error) {
	const op = "ollama generate"
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var (
		text   strings.Builder
		tokens int
	)
	err := o.client.Generate(ctx, &ollama.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Options: map[string]interface{}{
			"temperature": 0.2,
		},
	}, func(res ollama.GenerateResponse) error {
		text.WriteString(res.Response)
		if res.Done {
			tokens = res.PromptEvalCount + res.EvalCount
		}
		return nil
	})
	if err != nil {
		var se ollama.StatusError
		if errors.As(err, &se) {
			return Completion{}, failure.FromHTTPStatus(op, se.StatusCode, 0)
		}
		if failure.IsTimeout(err) {
			return Completion{}, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrTimeout, err))
		}
		return Completion{}, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrProviderUnavailable, err))
	}
	if strings.TrimSpace(text.String()) == "" {
		return Completion{}, failure.Invalidf(op, fmt.Errorf("%w: empty text", failure.ErrInvalidResponse))
	}
	return Completion{Text: text.String(), Tokens: tokens}, nil
}
