package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/bilgisen/newswire/internal/failure"
)

// Completion is the raw text a generator returned and its token cost
type Completion struct {
	Text   string
	Tokens int
}

// Generator turns a prompt into free text. Implementations classify their
// errors with the failure package: rate limits and timeouts are transient,
// empty or unreadable replies are invalid.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Completion, error)
	Name() string
}

// Limited throttles a Generator to a fixed request rate
type Limited struct {
	gen     Generator
	limiter *rate.Limiter
}

func NewLimited(gen Generator, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{gen: gen, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Name() string {
	return l.gen.Name()
}

func (l *Limited) Generate(ctx context.Context, prompt string) (Completion, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Completion{}, failure.Transientf(l.gen.Name(), fmt.Errorf("%w: waiting for rate limiter: %v", failure.ErrTimeout, err))
	}
	return l.gen.Generate(ctx, prompt)
}
