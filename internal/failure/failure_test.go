package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), Transient},
		{"no keyword", fmt.Errorf("run: %w", ErrNoKeyword), Configuration},
		{"invalid sentinel", ErrInvalidResponse, Invalid},
		{"not found sentinel", fmt.Errorf("load: %w", ErrNotFound), NotFound},
		{"wrapped classified", fmt.Errorf("outer: %w", Invalidf("parse", errors.New("bad json"))), Invalid},
		{"rate limited", RateLimited("gemini", time.Second), Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("call: %w", RateLimited("gemini", 30*time.Second))
	if got := RetryAfter(err); got != 30*time.Second {
		t.Errorf("RetryAfter() = %v, want 30s", got)
	}
	if got := RetryAfter(errors.New("x")); got != 0 {
		t.Errorf("RetryAfter() = %v, want 0", got)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(fmt.Errorf("x: %w", context.DeadlineExceeded)) {
		t.Error("deadline exceeded should be a timeout")
	}
	if IsTimeout(errors.New("x")) {
		t.Error("plain error should not be a timeout")
	}
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{429, Transient},
		{503, Transient},
		{401, Configuration},
		{404, NotFound},
		{422, Invalid},
	}
	for _, tt := range tests {
		if got := KindOf(FromHTTPStatus("op", tt.status, 0)); got != tt.want {
			t.Errorf("status %d: kind = %q, want %q", tt.status, got, tt.want)
		}
	}
}
