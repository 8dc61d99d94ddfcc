package middleware

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
)

func TestAdminOnly(t *testing.T) {
	app := fiber.New()
	app.Use(AdminOnly("top-secret", zerolog.Nop()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"wrong", APIKeyHeader, "nope", fiber.StatusForbidden},
		{"header", APIKeyHeader, "top-secret", fiber.StatusOK},
		{"bearer", fiber.HeaderAuthorization, "Bearer top-secret", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestAdminOnlyEmptyKeyRefusesEverything(t *testing.T) {
	app := fiber.New()
	app.Use(AdminOnly("", zerolog.Nop()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(APIKeyHeader, "anything")
	resp, _ := app.Test(req)
	if resp.StatusCode != fiber.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{failure.NotFoundf("get", failure.ErrNotFound), 404},
		{fmt.Errorf("wrap: %w", failure.Invalidf("x", errors.New("bad"))), 422},
		{failure.Configurationf("run", failure.ErrNoKeyword), 400},
		{failure.RateLimited("gemini", 0), 503},
		{fiber.NewError(409, "conflict"), 409},
		{&ValidationError{Message: "Validation failed"}, 422},
		{errors.New("boom"), 500},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestValidatorFields(t *testing.T) {
	type req struct {
		Name string `validate:"required"`
	}
	err := NewValidator().Validate(&req{})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Fields["Name"] != "required" {
		t.Errorf("err = %v", err)
	}
}
