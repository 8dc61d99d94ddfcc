package middleware

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
)

// Validator is a struct that holds the validator instance
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// ValidationError lists the failing fields of a request
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate validates s and reports failing fields as a *ValidationError
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return &ValidationError{Message: "Validation failed", Fields: fields}
}

// Bind parses the request body into dst and validates it
func (v *Validator) Bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return v.Validate(dst)
}

// BindQuery parses query parameters into dst and validates it
func (v *Validator) BindQuery(c *fiber.Ctx, dst any) error {
	if err := c.QueryParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid query parameters: "+err.Error())
	}
	return v.Validate(dst)
}

// StatusFor maps an error onto an HTTP status code
func StatusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return fiber.StatusUnprocessableEntity
	}
	var classified *failure.Error
	if !errors.As(err, &classified) {
		switch {
		case errors.Is(err, failure.ErrNotFound):
			return fiber.StatusNotFound
		case errors.Is(err, failure.ErrInvalidResponse):
			return fiber.StatusUnprocessableEntity
		case errors.Is(err, failure.ErrNoKeyword), errors.Is(err, failure.ErrMissingCredentials):
			return fiber.StatusBadRequest
		}
		return fiber.StatusInternalServerError
	}
	switch classified.Kind {
	case failure.NotFound:
		return fiber.StatusNotFound
	case failure.Invalid:
		return fiber.StatusUnprocessableEntity
	case failure.Configuration:
		return fiber.StatusBadRequest
	case failure.Transient:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders errors as JSON with a status derived from their failure kind
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusFor(err)

		event := log.Warn()
		if code >= fiber.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Err(err).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", code).
			Msg("HTTP error")

		body := fiber.Map{"error": err.Error()}
		var ve *ValidationError
		switch {
		case errors.As(err, &ve):
			body["fields"] = ve.Fields
		case code == fiber.StatusInternalServerError:
			body["error"] = http.StatusText(code)
		}
		return c.Status(code).JSON(body)
	}
}
