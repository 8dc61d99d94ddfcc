package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/bilgisen/newswire/internal/failure"
)

const jpegQuality = 85

// ErrNoImage means the article has no usable lead image
var ErrNoImage = errors.New("no image")

// Store persists a normalized image and returns its public URL
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Result describes a stored lead image
type Result struct {
	URL    string
	Key    string
	Width  int
	Height int
	Bytes  int
}

// Processor downloads remote images and stores them as bounded-width JPEGs
type Processor struct {
	client   *resty.Client
	store    Store
	maxWidth int
	maxBytes int64
	now      func() time.Time
	log      zerolog.Logger
}

func NewProcessor(store Store, maxWidth int, maxBytes int64, timeout time.Duration, log zerolog.Logger) *Processor {
	return &Processor{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Accept", "image/*"),
		store:    store,
		maxWidth: maxWidth,
		maxBytes: maxBytes,
		now:      time.Now,
		log:      log,
	}
}

// Process fetches imageURL, normalizes it and stores it under a dated key
// derived from name. An empty URL yields ErrNoImage.
func (p *Processor) Process(ctx context.Context, imageURL, name string) (Result, error) {
	const op = "image"
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" || !(strings.HasPrefix(imageURL, "http://") || strings.HasPrefix(imageURL, "https://")) {
		return Result{}, failure.Invalidf(op, ErrNoImage)
	}

	raw, err := p.fetch(ctx, imageURL)
	if err != nil {
		return Result{}, err
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Result{}, failure.Invalidf(op, fmt.Errorf("%w: decode image: %v", failure.ErrInvalidResponse, err))
	}
	img = scale(img, p.maxWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Result{}, fmt.Errorf("encode jpeg: %w", err)
	}

	key := path.Join(p.now().UTC().Format("2006/01/02"), name+".jpg")
	url, err := p.store.Put(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return Result{}, failure.Transientf(op, fmt.Errorf("store %s: %w", key, err))
	}

	b := img.Bounds()
	p.log.Debug().
		Str("source", imageURL).
		Str("format", format).
		Str("key", key).
		Int("width", b.Dx()).
		Int("bytes", buf.Len()).
		Msg("Stored lead image")

	return Result{URL: url, Key: key, Width: b.Dx(), Height: b.Dy(), Bytes: buf.Len()}, nil
}

func (p *Processor) fetch(ctx context.Context, imageURL string) ([]byte, error) {
	const op = "image fetch"
	resp, err := p.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(imageURL)
	if err != nil {
		if failure.IsTimeout(err) {
			return nil, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrTimeout, err))
		}
		return nil, failure.Transientf(op, fmt.Errorf("%w: %v", failure.ErrProviderUnavailable, err))
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		if resp.StatusCode() == 404 || resp.StatusCode() == 410 {
			return nil, failure.Invalidf(op, fmt.Errorf("%w: status %d", ErrNoImage, resp.StatusCode()))
		}
		return nil, failure.FromHTTPStatus(op, resp.StatusCode(), 0)
	}

	raw, err := io.ReadAll(io.LimitReader(body, p.maxBytes+1))
	if err != nil {
		return nil, failure.Transientf(op, err)
	}
	if int64(len(raw)) > p.maxBytes {
		return nil, failure.Invalidf(op, fmt.Errorf("%w: image larger than %d bytes", failure.ErrInvalidResponse, p.maxBytes))
	}
	return raw, nil
}

// scale shrinks img to maxWidth keeping the aspect ratio
func scale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
