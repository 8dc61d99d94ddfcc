package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestProcessor(t *testing.T, maxWidth int) (*Processor, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewLocal(dir, "http://cdn.test/assets/")
	if err != nil {
		t.Fatal(err)
	}
	p := NewProcessor(store, maxWidth, 1<<20, 5*time.Second, zerolog.Nop())
	p.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }
	return p, dir
}

func TestProcessScalesAndStores(t *testing.T) {
	data := pngBytes(t, 400, 200)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	p, dir := newTestProcessor(t, 100)
	res, err := p.Process(context.Background(), srv.URL+"/lead.png", "article-1")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.URL != "http://cdn.test/assets/2024/03/09/article-1.jpg" {
		t.Errorf("url = %q", res.URL)
	}
	if res.Width != 100 || res.Height != 50 {
		t.Errorf("size = %dx%d, want 100x50", res.Width, res.Height)
	}

	stored, err := os.ReadFile(filepath.Join(dir, "2024", "03", "09", "article-1.jpg"))
	if err != nil {
		t.Fatalf("read stored asset: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(stored)); err != nil {
		t.Errorf("stored asset is not a jpeg: %v", err)
	}
}

func TestProcessRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	p, _ := newTestProcessor(t, 100)
	_, err := p.Process(context.Background(), srv.URL, "x")
	if failure.KindOf(err) != failure.Invalid {
		t.Errorf("err = %v, want invalid", err)
	}
}

func TestProcessEmptyURL(t *testing.T) {
	p, _ := newTestProcessor(t, 100)
	_, err := p.Process(context.Background(), "", "x")
	if failure.KindOf(err) != failure.Invalid {
		t.Errorf("err = %v, want invalid", err)
	}
}

func TestProcessServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, _ := newTestProcessor(t, 100)
	_, err := p.Process(context.Background(), srv.URL, "x")
	if failure.KindOf(err) != failure.Transient {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestProcessTooLarge(t *testing.T) {
	data := pngBytes(t, 300, 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	p, _ := newTestProcessor(t, 100)
	p.maxBytes = 64
	_, err := p.Process(context.Background(), srv.URL, "x")
	if failure.KindOf(err) != failure.Invalid {
		t.Errorf("err = %v, want invalid", err)
	}
}
