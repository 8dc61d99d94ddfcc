package app

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/config"
	"github.com/bilgisen/newswire/internal/middleware"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	sites := filepath.Join(dir, "sites.yaml")
	content := "sites:\n  - name: daily\n    endpoint: https://daily.example.com/api/articles\n    active: true\n"
	if err := os.WriteFile(sites, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Port:                   "0",
		HTTPTimeout:            5 * time.Second,
		AdminAPIKey:            "key",
		DatabasePath:           ":memory:",
		ProviderCacheTTL:       time.Minute,
		NewsAPIURL:             "http://news.invalid",
		TweetAPIURL:            "http://tweets.invalid",
		ProviderLimit:          10,
		FetchTimeout:           time.Second,
		AIBackend:              "gemini",
		AIModel:                "test-model",
		AITimeout:              time.Second,
		AIRequestsPerSec:       10,
		RewriteAttempts:        2,
		MaxFilterBatchSize:     10,
		QueueBatchSize:         10,
		QueueMaxAttempts:       3,
		RewriteMaxAttempts:     2,
		QueueVisibilityTimeout: time.Minute,
		MaxConcurrency:         1,
		TickInterval:           time.Minute,
		SyncInterval:           time.Hour,
		AssetBackend:           "local",
		AssetPath:              filepath.Join(dir, "assets"),
		AssetPublicURL:         "http://localhost/assets",
		ImageMaxWidth:          800,
		MaxImageBytes:          1 << 20,
		SitesFile:              sites,
	}
}

func TestNewWiresEverything(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	sites, err := a.Store.ListSites(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 1 || sites[0].Name != "daily" {
		t.Errorf("seeded sites = %+v", sites)
	}

	server := a.Server()
	resp, err := server.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("health = %d", resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/api/v1/admin/queue", nil)
	req.Header.Set(middleware.APIKeyHeader, "key")
	resp, err = server.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("queue = %d", resp.StatusCode)
	}
}

func TestNewRejectsBadSitesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.SitesFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing sites file")
	}
}
