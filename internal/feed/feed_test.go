package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/cache"
	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/responselog"
	"github.com/bilgisen/newswire/internal/storage"
)

func TestMatcherLocations(t *testing.T) {
	tests := []struct {
		name     string
		location models.KeywordLocation
		title    string
		body     string
		want     bool
	}{
		{"title only, keyword in body", models.LocationTitle, "City news", "The budget was approved", false},
		{"title only, keyword in title", models.LocationTitle, "Budget approved", "The council voted", true},
		{"body only", models.LocationBody, "Budget approved", "The council voted", false},
		{"title or body", models.LocationTitleOrBody, "City news", "The budget was approved", true},
		{"title and body, one side", models.LocationTitleAndBody, "Budget approved", "The council voted", false},
		{"title and body, both", models.LocationTitleAndBody, "Budget approved", "A budget of 3M", true},
		{"whole word only", models.LocationTitle, "Budgetary concerns", "", false},
		{"case insensitive", models.LocationTitle, "BUDGET day", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher([]string{"budget"}, tt.location)
			if got := m.Match(tt.title, tt.body); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.title, tt.body, got, tt.want)
			}
		})
	}
}

func TestMatcherPhraseAndUnicode(t *testing.T) {
	m := NewMatcher([]string{"city hall", "élection"}, models.LocationTitle)
	if !m.Match("Protest at City  Hall", "") {
		t.Error("phrase with extra whitespace should match")
	}
	if !m.Match("Résultats de l'élection", "") {
		t.Error("accented keyword should match")
	}
	if m.Match("Réélection prévue", "") {
		t.Error("keyword inside a longer word must not match")
	}
}

func TestTweetTitle(t *testing.T) {
	short := "Polls are open"
	if got := tweetTitle(short); got != short {
		t.Errorf("tweetTitle(short) = %q", got)
	}
	long := strings.Repeat("election news ", 20)
	got := tweetTitle(long)
	if !strings.HasSuffix(got, "...") || len([]rune(got)) > tweetTitleRunes+3 {
		t.Errorf("tweetTitle(long) = %q", got)
	}
}

type newsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

func newsServer(t *testing.T, hits *int32, articles []newsArticle) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/v2/everything" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "articles": articles})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	store *storage.Store
	logs  *responselog.Log
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return testEnv{store: s, logs: responselog.New(s.DB(), zerolog.Nop())}
}

func electionArticles() []newsArticle {
	now := time.Now().UTC().Format(time.RFC3339)
	return []newsArticle{
		{Title: "Election day arrives", Description: "Voters head out.", URL: "https://n.example/1", PublishedAt: now},
		{Title: "Weather turns cold", Description: "Snow expected.", URL: "https://n.example/2", PublishedAt: now},
		{Title: "Markets rally", Description: "The election result lifted stocks.", URL: "https://n.example/3", PublishedAt: now},
		{Title: "Local team wins", Description: "A late goal.", URL: "https://n.example/4", PublishedAt: now},
		{Title: "New bakery opens", Description: "Fresh bread daily.", URL: "https://n.example/5", PublishedAt: now},
	}
}

func TestSearchAndIngest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	var hits int32
	srv := newsServer(t, &hits, electionArticles())

	fetcher := NewFetcher(cache.NewMemoryCache(), time.Minute, 5*time.Second, zerolog.Nop())
	ing := NewIngestor(env.store, env.logs, 50, zerolog.Nop(), NewNewsClient(fetcher, srv.URL, "secret"))

	setting := &models.SyncSetting{
		Name: "elections", Keywords: []string{"election"}, KeywordLocation: models.LocationTitleOrBody,
		Provider: models.ProviderNews, Status: models.StatusPublish,
	}
	if err := env.store.CreateSetting(ctx, setting); err != nil {
		t.Fatal(err)
	}

	res, err := ing.SearchAndIngest(ctx, setting)
	if err != nil {
		t.Fatalf("SearchAndIngest: %v", err)
	}
	want := models.SyncTotals{Found: 5, Existing: 0, New: 2, Omitted: 3}
	if res.SyncTotals != want {
		t.Errorf("totals = %+v, want %+v", res.SyncTotals, want)
	}
	if len(res.Pending) != 2 || len(res.Candidates) != 5 {
		t.Errorf("pending = %v, candidates = %d", res.Pending, len(res.Candidates))
	}

	// Second run is served from the cache and only finds existing articles,
	// which are still pending because nothing routed them yet.
	res, err = ing.SearchAndIngest(ctx, setting)
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 0 || res.Existing != 2 {
		t.Errorf("second run totals = %+v", res.SyncTotals)
	}
	if len(res.Pending) != 2 {
		t.Errorf("second run pending = %v", res.Pending)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("provider hit %d times, want 1", got)
	}

	stored, _ := env.store.GetSetting(ctx, setting.ID)
	if stored.Totals.Found != 10 || stored.Totals.New != 2 {
		t.Errorf("stored totals = %+v", stored.Totals)
	}

	logs, _ := env.logs.List(ctx, responselog.Filter{Group: models.GroupIngest})
	if len(logs) != 2 || !logs[0].Success {
		t.Errorf("ingest log entries = %+v", logs)
	}

	// Once routed, existing articles are not handed out again even in flag new.
	if err := env.store.MarkRouted(ctx, res.Pending); err != nil {
		t.Fatal(err)
	}
	res, err = ing.SearchAndIngest(ctx, setting)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Pending) != 0 || res.Existing != 2 {
		t.Errorf("run after routing: pending = %v, totals = %+v", res.Pending, res.SyncTotals)
	}
}

func TestSearchAndIngestNoKeyword(t *testing.T) {
	env := newTestEnv(t)
	ing := NewIngestor(env.store, env.logs, 50, zerolog.Nop())

	_, err := ing.SearchAndIngest(context.Background(), &models.SyncSetting{ID: 1, Keywords: []string{" "}, Provider: models.ProviderNews})
	if failure.KindOf(err) != failure.Configuration {
		t.Errorf("err = %v, want configuration", err)
	}
}

func TestSearchAndIngestProviderUnavailable(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	fetcher := NewFetcher(nil, 0, 5*time.Second, zerolog.Nop())
	ing := NewIngestor(env.store, env.logs, 50, zerolog.Nop(), NewNewsClient(fetcher, srv.URL, "secret"))
	setting := &models.SyncSetting{Name: "s", Keywords: []string{"x"}, Provider: models.ProviderNews}
	if err := env.store.CreateSetting(ctx, setting); err != nil {
		t.Fatal(err)
	}

	_, err := ing.SearchAndIngest(ctx, setting)
	if failure.KindOf(err) != failure.Transient {
		t.Fatalf("err = %v, want transient", err)
	}
	articles, _ := env.store.ListSourceArticles(ctx, storage.ArticleFilter{SettingID: setting.ID})
	if len(articles) != 0 {
		t.Errorf("provider failure stored %d articles", len(articles))
	}
	logs, _ := env.logs.List(ctx, responselog.Filter{OnlyErrors: true})
	if len(logs) != 1 {
		t.Errorf("error log entries = %d, want 1", len(logs))
	}
}

func TestTweetSearchNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token")
		}
		if !strings.Contains(r.URL.Query().Get("query"), "election") {
			t.Errorf("query = %q", r.URL.Query().Get("query"))
		}
		w.Write([]byte(`{
			"data":[{"id":"111","text":"Election results are in","created_at":"2024-05-01T10:00:00Z","lang":"en","attachments":{"media_keys":["m1"]}}],
			"includes":{"media":[{"media_key":"m1","type":"photo","url":"https://img.example/m1.jpg"}]}
		}`))
	}))
	defer srv.Close()

	client := NewTweetClient(NewFetcher(nil, 0, 5*time.Second, zerolog.Nop()), srv.URL, "tok")
	res, err := client.Search(context.Background(), Query{Keywords: []string{"election"}, Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 1 {
		t.Fatalf("items = %d", len(res.Items))
	}
	it := res.Items[0]
	if it.SourceURL != "https://twitter.com/i/web/status/111" || it.ImageURL != "https://img.example/m1.jpg" || it.Title != "Election results are in" {
		t.Errorf("item = %+v", it)
	}
}

func TestParserKeepsProviderOrder(t *testing.T) {
	p := NewParser()
	items := []models.RawItem{
		{Title: "<b>First</b>", SourceURL: "u1"},
		{Title: "", SourceURL: "u2"},
		{Title: "Third &amp; last", SourceURL: "u3", Body: "Text … [+1200 chars]"},
	}
	valid, errs := p.ProcessItems(context.Background(), items)
	if len(errs) != 1 || len(valid) != 2 {
		t.Fatalf("valid = %d, errs = %d", len(valid), len(errs))
	}
	if valid[0].Title != "First" || valid[1].Title != "Third & last" || valid[1].Body != "Text" {
		t.Errorf("valid = %+v", valid)
	}
}

func TestValidateItemRejectsTitlesWithoutWords(t *testing.T) {
	p := NewParser()
	tests := []struct {
		title string
		valid bool
	}{
		{"Budget passes", true},
		{"2026", true},
		{"!!!", false},
		{" -- ... ", false},
		{"[Removed]", false},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			err := p.ValidateItem(models.RawItem{Title: tt.title, SourceURL: "https://n.example/x"})
			if (err == nil) != tt.valid {
				t.Errorf("ValidateItem(%q) err = %v, want valid %v", tt.title, err, tt.valid)
			}
		})
	}
}
