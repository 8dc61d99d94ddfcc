package distribute

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []models.ResponseLogEntry
}

func (m *memRecorder) Record(ctx context.Context, e models.ResponseLogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func testArticle() *models.FinishedArticle {
	return &models.FinishedArticle{
		ID:       9,
		GUID:     "0b7e3c1a-guid",
		Title:    "Council passes budget",
		Body:     "The council **approved** the budget.\n\nIt passed 7-2.",
		Meta:     "Council approves budget",
		Tags:     []string{"budget", "council"},
		Category: "politics",
		ImageURL: "https://cdn.example.com/a.jpg",
	}
}

func TestDeliverBearer(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"remote_id": 4411, "remote_url": "https://daily.example.com/p/4411"}`))
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c := NewClient(5*time.Second, rec, zerolog.Nop())
	site := &models.Site{ID: 1, Name: "daily", Endpoint: srv.URL, AuthMode: models.AuthBearer, Token: "s3cret"}

	receipt, err := c.Deliver(context.Background(), site, testArticle(), []string{"Politics", "Sports"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if receipt.RemoteID != "4411" || receipt.RemoteURL != "https://daily.example.com/p/4411" {
		t.Errorf("receipt = %+v", receipt)
	}
	if got.Category != "Politics" {
		t.Errorf("category = %q, want site spelling", got.Category)
	}
	if !strings.Contains(got.Body, "<strong>approved</strong>") {
		t.Errorf("body not rendered: %q", got.Body)
	}
	if len(rec.entries) != 1 || !rec.entries[0].Success || rec.entries[0].Group != models.GroupDistribute {
		t.Errorf("log entries = %+v", rec.entries)
	}
}

func TestDeliverAuthModes(t *testing.T) {
	tests := []struct {
		name  string
		site  models.Site
		check func(r *http.Request) bool
	}{
		{"basic", models.Site{AuthMode: models.AuthBasic, Username: "ed", Password: "pw"}, func(r *http.Request) bool {
			u, p, ok := r.BasicAuth()
			return ok && u == "ed" && p == "pw"
		}},
		{"params", models.Site{AuthMode: models.AuthParams, Token: "abc", TokenParam: "api_key"}, func(r *http.Request) bool {
			return r.URL.Query().Get("api_key") == "abc"
		}},
		{"none", models.Site{AuthMode: models.AuthNone}, func(r *http.Request) bool {
			return r.Header.Get("Authorization") == ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !tt.check(r) {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.Write([]byte(`{"remote_id":"x-1"}`))
			}))
			defer srv.Close()

			site := tt.site
			site.Endpoint = srv.URL
			c := NewClient(5*time.Second, &memRecorder{}, zerolog.Nop())
			if _, err := c.Deliver(context.Background(), &site, testArticle(), nil); err != nil {
				t.Fatalf("Deliver: %v", err)
			}
		})
	}
}

func TestDeliverMissingCredentials(t *testing.T) {
	rec := &memRecorder{}
	c := NewClient(time.Second, rec, zerolog.Nop())
	site := &models.Site{ID: 2, Name: "weekly", Endpoint: "http://127.0.0.1:1", AuthMode: models.AuthBearer}
	_, err := c.Deliver(context.Background(), site, testArticle(), nil)
	if failure.KindOf(err) != failure.Configuration {
		t.Errorf("err = %v, want configuration", err)
	}
	if len(rec.entries) != 1 || rec.entries[0].Success {
		t.Errorf("expected one failed log entry, got %+v", rec.entries)
	}
}

func TestDeliverClassification(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   failure.Kind
	}{
		{http.StatusServiceUnavailable, "", failure.Transient},
		{http.StatusTooManyRequests, "", failure.Transient},
		{http.StatusUnprocessableEntity, `{"error":"bad"}`, failure.Invalid},
		{http.StatusOK, `{"ok":true}`, failure.Invalid},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))
		c := NewClient(5*time.Second, &memRecorder{}, zerolog.Nop())
		_, err := c.Deliver(context.Background(), &models.Site{Endpoint: srv.URL}, testArticle(), nil)
		if got := failure.KindOf(err); got != tt.want {
			t.Errorf("status %d: kind = %q, want %q", tt.status, got, tt.want)
		}
		srv.Close()
	}
}

func TestFetchTerms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"categories":["Politics","Sports"],"tags":["budget"]}`))
	}))
	defer srv.Close()

	rec := &memRecorder{}
	c := NewClient(5*time.Second, rec, zerolog.Nop())
	terms, err := c.FetchTerms(context.Background(), &models.Site{ID: 3, TermsEndpoint: srv.URL})
	if err != nil {
		t.Fatalf("FetchTerms: %v", err)
	}
	if len(terms.Categories) != 2 || terms.Tags[0] != "budget" {
		t.Errorf("terms = %+v", terms)
	}
	if len(rec.entries) != 1 || rec.entries[0].Group != models.GroupTerms || rec.entries[0].SourceID != 3 {
		t.Errorf("log entries = %+v", rec.entries)
	}
}

func TestMatchCategory(t *testing.T) {
	known := []string{"World News", "Politics"}
	if got := MatchCategory("world news", known); got != "World News" {
		t.Errorf("got %q", got)
	}
	if got := MatchCategory("Tech", known); got != "Tech" {
		t.Errorf("got %q", got)
	}
	if got := MatchCategory(" ", known); got != "" {
		t.Errorf("got %q", got)
	}
}
