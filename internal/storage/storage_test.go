package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createSetting(t *testing.T, s *Store) *models.SyncSetting {
	t.Helper()
	st := &models.SyncSetting{
		Name:            "budget watch",
		Keywords:        []string{"budget"},
		KeywordLocation: models.LocationTitle,
		Provider:        models.ProviderNews,
		Status:          models.StatusPublish,
	}
	if err := s.CreateSetting(context.Background(), st); err != nil {
		t.Fatalf("CreateSetting: %v", err)
	}
	return st
}

func TestInsertSourceArticleDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st := createSetting(t, s)

	first := &models.SourceArticle{
		Provider:      models.ProviderNews,
		URI:           "https://example.com/budget-passes",
		Title:         "Budget passes",
		Body:          "The city budget passed.",
		SyncSettingID: st.ID,
	}
	created, err := s.InsertSourceArticle(ctx, first)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	// Same title with different punctuation and a new URI still dedups.
	again := &models.SourceArticle{
		Provider:      models.ProviderNews,
		URI:           "https://mirror.example.com/budget",
		Title:         "BUDGET passes!",
		SyncSettingID: st.ID,
	}
	created, err = s.InsertSourceArticle(ctx, again)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Error("second insert should attach to the existing article")
	}
	if again.ID != first.ID {
		t.Errorf("attached id = %d, want %d", again.ID, first.ID)
	}

	n, err := s.CountByFingerprint(ctx, models.ProviderNews, first.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count by fingerprint = %d, want 1", n)
	}

	// Same URI, different title.
	byURI := &models.SourceArticle{Provider: models.ProviderNews, URI: first.URI, Title: "Other", SyncSettingID: st.ID}
	if created, _ := s.InsertSourceArticle(ctx, byURI); created {
		t.Error("duplicate uri must not create a new article")
	}
}

func TestTransitionFlagIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st := createSetting(t, s)

	a := &models.SourceArticle{Provider: models.ProviderNews, URI: "u1", Title: "Budget", SyncSettingID: st.ID}
	if _, err := s.InsertSourceArticle(ctx, a); err != nil {
		t.Fatal(err)
	}

	ok, err := s.TransitionFlag(ctx, a.ID, []models.Lifecycle{models.FlagNew}, models.FlagSelected)
	if err != nil || !ok {
		t.Fatalf("first transition: ok=%v err=%v", ok, err)
	}
	ok, err = s.TransitionFlag(ctx, a.ID, []models.Lifecycle{models.FlagNew}, models.FlagFilteredOut)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second transition from new should lose")
	}

	got, err := s.GetSourceArticle(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Flag != models.FlagSelected {
		t.Errorf("flag = %s, want selected", got.Flag)
	}
}

func TestClaimArticle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st := createSetting(t, s)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	a := &models.SourceArticle{Provider: models.ProviderNews, URI: "u1", Title: "Budget", SyncSettingID: st.ID, Flag: models.FlagSelected}
	if _, err := s.InsertSourceArticle(ctx, a); err != nil {
		t.Fatal(err)
	}
	stale := now.Add(-time.Minute)

	if ok, err := s.ClaimArticle(ctx, a.ID, 10, stale); err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.ClaimArticle(ctx, a.ID, 11, stale); ok {
		t.Error("a fresh claim must not be taken by another envelope")
	}
	if ok, _ := s.ClaimArticle(ctx, a.ID, 10, stale); !ok {
		t.Error("the holding envelope should reclaim")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := s.ClaimArticle(ctx, a.ID, 11, now.Add(-time.Minute)); !ok {
		t.Error("an expired claim should be taken over")
	}

	// only the current holder can release
	if err := s.ReleaseArticle(ctx, a.ID, 10); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetSourceArticle(ctx, a.ID)
	if got.Flag != models.FlagRewriting {
		t.Errorf("flag = %s after foreign release, want rewriting", got.Flag)
	}
	if err := s.ReleaseArticle(ctx, a.ID, 11); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetSourceArticle(ctx, a.ID)
	if got.Flag != models.FlagSelected {
		t.Errorf("flag = %s after release, want selected", got.Flag)
	}
}

func TestMarkRoutedKeepsFirstTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st := createSetting(t, s)
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return first })

	a := &models.SourceArticle{Provider: models.ProviderNews, URI: "u1", Title: "Budget", SyncSettingID: st.ID}
	if _, err := s.InsertSourceArticle(ctx, a); err != nil {
		t.Fatal(err)
	}
	if a.RoutedAt != nil {
		t.Fatal("new article should not be routed")
	}
	if err := s.MarkRouted(ctx, []int64{a.ID}); err != nil {
		t.Fatal(err)
	}
	s.SetClock(func() time.Time { return first.Add(time.Hour) })
	if err := s.MarkRouted(ctx, []int64{a.ID}); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetSourceArticle(ctx, a.ID)
	if got.RoutedAt == nil || !got.RoutedAt.Equal(first) {
		t.Errorf("routed_at = %v, want %v", got.RoutedAt, first)
	}
}

func TestFinishedArticleLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &models.FinishedArticle{SourceArticleID: 10, SyncSettingID: 1}
	created, err := s.CreateFinishedArticle(ctx, f)
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if f.GUID == "" {
		t.Error("expected a GUID")
	}

	dup := &models.FinishedArticle{SourceArticleID: 10, SyncSettingID: 1}
	created, err = s.CreateFinishedArticle(ctx, dup)
	if err != nil {
		t.Fatal(err)
	}
	if created || dup.ID != f.ID {
		t.Errorf("duplicate create: created=%v id=%d want %d", created, dup.ID, f.ID)
	}

	if ok, _ := s.SaveRewrite(ctx, f.ID, "New title", "New body"); !ok {
		t.Fatal("SaveRewrite should move pending to title_ready")
	}
	if ok, _ := s.SaveRewrite(ctx, f.ID, "Again", "Again"); ok {
		t.Error("SaveRewrite should not apply twice")
	}

	if ok, _ := s.Advance(ctx, f.ID, models.StateReadyForDistribution); !ok {
		t.Fatal("advance to ready_for_distribution failed")
	}
	if ok, _ := s.Advance(ctx, f.ID, models.StateEnriched); ok {
		t.Error("regression to enriched must not apply")
	}

	got, err := s.GetFinishedArticle(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.StateReadyForDistribution || got.Title != "New title" {
		t.Errorf("got state=%s title=%q", got.State, got.Title)
	}
}

func TestUpdateFinishedAndDeliveryLog(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f := &models.FinishedArticle{SourceArticleID: 1, SyncSettingID: 1}
	if _, err := s.CreateFinishedArticle(ctx, f); err != nil {
		t.Fatal(err)
	}

	meta := "A short summary"
	if err := s.UpdateFinished(ctx, f.ID, FinishedUpdate{
		Meta:   &meta,
		Social: &models.SocialCopy{Twitter: "tweet"},
		Tags:   []string{"economy", "city"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.SetDeliveryStatus(ctx, f.ID, 3, models.DeliveryStatus{Status: models.DeliveryQueued}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDeliveryStatus(ctx, f.ID, 3, models.DeliveryStatus{Status: models.DeliverySent, RemoteID: "r-1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDeliveryStatus(ctx, f.ID, 4, models.DeliveryStatus{Status: models.DeliveryFailed, Error: "boom"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetFinishedArticle(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != meta || got.Social.Twitter != "tweet" || len(got.Tags) != 2 {
		t.Errorf("enrichment not stored: %+v", got)
	}
	if got.DeliveryLog["3"].Status != models.DeliverySent || got.DeliveryLog["3"].RemoteID != "r-1" {
		t.Errorf("site 3 delivery = %+v", got.DeliveryLog["3"])
	}
	if got.DeliveryLog["4"].Status != models.DeliveryFailed {
		t.Errorf("site 4 delivery = %+v", got.DeliveryLog["4"])
	}
}

func TestUpsertDeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 2; i++ {
		rec := &models.SiteDeliveryRecord{FinishedArticleID: 1, SiteID: 2, RemoteID: "42", RemoteURL: "https://site/42"}
		if err := s.UpsertDelivery(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if rec.Attempts != i+1 {
			t.Errorf("attempts = %d, want %d", rec.Attempts, i+1)
		}
	}

	recs, err := s.ListDeliveries(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Errorf("got %d delivery records, want 1", len(recs))
	}
}

func TestSettingsCountersAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	st := createSetting(t, s)

	if err := s.RecordSyncRun(ctx, st.ID, models.SyncTotals{Found: 5, New: 2, Omitted: 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSyncRun(ctx, st.ID, models.SyncTotals{Found: 2, Existing: 2}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetSetting(ctx, st.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := models.SyncTotals{Found: 7, Existing: 2, New: 2, Omitted: 3}
	if got.Totals != want {
		t.Errorf("totals = %+v, want %+v", got.Totals, want)
	}
	if got.LastRunAt == nil {
		t.Error("last run should be set")
	}

	if _, err := s.DB().Exec(`INSERT INTO response_log (log_group, source_type, source_id, success, created_at)
		VALUES ('ingest', ?, ?, 1, ?)`, models.SourceSetting, st.ID, time.Now().UnixMilli()); err != nil {
		t.Fatal(err)
	}
	err = s.DeleteSetting(ctx, st.ID)
	if !errors.Is(err, ErrSettingInUse) {
		t.Errorf("DeleteSetting err = %v, want ErrSettingInUse", err)
	}

	if _, err := s.GetSetting(ctx, 999); failure.KindOf(err) != failure.NotFound {
		t.Errorf("missing setting kind = %q", failure.KindOf(err))
	}
}

func TestSitesAndTerms(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	site := &models.Site{Name: "daily", Endpoint: "https://daily.example.com/api", Active: true}
	if err := s.UpsertSite(ctx, site); err != nil {
		t.Fatal(err)
	}
	again := &models.Site{Name: "daily", Endpoint: "https://daily.example.com/v2", Active: false}
	if err := s.UpsertSite(ctx, again); err != nil {
		t.Fatal(err)
	}
	if again.ID != site.ID {
		t.Errorf("upsert by name created id %d, want %d", again.ID, site.ID)
	}

	active, err := s.ListSites(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("got %d active sites, want 0", len(active))
	}

	added, err := s.SaveTerms(ctx, site.ID, models.SiteTerms{Categories: []string{"Politics", "Economy"}, Tags: []string{"budget"}})
	if err != nil || added != 3 {
		t.Fatalf("SaveTerms: added=%d err=%v", added, err)
	}
	added, _ = s.SaveTerms(ctx, site.ID, models.SiteTerms{Categories: []string{"Politics"}})
	if added != 0 {
		t.Errorf("re-saving known term added %d", added)
	}
	terms, err := s.Terms(ctx, site.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(terms.Categories) != 2 || len(terms.Tags) != 1 {
		t.Errorf("terms = %+v", terms)
	}
}
