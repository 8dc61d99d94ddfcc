package responselog

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/storage"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s.DB(), zerolog.Nop())
}

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	l.Record(ctx, models.ResponseLogEntry{
		Group: models.GroupFilter, SourceType: models.SourceSetting, SourceID: 1,
		Request: "prompt", Response: "not json", Duration: 1500 * time.Millisecond, Error: "invalid response",
	})
	l.Record(ctx, models.ResponseLogEntry{
		Group: models.GroupRewrite, SourceType: models.SourceArticleT, SourceID: 7,
		Response: `{"title":"x"}`, Success: true, Cost: 120,
	})

	all, err := l.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Group != models.GroupRewrite {
		t.Fatalf("List = %+v", all)
	}

	errs, err := l.List(ctx, Filter{OnlyErrors: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].Response != "not json" || errs[0].Duration != 1500*time.Millisecond {
		t.Errorf("errors = %+v", errs)
	}

	bySource, _ := l.List(ctx, Filter{SourceType: models.SourceArticleT, SourceID: 7})
	if len(bySource) != 1 || bySource[0].Cost != 120 {
		t.Errorf("by source = %+v", bySource)
	}
}

func TestRecordTruncatesLargeBodies(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)

	l.Record(ctx, models.ResponseLogEntry{Group: models.GroupIngest, SourceType: models.SourceSetting, Response: strings.Repeat("a", maxField*2), Success: true})
	got, _ := l.List(ctx, Filter{})
	if len(got) != 1 || len(got[0].Response) > maxField+32 {
		t.Errorf("response not truncated: len=%d", len(got[0].Response))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes, so an odd prefix puts the cap inside a rune
	s := "x" + strings.Repeat("é", maxField)
	got := truncate(s)
	if !utf8.ValidString(got) {
		t.Fatal("truncated text is not valid UTF-8")
	}
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Errorf("missing marker: %q", got[len(got)-20:])
	}
}

func TestRecordSwallowsWriteErrors(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	l := New(s.DB(), zerolog.Nop())
	s.Close()

	// Must not panic or block after the database is gone.
	l.Record(context.Background(), models.ResponseLogEntry{Group: models.GroupQueue})
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	l.Record(ctx, models.ResponseLogEntry{Group: models.GroupIngest, CreatedAt: old})
	l.Record(ctx, models.ResponseLogEntry{Group: models.GroupIngest, CreatedAt: old.Add(48 * time.Hour)})

	n, err := l.Purge(ctx, old.Add(24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v", n, err)
	}
	n, _ = l.Purge(ctx, time.Time{})
	if n != 1 {
		t.Errorf("full purge deleted %d, want 1", n)
	}
}
