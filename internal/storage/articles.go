package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/bilgisen/newswire/internal/models"
	"github.com/bilgisen/newswire/internal/utils"
)

const sourceColumns = `id, provider, uri, fingerprint, title, body, source_url, image_url, language,
	published_at, category, title_words, body_words, sync_setting_id, flag, body_extracted,
	routed_at, created_at, updated_at`

func scanSourceArticle(row rowScanner) (*models.SourceArticle, error) {
	var (
		a                                   models.SourceArticle
		published, routed, created, updated int64
	)
	err := row.Scan(&a.ID, &a.Provider, &a.URI, &a.Fingerprint, &a.Title, &a.Body, &a.SourceURL,
		&a.ImageURL, &a.Language, &published, &a.Category, &a.TitleWords, &a.BodyWords,
		&a.SyncSettingID, &a.Flag, &a.BodyExtracted, &routed, &created, &updated)
	if err != nil {
		return nil, err
	}
	if routed > 0 {
		t := fromMillis(routed)
		a.RoutedAt = &t
	}
	a.PublishedAt = fromMillis(published)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

// InsertSourceArticle stores a as a new article unless one with the same
// (provider, fingerprint) or uri already exists. The unique keys decide, so
// concurrent or redelivered ingests attach to the existing row. a.ID is set
// either way.
func (s *Store) InsertSourceArticle(ctx context.Context, a *models.SourceArticle) (bool, error) {
	if a.Fingerprint == "" {
		a.Fingerprint = utils.Fingerprint(a.Title)
	}
	if a.Flag == "" {
		a.Flag = models.FlagNew
	}
	a.TitleWords = utils.WordCount(a.Title)
	a.BodyWords = utils.WordCount(a.Body)
	now := s.nowMillis()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO source_articles (provider, uri, fingerprint, title, body, source_url, image_url,
			language, published_at, category, title_words, body_words, sync_setting_id, flag,
			body_extracted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		a.Provider, a.URI, a.Fingerprint, a.Title, a.Body, a.SourceURL, a.ImageURL, a.Language,
		toMillis(a.PublishedAt), a.Category, a.TitleWords, a.BodyWords, a.SyncSettingID, a.Flag,
		a.BodyExtracted, now, now)
	if err != nil {
		return false, fmt.Errorf("insert source article: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert source article: %w", err)
	}
	if n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("insert source article: %w", err)
		}
		a.ID = id
		a.CreatedAt = fromMillis(now)
		a.UpdatedAt = a.CreatedAt
		return true, nil
	}

	existing, err := s.FindSourceArticle(ctx, a.Provider, a.Fingerprint, a.URI)
	if err != nil {
		return false, err
	}
	*a = *existing
	return false, nil
}

// FindSourceArticle looks an article up by its dedup keys
func (s *Store) FindSourceArticle(ctx context.Context, provider models.Provider, fingerprint, uri string) (*models.SourceArticle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM source_articles
		WHERE (provider = ? AND fingerprint = ?) OR uri = ? ORDER BY id LIMIT 1`,
		provider, fingerprint, uri)
	a, err := scanSourceArticle(row)
	if err != nil {
		return nil, notFound("find source article", err)
	}
	return a, nil
}

func (s *Store) GetSourceArticle(ctx context.Context, id int64) (*models.SourceArticle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM source_articles WHERE id = ?`, id)
	a, err := scanSourceArticle(row)
	if err != nil {
		return nil, notFound("get source article", err)
	}
	return a, nil
}

// ArticleFilter narrows ListSourceArticles
type ArticleFilter struct {
	IDs       []int64
	SettingID int64
	Provider  models.Provider
	Flag      models.Lifecycle
	Limit     uint64
	Offset    uint64
}

func (s *Store) ListSourceArticles(ctx context.Context, f ArticleFilter) ([]*models.SourceArticle, error) {
	q := builder.Select(sourceColumns).From("source_articles").OrderBy("id")
	if len(f.IDs) > 0 {
		q = q.Where(sq.Eq{"id": f.IDs})
	}
	if f.SettingID > 0 {
		q = q.Where(sq.Eq{"sync_setting_id": f.SettingID})
	}
	if f.Provider != "" {
		q = q.Where(sq.Eq{"provider": f.Provider})
	}
	if f.Flag != "" {
		q = q.Where(sq.Eq{"flag": f.Flag})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}

	rows, err := s.queryBuilder(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list source articles: %w", err)
	}
	defer rows.Close()

	var out []*models.SourceArticle
	for rows.Next() {
		a, err := scanSourceArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source article: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountByFingerprint counts articles sharing a dedup key
func (s *Store) CountByFingerprint(ctx context.Context, provider models.Provider, fingerprint string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM source_articles WHERE provider = ? AND fingerprint = ?`,
		provider, fingerprint).Scan(&n)
	return n, err
}

// TransitionFlag moves an article to `to` only if it currently holds one of
// `from`. The boolean reports whether this caller won the transition.
func (s *Store) TransitionFlag(ctx context.Context, id int64, from []models.Lifecycle, to models.Lifecycle) (bool, error) {
	n, err := s.transitionFlags(ctx, []int64{id}, from, to)
	return n == 1, err
}

// TransitionFlags applies TransitionFlag to a set of ids and returns how many moved
func (s *Store) TransitionFlags(ctx context.Context, ids []int64, from []models.Lifecycle, to models.Lifecycle) (int64, error) {
	return s.transitionFlags(ctx, ids, from, to)
}

func (s *Store) transitionFlags(ctx context.Context, ids []int64, from []models.Lifecycle, to models.Lifecycle) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := builder.Update("source_articles").
		Set("flag", to).
		Set("updated_at", s.nowMillis()).
		Where(sq.Eq{"id": ids, "flag": from}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build flag transition: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("transition flag to %s: %w", to, err)
	}
	return res.RowsAffected()
}

// SaveExtractedBody stores the full text pulled from the source page. The
// lead image is only filled when the provider gave none.
func (s *Store) SaveExtractedBody(ctx context.Context, id int64, body, imageURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE source_articles
		SET body = ?, body_words = ?, body_extracted = 1,
			image_url = CASE WHEN image_url = '' THEN ? ELSE image_url END,
			updated_at = ?
		WHERE id = ?`,
		body, utils.WordCount(body), imageURL, s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("save extracted body: %w", err)
	}
	return nil
}

// MarkRouted records that the next task of each article has been queued.
// Articles already routed keep their first timestamp.
func (s *Store) MarkRouted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := builder.Update("source_articles").
		Set("routed_at", s.nowMillis()).
		Where(sq.Eq{"id": ids, "routed_at": 0}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark routed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark routed: %w", err)
	}
	return nil
}

// ClearRouted drops the routed stamp of articles still in flag new, so the
// next sync run of their setting routes them again
func (s *Store) ClearRouted(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := builder.Update("source_articles").
		Set("routed_at", 0).
		Set("updated_at", s.nowMillis()).
		Where(sq.Eq{"id": ids, "flag": models.FlagNew}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build clear routed: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear routed: %w", err)
	}
	return res.RowsAffected()
}

// ClaimArticle moves a selected article to rewriting on behalf of envelope
// claimer. A rewriting article can be reclaimed by the same envelope, which is
// how a recovered envelope resumes, or by anyone once the claim is older than
// staleBefore. The boolean reports whether the caller holds the claim.
func (s *Store) ClaimArticle(ctx context.Context, id, claimer int64, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE source_articles SET flag = ?, claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND (flag = ? OR (flag = ? AND (claimed_by = ? OR claimed_at <= ?)))`,
		models.FlagRewriting, claimer, s.nowMillis(), s.nowMillis(),
		id, models.FlagSelected, models.FlagRewriting, claimer, toMillis(staleBefore))
	if err != nil {
		return false, fmt.Errorf("claim article %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseArticle hands a rewriting article back to selected if claimer still holds it
func (s *Store) ReleaseArticle(ctx context.Context, id, claimer int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE source_articles SET flag = ?, claimed_by = 0, claimed_at = 0, updated_at = ?
		WHERE id = ? AND flag = ? AND claimed_by = ?`,
		models.FlagSelected, s.nowMillis(), id, models.FlagRewriting, claimer)
	if err != nil {
		return fmt.Errorf("release article %d: %w", id, err)
	}
	return nil
}
