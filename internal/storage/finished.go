package storage

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
)

const finishedColumns = `id, guid, source_article_id, sync_setting_id, title, body, meta, social, tags,
	category, image_url, state, failure_reason, delivery_log, created_at, updated_at`

func scanFinished(row rowScanner) (*models.FinishedArticle, error) {
	var (
		f                         models.FinishedArticle
		social, tags, deliveryLog string
		created, updated          int64
	)
	err := row.Scan(&f.ID, &f.GUID, &f.SourceArticleID, &f.SyncSettingID, &f.Title, &f.Body, &f.Meta,
		&social, &tags, &f.Category, &f.ImageURL, &f.State, &f.FailureReason, &deliveryLog,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(social), &f.Social); err != nil {
		return nil, fmt.Errorf("decode social copy: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &f.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(deliveryLog), &f.DeliveryLog); err != nil {
		return nil, fmt.Errorf("decode delivery log: %w", err)
	}
	f.CreatedAt = fromMillis(created)
	f.UpdatedAt = fromMillis(updated)
	return &f, nil
}

// CreateFinishedArticle inserts the single finished article for a source
// article. When one already exists f is overwritten with the stored row and
// false is returned.
func (s *Store) CreateFinishedArticle(ctx context.Context, f *models.FinishedArticle) (bool, error) {
	if f.GUID == "" {
		f.GUID = uuid.NewString()
	}
	if f.State == "" {
		f.State = models.StatePending
	}
	if f.Tags == nil {
		f.Tags = []string{}
	}
	social, err := json.Marshal(f.Social)
	if err != nil {
		return false, fmt.Errorf("encode social copy: %w", err)
	}
	tags, err := json.Marshal(f.Tags)
	if err != nil {
		return false, fmt.Errorf("encode tags: %w", err)
	}
	now := s.nowMillis()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO finished_articles (guid, source_article_id, sync_setting_id, title, body, meta,
			social, tags, category, image_url, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_article_id) DO NOTHING`,
		f.GUID, f.SourceArticleID, f.SyncSettingID, f.Title, f.Body, f.Meta, string(social),
		string(tags), f.Category, f.ImageURL, f.State, now, now)
	if err != nil {
		return false, fmt.Errorf("create finished article: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.GetFinishedBySource(ctx, f.SourceArticleID)
		if err != nil {
			return false, err
		}
		*f = *existing
		return false, nil
	}
	if f.ID, err = res.LastInsertId(); err != nil {
		return false, fmt.Errorf("create finished article: %w", err)
	}
	f.DeliveryLog = map[string]models.DeliveryStatus{}
	f.CreatedAt = fromMillis(now)
	f.UpdatedAt = f.CreatedAt
	return true, nil
}

func (s *Store) GetFinishedArticle(ctx context.Context, id int64) (*models.FinishedArticle, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+finishedColumns+` FROM finished_articles WHERE id = ?`, id)
	f, err := scanFinished(row)
	if err != nil {
		return nil, notFound("get finished article", err)
	}
	return f, nil
}

func (s *Store) GetFinishedBySource(ctx context.Context, sourceID int64) (*models.FinishedArticle, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+finishedColumns+` FROM finished_articles WHERE source_article_id = ?`, sourceID)
	f, err := scanFinished(row)
	if err != nil {
		return nil, notFound("get finished article by source", err)
	}
	return f, nil
}

// FinishedFilter narrows ListFinishedArticles
type FinishedFilter struct {
	SettingID int64
	State     models.ArticleState
	Limit     uint64
	Offset    uint64
}

func (s *Store) ListFinishedArticles(ctx context.Context, f FinishedFilter) ([]*models.FinishedArticle, error) {
	q := builder.Select(finishedColumns).From("finished_articles").OrderBy("id DESC")
	if f.SettingID > 0 {
		q = q.Where(sq.Eq{"sync_setting_id": f.SettingID})
	}
	if f.State != "" {
		q = q.Where(sq.Eq{"state": f.State})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}

	rows, err := s.queryBuilder(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list finished articles: %w", err)
	}
	defer rows.Close()

	var out []*models.FinishedArticle
	for rows.Next() {
		f, err := scanFinished(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finished article: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SaveRewrite stores the generated title and body and moves a pending
// article to title_ready. It reports false when another attempt got there first.
func (s *Store) SaveRewrite(ctx context.Context, id int64, title, body string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE finished_articles SET title = ?, body = ?, state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		title, body, models.StateTitleReady, s.nowMillis(), id, models.StatePending)
	if err != nil {
		return false, fmt.Errorf("save rewrite: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Advance moves the article forward to `to`. Regressions and moves out of
// failed never match the WHERE clause and report false.
func (s *Store) Advance(ctx context.Context, id int64, to models.ArticleState) (bool, error) {
	if to == models.StateFailed {
		return s.MarkFailed(ctx, id, "")
	}
	from := to.Predecessors()
	if len(from) == 0 {
		return false, nil
	}
	query, args, err := builder.Update("finished_articles").
		Set("state", to).
		Set("updated_at", s.nowMillis()).
		Where(sq.Eq{"id": id, "state": from}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build advance: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("advance finished article to %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkFailed moves the article to the terminal failed state
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE finished_articles SET state = ?, failure_reason = ?, updated_at = ?
		WHERE id = ? AND state != ?`,
		models.StateFailed, reason, s.nowMillis(), id, models.StateFailed)
	if err != nil {
		return false, fmt.Errorf("mark finished article failed: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinishedUpdate carries the enrichment fields to overwrite. Nil fields are left alone.
type FinishedUpdate struct {
	Meta     *string
	Social   *models.SocialCopy
	Tags     []string
	Category *string
	ImageURL *string
}

func (s *Store) UpdateFinished(ctx context.Context, id int64, u FinishedUpdate) error {
	q := builder.Update("finished_articles").Set("updated_at", s.nowMillis()).Where(sq.Eq{"id": id})
	if u.Meta != nil {
		q = q.Set("meta", *u.Meta)
	}
	if u.Social != nil {
		social, err := json.Marshal(u.Social)
		if err != nil {
			return fmt.Errorf("encode social copy: %w", err)
		}
		q = q.Set("social", string(social))
	}
	if u.Tags != nil {
		tags, err := json.Marshal(u.Tags)
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		q = q.Set("tags", string(tags))
	}
	if u.Category != nil {
		q = q.Set("category", *u.Category)
	}
	if u.ImageURL != nil {
		q = q.Set("image_url", *u.ImageURL)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build finished update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update finished article: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return failure.NotFoundf("update finished article", failure.ErrNotFound)
	}
	return nil
}

// SetDeliveryStatus overwrites one site's entry in the article's delivery log
func (s *Store) SetDeliveryStatus(ctx context.Context, id, siteID int64, status models.DeliveryStatus) error {
	if status.At.IsZero() {
		status.At = s.now().UTC()
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode delivery status: %w", err)
	}
	path := fmt.Sprintf(`$."%s"`, models.SiteKey(siteID))
	_, err = s.db.ExecContext(ctx, `
		UPDATE finished_articles SET delivery_log = json_set(delivery_log, ?, json(?)), updated_at = ?
		WHERE id = ?`,
		path, string(raw), s.nowMillis(), id)
	if err != nil {
		return fmt.Errorf("set delivery status: %w", err)
	}
	return nil
}
