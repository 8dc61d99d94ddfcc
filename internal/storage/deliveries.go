package storage

import (
	"context"
	"fmt"

	"github.com/bilgisen/newswire/internal/models"
)

// UpsertDelivery records a remote reference for (article, site, remote id).
// Repeating a delivery bumps attempts on the existing row.
func (s *Store) UpsertDelivery(ctx context.Context, rec *models.SiteDeliveryRecord) error {
	now := s.nowMillis()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO site_delivery_records (finished_article_id, site_id, remote_id, remote_url,
			attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(finished_article_id, site_id, remote_id) DO UPDATE SET
			remote_url = excluded.remote_url,
			attempts = site_delivery_records.attempts + 1,
			updated_at = excluded.updated_at
		RETURNING id, attempts, created_at`,
		rec.FinishedArticleID, rec.SiteID, rec.RemoteID, rec.RemoteURL, now, now)

	var created int64
	if err := row.Scan(&rec.ID, &rec.Attempts, &created); err != nil {
		return fmt.Errorf("upsert delivery record: %w", err)
	}
	rec.CreatedAt = fromMillis(created)
	rec.UpdatedAt = fromMillis(now)
	return nil
}

// ListDeliveries returns delivery records for one article, or all when finishedID is 0
func (s *Store) ListDeliveries(ctx context.Context, finishedID int64) ([]*models.SiteDeliveryRecord, error) {
	q := builder.Select("id, finished_article_id, site_id, remote_id, remote_url, attempts, created_at, updated_at").
		From("site_delivery_records").OrderBy("id")
	if finishedID > 0 {
		q = q.Where("finished_article_id = ?", finishedID)
	}
	rows, err := s.queryBuilder(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	var out []*models.SiteDeliveryRecord
	for rows.Next() {
		var (
			rec              models.SiteDeliveryRecord
			created, updated int64
		)
		if err := rows.Scan(&rec.ID, &rec.FinishedArticleID, &rec.SiteID, &rec.RemoteID,
			&rec.RemoteURL, &rec.Attempts, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		rec.CreatedAt = fromMillis(created)
		rec.UpdatedAt = fromMillis(updated)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
