package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/bilgisen/newswire/internal/models"
)

const siteColumns = `id, name, endpoint, terms_endpoint, auth_mode, username, password, token,
	token_param, active, created_at, updated_at`

const (
	termCategory = "category"
	termTag      = "tag"
)

func scanSite(row rowScanner) (*models.Site, error) {
	var (
		site             models.Site
		created, updated int64
	)
	err := row.Scan(&site.ID, &site.Name, &site.Endpoint, &site.TermsEndpoint, &site.AuthMode,
		&site.Username, &site.Password, &site.Token, &site.TokenParam, &site.Active, &created, &updated)
	if err != nil {
		return nil, err
	}
	site.CreatedAt = fromMillis(created)
	site.UpdatedAt = fromMillis(updated)
	return &site, nil
}

// UpsertSite registers a site or updates the one with the same name
func (s *Store) UpsertSite(ctx context.Context, site *models.Site) error {
	if site.AuthMode == "" {
		site.AuthMode = models.AuthNone
	}
	now := s.nowMillis()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sites (name, endpoint, terms_endpoint, auth_mode, username, password, token,
			token_param, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			endpoint = excluded.endpoint,
			terms_endpoint = excluded.terms_endpoint,
			auth_mode = excluded.auth_mode,
			username = excluded.username,
			password = excluded.password,
			token = excluded.token,
			token_param = excluded.token_param,
			active = excluded.active,
			updated_at = excluded.updated_at
		RETURNING id, created_at`,
		site.Name, site.Endpoint, site.TermsEndpoint, site.AuthMode, site.Username, site.Password,
		site.Token, site.TokenParam, site.Active, now, now)

	var created int64
	if err := row.Scan(&site.ID, &created); err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	site.CreatedAt = fromMillis(created)
	site.UpdatedAt = fromMillis(now)
	return nil
}

func (s *Store) GetSite(ctx context.Context, id int64) (*models.Site, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if err != nil {
		return nil, notFound("get site", err)
	}
	return site, nil
}

func (s *Store) ListSites(ctx context.Context, activeOnly bool) ([]*models.Site, error) {
	q := builder.Select(siteColumns).From("sites").OrderBy("id")
	if activeOnly {
		q = q.Where(sq.Eq{"active": true})
	}
	rows, err := s.queryBuilder(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var out []*models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

// SaveTerms merges the site's categories and tags into the known set
func (s *Store) SaveTerms(ctx context.Context, siteID int64, terms models.SiteTerms) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin terms tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO site_terms (site_id, kind, name, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare terms insert: %w", err)
	}
	defer stmt.Close()

	now := s.nowMillis()
	added := 0
	insert := func(kind string, names []string) error {
		for _, name := range names {
			if name == "" {
				continue
			}
			res, err := stmt.ExecContext(ctx, siteID, kind, name, now)
			if err != nil {
				return fmt.Errorf("insert %s %q: %w", kind, name, err)
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}
		return nil
	}
	if err := insert(termCategory, terms.Categories); err != nil {
		return 0, err
	}
	if err := insert(termTag, terms.Tags); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit terms: %w", err)
	}
	return added, nil
}

// Terms returns the categories and tags recorded for a site
func (s *Store) Terms(ctx context.Context, siteID int64) (models.SiteTerms, error) {
	terms := models.SiteTerms{Categories: []string{}, Tags: []string{}}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, name FROM site_terms WHERE site_id = ? ORDER BY kind, name`, siteID)
	if err != nil {
		return terms, fmt.Errorf("list site terms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, name string
		if err := rows.Scan(&kind, &name); err != nil {
			return terms, fmt.Errorf("scan site term: %w", err)
		}
		switch kind {
		case termCategory:
			terms.Categories = append(terms.Categories, name)
		case termTag:
			terms.Tags = append(terms.Tags, name)
		}
	}
	return terms, rows.Err()
}
