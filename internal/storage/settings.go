package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/bilgisen/newswire/internal/failure"
	"github.com/bilgisen/newswire/internal/models"
)

// ErrSettingInUse is returned when deleting a setting the response log still references
var ErrSettingInUse = errors.New("sync setting is referenced by response log entries")

const settingColumns = `id, name, keywords, keyword_location, category, language, country, provider,
	window_hours, filtering_enabled, live_mode, use_actual_source, audience, custom_instruction,
	status, found, existing, new_items, omitted, last_run_at, created_at, updated_at`

func scanSetting(row rowScanner) (*models.SyncSetting, error) {
	var (
		st                        models.SyncSetting
		keywords                  string
		lastRun, created, updated int64
	)
	err := row.Scan(&st.ID, &st.Name, &keywords, &st.KeywordLocation, &st.Category, &st.Language,
		&st.Country, &st.Provider, &st.WindowHours, &st.FilteringEnabled, &st.LiveMode,
		&st.UseActualSource, &st.Audience, &st.CustomInstruction, &st.Status,
		&st.Totals.Found, &st.Totals.Existing, &st.Totals.New, &st.Totals.Omitted,
		&lastRun, &created, &updated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywords), &st.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	if lastRun > 0 {
		t := fromMillis(lastRun)
		st.LastRunAt = &t
	}
	st.CreatedAt = fromMillis(created)
	st.UpdatedAt = fromMillis(updated)
	return &st, nil
}

func settingDefaults(st *models.SyncSetting) {
	if st.KeywordLocation == "" {
		st.KeywordLocation = models.LocationTitleOrBody
	}
	if st.Status == "" {
		st.Status = models.StatusDraft
	}
	if st.Keywords == nil {
		st.Keywords = []string{}
	}
}

func (s *Store) CreateSetting(ctx context.Context, st *models.SyncSetting) error {
	settingDefaults(st)
	keywords, err := json.Marshal(st.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	now := s.nowMillis()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_settings (name, keywords, keyword_location, category, language, country,
			provider, window_hours, filtering_enabled, live_mode, use_actual_source, audience,
			custom_instruction, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Name, string(keywords), st.KeywordLocation, st.Category, st.Language, st.Country,
		st.Provider, st.WindowHours, st.FilteringEnabled, st.LiveMode, st.UseActualSource,
		st.Audience, st.CustomInstruction, st.Status, now, now)
	if err != nil {
		return fmt.Errorf("create sync setting: %w", err)
	}
	if st.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("create sync setting: %w", err)
	}
	st.CreatedAt = fromMillis(now)
	st.UpdatedAt = st.CreatedAt
	return nil
}

// UpdateSetting replaces the editable fields. Counters are only touched by RecordSyncRun.
func (s *Store) UpdateSetting(ctx context.Context, st *models.SyncSetting) error {
	settingDefaults(st)
	keywords, err := json.Marshal(st.Keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_settings SET name = ?, keywords = ?, keyword_location = ?, category = ?,
			language = ?, country = ?, provider = ?, window_hours = ?, filtering_enabled = ?,
			live_mode = ?, use_actual_source = ?, audience = ?, custom_instruction = ?, status = ?,
			updated_at = ?
		WHERE id = ?`,
		st.Name, string(keywords), st.KeywordLocation, st.Category, st.Language, st.Country,
		st.Provider, st.WindowHours, st.FilteringEnabled, st.LiveMode, st.UseActualSource,
		st.Audience, st.CustomInstruction, st.Status, s.nowMillis(), st.ID)
	if err != nil {
		return fmt.Errorf("update sync setting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return failure.NotFoundf("update sync setting", failure.ErrNotFound)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, id int64) (*models.SyncSetting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingColumns+` FROM sync_settings WHERE id = ?`, id)
	st, err := scanSetting(row)
	if err != nil {
		return nil, notFound("get sync setting", err)
	}
	return st, nil
}

// ListSettings returns all settings, or only those with the given status
func (s *Store) ListSettings(ctx context.Context, status models.SettingStatus) ([]*models.SyncSetting, error) {
	q := builder.Select(settingColumns).From("sync_settings").OrderBy("id")
	if status != "" {
		q = q.Where(sq.Eq{"status": status})
	}
	rows, err := s.queryBuilder(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list sync settings: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncSetting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync setting: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// RecordSyncRun adds one run's counters to the running totals
func (s *Store) RecordSyncRun(ctx context.Context, id int64, run models.SyncTotals) error {
	now := s.nowMillis()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_settings
		SET found = found + ?, existing = existing + ?, new_items = new_items + ?, omitted = omitted + ?,
			last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		run.Found, run.Existing, run.New, run.Omitted, now, now, id)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// DeleteSetting removes a setting unless the response log references it
func (s *Store) DeleteSetting(ctx context.Context, id int64) error {
	var refs int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM response_log WHERE source_type = ? AND source_id = ?`,
		models.SourceSetting, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("check setting references: %w", err)
	}
	if refs > 0 {
		return failure.Configurationf("delete sync setting", ErrSettingInUse)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_settings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sync setting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return failure.NotFoundf("delete sync setting", failure.ErrNotFound)
	}
	return nil
}
