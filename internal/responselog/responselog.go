package responselog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/bilgisen/newswire/internal/models"
)

// maxField caps stored request/response summaries
const maxField = 16 << 10

// Log is the append-only audit trail of external calls
type Log struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

func New(db *sql.DB, log zerolog.Logger) *Log {
	return &Log{db: db, log: log, now: time.Now}
}

// Recorder is the write side handed to pipeline stages
type Recorder interface {
	Record(ctx context.Context, e models.ResponseLogEntry)
}

// Record appends e. A write failure is logged and swallowed so it never
// fails the calling stage.
func (l *Log) Record(ctx context.Context, e models.ResponseLogEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	_, err := l.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO response_log (log_group, source_type, source_id, request, response, duration_ms,
			cost, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Group, e.SourceType, e.SourceID, truncate(e.Request), truncate(e.Response),
		e.Duration.Milliseconds(), e.Cost, e.Success, e.Error, e.CreatedAt.UnixMilli())
	if err != nil {
		l.log.Error().Err(err).
			Str("group", string(e.Group)).
			Str("source_type", string(e.SourceType)).
			Int64("source_id", e.SourceID).
			Msg("Failed to write response log entry")
	}
}

func truncate(s string) string {
	if len(s) <= maxField {
		return s
	}
	cut := maxField
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...[truncated]"
}

// Filter narrows List
type Filter struct {
	Group      models.LogGroup
	SourceType models.SourceType
	SourceID   int64
	OnlyErrors bool
	Since      time.Time
	Limit      uint64
	Offset     uint64
}

// List returns entries newest first
func (l *Log) List(ctx context.Context, f Filter) ([]models.ResponseLogEntry, error) {
	q := sq.Select("id, log_group, source_type, source_id, request, response, duration_ms, cost, success, error, created_at").
		From("response_log").
		OrderBy("id DESC")
	if f.Group != "" {
		q = q.Where(sq.Eq{"log_group": f.Group})
	}
	if f.SourceType != "" {
		q = q.Where(sq.Eq{"source_type": f.SourceType})
	}
	if f.SourceID > 0 {
		q = q.Where(sq.Eq{"source_id": f.SourceID})
	}
	if f.OnlyErrors {
		q = q.Where(sq.Eq{"success": false})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created_at": f.Since.UnixMilli()})
	}
	limit := f.Limit
	if limit == 0 {
		limit = 100
	}
	q = q.Limit(limit).Offset(f.Offset)

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build log query: %w", err)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list response log: %w", err)
	}
	defer rows.Close()

	var out []models.ResponseLogEntry
	for rows.Next() {
		var (
			e                models.ResponseLogEntry
			durationMs, atMs int64
		)
		if err := rows.Scan(&e.ID, &e.Group, &e.SourceType, &e.SourceID, &e.Request, &e.Response,
			&durationMs, &e.Cost, &e.Success, &e.Error, &atMs); err != nil {
			return nil, fmt.Errorf("scan response log: %w", err)
		}
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.CreatedAt = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge truncates the log. A non-zero before keeps newer entries.
func (l *Log) Purge(ctx context.Context, before time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if before.IsZero() {
		res, err = l.db.ExecContext(ctx, `DELETE FROM response_log`)
	} else {
		res, err = l.db.ExecContext(ctx, `DELETE FROM response_log WHERE created_at < ?`, before.UnixMilli())
	}
	if err != nil {
		return 0, fmt.Errorf("purge response log: %w", err)
	}
	n, _ := res.RowsAffected()
	l.log.Info().Int64("deleted", n).Msg("Response log purged")
	return n, nil
}
