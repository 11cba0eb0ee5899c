package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/auditdeck/ratekeeper/internal/ratelimit"
)

// DenialRecord is one stored rate-limit denial.
type DenialRecord struct {
	ID         int64         `json:"id" yaml:"id"`
	Bucket     string        `json:"bucket" yaml:"bucket"`
	Key        string        `json:"key" yaml:"key"`
	DeniedAt   time.Time     `json:"denied_at" yaml:"denied_at"`
	RetryAfter time.Duration `json:"retry_after" yaml:"retry_after"`
}

// DenialSummary aggregates denials for one bucket.
type DenialSummary struct {
	Bucket       string    `json:"bucket" yaml:"bucket"`
	Denials      int       `json:"denials" yaml:"denials"`
	DistinctKeys int       `json:"distinct_keys" yaml:"distinct_keys"`
	LastDeniedAt time.Time `json:"last_denied_at" yaml:"last_denied_at"`
}

// DenialQuery selects denials. One of All, Bucket or Prefix is required so
// destructive operations never run unscoped by accident.
type DenialQuery struct {
	All    bool
	Bucket string
	// Prefix matches the start of the client key.
	Prefix string
	Since  time.Time
	// Limit caps List results. Zero means no cap.
	Limit int
}

func (q DenialQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Bucket) != "" || strings.TrimSpace(q.Prefix) != "" {
		if q.Limit < 0 {
			return errors.New("limit must not be negative")
		}
		return nil
	}
	return errors.New("must specify --all, --bucket, or --prefix")
}

func (q DenialQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}

	var (
		conditions []string
		args       []any
	)
	if bucket := strings.TrimSpace(q.Bucket); bucket != "" {
		conditions = append(conditions, "bucket = ?")
		args = append(args, strings.ToLower(bucket))
	}
	if prefix := strings.TrimSpace(q.Prefix); prefix != "" {
		conditions = append(conditions, `client_key LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(prefix)+"%")
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "denied_at_ms >= ?")
		args = append(args, q.Since.UnixMilli())
	}

	if len(conditions) == 0 {
		return "", nil, nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

// RecordDenial stores one denial.
func (s *Store) RecordDenial(ctx context.Context, denial ratelimit.Denial) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO ratelimit_denials (bucket, client_key, denied_at_ms, retry_after_ms)
		VALUES (?, ?, ?, ?)
	`, denial.Bucket, denial.Key, denial.At.UnixMilli(), denial.RetryAfter.Milliseconds())
	if err != nil {
		return fmt.Errorf("record denial: %w", err)
	}
	return nil
}

// ListDenials returns matching denials, newest first.
func (s *Store) ListDenials(ctx context.Context, q DenialQuery) ([]DenialRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	limit := ""
	if q.Limit > 0 {
		limit = "LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, bucket, client_key, denied_at_ms, retry_after_ms
		FROM ratelimit_denials
		%s
		ORDER BY denied_at_ms DESC, id DESC
		%s
	`, where, limit), args...)
	if err != nil {
		return nil, fmt.Errorf("list denials: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []DenialRecord{}
	for rows.Next() {
		var (
			record       DenialRecord
			deniedAtMs   int64
			retryAfterMs int64
		)
		if err := rows.Scan(&record.ID, &record.Bucket, &record.Key, &deniedAtMs, &retryAfterMs); err != nil {
			return nil, fmt.Errorf("scan denials: %w", err)
		}
		record.DeniedAt = time.UnixMilli(deniedAtMs).UTC()
		record.RetryAfter = time.Duration(retryAfterMs) * time.Millisecond
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list denials: %w", err)
	}

	return records, nil
}

// CountDenials counts matching denials.
func (s *Store) CountDenials(ctx context.Context, q DenialQuery) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	row := s.DB.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*)
		FROM ratelimit_denials
		%s
	`, where), args...)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count denials: %w", err)
	}
	return count, nil
}

// ResetDenials deletes matching denials and returns how many were removed.
func (s *Store) ResetDenials(ctx context.Context, q DenialQuery) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM ratelimit_denials
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset denials: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset denials: %w", err)
	}
	return affected, nil
}

// SummarizeDenials aggregates matching denials per bucket.
func (s *Store) SummarizeDenials(ctx context.Context, q DenialQuery) ([]DenialSummary, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT bucket, COUNT(*), COUNT(DISTINCT client_key), MAX(denied_at_ms)
		FROM ratelimit_denials
		%s
		GROUP BY bucket
		ORDER BY bucket
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("summarize denials: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	summaries := []DenialSummary{}
	for rows.Next() {
		var (
			summary DenialSummary
			lastMs  sql.NullInt64
		)
		if err := rows.Scan(&summary.Bucket, &summary.Denials, &summary.DistinctKeys, &lastMs); err != nil {
			return nil, fmt.Errorf("scan denial summary: %w", err)
		}
		if lastMs.Valid {
			summary.LastDeniedAt = time.UnixMilli(lastMs.Int64).UTC()
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summarize denials: %w", err)
	}

	return summaries, nil
}

// PruneDenials deletes denials recorded before cutoff.
func (s *Store) PruneDenials(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM ratelimit_denials
		WHERE denied_at_ms < ?
	`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune denials: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune denials: %w", err)
	}
	return affected, nil
}
