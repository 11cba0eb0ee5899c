package store

import (
	"context"
	"errors"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ratelimit_denials (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		bucket TEXT NOT NULL,
		client_key TEXT NOT NULL,
		denied_at_ms INTEGER NOT NULL,
		retry_after_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_ratelimit_denials_bucket_time ON ratelimit_denials(bucket, denied_at_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_ratelimit_denials_time ON ratelimit_denials(denied_at_ms);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
