package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/auditdeck/ratekeeper/internal/store"
)

// openStore opens and migrates the audit store named by the loaded config.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(cmd.Context()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
