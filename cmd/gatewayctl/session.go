package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/modelgateway/core/internal/session"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and maintain the session store",
	}
	sessionCmd.AddCommand(newSessionDoctorCmd(), newSessionMigrateCmd())
	return sessionCmd
}

func newSessionDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run a startup integrity check, drop orphaned index entries, and report problems (session files are never deleted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			store, err := session.NewStore(cfg.Session.DataDir, log)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			validator := session.NewValidator(store, log)

			result, cleanup, err := validator.StartupIntegrityCheck()
			if err != nil {
				return fmt.Errorf("integrity check: %w", err)
			}

			fmt.Printf("orphaned index entries: %d\n", len(result.OrphanedEntries))
			fmt.Printf("orphaned session files:  %d\n", len(result.OrphanedFiles))
			fmt.Printf("corrupted index entries: %d\n", len(result.CorruptedEntries))
			if cleanup != nil {
				fmt.Printf("cleanup: removed %d orphaned index entries, left %d orphaned files in place\n",
					len(cleanup.RemovedOrphanedEntries), len(cleanup.RegisteredOrphanFiles))
			} else {
				fmt.Println("no cleanup necessary")
			}
			return nil
		},
	}
}

func newSessionMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <session-id>",
		Short: "Migrate one session file to the current schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			store, err := session.NewStore(cfg.Session.DataDir, log)
			if err != nil {
				return fmt.Errorf("open session store: %w", err)
			}
			migrator := session.NewMigrator(store)

			result, err := migrator.Migrate(id)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", id, err)
			}
			fmt.Printf("migrated %s: %s -> %s (backup at %s)\n",
				result.SessionID, result.FromVersion, result.ToVersion, result.BackupPath)
			return nil
		},
	}
}
