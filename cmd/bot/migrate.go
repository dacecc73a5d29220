package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fadedpez/cantina/pkg/db/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

var migrateDB string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending journal migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := migrateDB
		if dbPath == "" {
			dbPath = cfg.JournalPath
		}
		if dbPath == "" {
			return fmt.Errorf("no journal database: set JOURNAL_PATH or pass --db")
		}

		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return fmt.Errorf("error creating database directory: %w", err)
		}

		db, err := sql.Open("sqlite3", dbPath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer db.Close()

		count, err := migrations.NewMigrator(db, migrations.Journal(), logger).MigrateUp(cmd.Context())
		if err != nil {
			return fmt.Errorf("error applying migrations: %w", err)
		}

		if count == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Journal is up to date")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) to %s\n", count, dbPath)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDB, "db", "", "path to the journal database (default JOURNAL_PATH)")
}
