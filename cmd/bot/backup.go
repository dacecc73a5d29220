package main

import (
	"fmt"

	"github.com/fadedpez/cantina/pkg/backup"
	"github.com/fadedpez/cantina/pkg/storage"
	"github.com/fadedpez/cantina/pkg/storage/file"
	"github.com/spf13/cobra"
)

var backupDir string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a snapshot of every namespace document",
	Long: `Take a snapshot of every namespace document.

Snapshots go to the configured S3 bucket, or below --dir when it is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var dest backup.Destination
		prefix := cfg.Backup.Prefix
		switch {
		case backupDir != "":
			dest = backup.NewDirDestination(backupDir)
			prefix = ""
		case cfg.Backup.Enabled():
			s3, err := backup.NewS3Destination(cmd.Context(), cfg.Backup.Bucket, cfg.Backup.Region, cfg.Backup.Endpoint)
			if err != nil {
				return fmt.Errorf("failed to configure backups: %w", err)
			}
			dest = s3
		default:
			return fmt.Errorf("no backup destination: set BACKUP_S3_BUCKET or pass --dir")
		}

		store := file.New(cfg.StorageDir, logger)
		m, err := backup.NewService(store, dest, prefix, logger).Snapshot(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s\n", m.Prefix)
		for _, ns := range storage.Namespaces() {
			if size, ok := m.Files[ns]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-12s %d bytes\n", ns, size)
			}
		}
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "write the snapshot below this directory instead of S3")
}
