package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/kebairia/mybak/internal/operations"
	"github.com/kebairia/mybak/internal/retention"
)

var dryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete local backups older than retention.days",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		s := retention.NewSweeper(afero.NewOsFs(), cfg.Backup.Root, cfg.Retention.Days, log)
		res, err := s.Sweep(time.Now(), dryRun)

		out := cmd.OutOrStdout()
		verb := "deleted"
		if dryRun {
			verb = "would delete"
		}
		for _, f := range res.Deleted {
			fmt.Fprintf(out, "%s %s (modified %s)\n", verb, f.Path, f.ModTime.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "scanned %d, %s %d, kept %d\n", res.Scanned, verb, len(res.Deleted), res.Kept)

		if err != nil {
			return &operations.StageError{Stage: operations.StageRetention, Err: err}
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list expired files without deleting them")
}
