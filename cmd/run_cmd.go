package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/mybak/internal/operations"
)

var runOpts operations.RunOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backup pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		report, err := runOnce(ctx, cfg, runOpts, log)
		if report != nil {
			printReport(cmd, report)
		}
		return err
	},
}

func printReport(cmd *cobra.Command, r *operations.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s (label %s): state=%s exit=%d\n", r.RunID, r.Label, r.State, r.ExitCode)
	for _, s := range r.Stages {
		fmt.Fprintf(out, "  %-20s %-8s %s\n", s.Stage, s.Status, s.Duration.Round(time.Millisecond))
	}
	for _, u := range r.Uploads {
		fmt.Fprintf(out, "  uploaded %s (%d bytes) confirmed=%t\n", u.Object, u.SizeBytes, u.Confirmed)
	}
}

func init() {
	runCmd.Flags().StringVar(&runOpts.Label, "label", "", "run label (defaults to the date formatted with backup.label_format)")
	runCmd.Flags().BoolVar(&runOpts.ForceClean, "force-clean", false, "remove local artifacts even if an upload was not confirmed")
	runCmd.Flags().BoolVar(&runOpts.SkipDump, "skip-dump", false, "skip the mysqldump stages for this run")
	runCmd.Flags().BoolVar(&runOpts.SkipBinlog, "skip-binlog", false, "skip the mysqlbinlog stages for this run")
}
