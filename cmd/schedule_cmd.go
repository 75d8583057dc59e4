package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/mybak/internal/operations"
	"github.com/kebairia/mybak/internal/schedule"
)

var cronExpr string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the backup pipeline on a cron schedule until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		expr := cfg.Schedule.Cron
		if cronExpr != "" {
			expr = cronExpr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := schedule.NewRunner(expr, func(ctx context.Context) error {
			report, err := runOnce(ctx, cfg, operations.RunOptions{}, log)
			if report != nil {
				log.Info("scheduled run finished", "run_id", report.RunID, "exit_code", report.ExitCode)
			}
			return err
		}, log)
		return runner.Run(ctx)
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression overriding schedule.cron")
}
