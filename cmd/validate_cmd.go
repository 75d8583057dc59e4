package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/mybak/internal/operations"
	"github.com/kebairia/mybak/internal/schedule"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the resolved run plan",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		rc, err := operations.NewRunConfig(cfg, operations.RunOptions{}, time.Now())
		if err != nil {
			return err
		}
		next, err := schedule.NextRuns(cfg.Schedule.Cron, time.Now(), 1)
		if err != nil {
			return fmt.Errorf("schedule.cron: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "configuration %s is valid\n", ConfigFile)
		fmt.Fprintf(out, "  label:          %s\n", rc.Label)
		fmt.Fprintf(out, "  provider:       %s\n", cfg.Storage.Provider)
		fmt.Fprintf(out, "  container:      %s\n", rc.Container)
		fmt.Fprintf(out, "  mysqldump:      %t -> %s\n", rc.UseDump, rc.SQLArchive)
		fmt.Fprintf(out, "  mysqlbinlog:    %t -> %s\n", rc.UseBinlog, rc.BinlogArchive)
		fmt.Fprintf(out, "  staging:        %s\n", rc.StagingDir())
		fmt.Fprintf(out, "  retention days: %d\n", rc.RetentionDays)
		fmt.Fprintf(out, "  state dir:      %s\n", rc.StateDir)
		fmt.Fprintf(out, "  next scheduled: %s\n", next[0].Format(time.RFC3339))
		return nil
	},
}
