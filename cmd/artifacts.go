package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/retention"
)

var pruneDryRun bool

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect recorded backup artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts in the backup directory, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		disp := newDisplay()

		artifacts, err := backup.DiscoverArtifacts(settings.BackupDir)
		if err != nil {
			return err
		}
		if len(artifacts) == 0 {
			disp.Info("No artifacts in %s", settings.BackupDir)
			return nil
		}

		for _, artifact := range artifacts {
			roleMark := ""
			if artifact.RoleSnapshotPath != "" {
				roleMark = "  +roles"
			}
			disp.Row("%s  %-10s %-24s %-20s %10d%s",
				artifact.CreatedAt.Format("2006-01-02 15:04:05"),
				artifact.Engine,
				artifact.Instance,
				artifact.DatabaseName,
				artifact.SizeBytes,
				roleMark)
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete artifacts past the retention policy",
	Long: `Apply the retention policy to the backup directory.

Artifacts older than the configured maximum age are deleted, except that the
newest artifacts of each instance/database pair are always kept up to the
configured minimum count. A deleted artifact takes its paired role snapshot
with it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		disp := newDisplay()

		artifacts, err := backup.DiscoverArtifacts(settings.BackupDir)
		if err != nil {
			return err
		}

		plan := retention.BuildPlan(artifacts, settings.Retention, time.Now().UTC())
		if len(plan.Delete) == 0 {
			disp.Info("Nothing to prune (%d artifact(s) within policy)", len(plan.Keep))
			return nil
		}

		result := retention.Apply(plan, pruneDryRun, logger)
		if pruneDryRun {
			for _, artifact := range plan.Delete {
				disp.Row("would delete %s", artifact.Path)
			}
			disp.Info("Dry run: %d artifact(s) would be deleted, %d kept", len(plan.Delete), len(plan.Keep))
			return nil
		}

		disp.Success("Deleted %d artifact(s), kept %d", len(result.Deleted), len(plan.Keep))
		if len(result.Errors) > 0 {
			for _, derr := range result.Errors {
				disp.Error("%v", derr)
			}
			return fmt.Errorf("%d deletion(s) failed", len(result.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsListCmd)
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "report what would be deleted without deleting")
}
