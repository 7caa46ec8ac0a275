package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/dbadmin"
	"dbkeeper/internal/display"
	"dbkeeper/internal/restore"
	"dbkeeper/internal/roles"
)

var (
	restoreInstance  string
	restoreArtifact  string
	restoreTarget    string
	restoreNoCreate  bool
	restoreWithRoles bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup artifact into a target database",
	Long: `Restore a backup artifact.

The captured dump is decompressed, scanned for its original database marker,
filtered and rewritten on the fly so it imports into the target database name
instead of the original one, then streamed into the engine's native import
utility. A dump without a recognizable marker is refused rather than rewritten
blind.

With --with-roles the role snapshot paired with the artifact is replayed in
two passes: users and roles before the data import, grants after it.

Examples:
  dbkeeper restore --instance staging-mysql \
    --artifact backups/prod-mysql__orders_db__mysql__20260831T020000.sql.gz \
    --target orders_db_test
  dbkeeper restore --instance staging-pg --artifact backups/app.sql.zst --target app --with-roles`,
	RunE: runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	disp := newDisplay()

	resolver := config.NewResolver(newVault(settings), settings.LegacyCredentialsPath, logger)
	ic := settings.Instance(restoreInstance)
	if ic == nil {
		return fmt.Errorf("instance %q is not configured", restoreInstance)
	}
	ri, err := resolver.Resolve(*ic)
	if err != nil {
		return err
	}

	admin := dbadmin.NewClient(logger)
	backups := backup.NewOrchestrator(settings, logger)
	orchestrator := restore.NewOrchestrator(settings, admin, backups.Locks(), logger)
	capturer := roles.NewCapturer(logger)

	ctx := context.Background()

	var snapshot *roles.Snapshot
	if restoreWithRoles {
		snapshot, err = loadPairedSnapshot(restoreArtifact)
		if err != nil {
			return err
		}
		report, err := capturer.Restore(ctx, ri, snapshot, roles.PhaseRoles)
		if err != nil {
			return err
		}
		reportRolePass(disp, "role", report)
	}

	result, err := orchestrator.RestoreFromPath(ctx, ri, restoreArtifact, restoreTarget, !restoreNoCreate)
	if err != nil {
		return err
	}

	grantsPartial := false
	if restoreWithRoles {
		report, err := capturer.Restore(ctx, ri, snapshot, roles.PhaseGrants)
		if err != nil {
			return err
		}
		grantsPartial = reportRolePass(disp, "grant", report)
	}

	if result.SourceDatabase != "" && result.SourceDatabase != result.TargetDatabase {
		disp.Info("Rewrote %s -> %s (%d lines rewritten)",
			result.SourceDatabase, result.TargetDatabase, result.LinesRewritten)
	}
	for filter, count := range result.LinesDropped {
		disp.Info("Dropped %d line(s): %s", count, filter)
	}
	disp.Success("Restored %s into %s in %s", restoreArtifact, result.TargetDatabase, result.Duration.Round(time.Second))

	if grantsPartial {
		return fmt.Errorf("restore completed but some grants failed to apply; review the output above")
	}
	return nil
}

// loadPairedSnapshot finds the role snapshot captured alongside an artifact.
func loadPairedSnapshot(artifactPath string) (*roles.Snapshot, error) {
	dir := filepath.Dir(artifactPath)
	snapshotPath := filepath.Join(dir, backup.RoleSnapshotFileName(filepath.Base(artifactPath)))
	if _, err := os.Stat(snapshotPath); err != nil {
		return nil, fmt.Errorf("no role snapshot paired with %s (expected %s)", artifactPath, snapshotPath)
	}
	return roles.ReadSnapshotFile(snapshotPath)
}

func reportRolePass(disp *display.Service, label string, report *roles.Report) bool {
	disp.Info("Applied %d %s statement(s)", report.Applied, label)
	for _, failure := range report.Failed {
		disp.Warn("%s statement failed: %s", label, failure)
	}
	return report.Partial()
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVarP(&restoreInstance, "instance", "i", "", "target instance id")
	restoreCmd.Flags().StringVarP(&restoreArtifact, "artifact", "a", "", "artifact file to restore")
	restoreCmd.Flags().StringVarP(&restoreTarget, "target", "t", "", "target database name")
	restoreCmd.Flags().BoolVar(&restoreNoCreate, "no-create", false, "fail instead of creating a missing target database")
	restoreCmd.Flags().BoolVar(&restoreWithRoles, "with-roles", false, "replay the paired role snapshot around the import")
	restoreCmd.MarkFlagRequired("instance")
	restoreCmd.MarkFlagRequired("artifact")
	restoreCmd.MarkFlagRequired("target")
}
