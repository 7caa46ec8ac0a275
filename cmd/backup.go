package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/dbadmin"
	"dbkeeper/internal/engine"
	"dbkeeper/internal/logging"
	"dbkeeper/internal/replication"
	"dbkeeper/internal/roles"
)

var (
	backupAll      bool
	backupDatabase string
	backupNoRoles  bool
)

var backupCmd = &cobra.Command{
	Use:   "backup [instance-id]",
	Short: "Back up one instance or every enabled instance",
	Long: `Back up configured instances.

For database engines each eligible database is exported with the engine's
native dump utility as a monitored subprocess, optionally compressed, and
recorded as an artifact. Users, roles and grants are captured alongside the
dump as an atomic pair. For filesystem instances the configured tree is
archived.

Examples:
  dbkeeper backup prod-mysql
  dbkeeper backup prod-mysql --database orders_db
  dbkeeper backup --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	if !backupAll && len(args) == 0 {
		return fmt.Errorf("specify an instance id or --all")
	}

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

	var resolved []*config.ResolvedInstance
	if backupAll {
		resolved, err = resolver.ResolveAll(settings.Instances)
		if err != nil {
			return err
		}
	} else {
		ic := settings.Instance(args[0])
		if ic == nil {
			return fmt.Errorf("instance %q is not configured", args[0])
		}
		ri, err := resolver.Resolve(*ic)
		if err != nil {
			return err
		}
		resolved = []*config.ResolvedInstance{ri}
	}
	if len(resolved) == 0 {
		disp.Info("No enabled instances to back up")
		return nil
	}

	admin := dbadmin.NewClient(logger)
	orchestrator := backup.NewOrchestrator(settings, logger)
	if !backupNoRoles {
		orchestrator.SetRoleCapturer(roles.NewCapturer(logger))
	}

	ctx := context.Background()
	if provider, err := replication.NewProvider(ctx, settings.Replication, logger); err != nil {
		return err
	} else if provider != nil {
		orchestrator.SetReplicator(provider)
	}

	failures := 0
	for _, ri := range resolved {
		databases, err := instanceDatabases(ctx, admin, logger, ri)
		if err != nil {
			disp.Error("%s: %v", ri.Config.ID, err)
			failures++
			continue
		}

		result := orchestrator.BackupInstance(ctx, ri, databases)
		for _, artifact := range result.Artifacts {
			disp.Success("%s/%s -> %s (%d bytes)",
				result.InstanceID, artifact.DatabaseName, artifact.Path, artifact.SizeBytes)
		}
		for _, berr := range result.Errors {
			disp.Error("%v", berr)
		}
		failures += len(result.Errors)
	}

	if failures > 0 {
		return fmt.Errorf("%d backup(s) failed", failures)
	}
	return nil
}

// instanceDatabases decides which databases to export: the --database flag
// wins, then an explicit whitelist; otherwise the live instance is enumerated
// and the blacklist applies during the run.
func instanceDatabases(ctx context.Context, admin *dbadmin.Client, logger *logging.Logger, ri *config.ResolvedInstance) ([]string, error) {
	if ri.Engine.Kind() == engine.KindFilesystem {
		return nil, nil // BackupInstance derives the tree name itself
	}
	if backupDatabase != "" {
		if !ri.Config.DatabaseAllowed(backupDatabase) {
			return nil, fmt.Errorf("database %q is excluded by the instance filter", backupDatabase)
		}
		return []string{backupDatabase}, nil
	}
	if len(ri.Config.DatabaseWhitelist) > 0 {
		return ri.Config.DatabaseWhitelist, nil
	}

	logger.Debugf("Enumerating databases on %s", ri.Config.ID)
	return admin.ListDatabases(ctx, ri)
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().BoolVar(&backupAll, "all", false, "back up every enabled instance")
	backupCmd.Flags().StringVarP(&backupDatabase, "database", "d", "", "back up only this database")
	backupCmd.Flags().BoolVar(&backupNoRoles, "no-roles", false, "skip the role snapshot")
}
