package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dbkeeper/internal/config"
	"dbkeeper/internal/logging"
	"dbkeeper/internal/roles"
)

var (
	rolesOutput   string
	rolesSnapshot string
	rolesPhase    string
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Capture and replay database users, roles and grants",
	Long: `Capture and replay the account objects a plain data dump misses.

A snapshot records user/role creation statements and grant statements as
separate sections, so a restore can recreate accounts before importing data
and reattach grants after it.`,
}

var rolesCaptureCmd = &cobra.Command{
	Use:   "capture <instance-id>",
	Short: "Capture a role snapshot from a live instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, ri, err := resolveInstanceArg(args[0])
		if err != nil {
			return err
		}
		disp := newDisplay()

		output := rolesOutput
		if output == "" {
			output = args[0] + ".roles.sql"
		}

		capturer := roles.NewCapturer(logger)
		if err := capturer.CaptureToFile(context.Background(), ri, output); err != nil {
			return err
		}

		disp.Success("Role snapshot for %s written to %s", args[0], output)
		return nil
	},
}

var rolesRestoreCmd = &cobra.Command{
	Use:   "restore <instance-id>",
	Short: "Replay a role snapshot against an instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, ri, err := resolveInstanceArg(args[0])
		if err != nil {
			return err
		}
		disp := newDisplay()

		snapshot, err := roles.ReadSnapshotFile(rolesSnapshot)
		if err != nil {
			return err
		}

		var phases []roles.RestorePhase
		switch rolesPhase {
		case "all":
			phases = []roles.RestorePhase{roles.PhaseRoles, roles.PhaseGrants}
		case string(roles.PhaseRoles):
			phases = []roles.RestorePhase{roles.PhaseRoles}
		case string(roles.PhaseGrants):
			phases = []roles.RestorePhase{roles.PhaseGrants}
		default:
			return fmt.Errorf("invalid --phase %q (expected all, roles or grants)", rolesPhase)
		}

		capturer := roles.NewCapturer(logger)
		partial := false
		ctx := context.Background()
		for _, phase := range phases {
			report, err := capturer.Restore(ctx, ri, snapshot, phase)
			if err != nil {
				return err
			}
			if reportRolePass(disp, string(phase), report) {
				partial = true
			}
		}

		if partial {
			return fmt.Errorf("role restore was partial; review the failed statements above")
		}
		disp.Success("Role snapshot replayed on %s", args[0])
		return nil
	},
}

// resolveInstanceArg builds a logger and resolves one configured instance.
func resolveInstanceArg(id string) (*logging.Logger, *config.ResolvedInstance, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}

	ic := settings.Instance(id)
	if ic == nil {
		return nil, nil, fmt.Errorf("instance %q is not configured", id)
	}

	resolver := config.NewResolver(newVault(settings), settings.LegacyCredentialsPath, logger)
	ri, err := resolver.Resolve(*ic)
	if err != nil {
		return nil, nil, err
	}
	return logger, ri, nil
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesCaptureCmd)
	rolesCmd.AddCommand(rolesRestoreCmd)

	rolesCaptureCmd.Flags().StringVarP(&rolesOutput, "output", "o", "", "snapshot output path (default <instance>.roles.sql)")
	rolesRestoreCmd.Flags().StringVarP(&rolesSnapshot, "snapshot", "s", "", "snapshot file to replay")
	rolesRestoreCmd.Flags().StringVar(&rolesPhase, "phase", "all", "which section to replay: all, roles or grants")
	rolesRestoreCmd.MarkFlagRequired("snapshot")
}
