package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	credentialUsername    string
	credentialSecret      string
	credentialDescription string
)

var credentialCmd = &cobra.Command{
	Use:   "credential",
	Short: "Manage the encrypted credential vault",
	Long: `Manage credentials in the encrypted vault.

The vault is a single file encrypted at rest with a key derived from this
machine's identity; a vault file copied to another host cannot be decrypted.
Secrets are never written to logs or passed on command lines of spawned
utilities.

Examples:
  dbkeeper credential add prod-mysql --username backup
  dbkeeper credential get prod-mysql
  dbkeeper credential list
  dbkeeper credential remove prod-mysql`,
}

var credentialAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Store or overwrite a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		disp := newDisplay()

		secret := credentialSecret
		if secret == "" {
			secret, err = promptSecret(fmt.Sprintf("Secret for %s: ", args[0]))
			if err != nil {
				return err
			}
		}
		if secret == "" {
			return fmt.Errorf("credential secret must not be empty")
		}

		vm := newVault(settings)
		if err := vm.Set(args[0], credentialUsername, secret, credentialDescription); err != nil {
			return err
		}

		disp.Success("Credential %s stored in %s", args[0], settings.VaultPath)
		return nil
	},
}

var credentialGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a credential's username and metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		disp := newDisplay()

		vm := newVault(settings)
		cred, err := vm.Get(args[0])
		if err != nil {
			return err
		}

		disp.Row("ID:          %s", cred.ID)
		disp.Row("Username:    %s", cred.Username)
		disp.Row("Secret:      ********")
		if cred.Description != "" {
			disp.Row("Description: %s", cred.Description)
		}
		disp.Row("Created:     %s", cred.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		disp.Row("Updated:     %s", cred.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credential IDs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		disp := newDisplay()

		vm := newVault(settings)
		ids, err := vm.ListIDs()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			disp.Info("Vault is empty")
			return nil
		}
		for _, id := range ids {
			if meta, err := vm.GetMetadata(id); err == nil && meta.Description != "" {
				disp.Row("%s  (%s)", id, meta.Description)
			} else {
				disp.Row("%s", id)
			}
		}
		return nil
	},
}

var credentialRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a credential from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		disp := newDisplay()

		vm := newVault(settings)
		if err := vm.Remove(args[0]); err != nil {
			return err
		}

		disp.Success("Credential %s removed", args[0])
		return nil
	},
}

// promptSecret reads a secret from the terminal without echo. A trailing
// newline keeps the next prompt on its own line.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(raw), nil
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialAddCmd)
	credentialCmd.AddCommand(credentialGetCmd)
	credentialCmd.AddCommand(credentialListCmd)
	credentialCmd.AddCommand(credentialRemoveCmd)

	credentialAddCmd.Flags().StringVarP(&credentialUsername, "username", "u", "", "username stored with the credential")
	credentialAddCmd.Flags().StringVar(&credentialSecret, "secret", "", "secret value (prompted without echo when omitted)")
	credentialAddCmd.Flags().StringVar(&credentialDescription, "description", "", "free-form description")
	credentialAddCmd.MarkFlagRequired("username")
}
