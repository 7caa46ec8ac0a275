package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dbkeeper/internal/config"
	"dbkeeper/internal/display"
	"dbkeeper/internal/logging"
	"dbkeeper/internal/vault"
)

var cfgFile string

// CLI flag variables
var (
	verbose bool
	quiet   bool
	logFile string
	noColor bool

	vaultPathOverride string
	backupDirOverride string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dbkeeper",
	Short: "Back up and restore databases and filesystem trees with an encrypted credential vault",
	Long: `dbkeeper coordinates native database export/import utilities for a small
operations team: it builds per-engine dump commands, monitors their
execution, captures users/roles/grants for disaster recovery, and rewrites
captured SQL on restore so a dump taken from one database name can be
replayed safely into another.

Credentials live in an encrypted vault bound to the host machine; instance
definitions live in a YAML configuration file.

Examples:
  # Store a credential and declare an instance in ~/.dbkeeper.yaml
  dbkeeper credential add prod-mysql --username backup

  # Back up one instance, or everything that is enabled
  dbkeeper backup prod-mysql --database orders_db
  dbkeeper backup --all

  # List artifacts and restore one into a differently named target
  dbkeeper artifacts list
  dbkeeper restore --instance staging-mysql --artifact backups/prod-mysql__orders_db__mysql__20260831T020000.sql.gz --target orders_db_test

  # Apply the retention policy
  dbkeeper prune --dry-run`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbkeeper.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file in addition to stdout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&vaultPathOverride, "vault", "", "vault file path (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&backupDirOverride, "backup-dir", "", "artifact directory (overrides configuration)")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("vault_path", rootCmd.PersistentFlags().Lookup("vault"))
	viper.BindPFlag("backup_dir", rootCmd.PersistentFlags().Lookup("backup-dir"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".dbkeeper")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DBKEEPER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		cfgFile = viper.ConfigFileUsed()
	}
}

// loadSettings loads the settings document and applies flag overrides.
func loadSettings() (*config.Settings, error) {
	path := cfgFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".dbkeeper.yaml")
		}
	}

	settings, err := config.NewLoader(path).Load()
	if err != nil {
		return nil, err
	}

	if vaultPathOverride != "" {
		settings.VaultPath = vaultPathOverride
	}
	if backupDirOverride != "" {
		settings.BackupDir = backupDirOverride
	}
	return settings, nil
}

// newLogger builds the shared logger from the persistent flags.
func newLogger() (*logging.Logger, error) {
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	level := logging.LogLevelNormal
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}

	return logging.NewLogger(logging.Config{
		Level:   level,
		Format:  "text",
		LogFile: logFile,
	})
}

func newDisplay() *display.Service {
	return display.New(noColor)
}

func newVault(settings *config.Settings) *vault.VaultManager {
	return vault.NewVaultManager(settings.VaultPath)
}
