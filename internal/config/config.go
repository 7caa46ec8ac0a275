package config

import (
	"os"
	"path/filepath"
	"time"

	"dbkeeper/internal/engine"
)

// InstanceConfig declares one configured backup target: a database server or
// a filesystem tree.
type InstanceConfig struct {
	ID            string `yaml:"id"`
	Engine        string `yaml:"engine"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	CredentialRef string `yaml:"credential_ref"`
	// DatabaseWhitelist and DatabaseBlacklist are mutually exclusive.
	DatabaseWhitelist []string `yaml:"database_whitelist,omitempty"`
	DatabaseBlacklist []string `yaml:"database_blacklist,omitempty"`
	SSLEnabled        bool     `yaml:"ssl_enabled"`
	Enabled           bool     `yaml:"enabled"`
	// Path is the tree root, filesystem engine only.
	Path string `yaml:"path,omitempty"`
}

// Validate checks the declaration in isolation. Credential resolution happens
// later in the resolver.
func (ic *InstanceConfig) Validate() error {
	if ic.ID == "" {
		return NewConfigError("<unnamed>", "id", "instance id is required", nil)
	}

	kind, err := engine.ParseKind(ic.Engine)
	if err != nil {
		return NewConfigError(ic.ID, "engine", err.Error(), nil)
	}

	eng, err := engine.ForKind(kind)
	if err != nil {
		return NewConfigError(ic.ID, "engine", err.Error(), nil)
	}
	if err := eng.ValidatePort(ic.Port); err != nil {
		return NewConfigError(ic.ID, "port", err.Error(), nil)
	}

	if len(ic.DatabaseWhitelist) > 0 && len(ic.DatabaseBlacklist) > 0 {
		return NewConfigError(ic.ID, "", "database_whitelist and database_blacklist are mutually exclusive", nil)
	}

	switch kind {
	case engine.KindFilesystem:
		if ic.Path == "" {
			return NewConfigError(ic.ID, "path", "filesystem instances require a path", nil)
		}
	default:
		if ic.Host == "" {
			return NewConfigError(ic.ID, "host", "host is required", nil)
		}
		if ic.CredentialRef == "" {
			return NewConfigError(ic.ID, "credential_ref", "credential_ref is required", nil)
		}
	}

	return nil
}

// DatabaseAllowed applies the whitelist/blacklist filter.
func (ic *InstanceConfig) DatabaseAllowed(database string) bool {
	if len(ic.DatabaseWhitelist) > 0 {
		for _, name := range ic.DatabaseWhitelist {
			if name == database {
				return true
			}
		}
		return false
	}
	for _, name := range ic.DatabaseBlacklist {
		if name == database {
			return false
		}
	}
	return true
}

// RetentionSettings drives age-based artifact cleanup. MinKeepCount is a
// pointer so an explicit zero ("delete everything past the age cutoff") stays
// distinguishable from an unset value.
type RetentionSettings struct {
	MaxAge       time.Duration `yaml:"max_age"`
	MinKeepCount *int          `yaml:"min_keep_count"`
}

// KeepCount returns the per-group floor of artifacts to keep regardless of
// age: the configured value, or 1 when unset.
func (r RetentionSettings) KeepCount() int {
	if r.MinKeepCount == nil {
		return 1
	}
	return *r.MinKeepCount
}

// ReplicationSettings selects an optional offsite copy target for completed
// artifacts.
type ReplicationSettings struct {
	Provider string `yaml:"provider"` // "", "s3", "gcs", "azure"

	S3 struct {
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"s3"`

	GCS struct {
		Bucket          string `yaml:"bucket"`
		ProjectID       string `yaml:"project_id"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"gcs"`

	Azure struct {
		AccountName string `yaml:"account_name"`
		AccountKey  string `yaml:"account_key"`
		Container   string `yaml:"container"`
	} `yaml:"azure"`
}

// Settings is the whole tool configuration document.
type Settings struct {
	VaultPath string `yaml:"vault_path"`
	BackupDir string `yaml:"backup_dir"`
	// LegacyCredentialsPath points at the plaintext credential file used as a
	// fallback when a credential_ref is missing from the vault.
	LegacyCredentialsPath string `yaml:"legacy_credentials_path"`

	BackupTimeout      time.Duration `yaml:"backup_timeout"`
	CompressionTimeout time.Duration `yaml:"compression_timeout"`
	RestoreTimeout     time.Duration `yaml:"restore_timeout"`
	Compression        string        `yaml:"compression"` // "", "gzip", "zstd", "lz4"

	Retention   RetentionSettings   `yaml:"retention"`
	Replication ReplicationSettings `yaml:"replication"`

	Instances []InstanceConfig `yaml:"instances"`
}

// SetDefaults fills unset values. Dump timeouts are generous because large
// datasets legitimately run for hours.
func (s *Settings) SetDefaults() {
	if s.VaultPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			s.VaultPath = filepath.Join(home, ".dbkeeper", "vault.db")
		}
	}
	if s.BackupDir == "" {
		s.BackupDir = "backups"
	}
	if s.BackupTimeout == 0 {
		s.BackupTimeout = 6 * time.Hour
	}
	if s.CompressionTimeout == 0 {
		s.CompressionTimeout = 2 * time.Hour
	}
	if s.RestoreTimeout == 0 {
		s.RestoreTimeout = 6 * time.Hour
	}
	if s.Retention.MaxAge == 0 {
		s.Retention.MaxAge = 30 * 24 * time.Hour
	}
	for i := range s.Instances {
		if s.Instances[i].Port == 0 && s.Instances[i].Engine != string(engine.KindFilesystem) {
			if kind, err := engine.ParseKind(s.Instances[i].Engine); err == nil {
				if eng, err := engine.ForKind(kind); err == nil {
					s.Instances[i].Port = eng.DefaultPort()
				}
			}
		}
	}
}

// Validate checks the settings document, including every instance.
func (s *Settings) Validate() error {
	if s.VaultPath == "" {
		return NewConfigError("<settings>", "vault_path", "vault_path is required", nil)
	}

	seen := make(map[string]bool, len(s.Instances))
	for i := range s.Instances {
		ic := &s.Instances[i]
		if err := ic.Validate(); err != nil {
			return err
		}
		if seen[ic.ID] {
			return NewConfigError(ic.ID, "id", "duplicate instance id", nil)
		}
		seen[ic.ID] = true
	}
	return nil
}

// Instance returns the declaration for id, or nil.
func (s *Settings) Instance(id string) *InstanceConfig {
	for i := range s.Instances {
		if s.Instances[i].ID == id {
			return &s.Instances[i]
		}
	}
	return nil
}
