package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMySQLInstance() InstanceConfig {
	return InstanceConfig{
		ID:            "prod-mysql",
		Engine:        "mysql",
		Host:          "db1.internal",
		Port:          3306,
		CredentialRef: "prod-mysql",
		Enabled:       true,
	}
}

func TestInstanceConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*InstanceConfig)
		wantErr string
	}{
		{
			name:   "valid mysql",
			mutate: func(ic *InstanceConfig) {},
		},
		{
			name:    "missing id",
			mutate:  func(ic *InstanceConfig) { ic.ID = "" },
			wantErr: "instance id is required",
		},
		{
			name:    "unknown engine",
			mutate:  func(ic *InstanceConfig) { ic.Engine = "oracle" },
			wantErr: "unknown engine",
		},
		{
			name:    "port out of range",
			mutate:  func(ic *InstanceConfig) { ic.Port = 70000 },
			wantErr: "port",
		},
		{
			name: "whitelist and blacklist together",
			mutate: func(ic *InstanceConfig) {
				ic.DatabaseWhitelist = []string{"a"}
				ic.DatabaseBlacklist = []string{"b"}
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "missing host",
			mutate:  func(ic *InstanceConfig) { ic.Host = "" },
			wantErr: "host is required",
		},
		{
			name:    "missing credential_ref",
			mutate:  func(ic *InstanceConfig) { ic.CredentialRef = "" },
			wantErr: "credential_ref is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic := validMySQLInstance()
			tt.mutate(&ic)
			err := ic.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.IsType(t, &ConfigError{}, err)
		})
	}
}

func TestInstanceConfig_ValidateFilesystem(t *testing.T) {
	ic := InstanceConfig{ID: "archive", Engine: "filesystem", Path: "/srv/data"}
	assert.NoError(t, ic.Validate())

	ic.Path = ""
	err := ic.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")

	// Filesystem instances do not take a port.
	ic.Path = "/srv/data"
	ic.Port = 8080
	err = ic.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestInstanceConfig_DatabaseAllowed(t *testing.T) {
	whitelist := InstanceConfig{DatabaseWhitelist: []string{"orders", "billing"}}
	assert.True(t, whitelist.DatabaseAllowed("orders"))
	assert.False(t, whitelist.DatabaseAllowed("scratch"))

	blacklist := InstanceConfig{DatabaseBlacklist: []string{"scratch"}}
	assert.True(t, blacklist.DatabaseAllowed("orders"))
	assert.False(t, blacklist.DatabaseAllowed("scratch"))

	open := InstanceConfig{}
	assert.True(t, open.DatabaseAllowed("anything"))
}

func TestSettings_SetDefaults(t *testing.T) {
	s := &Settings{
		Instances: []InstanceConfig{
			{ID: "m", Engine: "mysql"},
			{ID: "p", Engine: "postgres"},
			{ID: "f", Engine: "filesystem", Path: "/srv"},
		},
	}
	s.SetDefaults()

	assert.Equal(t, "backups", s.BackupDir)
	assert.Equal(t, 6*time.Hour, s.BackupTimeout)
	assert.Equal(t, 2*time.Hour, s.CompressionTimeout)
	assert.Equal(t, 6*time.Hour, s.RestoreTimeout)
	assert.Equal(t, 30*24*time.Hour, s.Retention.MaxAge)
	assert.Equal(t, 1, s.Retention.KeepCount())
	assert.NotEmpty(t, s.VaultPath)

	assert.Equal(t, 3306, s.Instances[0].Port)
	assert.Equal(t, 5432, s.Instances[1].Port)
	assert.Equal(t, 0, s.Instances[2].Port)
}

func TestRetentionSettings_ExplicitZeroKeepCount(t *testing.T) {
	zero := 0
	s := &Settings{Retention: RetentionSettings{MinKeepCount: &zero}}
	s.SetDefaults()

	// A configured zero must survive defaulting; only unset becomes 1.
	assert.Equal(t, 0, s.Retention.KeepCount())
}

func TestSettings_ValidateDuplicateID(t *testing.T) {
	s := &Settings{
		VaultPath: "/tmp/vault.db",
		Instances: []InstanceConfig{validMySQLInstance(), validMySQLInstance()},
	}
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate instance id")
}

func TestSettings_Instance(t *testing.T) {
	s := &Settings{Instances: []InstanceConfig{validMySQLInstance()}}
	assert.NotNil(t, s.Instance("prod-mysql"))
	assert.Nil(t, s.Instance("unknown"))
}

func TestLoader_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbkeeper.yaml")

	original := &Settings{
		VaultPath: "/tmp/vault.db",
		BackupDir: "/tmp/backups",
		Instances: []InstanceConfig{validMySQLInstance()},
	}
	original.SetDefaults()

	loader := NewLoader(path)
	require.NoError(t, loader.Save(original))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, original.VaultPath, loaded.VaultPath)
	assert.Equal(t, original.BackupDir, loaded.BackupDir)
	require.Len(t, loaded.Instances, 1)
	assert.Equal(t, "prod-mysql", loaded.Instances[0].ID)
	assert.Equal(t, 3306, loaded.Instances[0].Port)
}

func TestLoader_MissingFileYieldsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	settings, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "backups", settings.BackupDir)
	assert.Empty(t, settings.Instances)
}
