package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkeeper/internal/config"
	"dbkeeper/internal/engine"
)

func filesystemInstance(t *testing.T, treeRoot string) *config.ResolvedInstance {
	t.Helper()
	eng, err := engine.ForKind(engine.KindFilesystem)
	require.NoError(t, err)
	return &config.ResolvedInstance{
		Config: config.InstanceConfig{
			ID:      "archive",
			Engine:  "filesystem",
			Path:    treeRoot,
			Enabled: true,
		},
		Engine: eng,
	}
}

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := &config.Settings{
		VaultPath: filepath.Join(t.TempDir(), "vault.db"),
		BackupDir: t.TempDir(),
	}
	s.SetDefaults()
	return s
}

func TestOrchestrator_BackupFilesystemTree(t *testing.T) {
	tree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tree, "a.txt"), []byte("payload"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(tree, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tree, "sub", "b.txt"), []byte("nested"), 0644))

	settings := testSettings(t)
	o := NewOrchestrator(settings, nil)
	ri := filesystemInstance(t, tree)

	artifact, err := o.Backup(context.Background(), ri, filepath.Base(tree))
	require.NoError(t, err)
	assert.Equal(t, "archive", artifact.Instance)
	assert.Equal(t, engine.KindFilesystem, artifact.Engine)
	assert.Greater(t, artifact.SizeBytes, int64(0))
	assert.Empty(t, artifact.RoleSnapshotPath, "trees have no roles")

	// Artifact on disk, no .partial left behind.
	_, err = os.Stat(artifact.Path)
	require.NoError(t, err)
	_, err = os.Stat(artifact.Path + ".partial")
	assert.True(t, os.IsNotExist(err))

	// The operation is recorded in the manifest.
	manifest, err := LoadManifest(settings.BackupDir)
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, artifact.Path, manifest.Entries[0].Artifact.Path)
}

func TestOrchestrator_BackupCompressed(t *testing.T) {
	tree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tree, "data.bin"), make([]byte, 64*1024), 0644))

	settings := testSettings(t)
	settings.Compression = CompressionGzip
	o := NewOrchestrator(settings, nil)
	ri := filesystemInstance(t, tree)

	artifact, err := o.Backup(context.Background(), ri, filepath.Base(tree))
	require.NoError(t, err)
	assert.True(t, artifact.Compressed)
	assert.Equal(t, CompressionGzip, artifact.Compression)
	assert.Equal(t, ".gz", filepath.Ext(artifact.Path))

	// Zero-filled input must compress well below the raw tar size.
	assert.Less(t, artifact.SizeBytes, int64(64*1024))
}

func TestOrchestrator_BackupExcludedDatabase(t *testing.T) {
	settings := testSettings(t)
	o := NewOrchestrator(settings, nil)

	eng, err := engine.ForKind(engine.KindMySQL)
	require.NoError(t, err)
	ri := &config.ResolvedInstance{
		Config: config.InstanceConfig{
			ID:                "prod-mysql",
			Engine:            "mysql",
			Host:              "db1",
			Port:              3306,
			CredentialRef:     "prod-mysql",
			DatabaseBlacklist: []string{"scratch"},
		},
		Engine: eng,
	}

	_, err = o.Backup(context.Background(), ri, "scratch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "excluded by the instance filter")

	// Nothing was written for the refused operation.
	entries, err := os.ReadDir(settings.BackupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOrchestrator_BackupFailureLeavesNoArtifact(t *testing.T) {
	settings := testSettings(t)
	o := NewOrchestrator(settings, nil)

	// A nonexistent tree makes tar exit non-zero.
	ri := filesystemInstance(t, filepath.Join(t.TempDir(), "missing"))

	_, err := o.Backup(context.Background(), ri, "missing")
	require.Error(t, err)
	assert.Equal(t, BackupErrorTypeProcessFailed, err.(*BackupError).Type)

	artifacts, err := DiscoverArtifacts(settings.BackupDir)
	require.NoError(t, err)
	assert.Empty(t, artifacts, "failed operations record no artifact")
}

func TestOrchestrator_BackupInstanceContinuesAfterFailure(t *testing.T) {
	tree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tree, "a.txt"), []byte("x"), 0644))

	settings := testSettings(t)
	o := NewOrchestrator(settings, nil)
	ri := filesystemInstance(t, tree)

	result := o.BackupInstance(context.Background(), ri, nil)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, filepath.Base(tree), result.Artifacts[0].DatabaseName)
}
