package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/engine"
)

type fakeCreator struct {
	created []string
	err     error
}

func (f *fakeCreator) EnsureDatabase(ctx context.Context, ri *config.ResolvedInstance, name string) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, name)
	return nil
}

func restoreSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := &config.Settings{
		VaultPath: filepath.Join(t.TempDir(), "vault.db"),
		BackupDir: t.TempDir(),
	}
	s.SetDefaults()
	return s
}

func mysqlResolved(t *testing.T) *config.ResolvedInstance {
	t.Helper()
	eng, err := engine.ForKind(engine.KindMySQL)
	require.NoError(t, err)
	return &config.ResolvedInstance{
		Config: config.InstanceConfig{
			ID: "staging-mysql", Engine: "mysql", Host: "db1", Port: 3306, CredentialRef: "x",
		},
		Engine: eng,
	}
}

func TestRestore_RefusesDumpWithoutMarker(t *testing.T) {
	settings := restoreSettings(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "staging-mysql__orders_db__mysql__20260831T020000.sql")
	require.NoError(t, os.WriteFile(path, []byte("INSERT INTO t VALUES (1);\n"), 0600))

	creator := &fakeCreator{}
	o := NewOrchestrator(settings, creator, nil, nil)

	_, err := o.RestoreFromPath(context.Background(), mysqlResolved(t), path, "orders_db_test", true)
	require.Error(t, err)
	rerr := err.(*RestoreError)
	assert.Equal(t, RestoreErrorTypeFilterFailed, rerr.Type)
	assert.Contains(t, rerr.Message, "refusing to rewrite blind")

	// Setup failures abort before touching the target.
	assert.Empty(t, creator.created)
}

func TestRestore_FailedTargetCreationAborts(t *testing.T) {
	settings := restoreSettings(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "staging-mysql__orders_db__mysql__20260831T020000.sql")
	require.NoError(t, os.WriteFile(path, []byte("USE `orders_db`;\nINSERT INTO t VALUES (1);\n"), 0600))

	creator := &fakeCreator{err: assert.AnError}
	o := NewOrchestrator(settings, creator, nil, nil)

	_, err := o.RestoreFromPath(context.Background(), mysqlResolved(t), path, "orders_db_test", true)
	require.Error(t, err)
	assert.Equal(t, RestoreErrorTypeFilterFailed, err.(*RestoreError).Type)
}

func TestRestore_ArtifactNotFound(t *testing.T) {
	settings := restoreSettings(t)
	o := NewOrchestrator(settings, &fakeCreator{}, nil, nil)

	_, err := o.RestoreFromPath(context.Background(), mysqlResolved(t), filepath.Join(t.TempDir(), "absent.sql"), "orders_db_test", true)
	require.Error(t, err)
	assert.Equal(t, RestoreErrorTypeFilterFailed, err.(*RestoreError).Type)
}

func TestRestore_FilesystemRoundTrip(t *testing.T) {
	settings := restoreSettings(t)

	// Back up a tree, then restore it into a fresh directory.
	tree := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tree, "keep.txt"), []byte("payload"), 0644))

	eng, err := engine.ForKind(engine.KindFilesystem)
	require.NoError(t, err)
	ri := &config.ResolvedInstance{
		Config: config.InstanceConfig{ID: "archive", Engine: "filesystem", Path: tree},
		Engine: eng,
	}

	backups := backup.NewOrchestrator(settings, nil)
	artifact, err := backups.Backup(context.Background(), ri, filepath.Base(tree))
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "restored")
	o := NewOrchestrator(settings, &fakeCreator{}, backups.Locks(), nil)
	result, err := o.Restore(context.Background(), ri, artifact, target, true)
	require.NoError(t, err)
	assert.False(t, result.Transactional)

	data, err := os.ReadFile(filepath.Join(target, "keep.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestClassifyImportFailure(t *testing.T) {
	settings := restoreSettings(t)
	o := NewOrchestrator(settings, &fakeCreator{}, nil, nil)

	pg, err := engine.ForKind(engine.KindPostgres)
	require.NoError(t, err)
	pgInstance := &config.ResolvedInstance{
		Config: config.InstanceConfig{ID: "staging-pg"},
		Engine: pg,
	}

	// Transactional engine: the whole import rolled back.
	rerr := o.classifyImportFailure(context.Background(), pgInstance, "psql", assert.AnError, "ERROR: syntax error").(*RestoreError)
	assert.Equal(t, RestoreErrorTypeImportFailed, rerr.Type)
	assert.Contains(t, rerr.Message, "rolled back")
	assert.Empty(t, rerr.Guidance)

	// Non-transactional engine: partial state with operator guidance.
	rerr = o.classifyImportFailure(context.Background(), mysqlResolved(t), "mysql", assert.AnError, "ERROR 1064").(*RestoreError)
	assert.Equal(t, RestoreErrorTypePartialState, rerr.Type)
	assert.True(t, IsPartialState(rerr))
	assert.Contains(t, rerr.Guidance, "partially restored")
	assert.Contains(t, rerr.Stderr, "ERROR 1064")
}

func TestRestoreError_Surface(t *testing.T) {
	err := NewPartialStateError("mysql failed during import", assert.AnError).WithStderr("ERROR 2013")
	msg := err.Error()
	assert.Contains(t, msg, "PARTIAL_STATE")
	assert.Contains(t, msg, "ERROR 2013")
	assert.Contains(t, msg, "Verify its contents")
	assert.ErrorIs(t, err, assert.AnError)
}
