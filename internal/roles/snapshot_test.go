package roles

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkeeper/internal/engine"
)

func TestSnapshot_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prod.roles.sql")

	original := &Snapshot{
		Instance:   "prod-mysql",
		Engine:     engine.KindMySQL,
		CapturedAt: time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC),
		RoleStatements: []string{
			"CREATE USER 'app'@'%' IDENTIFIED WITH 'caching_sha2_password';",
			"CREATE USER 'reporting'@'10.0.%';",
		},
		GrantStatements: []string{
			"GRANT SELECT, INSERT ON `orders_db`.* TO 'app'@'%';",
			"GRANT SELECT ON `orders_db`.* TO 'reporting'@'10.0.%';",
		},
	}
	require.NoError(t, original.WriteFile(path))

	loaded, err := ReadSnapshotFile(path)
	require.NoError(t, err)
	assert.Equal(t, original.Instance, loaded.Instance)
	assert.Equal(t, original.Engine, loaded.Engine)
	assert.Equal(t, original.CapturedAt, loaded.CapturedAt)
	assert.Equal(t, original.RoleStatements, loaded.RoleStatements)
	assert.Equal(t, original.GrantStatements, loaded.GrantStatements)
}

func TestSnapshot_FilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perm.roles.sql")
	require.NoError(t, (&Snapshot{Instance: "x", Engine: engine.KindMySQL}).WriteFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestReadSnapshotFile_RejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE t (id int);\n"), 0600))

	_, err := ReadSnapshotFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a dbkeeper role snapshot")
}

func TestReadSnapshotFile_EmptySections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.roles.sql")
	require.NoError(t, (&Snapshot{Instance: "x", Engine: engine.KindPostgres, CapturedAt: time.Now().UTC()}).WriteFile(path))

	loaded, err := ReadSnapshotFile(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.RoleStatements)
	assert.Empty(t, loaded.GrantStatements)
}

func TestReport_Partial(t *testing.T) {
	assert.False(t, (&Report{Applied: 3}).Partial())
	assert.True(t, (&Report{Applied: 2, Failed: []string{"GRANT ..."}}).Partial())
}

func TestEnsureTerminated(t *testing.T) {
	assert.Equal(t, "CREATE USER 'a'@'%';", ensureTerminated("CREATE USER 'a'@'%'"))
	assert.Equal(t, "CREATE USER 'a'@'%';", ensureTerminated("CREATE USER 'a'@'%';"))
}
