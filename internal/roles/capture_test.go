package roles

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkeeper/internal/config"
	"dbkeeper/internal/engine"
	"dbkeeper/internal/vault"
)

func mockCapturer(t *testing.T) (*Capturer, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := NewCapturerWithOpener(nil, func(driver, dsn string) (*sql.DB, error) {
		assert.Equal(t, "mysql", driver)
		assert.NotContains(t, dsn, "\n")
		return db, nil
	})
	return c, mock
}

func mysqlInstance() *config.ResolvedInstance {
	eng, _ := engine.ForKind(engine.KindMySQL)
	return &config.ResolvedInstance{
		Config: config.InstanceConfig{
			ID: "prod-mysql", Engine: "mysql", Host: "db1", Port: 3306, CredentialRef: "prod-mysql",
		},
		Credential: vault.Credential{Username: "backup", Secret: "hunter2"},
		Engine:     eng,
	}
}

func TestCapturer_CaptureMySQL(t *testing.T) {
	c, mock := mockCapturer(t)

	mock.ExpectQuery("SELECT user, host FROM mysql.user ORDER BY user, host").
		WillReturnRows(sqlmock.NewRows([]string{"user", "host"}).
			AddRow("app", "%").
			AddRow("mysql.sys", "localhost").
			AddRow("root", "localhost"))

	mock.ExpectQuery("SHOW CREATE USER 'app'@'%'").
		WillReturnRows(sqlmock.NewRows([]string{"CREATE USER for app@%"}).
			AddRow("CREATE USER 'app'@'%' IDENTIFIED WITH 'caching_sha2_password'"))

	mock.ExpectQuery("SHOW GRANTS FOR 'app'@'%'").
		WillReturnRows(sqlmock.NewRows([]string{"Grants for app@%"}).
			AddRow("GRANT USAGE ON *.* TO `app`@`%`").
			AddRow("GRANT SELECT ON `orders_db`.* TO `app`@`%`"))

	snapshot, err := c.Capture(context.Background(), mysqlInstance())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "prod-mysql", snapshot.Instance)
	assert.Equal(t, engine.KindMySQL, snapshot.Engine)

	// System accounts are skipped; statements are terminated.
	require.Len(t, snapshot.RoleStatements, 1)
	assert.Equal(t, "CREATE USER 'app'@'%' IDENTIFIED WITH 'caching_sha2_password';", snapshot.RoleStatements[0])
	require.Len(t, snapshot.GrantStatements, 2)
	assert.Equal(t, "GRANT SELECT ON `orders_db`.* TO `app`@`%`;", snapshot.GrantStatements[1])
}

func TestCapturer_CaptureMySQLQueryFailure(t *testing.T) {
	c, mock := mockCapturer(t)

	mock.ExpectQuery("SELECT user, host FROM mysql.user ORDER BY user, host").
		WillReturnError(assert.AnError)

	_, err := c.Capture(context.Background(), mysqlInstance())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to enumerate accounts")
}

func TestCapturer_CaptureUnsupportedEngine(t *testing.T) {
	c, _ := mockCapturer(t)

	eng, _ := engine.ForKind(engine.KindFilesystem)
	ri := &config.ResolvedInstance{
		Config: config.InstanceConfig{ID: "archive", Engine: "filesystem", Path: "/srv"},
		Engine: eng,
	}

	_, err := c.Capture(context.Background(), ri)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no roles to capture")
}

func TestCapturer_RestoreMySQLCollectsFailures(t *testing.T) {
	c, mock := mockCapturer(t)

	mock.ExpectExec("CREATE USER 'app'@'%';").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE USER 'exists'@'%';").
		WillReturnError(assert.AnError)
	mock.ExpectExec("CREATE USER 'other'@'%';").
		WillReturnResult(sqlmock.NewResult(0, 0))

	snapshot := &Snapshot{
		RoleStatements: []string{
			"CREATE USER 'app'@'%';",
			"CREATE USER 'exists'@'%';",
			"CREATE USER 'other'@'%';",
		},
	}

	report, err := c.Restore(context.Background(), mysqlInstance(), snapshot, PhaseRoles)
	require.NoError(t, err, "statement failures are collected, not fatal")
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, []string{"CREATE USER 'exists'@'%';"}, report.Failed)
	assert.True(t, report.Partial())
}

func TestCapturer_RestoreEmptyPhase(t *testing.T) {
	c, _ := mockCapturer(t)

	report, err := c.Restore(context.Background(), mysqlInstance(), &Snapshot{}, PhaseGrants)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)
	assert.False(t, report.Partial())
}
