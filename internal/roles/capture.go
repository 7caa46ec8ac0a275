package roles

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"dbkeeper/internal/config"
	"dbkeeper/internal/engine"
	"dbkeeper/internal/logging"
)

// systemAccounts are never part of a MySQL role snapshot.
var systemAccounts = map[string]bool{
	"mysql.infoschema": true,
	"mysql.session":    true,
	"mysql.sys":        true,
	"root":             true,
}

// Capturer captures and reattaches users/roles/grants.
type Capturer struct {
	logger *logging.Logger
	openDB func(driverName, dsn string) (*sql.DB, error)
}

// NewCapturer creates a role capturer.
func NewCapturer(logger *logging.Logger) *Capturer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Capturer{
		logger: logger,
		openDB: sql.Open,
	}
}

// NewCapturerWithOpener creates a capturer with a custom connection opener,
// used in tests.
func NewCapturerWithOpener(logger *logging.Logger, openDB func(string, string) (*sql.DB, error)) *Capturer {
	c := NewCapturer(logger)
	c.openDB = openDB
	return c
}

// Capture takes a role snapshot of the instance.
func (c *Capturer) Capture(ctx context.Context, ri *config.ResolvedInstance) (*Snapshot, error) {
	snapshot := &Snapshot{
		Instance:   ri.Config.ID,
		Engine:     ri.Engine.Kind(),
		CapturedAt: time.Now().UTC(),
	}

	switch ri.Engine.Kind() {
	case engine.KindMySQL:
		if err := c.captureMySQL(ctx, ri, snapshot); err != nil {
			return nil, err
		}
	case engine.KindPostgres:
		if err := c.capturePostgres(ctx, ri, snapshot); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("engine %s has no roles to capture", ri.Engine.Kind())
	}

	return snapshot, nil
}

// CaptureToFile captures a snapshot and writes it to path. This is the hook
// the backup orchestrator uses to produce the dump and snapshot as one
// operation.
func (c *Capturer) CaptureToFile(ctx context.Context, ri *config.ResolvedInstance, path string) error {
	snapshot, err := c.Capture(ctx, ri)
	if err != nil {
		return err
	}
	return snapshot.WriteFile(path)
}

func (c *Capturer) captureMySQL(ctx context.Context, ri *config.ResolvedInstance, snapshot *Snapshot) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/?timeout=10s",
		ri.Credential.Username, ri.Credential.Secret, ri.Config.Host, ri.Config.Port)
	db, err := c.openDB("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open role capture connection: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT user, host FROM mysql.user ORDER BY user, host")
	if err != nil {
		return fmt.Errorf("failed to enumerate accounts: %w", err)
	}
	defer rows.Close()

	type account struct{ user, host string }
	var accounts []account
	for rows.Next() {
		var a account
		if err := rows.Scan(&a.user, &a.host); err != nil {
			return fmt.Errorf("failed to scan account: %w", err)
		}
		if systemAccounts[a.user] {
			continue
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, a := range accounts {
		quoted := fmt.Sprintf("'%s'@'%s'", a.user, a.host)

		var createStmt string
		row := db.QueryRowContext(ctx, "SHOW CREATE USER "+quoted)
		if err := row.Scan(&createStmt); err != nil {
			return fmt.Errorf("failed to capture account %s: %w", quoted, err)
		}
		snapshot.RoleStatements = append(snapshot.RoleStatements, ensureTerminated(createStmt))

		grantRows, err := db.QueryContext(ctx, "SHOW GRANTS FOR "+quoted)
		if err != nil {
			return fmt.Errorf("failed to capture grants for %s: %w", quoted, err)
		}
		for grantRows.Next() {
			var grant string
			if err := grantRows.Scan(&grant); err != nil {
				grantRows.Close()
				return fmt.Errorf("failed to scan grant for %s: %w", quoted, err)
			}
			snapshot.GrantStatements = append(snapshot.GrantStatements, ensureTerminated(grant))
		}
		if err := grantRows.Close(); err != nil {
			return err
		}
	}

	c.logger.Debugf("Captured %d accounts from %s", len(accounts), ri.Config.ID)
	return nil
}

// capturePostgres shells out to pg_dumpall --roles-only. Role and grant
// statements arrive interleaved; CREATE/ALTER ROLE lines land in the roles
// section, GRANT lines in the grants section, preserving order within each.
func (c *Capturer) capturePostgres(ctx context.Context, ri *config.ResolvedInstance, snapshot *Snapshot) error {
	args := []string{
		"--host=" + ri.Config.Host,
		"--port=" + fmt.Sprintf("%d", ri.Config.Port),
		"--username=" + ri.Credential.Username,
		"--no-password",
		"--roles-only",
	}
	env := append(os.Environ(), "PGPASSWORD="+ri.Credential.Secret)
	if ri.Config.SSLEnabled {
		env = append(env, "PGSSLMODE=require")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "pg_dumpall", args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pg_dumpall failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	for _, line := range strings.Split(stdout.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "SET ") {
			continue
		}
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "GRANT "):
			snapshot.GrantStatements = append(snapshot.GrantStatements, trimmed)
		default:
			snapshot.RoleStatements = append(snapshot.RoleStatements, trimmed)
		}
	}
	return nil
}

// Report is the outcome of a role restore pass.
type Report struct {
	Applied int
	Failed  []string
}

// Partial reports whether any statement failed to apply.
func (r *Report) Partial() bool {
	return len(r.Failed) > 0
}

// RestorePhase selects which snapshot section a restore pass replays.
type RestorePhase string

const (
	// PhaseRoles replays user/role creation, before the schema+data import.
	PhaseRoles RestorePhase = "roles"
	// PhaseGrants replays grant reattachment, after the schema+data import.
	PhaseGrants RestorePhase = "grants"
)

// Restore replays one section of the snapshot against the instance.
// Statements that fail (account already exists, grant target missing) are
// collected and reported rather than aborting the pass, so the result is
// explicitly success or partial, never silent.
func (c *Capturer) Restore(ctx context.Context, ri *config.ResolvedInstance, snapshot *Snapshot, phase RestorePhase) (*Report, error) {
	statements := snapshot.RoleStatements
	if phase == PhaseGrants {
		statements = snapshot.GrantStatements
	}
	if len(statements) == 0 {
		return &Report{}, nil
	}

	switch ri.Engine.Kind() {
	case engine.KindMySQL:
		return c.restoreMySQL(ctx, ri, statements)
	case engine.KindPostgres:
		return c.restorePostgres(ctx, ri, statements)
	default:
		return nil, fmt.Errorf("engine %s has no roles to restore", ri.Engine.Kind())
	}
}

func (c *Capturer) restoreMySQL(ctx context.Context, ri *config.ResolvedInstance, statements []string) (*Report, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/?timeout=10s",
		ri.Credential.Username, ri.Credential.Secret, ri.Config.Host, ri.Config.Port)
	db, err := c.openDB("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open role restore connection: %w", err)
	}
	defer db.Close()

	report := &Report{}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			c.logger.Warnf("Role statement failed on %s: %v", ri.Config.ID, err)
			report.Failed = append(report.Failed, stmt)
			continue
		}
		report.Applied++
	}
	return report, nil
}

func (c *Capturer) restorePostgres(ctx context.Context, ri *config.ResolvedInstance, statements []string) (*Report, error) {
	args := []string{
		"--host=" + ri.Config.Host,
		"--port=" + fmt.Sprintf("%d", ri.Config.Port),
		"--username=" + ri.Credential.Username,
		"--no-password",
		"--dbname=postgres",
	}
	env := append(os.Environ(), "PGPASSWORD="+ri.Credential.Secret)
	if ri.Config.SSLEnabled {
		env = append(env, "PGSSLMODE=require")
	}

	report := &Report{}
	for _, stmt := range statements {
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, "psql", append(args, "--command="+stmt)...)
		cmd.Env = env
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			c.logger.Warnf("Role statement failed on %s: %v (stderr: %s)",
				ri.Config.ID, err, strings.TrimSpace(stderr.String()))
			report.Failed = append(report.Failed, stmt)
			continue
		}
		report.Applied++
	}
	return report, nil
}

func ensureTerminated(stmt string) string {
	if strings.HasSuffix(strings.TrimSpace(stmt), ";") {
		return stmt
	}
	return stmt + ";"
}
