package dbadmin

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

// connectTimeout bounds administrative connection attempts. Admin statements
// are tiny; a server that cannot answer quickly is down.
const connectTimeout = 15 * time.Second

// Client opens direct administrative connections for the small set of
// statements orchestration needs outside the native dump/import utilities:
// target pre-creation and database enumeration. MySQL goes through the SQL
// driver; PostgreSQL administrative statements go through the psql client so
// the tool needs no second driver.
type Client struct {
	logger *logging.Logger

	// openDB is swapped for sqlmock in tests.
	openDB func(driverName, dsn string) (*sql.DB, error)
}

// NewClient creates an administrative client.
func NewClient(logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Client{
		logger: logger,
		openDB: sql.Open,
	}
}

// NewClientWithOpener creates a client with a custom connection opener, used
// in tests.
func NewClientWithOpener(logger *logging.Logger, openDB func(string, string) (*sql.DB, error)) *Client {
	client := NewClient(logger)
	client.openDB = openDB
	return client
}

// EnsureDatabase creates the target database if it does not exist. Several
// engines require the target to exist before a scoped import can run.
func (c *Client) EnsureDatabase(ctx context.Context, ri *config.ResolvedInstance, name string) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch ri.Engine.Kind() {
	case engine.KindMySQL:
		return c.ensureMySQLDatabase(ctx, ri, name)
	case engine.KindPostgres:
		return c.ensurePostgresDatabase(ctx, ri, name)
	case engine.KindFilesystem:
		return os.MkdirAll(name, 0755)
	default:
		return fmt.Errorf("engine %s has no administrative connection", ri.Engine.Kind())
	}
}

// ListDatabases enumerates the instance's databases, excluding system
// schemas. Used when an instance declares a blacklist instead of an explicit
// whitelist.
func (c *Client) ListDatabases(ctx context.Context, ri *config.ResolvedInstance) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch ri.Engine.Kind() {
	case engine.KindMySQL:
		return c.listMySQLDatabases(ctx, ri)
	case engine.KindPostgres:
		return c.listPostgresDatabases(ctx, ri)
	default:
		return nil, fmt.Errorf("engine %s does not enumerate databases", ri.Engine.Kind())
	}
}

func (c *Client) mysqlDSN(ri *config.ResolvedInstance) string {
	params := "timeout=10s"
	if ri.Config.SSLEnabled {
		params += "&tls=true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/?%s",
		ri.Credential.Username, ri.Credential.Secret,
		ri.Config.Host, ri.Config.Port, params)
}

func (c *Client) ensureMySQLDatabase(ctx context.Context, ri *config.ResolvedInstance, name string) error {
	db, err := c.openDB("mysql", c.mysqlDSN(ri))
	if err != nil {
		return fmt.Errorf("failed to open administrative connection: %w", err)
	}
	defer db.Close()

	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", strings.ReplaceAll(name, "`", ""))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to pre-create database %s: %w", name, err)
	}
	c.logger.Debugf("Ensured database %s exists on %s", name, ri.Config.ID)
	return nil
}

// mysqlSystemSchemas never participate in backups.
var mysqlSystemSchemas = map[string]bool{
	"mysql":              true,
	"information_schema": true,
	"performance_schema": true,
	"sys":                true,
}

func (c *Client) listMySQLDatabases(ctx context.Context, ri *config.ResolvedInstance) ([]string, error) {
	db, err := c.openDB("mysql", c.mysqlDSN(ri))
	if err != nil {
		return nil, fmt.Errorf("failed to open administrative connection: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan database name: %w", err)
		}
		if !mysqlSystemSchemas[name] {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

// runPSQL executes one administrative statement against the maintenance
// database through the psql client.
func (c *Client) runPSQL(ctx context.Context, ri *config.ResolvedInstance, statement string) (string, error) {
	args := []string{
		"--host=" + ri.Config.Host,
		"--port=" + fmt.Sprintf("%d", ri.Config.Port),
		"--username=" + ri.Credential.Username,
		"--no-password",
		"--dbname=postgres",
		"--tuples-only",
		"--no-align",
		"--command=" + statement,
	}
	env := append(os.Environ(), "PGPASSWORD="+ri.Credential.Secret)
	if ri.Config.SSLEnabled {
		env = append(env, "PGSSLMODE=require")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("psql failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (c *Client) ensurePostgresDatabase(ctx context.Context, ri *config.ResolvedInstance, name string) error {
	clean := strings.ReplaceAll(name, `"`, "")
	exists, err := c.runPSQL(ctx, ri,
		fmt.Sprintf("SELECT 1 FROM pg_database WHERE datname = '%s'", strings.ReplaceAll(clean, "'", "''")))
	if err != nil {
		return err
	}
	if strings.TrimSpace(exists) == "1" {
		return nil
	}

	if _, err := c.runPSQL(ctx, ri, fmt.Sprintf(`CREATE DATABASE "%s"`, clean)); err != nil {
		return fmt.Errorf("failed to pre-create database %s: %w", name, err)
	}
	c.logger.Debugf("Ensured database %s exists on %s", name, ri.Config.ID)
	return nil
}

func (c *Client) listPostgresDatabases(ctx context.Context, ri *config.ResolvedInstance) ([]string, error) {
	out, err := c.runPSQL(ctx, ri, "SELECT datname FROM pg_database WHERE NOT datistemplate AND datname <> 'postgres'")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
