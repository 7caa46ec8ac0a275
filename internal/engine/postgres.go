package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PostgresEngine drives pg_dump/psql.
type PostgresEngine struct{}

// NewPostgresEngine creates the PostgreSQL strategy.
func NewPostgresEngine() *PostgresEngine {
	return &PostgresEngine{}
}

func (e *PostgresEngine) Kind() Kind       { return KindPostgres }
func (e *PostgresEngine) DefaultPort() int { return 5432 }

func (e *PostgresEngine) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("postgres port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// BuildDumpCommand assembles a pg_dump invocation. --no-owner and
// --no-privileges strip ownership and grant statements (captured separately
// by role capture); --create emits the CREATE DATABASE/\connect preamble that
// serves as the source-database marker.
func (e *PostgresEngine) BuildDumpCommand(conn ConnectionParams, opts DumpOptions) Command {
	args := []string{
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
		"--username=" + conn.Username,
		"--no-password",
		"--format=plain",
		"--no-owner",
		"--no-privileges",
		"--create",
		opts.Database,
	}

	env := []string{"PGPASSWORD=" + conn.Password}
	if conn.SSL {
		env = append(env, "PGSSLMODE=require")
	}

	return Command{
		Utility: "pg_dump",
		Args:    args,
		Env:     env,
	}
}

// BuildRestoreCommand assembles a psql invocation. --single-transaction makes
// a mid-stream failure roll back the whole import; ON_ERROR_STOP aborts on
// the first error instead of plowing on.
func (e *PostgresEngine) BuildRestoreCommand(conn ConnectionParams, opts RestoreOptions) Command {
	args := []string{
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
		"--username=" + conn.Username,
		"--no-password",
		"--single-transaction",
		"--set", "ON_ERROR_STOP=1",
		"--dbname=" + opts.TargetDatabase,
	}

	env := []string{"PGPASSWORD=" + conn.Password}
	if conn.SSL {
		env = append(env, "PGSSLMODE=require")
	}

	return Command{
		Utility: "psql",
		Args:    args,
		Env:     env,
	}
}

var (
	pgConnectRe    = regexp.MustCompile(`^\\connect\s+"?([^"\s]+)"?`)
	pgCreateDropRe = regexp.MustCompile(`(?i)^\s*(CREATE DATABASE|DROP DATABASE)\b`)
	pgRoleRe       = regexp.MustCompile(`(?i)^\s*(CREATE ROLE|DROP ROLE|ALTER ROLE|GRANT |REVOKE |ALTER .* OWNER TO )`)
	// SET parameters newer pg_dump versions emit that older servers reject.
	pgVersionSetRe = regexp.MustCompile(`(?i)^\s*SET\s+(transaction_timeout|idle_in_transaction_session_timeout|default_table_access_method)\b`)
)

// DetectSourceDatabase recognizes the \connect line a --create dump carries
// near the top.
func (e *PostgresEngine) DetectSourceDatabase(line string) (string, bool) {
	if m := pgConnectRe.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

// StatementFilters drops the statement classes unsafe for a cross-environment
// replay. Recognized shapes, and only these, are filtered:
//   - CREATE DATABASE / DROP DATABASE at line start
//   - \connect lines (the import is already scoped to the target)
//   - CREATE/DROP/ALTER ROLE, GRANT, REVOKE, ALTER ... OWNER TO at line start
//   - SET lines for parameters absent from older server versions
func (e *PostgresEngine) StatementFilters() []StatementFilter {
	return []StatementFilter{
		{
			Name:    "database-ddl",
			Matches: func(line string) bool { return pgCreateDropRe.MatchString(line) },
		},
		{
			Name:    "connection-switch",
			Matches: func(line string) bool { return pgConnectRe.MatchString(line) },
		},
		{
			Name:    "role-statement",
			Matches: func(line string) bool { return pgRoleRe.MatchString(line) },
		},
		{
			Name:    "version-gated-option",
			Matches: func(line string) bool { return pgVersionSetRe.MatchString(line) },
		},
	}
}

// RewriteIdentifier substitutes double-quoted and dot-qualified bare
// references to the original database name. pg_dump preamble comments name
// the database bare ("-- Name: orders_db; Type: DATABASE"), so whole-word
// occurrences on comment lines are rewritten as well.
func (e *PostgresEngine) RewriteIdentifier(line, original, target string) string {
	line = strings.ReplaceAll(line, `"`+original+`"`, `"`+target+`"`)
	bareRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(original) + `\.`)
	line = bareRe.ReplaceAllString(line, target+".")
	if strings.HasPrefix(line, "--") {
		wordRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(original) + `\b`)
		line = wordRe.ReplaceAllString(line, target)
	}
	return line
}

// SupportsTransactionalRestore is true: psql --single-transaction rolls the
// whole import back on failure.
func (e *PostgresEngine) SupportsTransactionalRestore() bool { return true }
