package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MySQLEngine drives mysqldump/mysql.
type MySQLEngine struct{}

// NewMySQLEngine creates the MySQL strategy.
func NewMySQLEngine() *MySQLEngine {
	return &MySQLEngine{}
}

func (e *MySQLEngine) Kind() Kind       { return KindMySQL }
func (e *MySQLEngine) DefaultPort() int { return 3306 }

func (e *MySQLEngine) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("mysql port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// BuildDumpCommand assembles a mysqldump invocation. --single-transaction
// gives a consistent snapshot without locking InnoDB tables;
// --set-gtid-purged=OFF suppresses replication-position metadata that would
// break restore on a target with a different replication setup. Ownership and
// privilege statements are not part of mysqldump output for a single
// database, so role capture happens separately.
func (e *MySQLEngine) BuildDumpCommand(conn ConnectionParams, opts DumpOptions) Command {
	args := []string{
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
		"--user=" + conn.Username,
		"--single-transaction",
		"--quick",
		"--set-gtid-purged=OFF",
		"--no-tablespaces",
	}
	if opts.Routines {
		args = append(args, "--routines", "--triggers", "--events")
	}
	if conn.SSL {
		args = append(args, "--ssl-mode=REQUIRED")
	}
	// --databases makes mysqldump emit the CREATE DATABASE/USE preamble that
	// serves as the source-database marker on restore.
	args = append(args, "--databases", opts.Database)

	return Command{
		Utility: "mysqldump",
		Args:    args,
		Env:     []string{"MYSQL_PWD=" + conn.Password},
	}
}

func (e *MySQLEngine) BuildRestoreCommand(conn ConnectionParams, opts RestoreOptions) Command {
	args := []string{
		"--host=" + conn.Host,
		"--port=" + strconv.Itoa(conn.Port),
		"--user=" + conn.Username,
	}
	if conn.SSL {
		args = append(args, "--ssl-mode=REQUIRED")
	}
	args = append(args, opts.TargetDatabase)

	return Command{
		Utility: "mysql",
		Args:    args,
		Env:     []string{"MYSQL_PWD=" + conn.Password},
	}
}

var (
	mysqlUseRe        = regexp.MustCompile("^USE `?([^`;]+)`?;")
	mysqlCurrentDBRe  = regexp.MustCompile("^-- Current Database: `([^`]+)`")
	mysqlCreateDropRe = regexp.MustCompile(`(?i)^\s*(CREATE DATABASE|DROP DATABASE)\b`)
	mysqlAccountRe    = regexp.MustCompile(`(?i)^\s*(CREATE USER|DROP USER|GRANT |REVOKE )`)
	// DEFINER clauses carry 'user'@'host' identifiers that are invalid when
	// the target lacks the origin account.
	mysqlDefinerRe = regexp.MustCompile("DEFINER=`[^`]*`@`[^`]*`")
	// Version-gated conditional comments above the known ceiling, e.g. the
	// MariaDB sandbox marker mysqldump >= 10.x emits.
	mysqlVersionGateRe = regexp.MustCompile(`^/\*![0-9]{6,}`)
)

// DetectSourceDatabase recognizes the USE statement of a --databases dump and
// the "-- Current Database:" comment mysqldump writes right above it.
func (e *MySQLEngine) DetectSourceDatabase(line string) (string, bool) {
	if m := mysqlUseRe.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	if m := mysqlCurrentDBRe.FindStringSubmatch(line); m != nil {
		return m[1], true
	}
	return "", false
}

// StatementFilters drops the statement classes unsafe for a cross-environment
// replay. Recognized shapes, and only these, are filtered:
//   - CREATE DATABASE / DROP DATABASE at line start
//   - USE at line start (the import is already scoped to the target)
//   - CREATE USER / DROP USER / GRANT / REVOKE at line start
//   - conditional comments gated on a six-digit-or-more version number
func (e *MySQLEngine) StatementFilters() []StatementFilter {
	return []StatementFilter{
		{
			Name:    "database-ddl",
			Matches: func(line string) bool { return mysqlCreateDropRe.MatchString(line) },
		},
		{
			Name:    "connection-switch",
			Matches: func(line string) bool { return mysqlUseRe.MatchString(line) },
		},
		{
			Name:    "account-statement",
			Matches: func(line string) bool { return mysqlAccountRe.MatchString(line) },
		},
		{
			Name:    "version-gated-option",
			Matches: func(line string) bool { return mysqlVersionGateRe.MatchString(line) },
		},
	}
}

// RewriteIdentifier substitutes backtick-quoted and dot-qualified bare
// references to the original database. DEFINER clauses are stripped in the
// same pass since their account identifiers are origin-qualified. On comment
// lines the name appears bare and unqualified (the dump preamble writes
// "-- Host: db1    Database: orders_db"), so whole-word occurrences are
// rewritten there too.
func (e *MySQLEngine) RewriteIdentifier(line, original, target string) string {
	line = mysqlDefinerRe.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "`"+original+"`", "`"+target+"`")
	// Bare qualified references: orders_db.customers -> target.customers.
	bareRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(original) + `\.`)
	line = bareRe.ReplaceAllString(line, target+".")
	if strings.HasPrefix(line, "--") {
		wordRe := regexp.MustCompile(`\b` + regexp.QuoteMeta(original) + `\b`)
		line = wordRe.ReplaceAllString(line, target)
	}
	return line
}

// SupportsTransactionalRestore is false for MySQL: DDL statements commit
// implicitly, so a failed import leaves the target partially restored and
// must be reported as such.
func (e *MySQLEngine) SupportsTransactionalRestore() bool { return false }
