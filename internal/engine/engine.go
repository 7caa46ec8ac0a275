package engine

import (
	"fmt"
)

// Kind identifies a supported backup engine.
type Kind string

const (
	KindMySQL      Kind = "mysql"
	KindPostgres   Kind = "postgres"
	KindFilesystem Kind = "filesystem"
)

// ParseKind validates and normalizes an engine name from configuration.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindMySQL, KindPostgres, KindFilesystem:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("unknown engine %q (supported: mysql, postgres, filesystem)", name)
	}
}

// ConnectionParams carries everything needed to reach one instance with the
// native utilities. Secrets travel through Env, not Args, wherever the
// utility supports it.
type ConnectionParams struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
}

// Command is a fully assembled utility invocation. Output streams over
// stdout for dumps and stdin for imports.
type Command struct {
	Utility string
	Args    []string
	Env     []string // extra environment entries, e.g. PGPASSWORD
}

// DumpOptions controls what the export command includes.
type DumpOptions struct {
	Database string
	// Routines includes stored routines, triggers and scheduled jobs where
	// the engine distinguishes them from schema+data.
	Routines bool
	// Path is the tree root for the filesystem engine.
	Path string
}

// RestoreOptions controls the import command.
type RestoreOptions struct {
	// TargetDatabase is the database the import is scoped to. It must already
	// exist; the orchestrator pre-creates it.
	TargetDatabase string
	// Path is the extraction root for the filesystem engine.
	Path string
}

// Engine is the per-variant strategy. One implementation exists per supported
// engine; ConfigResolver selects it once and orchestration never re-dispatches
// on the kind.
type Engine interface {
	Kind() Kind

	// DefaultPort returns the engine's conventional port, 0 for filesystem.
	DefaultPort() int

	// ValidatePort reports whether port is acceptable for this engine.
	ValidatePort(port int) error

	// BuildDumpCommand assembles the export command. The dump is written to
	// the command's stdout.
	BuildDumpCommand(conn ConnectionParams, opts DumpOptions) Command

	// BuildRestoreCommand assembles the import command. The (filtered,
	// rewritten) dump is streamed to the command's stdin.
	BuildRestoreCommand(conn ConnectionParams, opts RestoreOptions) Command

	// DetectSourceDatabase inspects one dump line for the engine's idiomatic
	// marker naming the original database. Returns the name and true on a
	// match.
	DetectSourceDatabase(line string) (string, bool)

	// StatementFilters returns the ordered predicate filters applied to every
	// dump line during a cross-environment restore. A line matching any
	// filter is dropped.
	StatementFilters() []StatementFilter

	// RewriteIdentifier rewrites references to the original database name
	// into the target name on a single line, honoring the engine's identifier
	// quoting convention.
	RewriteIdentifier(line, original, target string) string

	// SupportsTransactionalRestore reports whether a failed import rolls back
	// entirely. Engines without it surface a partial-state warning on
	// mid-stream failure.
	SupportsTransactionalRestore() bool
}

// StatementFilter is one predicate in the restore filter pipeline. The set of
// recognized statement shapes is deliberately narrow and documented per
// engine; this is heuristic line filtering, not SQL parsing.
type StatementFilter struct {
	// Name identifies the filter in logs and restore reports.
	Name string
	// Matches reports whether the line must be dropped.
	Matches func(line string) bool
}

// ForKind returns the engine implementation for a validated kind.
func ForKind(kind Kind) (Engine, error) {
	switch kind {
	case KindMySQL:
		return NewMySQLEngine(), nil
	case KindPostgres:
		return NewPostgresEngine(), nil
	case KindFilesystem:
		return NewFilesystemEngine(), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", kind)
	}
}
