package engine

import (
	"fmt"
)

// FilesystemEngine backs up a directory tree with tar. There is no SQL
// stream, so marker detection, filtering and rewriting are all no-ops.
type FilesystemEngine struct{}

// NewFilesystemEngine creates the filesystem strategy.
func NewFilesystemEngine() *FilesystemEngine {
	return &FilesystemEngine{}
}

func (e *FilesystemEngine) Kind() Kind       { return KindFilesystem }
func (e *FilesystemEngine) DefaultPort() int { return 0 }

// ValidatePort accepts only 0: filesystem trees have no port.
func (e *FilesystemEngine) ValidatePort(port int) error {
	if port != 0 {
		return fmt.Errorf("filesystem instances must not declare a port, got %d", port)
	}
	return nil
}

// BuildDumpCommand archives the tree rooted at opts.Path to stdout.
func (e *FilesystemEngine) BuildDumpCommand(conn ConnectionParams, opts DumpOptions) Command {
	return Command{
		Utility: "tar",
		Args:    []string{"-C", opts.Path, "-cf", "-", "."},
	}
}

// BuildRestoreCommand extracts an archive from stdin into opts.Path.
func (e *FilesystemEngine) BuildRestoreCommand(conn ConnectionParams, opts RestoreOptions) Command {
	return Command{
		Utility: "tar",
		Args:    []string{"-C", opts.Path, "-xf", "-"},
	}
}

func (e *FilesystemEngine) DetectSourceDatabase(line string) (string, bool) { return "", false }

func (e *FilesystemEngine) StatementFilters() []StatementFilter { return nil }

func (e *FilesystemEngine) RewriteIdentifier(line, original, target string) string { return line }

// SupportsTransactionalRestore is false: a failed extraction leaves whatever
// was already written.
func (e *FilesystemEngine) SupportsTransactionalRestore() bool { return false }
