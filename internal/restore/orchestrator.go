package restore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"dbkeeper/internal/backup"
	"dbkeeper/internal/config"
	"dbkeeper/internal/engine"
	"dbkeeper/internal/logging"
)

// DatabaseCreator pre-creates the target database before the scoped import
// runs. Implemented by the dbadmin client.
type DatabaseCreator interface {
	EnsureDatabase(ctx context.Context, ri *config.ResolvedInstance, name string) error
}

// Result reports a completed restore.
type Result struct {
	OperationID    string
	TargetDatabase string
	// SourceDatabase is the original name detected in the dump, empty for
	// engines without a marker.
	SourceDatabase string
	// Transactional reports whether the import ran under engine-level
	// rollback protection.
	Transactional bool
	// LinesDropped counts removed lines per filter name.
	LinesDropped map[string]int
	// LinesRewritten counts lines changed by identifier substitution.
	LinesRewritten int
	Duration       time.Duration
}

// Orchestrator replays a backup artifact into a live target database,
// rewriting and filtering the captured stream so a dump taken from one
// database name can be replayed safely into another.
type Orchestrator struct {
	settings    *config.Settings
	logger      *logging.Logger
	compression *backup.CompressionManager
	admin       DatabaseCreator
	locks       *backup.InstanceLocks
}

// NewOrchestrator creates a restore orchestrator. Passing the backup
// orchestrator's lock table makes backups and restores of one instance
// mutually exclusive.
func NewOrchestrator(settings *config.Settings, admin DatabaseCreator, locks *backup.InstanceLocks, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if locks == nil {
		locks = backup.NewInstanceLocks()
	}
	return &Orchestrator{
		settings:    settings,
		logger:      logger,
		compression: backup.NewCompressionManager(),
		admin:       admin,
		locks:       locks,
	}
}

// Restore replays artifact into targetDatabase on the given instance.
//
// The artifact is opened twice: a bounded head scan first detects the
// original database marker, then the full stream is filtered, rewritten and
// piped into the import utility. Filter and rewrite setup failures abort
// before any data reaches the target.
func (o *Orchestrator) Restore(ctx context.Context, ri *config.ResolvedInstance, artifact *backup.BackupArtifact, targetDatabase string, createIfMissing bool) (*Result, error) {
	release := o.locks.Acquire(ri.Config.ID)
	defer release()

	operationID := uuid.NewString()
	start := time.Now()

	result := &Result{
		OperationID:    operationID,
		TargetDatabase: targetDatabase,
		Transactional:  ri.Engine.SupportsTransactionalRestore(),
	}

	o.logger.LogPhase(operationID, ri.Config.ID, "restore-start", map[string]interface{}{
		"artifact": artifact.Path,
		"target":   targetDatabase,
	})

	if ri.Engine.Kind() == engine.KindFilesystem {
		if err := o.restoreFilesystem(ctx, ri, artifact, targetDatabase); err != nil {
			return nil, err
		}
		result.Duration = time.Since(start)
		o.logCompletion(result, ri)
		return result, nil
	}

	// Step 1: detect the original database in the dump head.
	source, found, err := o.detectSource(artifact)
	if err != nil {
		return nil, NewFilterFailedError("failed to scan dump for the source database marker", err)
	}
	if !found {
		return nil, NewFilterFailedError(
			"dump contains no source database marker; refusing to rewrite blind", nil)
	}
	result.SourceDatabase = source

	// Step 2: pre-create the target before streaming. Several engines
	// require it to exist for a scoped import.
	if createIfMissing {
		if err := o.admin.EnsureDatabase(ctx, ri, targetDatabase); err != nil {
			return nil, NewFilterFailedError("failed to pre-create target database", err)
		}
	}

	// Step 3: stream filter + rewrite into the import utility.
	pipeline := newFilterPipeline(ri.Engine, source, targetDatabase)
	if err := o.runImport(ctx, ri, artifact, pipeline, targetDatabase, operationID); err != nil {
		return nil, err
	}

	result.LinesDropped = pipeline.Dropped
	result.LinesRewritten = pipeline.Rewritten
	result.Duration = time.Since(start)
	o.logCompletion(result, ri)
	return result, nil
}

// RestoreFromPath resolves an artifact file into its parsed form and restores
// it. Convenience for the command surface, which addresses artifacts by path.
func (o *Orchestrator) RestoreFromPath(ctx context.Context, ri *config.ResolvedInstance, artifactPath, targetDatabase string, createIfMissing bool) (*Result, error) {
	info, err := os.Stat(artifactPath)
	if err != nil {
		return nil, NewFilterFailedError("artifact not found", err)
	}

	artifact := &backup.BackupArtifact{Path: artifactPath, SizeBytes: info.Size(), Engine: ri.Engine.Kind()}
	if parsed, err := backup.ParseArtifactName(info.Name()); err == nil {
		parsed.Path = artifactPath
		parsed.SizeBytes = info.Size()
		artifact = parsed
	}
	return o.Restore(ctx, ri, artifact, targetDatabase, createIfMissing)
}

func (o *Orchestrator) detectSource(artifact *backup.BackupArtifact) (string, bool, error) {
	stream, closeStream, err := openArtifactStream(artifact.Path, o.compression)
	if err != nil {
		return "", false, err
	}
	defer closeStream()

	eng, err := engine.ForKind(artifact.Engine)
	if err != nil {
		return "", false, err
	}
	return scanForSourceDatabase(stream, eng)
}

func (o *Orchestrator) runImport(ctx context.Context, ri *config.ResolvedInstance, artifact *backup.BackupArtifact, pipeline *filterPipeline, targetDatabase, operationID string) error {
	stream, closeStream, err := openArtifactStream(artifact.Path, o.compression)
	if err != nil {
		return NewFilterFailedError("failed to reopen artifact for import", err)
	}
	defer closeStream()

	importCtx := ctx
	if o.settings.RestoreTimeout > 0 {
		var cancel context.CancelFunc
		importCtx, cancel = context.WithTimeout(ctx, o.settings.RestoreTimeout)
		defer cancel()
	}

	cmd := ri.Engine.BuildRestoreCommand(ri.ConnectionParams(), engine.RestoreOptions{
		TargetDatabase: targetDatabase,
	})

	proc := exec.CommandContext(importCtx, cmd.Utility, cmd.Args...)
	proc.Env = append(os.Environ(), cmd.Env...)

	var stderr bytes.Buffer
	proc.Stderr = &stderr

	stdin, err := proc.StdinPipe()
	if err != nil {
		return NewFilterFailedError("failed to open import stdin", err)
	}

	startAt := time.Now()
	if err := proc.Start(); err != nil {
		stdin.Close()
		return NewImportFailedError("failed to start "+cmd.Utility, err)
	}

	filterErr := pipeline.run(stdin, stream)
	closeErr := stdin.Close()
	waitErr := proc.Wait()
	o.logger.LogSubprocess(operationID, cmd.Utility, cmd.Args, time.Since(startAt), waitErr)

	if waitErr != nil || filterErr != nil || closeErr != nil {
		cause := waitErr
		if cause == nil {
			cause = filterErr
		}
		if cause == nil {
			cause = closeErr
		}
		return o.classifyImportFailure(importCtx, ri, cmd.Utility, cause, stderr.String())
	}
	return nil
}

// classifyImportFailure distinguishes a rolled-back import from a
// partial-state one. Engines with transactional restore roll back entirely;
// everything else must surface the partial-state warning.
func (o *Orchestrator) classifyImportFailure(ctx context.Context, ri *config.ResolvedInstance, utility string, cause error, stderr string) error {
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	message := utility + " failed during import"
	if timedOut {
		message = utility + " exceeded the restore timeout and was terminated"
	}

	if ri.Engine.SupportsTransactionalRestore() {
		return NewImportFailedError(message+"; the transaction rolled back", cause).WithStderr(stderr)
	}

	err := NewPartialStateError(message, cause).WithStderr(stderr)
	// Partial state is operator-facing by contract: log it loudly as well as
	// returning it.
	o.logger.Errorf("Restore left target %q in a partial state: %v", ri.Config.ID, err)
	return err
}

func (o *Orchestrator) restoreFilesystem(ctx context.Context, ri *config.ResolvedInstance, artifact *backup.BackupArtifact, targetPath string) error {
	if err := os.MkdirAll(targetPath, 0755); err != nil {
		return NewFilterFailedError("failed to create target directory", err)
	}

	stream, closeStream, err := openArtifactStream(artifact.Path, o.compression)
	if err != nil {
		return NewFilterFailedError("failed to open archive", err)
	}
	defer closeStream()

	importCtx := ctx
	if o.settings.RestoreTimeout > 0 {
		var cancel context.CancelFunc
		importCtx, cancel = context.WithTimeout(ctx, o.settings.RestoreTimeout)
		defer cancel()
	}

	cmd := ri.Engine.BuildRestoreCommand(ri.ConnectionParams(), engine.RestoreOptions{Path: targetPath})
	proc := exec.CommandContext(importCtx, cmd.Utility, cmd.Args...)
	proc.Env = append(os.Environ(), cmd.Env...)
	proc.Stdin = stream

	var stderr bytes.Buffer
	proc.Stderr = &stderr

	if err := proc.Run(); err != nil {
		return o.classifyImportFailure(importCtx, ri, cmd.Utility, err, stderr.String())
	}
	return nil
}

func (o *Orchestrator) logCompletion(result *Result, ri *config.ResolvedInstance) {
	o.logger.LogPhase(result.OperationID, ri.Config.ID, "restore-complete", map[string]interface{}{
		"target":          result.TargetDatabase,
		"source":          result.SourceDatabase,
		"lines_rewritten": result.LinesRewritten,
		"transactional":   result.Transactional,
		"duration":        result.Duration.String(),
	})
}
