package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"dbkeeper/internal/config"
	"dbkeeper/internal/engine"
	"dbkeeper/internal/logging"
)

// RoleCapturer produces a role snapshot for an instance. Implemented by the
// roles package; kept as an interface here so the orchestrator owns the
// pairing decision without a package cycle.
type RoleCapturer interface {
	CaptureToFile(ctx context.Context, ri *config.ResolvedInstance, path string) error
}

// Replicator copies a completed artifact offsite. A replication failure is a
// reported warning, never a backup failure.
type Replicator interface {
	Name() string
	UploadArtifact(ctx context.Context, artifact *BackupArtifact) error
}

// Options controls one backup operation.
type Options struct {
	// Compression selects the artifact compression stage ("" for none).
	Compression string
	// WithRoles captures a role snapshot in the same operation. The snapshot
	// and artifact are produced as an atomic pair: if role capture fails the
	// whole backup fails and the artifact is discarded.
	WithRoles bool
	// Routines includes stored routines, triggers and scheduled jobs.
	Routines bool
}

// Orchestrator builds per-engine export commands, executes them as monitored
// subprocesses and records completed artifacts.
type Orchestrator struct {
	settings    *config.Settings
	logger      *logging.Logger
	compression *CompressionManager
	locks       *InstanceLocks
	roles       RoleCapturer
	replicator  Replicator
}

// NewOrchestrator creates a backup orchestrator.
func NewOrchestrator(settings *config.Settings, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Orchestrator{
		settings:    settings,
		logger:      logger,
		compression: NewCompressionManager(),
		locks:       NewInstanceLocks(),
	}
}

// SetRoleCapturer wires the role capture collaborator.
func (o *Orchestrator) SetRoleCapturer(rc RoleCapturer) {
	o.roles = rc
}

// SetReplicator wires the optional offsite replicator.
func (o *Orchestrator) SetReplicator(r Replicator) {
	o.replicator = r
}

// Locks exposes the per-instance lock table so restore shares it.
func (o *Orchestrator) Locks() *InstanceLocks {
	return o.locks
}

// Backup exports one database (or tree) of one instance and returns the
// completed artifact. Failures are typed BackupErrors; no artifact is ever
// recorded for a failed or cancelled operation.
func (o *Orchestrator) Backup(ctx context.Context, ri *config.ResolvedInstance, database string) (*BackupArtifact, error) {
	release := o.locks.Acquire(ri.Config.ID)
	defer release()

	if !ri.Config.DatabaseAllowed(database) {
		return nil, NewProcessFailedError(
			fmt.Sprintf("database %q is excluded by the instance filter", database), nil)
	}

	operationID := uuid.NewString()
	createdAt := time.Now().UTC()
	opts := Options{
		Compression: o.settings.Compression,
		WithRoles:   ri.Engine.Kind() != engine.KindFilesystem && o.roles != nil,
		Routines:    true,
	}

	if err := os.MkdirAll(o.settings.BackupDir, 0755); err != nil {
		return nil, NewResourceExhaustedError("failed to create backup directory", err)
	}

	artifactName := ArtifactFileName(ri.Config.ID, database, ri.Engine.Kind(), createdAt, opts.Compression)
	finalPath := filepath.Join(o.settings.BackupDir, artifactName)
	rawPath := finalPath + ".partial"

	o.logger.LogPhase(operationID, ri.Config.ID, "export-start", map[string]interface{}{
		"database": database,
		"engine":   string(ri.Engine.Kind()),
	})

	if err := o.runExport(ctx, ri, database, operationID, rawPath); err != nil {
		os.Remove(rawPath)
		return nil, err
	}

	if opts.Compression != "" {
		o.logger.LogPhase(operationID, ri.Config.ID, "compress-start", map[string]interface{}{
			"algorithm": opts.Compression,
		})
		if err := o.compressArtifact(ctx, rawPath, finalPath, opts.Compression); err != nil {
			os.Remove(rawPath)
			os.Remove(finalPath)
			return nil, err
		}
		os.Remove(rawPath)
	} else {
		if err := os.Rename(rawPath, finalPath); err != nil {
			os.Remove(rawPath)
			return nil, NewResourceExhaustedError("failed to finalize artifact", err)
		}
	}

	artifact := &BackupArtifact{
		Path:         finalPath,
		Instance:     ri.Config.ID,
		Engine:       ri.Engine.Kind(),
		DatabaseName: database,
		CreatedAt:    createdAt,
		Compressed:   opts.Compression != "",
		Compression:  opts.Compression,
	}
	if info, err := os.Stat(finalPath); err == nil {
		artifact.SizeBytes = info.Size()
	}

	// Role snapshot and main dump form an atomic pair: a snapshot failure
	// discards the artifact so a schema+data dump stripped of privileges can
	// never masquerade as a full disaster-recovery backup.
	if opts.WithRoles {
		snapshotPath := filepath.Join(o.settings.BackupDir, RoleSnapshotFileName(artifactName))
		if err := o.roles.CaptureToFile(ctx, ri, snapshotPath); err != nil {
			os.Remove(finalPath)
			os.Remove(snapshotPath)
			return nil, NewProcessFailedError("role snapshot capture failed, backup discarded", err)
		}
		artifact.RoleSnapshotPath = snapshotPath
	}

	if err := AppendManifest(o.settings.BackupDir, ManifestEntry{
		OperationID: operationID,
		Artifact:    *artifact,
	}); err != nil {
		o.logger.Warnf("Backup succeeded but manifest update failed: %v", err)
	}

	o.logger.LogPhase(operationID, ri.Config.ID, "complete", map[string]interface{}{
		"database":   database,
		"artifact":   artifact.Path,
		"size_bytes": artifact.SizeBytes,
	})

	if o.replicator != nil {
		if err := o.replicator.UploadArtifact(ctx, artifact); err != nil {
			o.logger.Warnf("Offsite replication to %s failed for %s: %v",
				o.replicator.Name(), artifact.Path, err)
		}
	}

	return artifact, nil
}

func (o *Orchestrator) runExport(ctx context.Context, ri *config.ResolvedInstance, database, operationID, rawPath string) error {
	cmd := ri.Engine.BuildDumpCommand(ri.ConnectionParams(), engine.DumpOptions{
		Database: database,
		Routines: true,
		Path:     ri.Config.Path,
	})

	exportCtx := ctx
	if o.settings.BackupTimeout > 0 {
		var cancel context.CancelFunc
		exportCtx, cancel = context.WithTimeout(ctx, o.settings.BackupTimeout)
		defer cancel()
	}

	monitor := NewProcessMonitor(rawPath, 0)
	monitor.Start()

	result, err := runToFile(exportCtx, cmd, rawPath)
	monitor.Stop()

	if result != nil {
		o.logger.LogSubprocess(operationID, cmd.Utility, cmd.Args, result.Duration, err)
	}
	if err != nil {
		if note, ok := exportProgressNote(monitor); ok {
			o.logger.Warnf("Export of %s on %s failed; %s", database, ri.Config.ID, note)
		}
	}
	return err
}

// exportProgressNote summarizes what the monitor observed, attached to the
// failure report of a long-running export. Zero samples means the process
// died before the first tick and there is nothing to report.
func exportProgressNote(pm *ProcessMonitor) (string, bool) {
	if pm.Samples() == 0 {
		return "", false
	}
	return fmt.Sprintf("output had reached %d bytes, last growth %s before failure",
		pm.LastSize(), pm.SinceGrowth().Round(time.Second)), true
}

// compressArtifact runs the compression stage under its own independent
// timeout, streaming the raw dump into the final artifact.
func (o *Orchestrator) compressArtifact(ctx context.Context, rawPath, finalPath, algorithm string) error {
	compressor, err := o.compression.Get(algorithm)
	if err != nil {
		return NewProcessFailedError("unknown compression algorithm", err)
	}

	compressCtx := ctx
	if o.settings.CompressionTimeout > 0 {
		var cancel context.CancelFunc
		compressCtx, cancel = context.WithTimeout(ctx, o.settings.CompressionTimeout)
		defer cancel()
	}

	raw, err := os.Open(rawPath)
	if err != nil {
		return NewResourceExhaustedError("failed to open raw dump", err)
	}
	defer raw.Close()

	out, err := os.OpenFile(finalPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return NewResourceExhaustedError("failed to create artifact file", err)
	}
	defer out.Close()

	writer, err := compressor.NewWriter(out)
	if err != nil {
		return NewProcessFailedError("failed to initialize compressor", err)
	}

	if err := copyWithContext(compressCtx, writer, raw); err != nil {
		writer.Close()
		if compressCtx.Err() == context.DeadlineExceeded {
			return NewTimedOutError("compression stage exceeded its timeout", compressCtx.Err())
		}
		return NewResourceExhaustedError("failed to write compressed artifact", err)
	}
	if err := writer.Close(); err != nil {
		return NewResourceExhaustedError("failed to finalize compressed artifact", err)
	}
	return nil
}

// copyWithContext copies in chunks, honoring cancellation between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// InstanceResult is the outcome of backing up one instance in a batch run.
type InstanceResult struct {
	InstanceID string
	Artifacts  []*BackupArtifact
	Errors     []error
}

// BackupInstance backs up every allowed database of one instance. A failure
// on one database is recorded and the remaining databases still run.
func (o *Orchestrator) BackupInstance(ctx context.Context, ri *config.ResolvedInstance, databases []string) *InstanceResult {
	result := &InstanceResult{InstanceID: ri.Config.ID}

	if ri.Engine.Kind() == engine.KindFilesystem {
		databases = []string{filepath.Base(ri.Config.Path)}
	}

	for _, database := range databases {
		if !ri.Config.DatabaseAllowed(database) {
			o.logger.Debugf("Skipping database %s on %s (excluded by filter)", database, ri.Config.ID)
			continue
		}
		artifact, err := o.Backup(ctx, ri, database)
		if err != nil {
			o.logger.Errorf("Backup of %s on %s failed: %v", database, ri.Config.ID, err)
			result.Errors = append(result.Errors, fmt.Errorf("%s/%s: %w", ri.Config.ID, database, err))
			continue
		}
		result.Artifacts = append(result.Artifacts, artifact)
	}
	return result
}
