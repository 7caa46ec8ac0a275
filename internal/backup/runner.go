package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"dbkeeper/internal/engine"
)

// runResult captures the outcome of one subprocess execution.
type runResult struct {
	Duration time.Duration
	Stderr   string
}

// limitedBuffer keeps the tail-relevant head of stderr without letting a
// chatty utility consume unbounded memory.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (lb *limitedBuffer) Write(p []byte) (int, error) {
	if lb.buf.Len() < lb.limit {
		remaining := lb.limit - lb.buf.Len()
		if len(p) > remaining {
			lb.buf.Write(p[:remaining])
		} else {
			lb.buf.Write(p)
		}
	}
	return len(p), nil
}

func (lb *limitedBuffer) String() string {
	return lb.buf.String()
}

// runToFile executes cmd with stdout streamed to outputPath, under the
// context's deadline. The process inherits the parent environment plus the
// command's own entries, so connection secrets travel through env and never
// appear in process listings.
func runToFile(ctx context.Context, cmd engine.Command, outputPath string) (*runResult, error) {
	output, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, NewResourceExhaustedError("failed to create output file", err)
	}
	defer output.Close()

	return runWithIO(ctx, cmd, nil, output)
}

// runWithIO executes cmd with the given stdin and stdout, classifying
// failures into the backup error taxonomy.
func runWithIO(ctx context.Context, cmd engine.Command, stdin io.Reader, stdout io.Writer) (*runResult, error) {
	stderr := newLimitedBuffer(8192)

	proc := exec.CommandContext(ctx, cmd.Utility, cmd.Args...)
	proc.Env = append(os.Environ(), cmd.Env...)
	proc.Stdin = stdin
	proc.Stdout = stdout
	proc.Stderr = stderr

	start := time.Now()
	err := proc.Run()
	result := &runResult{
		Duration: time.Since(start),
		Stderr:   stderr.String(),
	}

	if err != nil {
		return result, classifyRunError(ctx, cmd.Utility, err, result.Stderr)
	}
	return result, nil
}

// classifyRunError maps a subprocess failure onto the typed taxonomy. The
// deadline check comes first: a killed process reports an exit error too, and
// the timeout is the truth of what happened.
func classifyRunError(ctx context.Context, utility string, err error, stderr string) *BackupError {
	if ctx.Err() == context.DeadlineExceeded {
		return NewTimedOutError(utility+" exceeded its timeout and was terminated", ctx.Err()).WithStderr(stderr)
	}
	if ctx.Err() == context.Canceled {
		return NewProcessFailedError(utility+" was cancelled", ctx.Err()).WithStderr(stderr)
	}

	if isResourceExhausted(err, stderr) {
		return NewResourceExhaustedError(utility+" ran out of resources", err).WithStderr(stderr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return NewProcessFailedError(utility+" exited with an error", err).WithStderr(stderr)
	}
	return NewProcessFailedError("failed to start "+utility, err).WithStderr(stderr)
}

func isResourceExhausted(err error, stderr string) bool {
	combined := strings.ToLower(err.Error() + " " + stderr)
	for _, marker := range []string{"no space left", "disk full", "cannot allocate memory", "file too large"} {
		if strings.Contains(combined, marker) {
			return true
		}
	}
	return false
}
