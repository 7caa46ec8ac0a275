package backup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitedBuffer_CapsRetainedBytes(t *testing.T) {
	lb := newLimitedBuffer(10)

	n, err := lb.Write([]byte("0123456789overflow"))
	require.NoError(t, err)
	assert.Equal(t, 18, n, "writes always report full consumption")
	assert.Equal(t, "0123456789", lb.String())

	// Further writes are swallowed once the cap is reached.
	_, err = lb.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", lb.String())
}

func TestClassifyRunError_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	// A killed process reports an exit error too; the deadline must win.
	berr := classifyRunError(ctx, "mysqldump", errors.New("signal: killed"), "")
	assert.Equal(t, BackupErrorTypeTimedOut, berr.Type)
	assert.True(t, IsTimedOut(berr))
}

func TestClassifyRunError_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	berr := classifyRunError(ctx, "pg_dump", errors.New("signal: killed"), "")
	assert.Equal(t, BackupErrorTypeProcessFailed, berr.Type)
}

func TestClassifyRunError_ResourceExhausted(t *testing.T) {
	tests := []struct {
		stderr string
	}{
		{"mysqldump: Got errno 28 on write: No space left on device"},
		{"write failed: disk full"},
		{"fork: Cannot allocate memory"},
	}
	for _, tt := range tests {
		berr := classifyRunError(context.Background(), "mysqldump", errors.New("exit status 3"), tt.stderr)
		assert.Equal(t, BackupErrorTypeResourceExhausted, berr.Type, "stderr %q", tt.stderr)
	}
}

func TestClassifyRunError_ProcessFailed(t *testing.T) {
	berr := classifyRunError(context.Background(), "mysqldump",
		errors.New("exit status 2"), "mysqldump: Access denied for user")
	assert.Equal(t, BackupErrorTypeProcessFailed, berr.Type)
	assert.Contains(t, berr.Stderr, "Access denied")
}

func TestBackupError_WithStderrTruncates(t *testing.T) {
	long := strings.Repeat("x", 10000)
	berr := NewProcessFailedError("boom", nil).WithStderr(long)
	assert.Len(t, berr.Stderr, 4096+len("... (truncated)"))
	assert.True(t, strings.HasSuffix(berr.Stderr, "... (truncated)"))
}

func TestBackupError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	berr := NewTimedOutError("slow", cause)
	assert.ErrorIs(t, berr, cause)
	assert.Contains(t, berr.Error(), "TIMED_OUT")
}
