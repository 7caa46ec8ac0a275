package restore

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"strings"

	"dbkeeper/internal/backup"
)

// openArtifactStream opens an artifact for reading, dispatching on file type:
// plain, single-stage compressed, or a tar archive wrapping one dump file.
// The returned closer releases every layer.
func openArtifactStream(path string, compression *backup.CompressionManager) (io.Reader, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	var reader io.Reader = file
	closers := []io.Closer{file}
	closeAll := func() error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	if compressor := compression.ForSuffix(path); compressor != nil {
		decompressed, err := compressor.NewReader(reader)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to open %s stream: %w", compressor.Name(), err)
		}
		closers = append(closers, decompressed)
		reader = decompressed
	}

	// An archive-of-one: a tar wrapper around a single dump file. The
	// filesystem engine consumes tar archives whole; this path is for SQL
	// dumps that arrived wrapped.
	if isTarOfOne(path) {
		tarReader := tar.NewReader(reader)
		for {
			header, err := tarReader.Next()
			if err == io.EOF {
				closeAll()
				return nil, nil, fmt.Errorf("archive %s contains no dump file", path)
			}
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("failed to read archive %s: %w", path, err)
			}
			if header.Typeflag == tar.TypeReg {
				reader = tarReader
				break
			}
		}
	}

	return reader, closeAll, nil
}

// isTarOfOne reports whether the artifact is a tar wrapper around a SQL dump,
// judged by the name encoding: a ".tar" base with an inner ".sql".
func isTarOfOne(path string) bool {
	base := path
	for _, suffix := range []string{".gz", ".zst", ".lz4"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return strings.HasSuffix(base, ".sql.tar")
}
