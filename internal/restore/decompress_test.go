package restore

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbkeeper/internal/backup"
)

func TestOpenArtifactStream_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a__b__mysql__20260831T020000.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1;\n"), 0600))

	reader, closeAll, err := openArtifactStream(path, backup.NewCompressionManager())
	require.NoError(t, err)
	defer closeAll()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\n", string(data))
}

func TestOpenArtifactStream_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a__b__mysql__20260831T020000.sql.gz")

	file, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(file)
	_, err = gz.Write([]byte("SELECT 1;\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, file.Close())

	reader, closeAll, err := openArtifactStream(path, backup.NewCompressionManager())
	require.NoError(t, err)
	defer closeAll()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\n", string(data))
}

func TestOpenArtifactStream_TarWrappedDump(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a__b__mysql__20260831T020000.sql.tar")

	file, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(file)
	payload := []byte("USE `orders_db`;\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "dump.sql", Mode: 0600, Size: int64(len(payload)), Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, file.Close())

	reader, closeAll, err := openArtifactStream(path, backup.NewCompressionManager())
	require.NoError(t, err)
	defer closeAll()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestOpenArtifactStream_Missing(t *testing.T) {
	_, _, err := openArtifactStream(filepath.Join(t.TempDir(), "absent.sql"), backup.NewCompressionManager())
	assert.Error(t, err)
}

func TestIsTarOfOne(t *testing.T) {
	assert.True(t, isTarOfOne("x__y__mysql__20260831T020000.sql.tar"))
	assert.True(t, isTarOfOne("x__y__mysql__20260831T020000.sql.tar.gz"))
	assert.False(t, isTarOfOne("x__y__mysql__20260831T020000.sql"))
	assert.False(t, isTarOfOne("x__y__filesystem__20260831T020000.tar"))
}
