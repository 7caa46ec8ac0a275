package backup

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression algorithm names as they appear in configuration.
const (
	CompressionNone = ""
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Compressor wraps one streaming algorithm. Dumps can be far larger than
// memory, so everything is writer/reader based; nothing buffers a whole
// artifact.
type Compressor interface {
	Name() string
	Suffix() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// CompressionManager selects compressors by configured name or by artifact
// file suffix.
type CompressionManager struct {
	compressors map[string]Compressor
}

// NewCompressionManager creates a manager with all supported algorithms
// registered.
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[string]Compressor),
	}
	cm.compressors[CompressionGzip] = &GzipCompressor{}
	cm.compressors[CompressionZstd] = &ZstdCompressor{}
	cm.compressors[CompressionLZ4] = &LZ4Compressor{}
	return cm
}

// Get returns the compressor for a configured algorithm name.
func (cm *CompressionManager) Get(name string) (Compressor, error) {
	compressor, exists := cm.compressors[name]
	if !exists {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", name)
	}
	return compressor, nil
}

// ForSuffix returns the compressor matching an artifact suffix, or nil when
// the artifact is uncompressed.
func (cm *CompressionManager) ForSuffix(path string) Compressor {
	for _, compressor := range cm.compressors {
		if suffix := compressor.Suffix(); suffix != "" && hasSuffix(path, suffix) {
			return compressor
		}
	}
	return nil
}

// Supported returns the configured algorithm names.
func (cm *CompressionManager) Supported() []string {
	names := make([]string, 0, len(cm.compressors))
	for name := range cm.compressors {
		names = append(names, name)
	}
	return names
}

func hasSuffix(path, suffix string) bool {
	return len(path) > len(suffix) && path[len(path)-len(suffix):] == suffix
}

// CompressionSuffix maps an algorithm name to its artifact suffix.
func CompressionSuffix(name string) string {
	switch name {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// GzipCompressor implements gzip streaming compression
type GzipCompressor struct{}

func (gc *GzipCompressor) Name() string   { return CompressionGzip }
func (gc *GzipCompressor) Suffix() string { return ".gz" }

func (gc *GzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(w, gzip.BestSpeed)
}

func (gc *GzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// ZstdCompressor implements zstd streaming compression
type ZstdCompressor struct{}

func (zc *ZstdCompressor) Name() string   { return CompressionZstd }
func (zc *ZstdCompressor) Suffix() string { return ".zst" }

func (zc *ZstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zc *ZstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}

// LZ4Compressor implements lz4 streaming compression
type LZ4Compressor struct{}

func (lc *LZ4Compressor) Name() string   { return CompressionLZ4 }
func (lc *LZ4Compressor) Suffix() string { return ".lz4" }

func (lc *LZ4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (lc *LZ4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}
