// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// CompressionMethod identifies the compression algorithm of an archive entry.
type CompressionMethod uint16

// Compression methods by their assigned ZIP method IDs.
const (
	Stored    CompressionMethod = 0  // no compression
	Deflated  CompressionMethod = 8  // DEFLATE, the common case
	ZStandard CompressionMethod = 93 // Zstandard
)

// Compression levels for the DEFLATE algorithm.
const (
	DeflateSuperFast = 1
	DeflateFast      = 3
	DeflateNormal    = 6
	DeflateMaximum   = 9
)

// Compressor transforms raw data into compressed data.
type Compressor interface {
	// Compress reads from src and writes compressed data to dest.
	// Returns the number of uncompressed bytes read.
	Compress(src io.Reader, dest io.Writer) (int64, error)
}

// Decompressor transforms compressed data back into raw data.
type Decompressor interface {
	// Decompress returns a stream of uncompressed data.
	Decompress(src io.Reader) (io.ReadCloser, error)
}

// newCompressor resolves the compressor for a method at a given level.
// An unknown method yields ErrAlgorithm.
func newCompressor(method CompressionMethod, level int) (Compressor, error) {
	switch method {
	case Stored:
		return storedCompressor{}, nil
	case Deflated:
		return getDeflateCompressor(level), nil
	case ZStandard:
		return &zstdCompressor{level: level}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrAlgorithm, method)
	}
}

// newDecompressor resolves the decompressor for a method.
func newDecompressor(method CompressionMethod) (Decompressor, error) {
	switch method {
	case Stored:
		return storedDecompressor{}, nil
	case Deflated:
		return deflateDecompressor{}, nil
	case ZStandard:
		return zstdDecompressor{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrAlgorithm, method)
	}
}

// storedCompressor implements the Store method (no compression).
type storedCompressor struct{}

func (storedCompressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	return io.Copy(dest, src)
}

// storedDecompressor reads Store entries back verbatim.
type storedDecompressor struct{}

func (storedDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(src), nil
}

// deflateCompressor implements DEFLATE with per-level writer pooling,
// so concurrent entry jobs reuse flate state instead of reallocating it.
type deflateCompressor struct {
	pool sync.Pool
}

var (
	deflateMu          sync.Mutex
	deflateCompressors = make(map[int]*deflateCompressor)
)

// getDeflateCompressor returns the shared compressor for a level.
func getDeflateCompressor(level int) *deflateCompressor {
	deflateMu.Lock()
	defer deflateMu.Unlock()

	if c, ok := deflateCompressors[level]; ok {
		return c
	}
	c := &deflateCompressor{
		pool: sync.Pool{
			New: func() interface{} {
				w, _ := flate.NewWriter(io.Discard, level)
				return w
			},
		},
	}
	deflateCompressors[level] = c
	return c
}

func (d *deflateCompressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	w := d.pool.Get().(*flate.Writer)
	defer d.pool.Put(w)

	w.Reset(dest)

	n, err := io.Copy(w, src)
	if err != nil {
		return n, err
	}
	return n, w.Close()
}

// deflateDecompressor implements the Deflate method.
type deflateDecompressor struct{}

func (deflateDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(src), nil
}

// zstdCompressor implements Zstandard (method 93). The 0-9 option level is
// mapped onto zstd's own level scale.
type zstdCompressor struct {
	level int
}

func (c *zstdCompressor) Compress(src io.Reader, dest io.Writer) (int64, error) {
	enc, err := zstd.NewWriter(dest, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(enc, src)
	if err != nil {
		enc.Close()
		return n, err
	}
	return n, enc.Close()
}

// zstdDecompressor implements Zstandard decoding.
type zstdDecompressor struct{}

func (zstdDecompressor) Decompress(src io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
