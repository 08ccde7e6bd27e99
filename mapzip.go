// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mapzip reads, writes and extracts ZIP archives, fanning the
// per-entry work out over a bounded worker pool. Archives being read are
// memory-mapped, so entry jobs decode concurrently from the same mapping
// without coordinating file offsets.
//
// Supported compression methods are Store, Deflate and Zstandard.
// Entries can be protected with the legacy ZipCrypto stream cipher or
// WinZip AES-256, in both directions. Zip64 archives are not supported.
//
// Reading is all-or-nothing: every entry must decode cleanly or the call
// fails with an *AggregateError naming each broken entry. Extraction is
// best-effort instead and returns an ExtractReport. Creating an archive
// never overwrites an existing file, keeps entries in input order no
// matter how the parallel encoding interleaves, and without encryption
// produces identical bytes for identical inputs and options.
package mapzip

import (
	"context"
	"fmt"
)

// Options configures reading, writing and extraction. The zero value
// stores entries uncompressed and unencrypted, and sizes the worker pool
// to the number of CPUs.
type Options struct {
	// Method selects the compression algorithm for new entries.
	Method CompressionMethod

	// Level tunes Method. Zero picks the method's default. Deflate
	// accepts 1 through 9, Zstandard 1 through 22.
	Level int

	// Password decrypts entries on read and, together with Encryption,
	// protects entries on write.
	Password string

	// Encryption selects the scheme for new entries. Anything other than
	// NotEncrypted requires a Password.
	Encryption EncryptionMethod

	// Workers caps concurrent entry jobs. Non-positive means one per CPU.
	Workers int

	// Comment is stored in the archive's end record. At most 65535 bytes.
	Comment string
}

// validateWrite checks and normalizes options for a create operation.
func (o Options) validateWrite() (Options, error) {
	switch o.Method {
	case Stored:
	case Deflated:
		if o.Level == 0 {
			o.Level = DeflateNormal
		}
		if o.Level < DeflateSuperFast || o.Level > DeflateMaximum {
			return o, fmt.Errorf("%w: deflate level %d out of range", ErrConfig, o.Level)
		}
	case ZStandard:
		if o.Level == 0 {
			o.Level = 3
		}
		if o.Level < 1 || o.Level > 22 {
			return o, fmt.Errorf("%w: zstd level %d out of range", ErrConfig, o.Level)
		}
	default:
		return o, fmt.Errorf("%w: unknown compression method %d", ErrConfig, o.Method)
	}

	switch o.Encryption {
	case NotEncrypted:
	case ZipCrypto, AES256:
		if o.Password == "" {
			return o, fmt.Errorf("%w: encryption requires a password", ErrConfig)
		}
	default:
		return o, fmt.Errorf("%w: unknown encryption method %d", ErrConfig, o.Encryption)
	}

	if len(o.Comment) > 65535 {
		return o, fmt.Errorf("%w: comment exceeds 65535 bytes", ErrConfig)
	}
	return o, nil
}

// pool resolves the worker pool for a call: an explicit pool wins, then
// the Workers option, then the shared default.
func (o Options) pool(p *Pool) *Pool {
	if p != nil {
		return p
	}
	if o.Workers > 0 {
		return NewPool(o.Workers)
	}
	return defaultPool
}

// ReadArchive decodes every file entry of the archive at path into
// memory, keyed by entry name. Directory entries are omitted; when a name
// appears more than once, the last central directory record wins.
//
// The call either returns the complete contents or fails. If any entries
// cannot be decoded the error is an *AggregateError listing all of them.
func ReadArchive(path string, opts Options) (map[string][]byte, error) {
	return ReadArchiveContext(context.Background(), path, opts, nil)
}

// ReadArchiveContext is ReadArchive with cancellation and an optional
// shared pool. Cancelling ctx stops dispatching new entry jobs, waits for
// running ones, and returns ctx.Err().
func ReadArchiveContext(ctx context.Context, path string, opts Options, pool *Pool) (map[string][]byte, error) {
	return readArchive(ctx, path, opts, opts.pool(pool))
}

// ListArchive returns the central directory of the archive at path in
// directory order, without decoding any entry data. Directory entries and
// duplicate names are included as stored.
func ListArchive(path string) ([]*Entry, error) {
	return listArchive(path)
}

// CreateFromFolder archives the contents of folder into a new archive at
// archivePath. The folder itself does not appear in entry names; its
// contents sit at the archive root.
//
// The output must not exist; ErrExist is returned otherwise and nothing
// is written. Entry encoding runs on the pool, but entries land in the
// archive in walk order, so the resulting entry list is deterministic.
func CreateFromFolder(archivePath, folder string, opts Options) error {
	return CreateFromFolderContext(context.Background(), archivePath, folder, opts, nil)
}

// CreateFromFolderContext is CreateFromFolder with cancellation and an
// optional shared pool.
func CreateFromFolderContext(ctx context.Context, archivePath, folder string, opts Options, pool *Pool) error {
	opts, err := opts.validateWrite()
	if err != nil {
		return err
	}
	inputs, err := expandFolder(folder)
	if err != nil {
		return err
	}
	return createArchive(ctx, archivePath, inputs, opts, opts.pool(pool))
}

// CreateFromPaths archives the given files and directories into a new
// archive at archivePath. Each path is stored under its base name;
// directories keep their name as a prefix for their tree.
func CreateFromPaths(archivePath string, paths []string, opts Options) error {
	return CreateFromPathsContext(context.Background(), archivePath, paths, opts, nil)
}

// CreateFromPathsContext is CreateFromPaths with cancellation and an
// optional shared pool.
func CreateFromPathsContext(ctx context.Context, archivePath string, paths []string, opts Options, pool *Pool) error {
	opts, err := opts.validateWrite()
	if err != nil {
		return err
	}
	inputs, err := expandPaths(paths)
	if err != nil {
		return err
	}
	return createArchive(ctx, archivePath, inputs, opts, opts.pool(pool))
}

// ExtractArchive unpacks the archive at archivePath into dest, creating
// dest if needed. Extraction is best-effort: entries that fail to decode
// or would escape dest are recorded in the report while the rest are
// written. The returned error is reserved for structural problems, such
// as an unreadable archive or an unusable destination.
func ExtractArchive(archivePath, dest string, opts Options) (*ExtractReport, error) {
	return ExtractArchiveContext(context.Background(), archivePath, dest, opts, nil)
}

// ExtractArchiveContext is ExtractArchive with cancellation and an
// optional shared pool.
func ExtractArchiveContext(ctx context.Context, archivePath, dest string, opts Options, pool *Pool) (*ExtractReport, error) {
	return extractArchive(ctx, archivePath, dest, opts, opts.pool(pool))
}
