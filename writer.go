// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"

	"mapzip/internal"
)

// unixMadeBy marks entries as written on a Unix host so readers trust the
// mode bits in the external attributes.
const unixMadeBy = 3<<8 | 20

// expandDir walks root and returns one input per file and subdirectory.
// Archive names are prefix plus the path relative to root, with forward
// slashes and a trailing slash on directories. The root itself is not
// included.
func expandDir(root, prefix string) ([]fileInput, error) {
	var inputs []fileInput

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := prefix + filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		in := fileInput{
			name:    name,
			path:    path,
			modTime: info.ModTime(),
			mode:    info.Mode(),
			isDir:   d.IsDir(),
		}
		if in.isDir {
			in.name += "/"
			in.path = ""
		}
		inputs = append(inputs, in)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return inputs, nil
}

// expandFolder lists the contents of folder for archiving. The folder's
// own name does not appear in the archive; its contents sit at the root.
func expandFolder(folder string) ([]fileInput, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrConfig, folder)
	}
	return expandDir(folder, "")
}

// expandPaths lists the given files and directories for archiving. A file
// is stored under its base name. A directory is stored under its base
// name with its tree underneath, so "dir/sub/file" becomes
// "dir/sub/file" regardless of where dir lives.
func expandPaths(paths []string) ([]fileInput, error) {
	var inputs []fileInput

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat input: %w", err)
		}

		base := filepath.Base(filepath.Clean(path))
		if !info.IsDir() {
			inputs = append(inputs, fileInput{
				name:    base,
				path:    path,
				modTime: info.ModTime(),
				mode:    info.Mode(),
				isDir:   false,
			})
			continue
		}

		inputs = append(inputs, fileInput{
			name:    base + "/",
			modTime: info.ModTime(),
			mode:    info.Mode(),
			isDir:   true,
		})
		sub, err := expandDir(path, base+"/")
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, sub...)
	}
	return inputs, nil
}

// createArchive encodes every input on the pool and writes the archive to
// outPath. Entries appear in input order no matter how the jobs
// interleave. Nothing is written until every entry has encoded cleanly;
// on failure the output path is left untouched and every failing entry is
// reported.
func createArchive(ctx context.Context, outPath string, inputs []fileInput, opts Options, pool *Pool) error {
	if _, err := os.Stat(outPath); err == nil {
		return fmt.Errorf("%w: %s", ErrExist, outPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat output: %w", err)
	}

	encoded := make([]*encodedEntry, len(inputs))
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.name
	}

	errs := pool.each(ctx, len(inputs), func(i int) error {
		in := inputs[i]

		var raw []byte
		if !in.isDir {
			var err error
			raw, err = os.ReadFile(in.path)
			if err != nil {
				return err
			}
		}

		e, err := encodeEntry(in, raw, opts)
		if err != nil {
			return err
		}
		encoded[i] = e
		return nil
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := aggregate(names, errs); err != nil {
		return err
	}

	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrExist, outPath)
		}
		return fmt.Errorf("create output: %w", err)
	}

	if err := writeArchive(f, encoded, opts.Comment); err != nil {
		f.Close()
		os.Remove(outPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

// writeArchive lays out the finished archive: local headers and payloads
// in entry order, then the central directory, then the end record.
func writeArchive(f *os.File, encoded []*encodedEntry, comment string) error {
	if len(encoded) > math.MaxUint16 {
		return fmt.Errorf("%w: too many entries, zip64 is not supported", ErrConfig)
	}

	w := bufio.NewWriter(f)
	var offset uint64
	var centralDir bytes.Buffer

	for _, e := range encoded {
		extra := flattenExtra(e.extra)

		local := internal.LocalFileHeader{
			VersionNeededToExtract: e.versionNeeded,
			GeneralPurposeBitFlag:  e.flags,
			CompressionMethod:      e.method,
			LastModFileTime:        e.dosTime,
			LastModFileDate:        e.dosDate,
			CRC32:                  e.crc32,
			CompressedSize:         e.compressedSize,
			UncompressedSize:       e.uncompressedSize,
			FilenameLength:         uint16(len(e.name)),
			ExtraFieldLength:       uint16(len(extra)),
			Filename:               e.name,
			ExtraField:             extra,
		}

		record := internal.CentralDirectory{
			VersionMadeBy:          unixMadeBy,
			VersionNeededToExtract: e.versionNeeded,
			GeneralPurposeBitFlag:  e.flags,
			CompressionMethod:      e.method,
			LastModFileTime:        e.dosTime,
			LastModFileDate:        e.dosDate,
			CRC32:                  e.crc32,
			CompressedSize:         e.compressedSize,
			UncompressedSize:       e.uncompressedSize,
			FilenameLength:         uint16(len(e.name)),
			ExtraFieldLength:       uint16(len(extra)),
			ExternalFileAttributes: e.externalAttrs,
			LocalHeaderOffset:      uint32(offset),
			Filename:               e.name,
			ExtraField:             e.extra,
		}

		header := local.Encode()
		if _, err := w.Write(header); err != nil {
			return fmt.Errorf("write local header: %w", err)
		}
		if _, err := w.Write(e.payload); err != nil {
			return fmt.Errorf("write entry data: %w", err)
		}
		offset += uint64(len(header)) + uint64(len(e.payload))
		if offset > math.MaxUint32 {
			return fmt.Errorf("%w: archive exceeds 4 GiB, zip64 is not supported", ErrConfig)
		}

		centralDir.Write(record.Encode())
	}

	cdOffset := offset
	if _, err := w.Write(centralDir.Bytes()); err != nil {
		return fmt.Errorf("write central directory: %w", err)
	}
	if _, err := w.Write(internal.EncodeEndOfCentralDirRecord(len(encoded), uint64(centralDir.Len()), cdOffset, comment)); err != nil {
		return fmt.Errorf("write end of central directory: %w", err)
	}
	return w.Flush()
}

// flattenExtra serializes extra fields in ascending tag order so output
// is byte-for-byte reproducible.
func flattenExtra(extra map[uint16][]byte) []byte {
	if len(extra) == 0 {
		return nil
	}
	tags := make([]uint16, 0, len(extra))
	for tag := range extra {
		tags = append(tags, tag)
	}
	slices.Sort(tags)

	var buf bytes.Buffer
	for _, tag := range tags {
		buf.Write(extra[tag])
	}
	return buf.Bytes()
}
