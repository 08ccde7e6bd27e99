// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"mapzip/internal"
)

// winZipAESMarker is the compression method ID that flags WinZip AES
// encryption. The real method is carried in the 0x9901 extra field.
const winZipAESMarker = 99

// AESEncryptionTag is the extra field ID of the WinZip AES header.
const AESEncryptionTag uint16 = 0x9901

// Entry describes one record of the central directory.
type Entry struct {
	Name             string
	Comment          string
	IsDir            bool
	Method           CompressionMethod
	Encryption       EncryptionMethod
	Flags            uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	HeaderOffset     int64
	ModTime          time.Time

	rawMethod        uint16 // method as stored, winZipAESMarker when AES
	dosDate, dosTime uint16
	externalAttrs    uint32
}

// maxEOCDScan bounds the backward search for the end-of-central-directory
// record: the fixed record plus the largest possible trailing comment.
const maxEOCDScan = internal.EndOfCentralDirLen + 65535

// findEndOfCentralDir locates and decodes the end-of-central-directory
// record by scanning backward from the end of the mapping. The record is
// only accepted when its comment length reaches exactly to the end of the
// file, which rules out stray signature bytes inside entry data.
func findEndOfCentralDir(m *mappedArchive) (internal.EndOfCentralDirectory, int64, error) {
	window := min(m.size, maxEOCDScan)
	buf := make([]byte, window)
	if _, err := m.ReadAt(buf, m.size-window); err != nil {
		return internal.EndOfCentralDirectory{}, 0, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	for i := len(buf) - internal.EndOfCentralDirLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:i+4]) != internal.EndOfCentralDirSignature {
			continue
		}
		end, err := internal.ReadEndOfCentralDir(bytes.NewReader(buf[i+4:]))
		if err != nil {
			continue
		}
		offset := m.size - window + int64(i)
		if offset+internal.EndOfCentralDirLen+int64(end.CommentLength) != m.size {
			continue
		}
		return end, offset, nil
	}

	return internal.EndOfCentralDirectory{}, 0, fmt.Errorf("%w: end of central directory not found", ErrFormat)
}

// parseArchive decodes the full central directory into entries, in
// directory order.
func parseArchive(m *mappedArchive) ([]*Entry, internal.EndOfCentralDirectory, error) {
	end, eocdOffset, err := findEndOfCentralDir(m)
	if err != nil {
		return nil, end, err
	}

	if end.ThisDiskNum != 0 || end.DiskNumWithTheStartOfCentralDir != 0 {
		return nil, end, fmt.Errorf("%w: multi-disk archives are not supported", ErrFormat)
	}

	cdOffset := int64(end.CentralDirOffset)
	cdSize := int64(end.CentralDirSize)
	if cdOffset+cdSize > eocdOffset {
		return nil, end, fmt.Errorf("%w: central directory extends past its end record", ErrFormat)
	}

	src := m.section(cdOffset, cdSize)
	entries := make([]*Entry, 0, end.TotalNumberOfEntries)

	for i := 0; i < int(end.TotalNumberOfEntries); i++ {
		var sig [4]byte
		if _, err := io.ReadFull(src, sig[:]); err != nil {
			return nil, end, fmt.Errorf("%w: truncated central directory", ErrFormat)
		}
		if binary.LittleEndian.Uint32(sig[:]) != internal.CentralDirectorySignature {
			return nil, end, fmt.Errorf("%w: bad central directory signature", ErrFormat)
		}

		record, err := internal.ReadCentralDirEntry(src)
		if err != nil {
			return nil, end, fmt.Errorf("%w: %v", ErrFormat, err)
		}

		entry, err := newEntryFromCentralDir(record)
		if err != nil {
			return nil, end, err
		}
		if int64(record.LocalHeaderOffset) >= cdOffset {
			return nil, end, fmt.Errorf("%w: local header offset of %s past central directory", ErrFormat, entry.Name)
		}
		entries = append(entries, entry)
	}

	// A spare record where the count said there were none means the count
	// and the directory disagree; treat the archive as corrupt.
	var sig [4]byte
	if _, err := io.ReadFull(src, sig[:]); err == nil && binary.LittleEndian.Uint32(sig[:]) == internal.CentralDirectorySignature {
		return nil, end, fmt.Errorf("%w: entry count mismatch", ErrFormat)
	}

	return entries, end, nil
}

// newEntryFromCentralDir lifts a raw record into an Entry, resolving the
// encryption scheme and the effective compression method.
func newEntryFromCentralDir(record internal.CentralDirectory) (*Entry, error) {
	entry := &Entry{
		Name:             record.Filename,
		Comment:          record.Comment,
		IsDir:            strings.HasSuffix(record.Filename, "/"),
		Method:           CompressionMethod(record.CompressionMethod),
		Flags:            record.GeneralPurposeBitFlag,
		CRC32:            record.CRC32,
		CompressedSize:   record.CompressedSize,
		UncompressedSize: record.UncompressedSize,
		HeaderOffset:     int64(record.LocalHeaderOffset),
		ModTime:          msDosToTime(record.LastModFileDate, record.LastModFileTime),
		rawMethod:        record.CompressionMethod,
		dosDate:          record.LastModFileDate,
		dosTime:          record.LastModFileTime,
		externalAttrs:    record.ExternalFileAttributes,
	}

	if record.GeneralPurposeBitFlag&0x1 == 0 {
		return entry, nil
	}

	if record.CompressionMethod != winZipAESMarker {
		entry.Encryption = ZipCrypto
		return entry, nil
	}

	// WinZip AES: the 0x9901 extra field carries the strength and the
	// actual compression method. Field layout, tag and size included:
	// tag(2) size(2) version(2) vendor(2) strength(1) method(2).
	field, ok := record.ExtraField[AESEncryptionTag]
	if !ok || len(field) < 11 {
		return nil, fmt.Errorf("%w: %s: missing aes extra field", ErrFormat, record.Filename)
	}
	if field[8] != aes256StrengthID {
		return nil, fmt.Errorf("%w: %s: only aes-256 is supported", ErrEncryption, record.Filename)
	}

	entry.Encryption = AES256
	entry.Method = CompressionMethod(binary.LittleEndian.Uint16(field[9:11]))
	return entry, nil
}

// selectWinners returns the indices of the entries that define their
// names. When a name appears more than once in the central directory, the
// last record wins and earlier ones are ignored, which is how other
// tooling resolves the ambiguity. Directory entries carry no data and are
// excluded. Order follows the central directory.
func selectWinners(entries []*Entry) []int {
	last := make(map[string]int, len(entries))
	for i, e := range entries {
		if e.IsDir {
			continue
		}
		last[e.Name] = i
	}

	winners := make([]int, 0, len(last))
	for i, e := range entries {
		if !e.IsDir && last[e.Name] == i {
			winners = append(winners, i)
		}
	}
	return winners
}

// readArchive loads every file entry of the archive into memory. The
// result is all-or-nothing: any entry failure aborts the whole read and
// every failure is reported, not just the first.
func readArchive(ctx context.Context, path string, opts Options, pool *Pool) (map[string][]byte, error) {
	m, err := openArchive(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	entries, _, err := parseArchive(m)
	if err != nil {
		return nil, err
	}

	winners := selectWinners(entries)
	results := make([][]byte, len(winners))
	names := make([]string, len(winners))
	for i, idx := range winners {
		names[i] = entries[idx].Name
	}

	errs := pool.each(ctx, len(winners), func(i int) error {
		data, err := decodeEntry(m, entries[winners[i]], opts.Password)
		if err != nil {
			return err
		}
		results[i] = data
		return nil
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := aggregate(names, errs); err != nil {
		return nil, err
	}

	contents := make(map[string][]byte, len(winners))
	for i, name := range names {
		contents[name] = results[i]
	}
	return contents, nil
}

// listArchive returns the central directory as entries, without touching
// any entry data.
func listArchive(path string) ([]*Entry, error) {
	m, err := openArchive(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	entries, _, err := parseArchive(m)
	return entries, err
}
