// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"math"
	"time"

	"mapzip/internal"
)

// decodeEntry runs the full read pipeline for one entry: validate the
// local header against the central directory, decrypt, decompress, and
// verify size and checksum. Each entry job is independent, which is what
// makes the fan-out safe.
func decodeEntry(m *mappedArchive, e *Entry, password string) ([]byte, error) {
	local, err := internal.ReadLocalFileHeader(m.section(e.HeaderOffset, m.size-e.HeaderOffset))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	if local.CompressionMethod != e.rawMethod {
		return nil, fmt.Errorf("%w: local header method disagrees with central directory", ErrFormat)
	}
	// With flag bit 3 the local header carries zeros and the real values
	// live in a trailing data descriptor; only the directory is
	// authoritative then.
	if local.GeneralPurposeBitFlag&0x8 == 0 {
		if local.CRC32 != e.CRC32 || local.CompressedSize != e.CompressedSize || local.UncompressedSize != e.UncompressedSize {
			return nil, fmt.Errorf("%w: local header disagrees with central directory", ErrFormat)
		}
	}

	payloadOffset := e.HeaderOffset + internal.LocalFileHeaderLen +
		int64(local.FilenameLength) + int64(local.ExtraFieldLength)
	if payloadOffset+int64(e.CompressedSize) > m.size {
		return nil, fmt.Errorf("%w: entry data extends past end of archive", ErrFormat)
	}

	var src io.Reader = m.section(payloadOffset, int64(e.CompressedSize))

	switch e.Encryption {
	case NotEncrypted:
	case ZipCrypto:
		if password == "" {
			return nil, ErrPasswordMismatch
		}
		src, err = newZipCryptoReader(src, password, e.Flags, e.CRC32, e.dosTime)
		if err != nil {
			return nil, err
		}
	case AES256:
		if password == "" {
			return nil, ErrPasswordMismatch
		}
		src, err = newAES256Reader(src, password, int64(e.CompressedSize))
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrEncryption
	}

	dec, err := newDecompressor(e.Method)
	if err != nil {
		return nil, err
	}
	rc, err := dec.Decompress(src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data := make([]byte, e.UncompressedSize)
	if _, err := io.ReadFull(rc, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: entry shorter than recorded", ErrSizeMismatch)
		}
		return nil, err
	}
	if n, err := io.CopyN(io.Discard, rc, 1); n > 0 {
		return nil, fmt.Errorf("%w: entry longer than recorded", ErrSizeMismatch)
	} else if err != nil && err != io.EOF {
		return nil, err
	}
	if len(data) == 0 {
		data = nil
	}

	if e.Encryption == AES256 {
		// The decompressor may stop before consuming the whole ciphertext.
		// Drain the decrypting reader so the authentication code at the
		// end of the payload gets checked.
		if _, err := io.Copy(io.Discard, src); err != nil {
			return nil, err
		}
		// AE-2 records a zero CRC; the authentication code stands in for it.
		return data, nil
	}

	if sum := crc32.ChecksumIEEE(data); sum != e.CRC32 {
		return nil, fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, sum, e.CRC32)
	}
	return data, nil
}

// encodedEntry is the output of one encode job: the final payload bytes
// plus everything the writer needs to emit the local header and the
// central directory record.
type encodedEntry struct {
	name             string
	payload          []byte
	method           uint16
	flags            uint16
	versionNeeded    uint16
	crc32            uint32
	compressedSize   uint32
	uncompressedSize uint32
	extra            map[uint16][]byte
	dosDate, dosTime uint16
	externalAttrs    uint32
	isDir            bool
}

// fileInput is one pending entry of a create operation.
type fileInput struct {
	name    string // archive name, forward slashes, trailing slash for dirs
	path    string // source path on disk, empty for directories
	modTime time.Time
	mode    fs.FileMode
	isDir   bool
}

// encodeEntry runs the full write pipeline for one input: compress, then
// encrypt, producing a finished payload. Directory inputs become empty
// stored entries.
func encodeEntry(in fileInput, raw []byte, opts Options) (*encodedEntry, error) {
	dosDate, dosTime := timeToMsDos(in.modTime)
	out := &encodedEntry{
		name:          in.name,
		versionNeeded: 20,
		dosDate:       dosDate,
		dosTime:       dosTime,
		externalAttrs: modeToExternalAttrs(in.mode, in.isDir),
		isDir:         in.isDir,
	}

	if in.isDir {
		return out, nil
	}

	if err := checkEntrySize(len(raw)); err != nil {
		return nil, err
	}

	out.flags |= 0x800 // names are UTF-8
	out.uncompressedSize = uint32(len(raw))
	out.crc32 = crc32.ChecksumIEEE(raw)
	out.method = uint16(opts.Method)
	if opts.Method == ZStandard {
		out.versionNeeded = 63
	}

	comp, err := newCompressor(opts.Method, opts.Level)
	if err != nil {
		return nil, err
	}

	var compressed bytes.Buffer
	if _, err := comp.Compress(bytes.NewReader(raw), &compressed); err != nil {
		return nil, err
	}

	switch opts.Encryption {
	case NotEncrypted:
		out.payload = compressed.Bytes()

	case ZipCrypto:
		out.flags |= 0x1
		var buf bytes.Buffer
		w, err := newZipCryptoWriter(&buf, opts.Password, byte(out.crc32>>24))
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(compressed.Bytes()); err != nil {
			return nil, err
		}
		out.payload = buf.Bytes()

	case AES256:
		out.flags |= 0x1
		var buf bytes.Buffer
		w, err := newAES256Writer(&buf, opts.Password)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(compressed.Bytes()); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		out.payload = buf.Bytes()
		out.extra = map[uint16][]byte{AESEncryptionTag: aesExtraField(out.method)}
		out.method = winZipAESMarker
		out.versionNeeded = 51
		// AE-2 omits the CRC so tools cannot use it as a password oracle.
		out.crc32 = 0

	default:
		return nil, ErrEncryption
	}

	if err := checkEntrySize(len(out.payload)); err != nil {
		return nil, err
	}
	out.compressedSize = uint32(len(out.payload))
	return out, nil
}

// checkEntrySize rejects entry data that cannot be recorded in the
// 32-bit size fields.
func checkEntrySize(n int) error {
	if n > math.MaxUint32 {
		return fmt.Errorf("%w: entry exceeds 4 GiB, zip64 is not supported", ErrConfig)
	}
	return nil
}

// aesExtraField builds the 0x9901 extra field announcing AE-2, AES-256
// and the real compression method.
func aesExtraField(method uint16) []byte {
	field := make([]byte, 11)
	binary.LittleEndian.PutUint16(field[0:2], AESEncryptionTag)
	binary.LittleEndian.PutUint16(field[2:4], 7)
	binary.LittleEndian.PutUint16(field[4:6], 2) // AE-2
	copy(field[6:8], "AE")
	field[8] = aes256StrengthID
	binary.LittleEndian.PutUint16(field[9:11], method)
	return field
}
