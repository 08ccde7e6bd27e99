// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileHeaderRoundTrip(t *testing.T) {
	h := LocalFileHeader{
		VersionNeededToExtract: 20,
		GeneralPurposeBitFlag:  0x800,
		CompressionMethod:      8,
		LastModFileTime:        0x7d1c,
		LastModFileDate:        0x5b21,
		CRC32:                  0xdeadbeef,
		CompressedSize:         42,
		UncompressedSize:       100,
		FilenameLength:         8,
		ExtraFieldLength:       4,
		Filename:               "dir/file",
		ExtraField:             []byte{0x01, 0x99, 0x00, 0x00},
	}

	encoded := h.Encode()
	require.Len(t, encoded, LocalFileHeaderLen+8+4)

	got, err := ReadLocalFileHeader(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestReadLocalFileHeaderBadSignature(t *testing.T) {
	buf := make([]byte, LocalFileHeaderLen)
	binary.LittleEndian.PutUint32(buf, CentralDirectorySignature)

	_, err := ReadLocalFileHeader(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestReadLocalFileHeaderTruncated(t *testing.T) {
	h := LocalFileHeader{FilenameLength: 20, Filename: "short"}
	encoded := h.Encode()

	_, err := ReadLocalFileHeader(bytes.NewReader(encoded[:LocalFileHeaderLen+5]))
	require.Error(t, err)
}

func TestCentralDirectoryRoundTrip(t *testing.T) {
	d := CentralDirectory{
		VersionMadeBy:          3<<8 | 20,
		VersionNeededToExtract: 20,
		CompressionMethod:      8,
		CRC32:                  0xcafebabe,
		CompressedSize:         10,
		UncompressedSize:       20,
		FilenameLength:         4,
		ExtraFieldLength:       11,
		FileCommentLength:      5,
		ExternalFileAttributes: 0o644 << 16,
		LocalHeaderOffset:      123,
		Filename:               "name",
		ExtraField: map[uint16][]byte{
			0x9901: {0x01, 0x99, 0x07, 0x00, 0x02, 0x00, 'A', 'E', 0x03, 0x08, 0x00},
		},
		Comment: "hello",
	}

	encoded := d.Encode()
	require.Len(t, encoded, CentralDirEntryLen+4+11+5)
	require.Equal(t, CentralDirectorySignature, binary.LittleEndian.Uint32(encoded[:4]))

	got, err := ReadCentralDirEntry(bytes.NewReader(encoded[4:]))
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestCentralDirectoryEncodeSortsExtraFields(t *testing.T) {
	field := func(tag uint16) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint16(b, tag)
		return b
	}
	d := CentralDirectory{
		ExtraFieldLength: 12,
		ExtraField: map[uint16][]byte{
			0x9901: field(0x9901),
			0x0001: field(0x0001),
			0x5455: field(0x5455),
		},
	}

	// Map iteration order must not leak into the output.
	first := d.Encode()
	for i := 0; i < 10; i++ {
		require.Equal(t, first, d.Encode())
	}

	extra := first[CentralDirEntryLen:]
	assert.Equal(t, uint16(0x0001), binary.LittleEndian.Uint16(extra[0:2]))
	assert.Equal(t, uint16(0x5455), binary.LittleEndian.Uint16(extra[4:6]))
	assert.Equal(t, uint16(0x9901), binary.LittleEndian.Uint16(extra[8:10]))
}

func TestEndOfCentralDirRoundTrip(t *testing.T) {
	encoded := EncodeEndOfCentralDirRecord(3, 138, 4096, "archive comment")
	require.Equal(t, EndOfCentralDirSignature, binary.LittleEndian.Uint32(encoded[:4]))

	got, err := ReadEndOfCentralDir(bytes.NewReader(encoded[4:]))
	require.NoError(t, err)

	assert.Equal(t, uint16(3), got.TotalNumberOfEntries)
	assert.Equal(t, uint16(3), got.TotalNumberOfEntriesOnThisDisk)
	assert.Equal(t, uint32(138), got.CentralDirSize)
	assert.Equal(t, uint32(4096), got.CentralDirOffset)
	assert.Equal(t, "archive comment", got.Comment)
}

func TestParseExtraField(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want map[uint16][]byte
	}{
		{
			name: "empty",
			raw:  nil,
			want: map[uint16][]byte{},
		},
		{
			name: "single field",
			raw:  []byte{0x01, 0x99, 0x02, 0x00, 0xaa, 0xbb},
			want: map[uint16][]byte{0x9901: {0x01, 0x99, 0x02, 0x00, 0xaa, 0xbb}},
		},
		{
			name: "two fields",
			raw: []byte{
				0x55, 0x54, 0x01, 0x00, 0x03,
				0x01, 0x99, 0x02, 0x00, 0xaa, 0xbb,
			},
			want: map[uint16][]byte{
				0x5455: {0x55, 0x54, 0x01, 0x00, 0x03},
				0x9901: {0x01, 0x99, 0x02, 0x00, 0xaa, 0xbb},
			},
		},
		{
			name: "truncated trailing field dropped",
			raw: []byte{
				0x55, 0x54, 0x01, 0x00, 0x03,
				0x01, 0x99, 0x10, 0x00, 0xaa,
			},
			want: map[uint16][]byte{
				0x5455: {0x55, 0x54, 0x01, 0x00, 0x03},
			},
		},
		{
			name: "dangling tag bytes dropped",
			raw:  []byte{0x55, 0x54},
			want: map[uint16][]byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseExtraField(tt.raw))
		})
	}
}
