// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractArchive(t *testing.T) {
	files := map[string][]byte{
		"file.txt":       []byte("hello"),
		"sub/nested.txt": []byte("nested"),
		"sub/deep/x.bin": {0x00, 0x01, 0x02},
	}
	root := makeTree(t, files)
	archive := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, CreateFromFolder(archive, root, Options{}))

	dest := filepath.Join(t.TempDir(), "unpacked")
	report, err := ExtractArchive(archive, dest, Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Failed)

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	info, err := os.Stat(filepath.Join(dest, "sub"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExtractReportOrder(t *testing.T) {
	bad := storedEntry("broken.txt", []byte("data"))
	bad.crc32++
	path := writeRawArchive(t, []*encodedEntry{
		storedEntry("first.txt", []byte("1")),
		bad,
		storedEntry("last.txt", []byte("3")),
	}, "")

	dest := t.TempDir()
	report, err := ExtractArchive(path, dest, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"first.txt", "last.txt"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "broken.txt", report.Failed[0].Name)
	assert.ErrorIs(t, report.Failed[0].Err, ErrChecksum)

	// Good entries still landed on disk.
	got, err := os.ReadFile(filepath.Join(dest, "first.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestExtractRejectsTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"dotdot", "../evil.txt"},
		{"nested dotdot", "ok/../../evil.txt"},
		{"absolute", "/etc/evil.txt"},
		{"backslash absolute", "\\evil.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRawArchive(t, []*encodedEntry{
				storedEntry(tt.entry, []byte("nope")),
				storedEntry("fine.txt", []byte("ok")),
			}, "")

			parent := t.TempDir()
			dest := filepath.Join(parent, "unpack")
			report, err := ExtractArchive(path, dest, Options{})
			require.NoError(t, err)

			require.Len(t, report.Failed, 1)
			assert.Equal(t, tt.entry, report.Failed[0].Name)
			assert.ErrorIs(t, report.Failed[0].Err, ErrInsecurePath)
			assert.Equal(t, []string{"fine.txt"}, report.Succeeded)

			_, statErr := os.Stat(filepath.Join(parent, "evil.txt"))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestExtractDuplicateNameLastWins(t *testing.T) {
	path := writeRawArchive(t, []*encodedEntry{
		storedEntry("dup.txt", []byte("first")),
		storedEntry("dup.txt", []byte("second")),
	}, "")

	dest := t.TempDir()
	report, err := ExtractArchive(path, dest, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"dup.txt"}, report.Succeeded)

	got, err := os.ReadFile(filepath.Join(dest, "dup.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestExtractCreatesDestination(t *testing.T) {
	root := makeTree(t, map[string][]byte{"f.txt": []byte("x")})
	archive := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, CreateFromFolder(archive, root, Options{}))

	dest := filepath.Join(t.TempDir(), "a", "b", "c")
	_, err := ExtractArchive(archive, dest, Options{})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dest, "f.txt"))
	assert.NoError(t, err)
}

func TestExtractBrokenArchiveFailsOutright(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.zip")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := ExtractArchive(path, t.TempDir(), Options{})
	require.ErrorIs(t, err, ErrFormat)
}

func TestSecurePath(t *testing.T) {
	dest := filepath.Join("some", "dest")

	tests := []struct {
		name    string
		entry   string
		wantErr bool
	}{
		{"plain file", "file.txt", false},
		{"nested", "a/b/c.txt", false},
		{"inner dotdot resolving inside", "a/../b.txt", false},
		{"escape", "../x", true},
		{"deep escape", "a/../../../x", true},
		{"absolute", "/x", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := securePath(dest, tt.entry)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInsecurePath)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, dest+string(filepath.Separator)), got)
		})
	}
}
