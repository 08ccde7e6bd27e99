// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZipCipherRoundTrip(t *testing.T) {
	plain := []byte("the quick brown fox jumps over the lazy dog")

	buf := append([]byte(nil), plain...)
	newZipCipher("secret").Encrypt(buf)
	require.NotEqual(t, plain, buf)

	newZipCipher("secret").Decrypt(buf)
	assert.Equal(t, plain, buf)
}

func TestZipCryptoStreamRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("zipcrypto stream "), 100)
	const crc = uint32(0xaabbccdd)

	var buf bytes.Buffer
	w, err := newZipCryptoWriter(&buf, "pw", byte(crc>>24))
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)

	r, err := newZipCryptoReader(&buf, "pw", 0, crc, 0)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestZipCryptoWrongPassword(t *testing.T) {
	const crc = uint32(0x11223344)

	var buf bytes.Buffer
	w, err := newZipCryptoWriter(&buf, "right", byte(crc>>24))
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)

	_, err = newZipCryptoReader(&buf, "wrong", 0, crc, 0)
	require.ErrorIs(t, err, ErrPasswordMismatch)
}

func TestAES256StreamRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte{0x13, 0x37, 0x00}, 7777)

	var buf bytes.Buffer
	w, err := newAES256Writer(&buf, "correct horse")
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Equal(t, len(plain)+aes256Overhead, buf.Len())

	r, err := newAES256Reader(bytes.NewReader(buf.Bytes()), "correct horse", int64(buf.Len()))
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestAES256ReaderRepeatedEOF(t *testing.T) {
	plain := []byte("short payload")

	var buf bytes.Buffer
	w, err := newAES256Writer(&buf, "pw")
	require.NoError(t, err)
	_, err = w.Write(plain)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := newAES256Reader(bytes.NewReader(buf.Bytes()), "pw", int64(buf.Len()))
	require.NoError(t, err)

	// The first EOF consumes and checks the authentication code. Callers
	// probe for trailing data and drain afterwards, so later reads must
	// yield a clean EOF instead of hunting for a second code.
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	for i := 0; i < 3; i++ {
		n, err := r.Read(make([]byte, 8))
		assert.Zero(t, n)
		assert.Equal(t, io.EOF, err)
	}
}

func TestAES256WrongPassword(t *testing.T) {
	var buf bytes.Buffer
	w, err := newAES256Writer(&buf, "right")
	require.NoError(t, err)
	_, err = w.Write([]byte("secret data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = newAES256Reader(bytes.NewReader(buf.Bytes()), "wrong", int64(buf.Len()))
	require.ErrorIs(t, err, ErrPasswordMismatch)
}

func TestAES256TamperedCiphertext(t *testing.T) {
	var buf bytes.Buffer
	w, err := newAES256Writer(&buf, "pw")
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("x"), 256))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw := buf.Bytes()
	raw[aes256SaltSize+aesPvvSize+10] ^= 0x01

	r, err := newAES256Reader(bytes.NewReader(raw), "pw", int64(len(raw)))
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestAES256TooShort(t *testing.T) {
	_, err := newAES256Reader(bytes.NewReader(make([]byte, 10)), "pw", 10)
	require.ErrorIs(t, err, ErrFormat)
}

func TestDeriveAESKeysDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x5a}, aes256SaltSize)

	a := deriveAESKeys("password", salt)
	b := deriveAESKeys("password", salt)
	assert.Equal(t, a, b)

	c := deriveAESKeys("Password", salt)
	assert.NotEqual(t, a.encKey, c.encKey)

	assert.Len(t, a.encKey, aes256KeySize)
	assert.Len(t, a.macKey, aes256KeySize)
	assert.Len(t, a.pvv, aesPvvSize)
}

func TestEncryptedArchiveRoundTrip(t *testing.T) {
	files := map[string][]byte{
		"doc.txt":     []byte("classified"),
		"sub/payload": bytes.Repeat([]byte("secret "), 10000),
		"empty":       nil,
	}

	tests := []struct {
		name string
		opts Options
	}{
		{"zipcrypto stored", Options{Method: Stored, Encryption: ZipCrypto, Password: "pw123"}},
		{"zipcrypto deflate", Options{Method: Deflated, Encryption: ZipCrypto, Password: "pw123"}},
		{"aes256 stored", Options{Method: Stored, Encryption: AES256, Password: "pw123"}},
		{"aes256 deflate", Options{Method: Deflated, Encryption: AES256, Password: "pw123"}},
		{"aes256 zstd", Options{Method: ZStandard, Encryption: AES256, Password: "pw123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := makeTree(t, files)
			archive := filepath.Join(t.TempDir(), "out.zip")
			require.NoError(t, CreateFromFolder(archive, root, tt.opts))

			contents, err := ReadArchive(archive, Options{Password: "pw123"})
			require.NoError(t, err)
			require.Len(t, contents, len(files))
			for name, data := range files {
				assert.Equal(t, data, contents[name], name)
			}
		})
	}
}

func TestEncryptedArchiveWrongPassword(t *testing.T) {
	root := makeTree(t, map[string][]byte{
		"a.txt": []byte("aaa"),
		"b.txt": []byte("bbb"),
	})
	archive := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, CreateFromFolder(archive, root, Options{
		Encryption: AES256,
		Password:   "right",
	}))

	_, err := ReadArchive(archive, Options{Password: "wrong"})
	require.ErrorIs(t, err, ErrPasswordMismatch)

	// Every entry fails, and every failure is reported.
	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Entries, 2)
}

func TestEncryptedArchiveMissingPassword(t *testing.T) {
	root := makeTree(t, map[string][]byte{"a.txt": []byte("aaa")})
	archive := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, CreateFromFolder(archive, root, Options{
		Encryption: ZipCrypto,
		Password:   "pw",
	}))

	_, err := ReadArchive(archive, Options{})
	require.ErrorIs(t, err, ErrPasswordMismatch)
}

func TestEncryptedEntriesListAsAES(t *testing.T) {
	root := makeTree(t, map[string][]byte{"a.txt": []byte("aaa")})
	archive := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, CreateFromFolder(archive, root, Options{
		Method:     Deflated,
		Encryption: AES256,
		Password:   "pw",
	}))

	entries, err := ListArchive(archive)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The marker method stays on the wire; listing reports the scheme and
	// the real method.
	assert.Equal(t, AES256, entries[0].Encryption)
	assert.Equal(t, Deflated, entries[0].Method)
	assert.Zero(t, entries[0].CRC32)
}

func TestExtractEncryptedArchive(t *testing.T) {
	root := makeTree(t, map[string][]byte{"a.txt": []byte("secret body")})
	archive := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, CreateFromFolder(archive, root, Options{
		Encryption: AES256,
		Password:   "pw",
	}))

	dest := t.TempDir()
	report, err := ExtractArchive(archive, dest, Options{Password: "pw"})
	require.NoError(t, err)
	require.Empty(t, report.Failed)

	data, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("secret body"), data)
}
