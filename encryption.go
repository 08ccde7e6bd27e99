// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// EncryptionMethod identifies the encryption scheme of an archive entry.
type EncryptionMethod uint16

// Supported encryption schemes.
const (
	NotEncrypted EncryptionMethod = 0 // plaintext entry
	ZipCrypto    EncryptionMethod = 1 // legacy PKWARE stream cipher, weak
	AES256       EncryptionMethod = 2 // WinZip AES-256 (AE-2)
)

// cryptoHeaderLen is the size of the ZipCrypto prelude preceding the payload.
const cryptoHeaderLen = 12

// zipCryptoReader decrypts the legacy PKWARE stream cipher.
type zipCryptoReader struct {
	src    io.Reader
	cipher *zipCipher
}

// newZipCryptoReader reads and verifies the 12-byte encryption header.
// The last header byte doubles as the password check: the CRC32 high byte
// normally, or the DOS mod-time high byte when flag bit 3 is set (the local
// header carries no CRC in that case).
func newZipCryptoReader(src io.Reader, password string, flags uint16, crc32Val uint32, dosTime uint16) (io.Reader, error) {
	cipher := newZipCipher(password)

	header := make([]byte, cryptoHeaderLen)
	if _, err := io.ReadFull(src, header); err != nil {
		return nil, fmt.Errorf("read crypto header: %w", err)
	}
	cipher.Decrypt(header)

	var want byte
	if flags&0x8 != 0 {
		want = byte(dosTime >> 8)
	} else {
		want = byte(crc32Val >> 24)
	}
	if header[cryptoHeaderLen-1] != want {
		return nil, ErrPasswordMismatch
	}

	return &zipCryptoReader{src: src, cipher: cipher}, nil
}

func (r *zipCryptoReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.cipher.Decrypt(p[:n])
	}
	return n, err
}

// zipCryptoWriter encrypts with the legacy PKWARE stream cipher.
type zipCryptoWriter struct {
	dest   io.Writer
	cipher *zipCipher
}

// newZipCryptoWriter emits the random 12-byte encryption header with the
// given check byte in its last position, then encrypts everything written.
func newZipCryptoWriter(dest io.Writer, password string, checkByte byte) (io.Writer, error) {
	cipher := newZipCipher(password)

	header := make([]byte, cryptoHeaderLen)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("crypto rand: %w", err)
	}
	header[cryptoHeaderLen-1] = checkByte
	cipher.Encrypt(header)

	if _, err := dest.Write(header); err != nil {
		return nil, fmt.Errorf("write crypto header: %w", err)
	}

	return &zipCryptoWriter{dest: dest, cipher: cipher}, nil
}

func (w *zipCryptoWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	// Encrypt a copy so the caller's buffer stays intact.
	buf := make([]byte, len(p))
	copy(buf, p)
	w.cipher.Encrypt(buf)

	return w.dest.Write(buf)
}

const zipCipherMagic = 134775813

// zipCipher holds the three rolling keys of the ZipCrypto algorithm.
type zipCipher struct {
	k0, k1, k2 uint32
}

func newZipCipher(password string) *zipCipher {
	z := &zipCipher{
		k0: 0x12345678,
		k1: 0x23456789,
		k2: 0x34567890,
	}
	for i := 0; i < len(password); i++ {
		z.updateKeys(password[i])
	}
	return z
}

func (z *zipCipher) updateKeys(b byte) {
	z.k0 = crc32.IEEETable[(z.k0^uint32(b))&0xff] ^ (z.k0 >> 8)
	z.k1 = z.k1 + (z.k0 & 0xff)
	z.k1 = z.k1*zipCipherMagic + 1
	z.k2 = crc32.IEEETable[(z.k2^uint32(byte(z.k1>>24)))&0xff] ^ (z.k2 >> 8)
}

func (z *zipCipher) magicByte() byte {
	t := z.k2 | 2
	return byte((t * (t ^ 1)) >> 8)
}

func (z *zipCipher) Encrypt(buf []byte) {
	for i, b := range buf {
		c := b ^ z.magicByte()
		z.updateKeys(b)
		buf[i] = c
	}
}

func (z *zipCipher) Decrypt(buf []byte) {
	for i, c := range buf {
		b := c ^ z.magicByte()
		z.updateKeys(b)
		buf[i] = b
	}
}

// WinZip AES-256 constants.
const (
	aes256KeySize    = 32 // 256-bit AES key
	aes256SaltSize   = 16 // salt length for AES-256 (strength 0x03)
	aesMacSize       = 10 // HMAC-SHA1 truncated to 10 bytes
	aesPvvSize       = 2  // password verification value
	aesPBKDF2Rounds  = 1000
	aes256Overhead   = aes256SaltSize + aesPvvSize + aesMacSize
	aes256StrengthID = 0x03
)

// aesKeys holds the material derived from password and salt.
type aesKeys struct {
	encKey []byte
	macKey []byte
	pvv    []byte
}

// deriveAESKeys derives AES key, HMAC key and verification value with
// PBKDF2-HMAC-SHA1 as the WinZip AE format requires.
func deriveAESKeys(password string, salt []byte) aesKeys {
	const keyLen = 2*aes256KeySize + aesPvvSize
	dk := pbkdf2.Key([]byte(password), salt, aesPBKDF2Rounds, keyLen, sha1.New)

	return aesKeys{
		encKey: dk[:aes256KeySize],
		macKey: dk[aes256KeySize : 2*aes256KeySize],
		pvv:    dk[2*aes256KeySize:],
	}
}

// aesReader decrypts a WinZip AES-256 payload and verifies the trailing
// authentication code once the payload is exhausted.
type aesReader struct {
	payload  io.Reader // limited to the ciphertext
	macSrc   io.Reader // underlying reader, positioned at the MAC after payload
	stream   *winZipCounter
	mac      hash.Hash
	verified bool
}

// newAES256Reader expects src positioned at the salt. compressedSize is the
// full stored size including salt, verification value and MAC.
func newAES256Reader(src io.Reader, password string, compressedSize int64) (io.Reader, error) {
	if compressedSize < aes256Overhead {
		return nil, fmt.Errorf("%w: aes payload too small", ErrFormat)
	}

	salt := make([]byte, aes256SaltSize)
	if _, err := io.ReadFull(src, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	keys := deriveAESKeys(password, salt)

	pvv := make([]byte, aesPvvSize)
	if _, err := io.ReadFull(src, pvv); err != nil {
		return nil, fmt.Errorf("read verification value: %w", err)
	}
	if !bytes.Equal(pvv, keys.pvv) {
		return nil, ErrPasswordMismatch
	}

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, err
	}

	return &aesReader{
		payload: io.LimitReader(src, compressedSize-aes256Overhead),
		macSrc:  src,
		stream:  newWinZipCounter(block),
		mac:     hmac.New(sha1.New, keys.macKey),
	}, nil
}

func (r *aesReader) Read(p []byte) (int, error) {
	n, err := r.payload.Read(p)
	if n > 0 {
		// Encrypt-then-MAC: authenticate the ciphertext, then decrypt in place.
		r.mac.Write(p[:n])
		r.stream.XORKeyStream(p[:n], p[:n])
	}

	// The source holds exactly one authentication code; verify it on the
	// first EOF and let later EOFs pass through untouched.
	if err == io.EOF && !r.verified {
		r.verified = true
		want := make([]byte, aesMacSize)
		if _, macErr := io.ReadFull(r.macSrc, want); macErr != nil {
			return n, fmt.Errorf("read auth code: %w", macErr)
		}
		got := r.mac.Sum(nil)[:aesMacSize]
		if !hmac.Equal(got, want) {
			return n, fmt.Errorf("%w: aes authentication failed", ErrChecksum)
		}
	}

	return n, err
}

// aesWriter encrypts a WinZip AES-256 payload: salt, verification value,
// ciphertext, then the truncated HMAC on Close.
type aesWriter struct {
	dest   io.Writer
	stream *winZipCounter
	mac    hash.Hash
}

func newAES256Writer(dest io.Writer, password string) (io.WriteCloser, error) {
	salt := make([]byte, aes256SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("aes rand: %w", err)
	}

	keys := deriveAESKeys(password, salt)

	if _, err := dest.Write(salt); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	if _, err := dest.Write(keys.pvv); err != nil {
		return nil, fmt.Errorf("write verification value: %w", err)
	}

	block, err := aes.NewCipher(keys.encKey)
	if err != nil {
		return nil, err
	}

	return &aesWriter{
		dest:   dest,
		stream: newWinZipCounter(block),
		mac:    hmac.New(sha1.New, keys.macKey),
	}, nil
}

func (w *aesWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	w.stream.XORKeyStream(buf, p)
	w.mac.Write(buf)

	return w.dest.Write(buf)
}

// Close appends the 10-byte authentication code. It does not close dest.
func (w *aesWriter) Close() error {
	sum := w.mac.Sum(nil)
	if _, err := w.dest.Write(sum[:aesMacSize]); err != nil {
		return fmt.Errorf("write auth code: %w", err)
	}
	return nil
}

// winZipCounter implements the CTR variant used by WinZip AES: the 128-bit
// counter increments little-endian, unlike Go's cipher.NewCTR.
type winZipCounter struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	buffer  [aes.BlockSize]byte
	pos     int
}

func newWinZipCounter(block cipher.Block) *winZipCounter {
	c := &winZipCounter{block: block}
	c.counter[0] = 1
	return c
}

func (c *winZipCounter) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.pos == 0 {
			c.block.Encrypt(c.buffer[:], c.counter[:])
			for j := 0; j < aes.BlockSize; j++ {
				c.counter[j]++
				if c.counter[j] != 0 {
					break
				}
			}
		}
		dst[i] = src[i] ^ c.buffer[c.pos]
		c.pos = (c.pos + 1) % aes.BlockSize
	}
}
