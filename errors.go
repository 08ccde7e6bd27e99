package mapzip

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrFormat is returned when the input is not a valid ZIP archive or its
	// structure is corrupt.
	ErrFormat = errors.New("mapzip: not a valid zip archive")

	// ErrAlgorithm is returned when an entry uses a compression method this
	// package cannot decode or encode.
	ErrAlgorithm = errors.New("mapzip: unsupported compression method")

	// ErrEncryption is returned when an entry uses an encryption scheme this
	// package does not support.
	ErrEncryption = errors.New("mapzip: unsupported encryption method")

	// ErrPasswordMismatch is returned when an encrypted entry is read without
	// a password or with one that fails the scheme's verification.
	ErrPasswordMismatch = errors.New("mapzip: invalid password")

	// ErrChecksum is returned when decoded data does not match the CRC32
	// recorded in the central directory.
	ErrChecksum = errors.New("mapzip: checksum mismatch")

	// ErrSizeMismatch is returned when decoded data does not match the
	// uncompressed size recorded in the central directory.
	ErrSizeMismatch = errors.New("mapzip: uncompressed size mismatch")

	// ErrExist is returned when the output path of a create operation already
	// exists. Existing files are never overwritten.
	ErrExist = errors.New("mapzip: output path already exists")

	// ErrInsecurePath is returned for entry names that would resolve outside
	// the extraction root (absolute paths, ".." traversal).
	ErrInsecurePath = errors.New("mapzip: insecure file path")

	// ErrConfig is returned when the supplied options are invalid.
	ErrConfig = errors.New("mapzip: invalid options")
)

// EntryError records the failure of a single archive entry.
type EntryError struct {
	Name string // entry name as stored in the central directory
	Err  error
}

func (e *EntryError) Error() string { return e.Name + ": " + e.Err.Error() }

func (e *EntryError) Unwrap() error { return e.Err }

// AggregateError collects every entry that failed during a parallel
// operation. Entries appear in central directory order, not in the order
// their jobs happened to finish.
type AggregateError struct {
	Entries []*EntryError
}

func (e *AggregateError) Error() string {
	var sb strings.Builder
	sb.WriteString("mapzip: ")
	if len(e.Entries) == 1 {
		sb.WriteString("1 entry failed: ")
	} else {
		sb.WriteString(strconv.Itoa(len(e.Entries)))
		sb.WriteString(" entries failed: ")
	}
	for i, entry := range e.Entries {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(entry.Error())
	}
	return sb.String()
}

// Unwrap exposes the per-entry errors so that errors.Is and errors.As see
// through the aggregate.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Entries))
	for i, entry := range e.Entries {
		errs[i] = entry
	}
	return errs
}
