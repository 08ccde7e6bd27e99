// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"
)

// mappedArchive is a memory-mapped archive file. The mapping is read-only
// and safe for concurrent ReadAt calls, which is what lets entry jobs
// decode in parallel without coordinating seeks.
type mappedArchive struct {
	r    *mmap.ReaderAt
	size int64
}

// openArchive maps the file at path. The file must exist, be a regular
// file and be non-empty; mapping a zero-length file fails on most systems
// and an empty file cannot be a ZIP archive anyway.
func openArchive(path string) (*mappedArchive, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrFormat, path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrFormat, path)
	}

	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("map archive: %w", err)
	}

	return &mappedArchive{r: r, size: int64(r.Len())}, nil
}

func (m *mappedArchive) ReadAt(p []byte, off int64) (int, error) {
	return m.r.ReadAt(p, off)
}

// section returns a reader over [off, off+n) of the mapping.
func (m *mappedArchive) section(off, n int64) *io.SectionReader {
	return io.NewSectionReader(m.r, off, n)
}

func (m *mappedArchive) Close() error {
	return m.r.Close()
}
