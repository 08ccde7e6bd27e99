// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExtractReport is the outcome of a best-effort extraction. Both slices
// follow central directory order.
type ExtractReport struct {
	Succeeded []string
	Failed    []*EntryError
}

// securePath resolves an entry name under dest and rejects names that
// would land outside it: absolute paths, drive-relative paths and ".."
// traversal all fail with ErrInsecurePath.
func securePath(dest, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty entry name", ErrInsecurePath)
	}
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") || filepath.IsAbs(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %s", ErrInsecurePath, name)
	}

	root := filepath.Clean(dest)
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInsecurePath, name)
	}
	return target, nil
}

// extractArchive unpacks the archive into dest. Unlike reading into
// memory, extraction is best-effort: a broken entry is recorded in the
// report and the rest still land on disk. A structurally broken archive
// still fails outright.
func extractArchive(ctx context.Context, path, dest string, opts Options, pool *Pool) (*ExtractReport, error) {
	m, err := openArchive(path)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	entries, _, err := parseArchive(m)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	// Directory entries run alongside file entries; duplicate file names
	// collapse to their last record so two jobs never write the same path.
	winners := selectWinners(entries)
	isWinner := make(map[int]bool, len(winners))
	for _, idx := range winners {
		isWinner[idx] = true
	}
	var jobs []int
	for i, e := range entries {
		if e.IsDir || isWinner[i] {
			jobs = append(jobs, i)
		}
	}

	names := make([]string, len(jobs))
	for i, idx := range jobs {
		names[i] = entries[idx].Name
	}

	errs := pool.each(ctx, len(jobs), func(i int) error {
		e := entries[jobs[i]]

		target, err := securePath(dest, strings.TrimSuffix(e.Name, "/"))
		if err != nil {
			return err
		}

		mode := externalAttrsToMode(e.externalAttrs, e.IsDir)
		if e.IsDir {
			return os.MkdirAll(target, mode)
		}

		data, err := decodeEntry(m, e, opts.Password)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, mode)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &ExtractReport{}
	for i, err := range errs {
		if err != nil {
			report.Failed = append(report.Failed, &EntryError{Name: names[i], Err: err})
		} else {
			report.Succeeded = append(report.Succeeded, names[i])
		}
	}
	return report, nil
}
