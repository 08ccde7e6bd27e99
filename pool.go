// Copyright 2025 The mapzip Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mapzip

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of entry jobs running at once. The zero value is
// not usable; obtain a Pool from NewPool.
type Pool struct {
	workers int
}

// NewPool returns a pool running at most workers jobs concurrently.
// A non-positive value selects runtime.NumCPU.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// defaultPool serves calls that do not bring their own pool. It holds no
// resources between operations, so sharing one across calls is free.
var defaultPool = NewPool(0)

// each runs fn(0) through fn(n-1) on the pool and returns one error slot
// per index. A job failure does not cancel its siblings; every job runs to
// completion unless ctx itself is cancelled, in which case undispatched
// jobs are skipped and their slots carry ctx.Err().
func (p *Pool) each(ctx context.Context, n int, fn func(i int) error) []error {
	errs := make([]error, n)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			for j := i; j < n; j++ {
				errs[j] = err
			}
			break
		}
		i := i
		g.Go(func() error {
			// Errors land in the job's own slot. Returning nil keeps the
			// group from cancelling ctx and tearing down sibling jobs.
			errs[i] = fn(i)
			return nil
		})
	}

	g.Wait()
	return errs
}

// aggregate folds per-index errors into an AggregateError, preserving
// index order. names[i] labels slot i. Returns nil when every slot is nil.
func aggregate(names []string, errs []error) error {
	var entries []*EntryError
	for i, err := range errs {
		if err != nil {
			entries = append(entries, &EntryError{Name: names[i], Err: err})
		}
	}
	if len(entries) == 0 {
		return nil
	}
	return &AggregateError{Entries: entries}
}
