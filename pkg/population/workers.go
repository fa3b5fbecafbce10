package population

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ForRanges splits [0, n) into at most workers contiguous, disjoint ranges
// and calls fn for each range on its own goroutine.  Callers write results
// into index-addressed slots so that output order does not depend on
// scheduling.  The first error returned by any range is returned.
func ForRanges(n, workers int, fn func(start, end int) error) error {
	if n == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		return fn(0, n)
	}
	chunk := (n + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		start, end := start, start+chunk
		if end > n {
			end = n
		}
		g.Go(func() error {
			return fn(start, end)
		})
	}
	return g.Wait()
}

// evaluate computes keep flags for every object in parallel.
func (p *Population) evaluate(keep func(*Object) (bool, error)) ([]bool, error) {
	flags := make([]bool, len(p.objects))
	err := ForRanges(len(p.objects), p.workers, func(start, end int) error {
		for i := start; i < end; i++ {
			ok, err := keep(p.objects[i])
			if err != nil {
				return err
			}
			flags[i] = ok
		}
		return nil
	})
	return flags, err
}
