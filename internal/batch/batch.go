// Package batch runs per-record operations with bounded parallelism.
// Failures are collected, never fatal: one bad record must not abort the
// rest of a bulk run.
package batch

import (
	"context"
	"sort"
	"sync"

	"salesline/internal/fault"
)

// ItemFailure reports one failed record.
type ItemFailure struct {
	ID      string     `json:"id"`
	Kind    fault.Kind `json:"kind"`
	Message string     `json:"message"`
}

// Result summarizes a bulk run.
type Result struct {
	Matched  int           `json:"matched"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Failures []ItemFailure `json:"failures,omitempty"`
}

// Run applies fn to every id with at most workers goroutines in flight.
// Failures are recorded per id and reported sorted by id so output is
// stable regardless of scheduling.
func Run(ctx context.Context, workers int, ids []string, fn func(ctx context.Context, id string) error) Result {
	if workers < 1 {
		workers = 1
	}
	res := Result{Matched: len(ids)}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)
	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			err := fn(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, ItemFailure{
					ID:      id,
					Kind:    fault.KindOf(err),
					Message: err.Error(),
				})
				return
			}
			res.Updated++
		}(id)
	}
	wg.Wait()

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].ID < res.Failures[j].ID })
	return res
}
