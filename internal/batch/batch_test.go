package batch_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"salesline/internal/batch"
	"salesline/internal/fault"
)

func TestRunCountsSuccessesAndFailures(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	res := batch.Run(context.Background(), 2, ids, func(_ context.Context, id string) error {
		if id == "b" || id == "d" {
			return fault.New(fault.ValidationFailed, "record %s is bad", id)
		}
		return nil
	})

	if res.Matched != 4 || res.Updated != 2 || res.Failed != 2 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Failures) != 2 {
		t.Fatalf("failures = %v", res.Failures)
	}
	// Sorted by id regardless of completion order.
	if res.Failures[0].ID != "b" || res.Failures[1].ID != "d" {
		t.Fatalf("failure order = %v", res.Failures)
	}
	if res.Failures[0].Kind != fault.ValidationFailed {
		t.Fatalf("kind = %q", res.Failures[0].Kind)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	const workers = 3
	var inFlight, peak int64

	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%02d", i)
	}
	var mu sync.Mutex
	res := batch.Run(context.Background(), workers, ids, func(context.Context, string) error {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		defer atomic.AddInt64(&inFlight, -1)
		return nil
	})

	if res.Updated != len(ids) {
		t.Fatalf("updated = %d", res.Updated)
	}
	if peak > workers {
		t.Fatalf("observed %d concurrent workers, limit %d", peak, workers)
	}
}

func TestRunWithNoIDs(t *testing.T) {
	res := batch.Run(context.Background(), 4, nil, func(context.Context, string) error {
		t.Fatal("fn must not run")
		return nil
	})
	if res.Matched != 0 || res.Updated != 0 || res.Failed != 0 || res.Failures != nil {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunClampsWorkerCount(t *testing.T) {
	res := batch.Run(context.Background(), 0, []string{"x"}, func(context.Context, string) error {
		return nil
	})
	if res.Updated != 1 {
		t.Fatalf("result = %+v", res)
	}
}
