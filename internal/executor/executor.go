// Package executor implements the Concurrent Executor named in §4.8: a
// bounded-concurrency fan-out of many single requests through the
// Request Handler, collecting results or short-circuiting on error.
// Grounded on the teacher's errgroup.SetLimit-bounded discovery fan-out
// (internal/adapter/discovery/service.go's discoverConcurrently),
// generalized from a fixed endpoint slice to two parameter-set shapes:
// a bounded array (size known up front) and a paused/resumed stream
// (size unknown, back-pressured by an in-flight watermark).
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/cqlcore/driver/internal/request"
)

// Options are the executeConcurrent knobs named in §4.8.
type Options struct {
	ConcurrencyLevel  int
	RaiseOnFirstError bool
	CollectResults    bool
	MaxErrors         int // 0 means unbounded
}

// DefaultOptions matches the conventional defaults for this operation
// family: 100 workers, collect results, no error cap.
func DefaultOptions() Options {
	return Options{ConcurrencyLevel: 100, CollectResults: true}
}

// ItemResult pairs one parameter set's outcome with its original index,
// since array mode fans out out-of-order.
type ItemResult struct {
	Index  int
	Result *request.Result
	Err    error
}

// ResultGroup is executeConcurrent's return shape: per-item outcomes (if
// CollectResults), and the aggregate counts named in §4.8's summary.
type ResultGroup struct {
	Results      []ItemResult // nil unless CollectResults
	Succeeded    int
	Failed       int
	TotalStarted int
}

// Execute runs executeConcurrent(queries, parameters, options) for array
// mode: a fixed, known-size slice of requests, fanned out across
// ConcurrencyLevel workers with errgroup.SetLimit, matching the
// teacher's bounded worker-count discovery fan-out shape but per-item
// rather than per-endpoint.
func Execute(ctx context.Context, reqs []*request.Request, handler func(ctx context.Context, r *request.Request) (*request.Result, error), opts Options) (*ResultGroup, error) {
	n := len(reqs)
	workers := opts.ConcurrencyLevel
	if workers <= 0 || workers > n {
		workers = n
	}
	if workers == 0 {
		return &ResultGroup{}, nil
	}

	var results []ItemResult
	var resultsMu sync.Mutex
	if opts.CollectResults {
		results = make([]ItemResult, n)
	}

	var succeeded, failed atomic.Int64
	var errCount atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for i := range reqs {
		idx := i
		eg.Go(func() error {
			r, err := handler(egCtx, reqs[idx])
			if err != nil {
				failed.Add(1)
				if opts.CollectResults {
					resultsMu.Lock()
					results[idx] = ItemResult{Index: idx, Err: err}
					resultsMu.Unlock()
				}
				if opts.MaxErrors > 0 && errCount.Add(1) >= int64(opts.MaxErrors) {
					return fmt.Errorf("executor: maxErrors reached: %w", err)
				}
				if opts.RaiseOnFirstError {
					return err
				}
				return nil
			}
			succeeded.Add(1)
			if opts.CollectResults {
				resultsMu.Lock()
				results[idx] = ItemResult{Index: idx, Result: r}
				resultsMu.Unlock()
			}
			return nil
		})
	}

	waitErr := eg.Wait()

	group := &ResultGroup{
		Results:      results,
		Succeeded:    int(succeeded.Load()),
		Failed:       int(failed.Load()),
		TotalStarted: n,
	}
	if waitErr != nil && opts.RaiseOnFirstError {
		return group, waitErr
	}
	if opts.MaxErrors > 0 && int(errCount.Load()) >= opts.MaxErrors {
		return group, fmt.Errorf("executor: exceeded maxErrors=%d", opts.MaxErrors)
	}
	return group, nil
}

// StreamSource yields parameter sets one at a time for stream mode,
// where the total count is not known up front (e.g. reading a large
// CSV of bind values). ok=false signals exhaustion.
type StreamSource interface {
	Next(ctx context.Context) (*request.Request, bool, error)
}

// ExecuteStream runs executeConcurrent in stream mode: pulls from src
// and pauses pulling once ConcurrencyLevel requests are in flight,
// resuming as each completes, per §4.8's back-pressure requirement for
// unbounded parameter streams.
func ExecuteStream(ctx context.Context, src StreamSource, handler func(ctx context.Context, r *request.Request) (*request.Result, error), opts Options) (*ResultGroup, error) {
	workers := opts.ConcurrencyLevel
	if workers <= 0 {
		workers = 100
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []ItemResult
	var succeeded, failed, started, errCount int

	egCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var firstErr error
	var firstErrOnce sync.Once
	abort := func(err error) {
		firstErrOnce.Do(func() { firstErr = err; cancel() })
	}

	idx := 0
	for {
		select {
		case <-egCtx.Done():
			wg.Wait()
			return buildGroup(results, succeeded, failed, started, opts), firstErr
		default:
		}

		r, ok, err := src.Next(egCtx)
		if err != nil {
			abort(fmt.Errorf("executor: stream source: %w", err))
			break
		}
		if !ok {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		started++
		thisIdx := idx
		idx++

		go func(req *request.Request, i int) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := handler(egCtx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				errCount++
				if opts.CollectResults {
					results = append(results, ItemResult{Index: i, Err: err})
				}
				if opts.RaiseOnFirstError {
					abort(err)
				} else if opts.MaxErrors > 0 && errCount >= opts.MaxErrors {
					abort(fmt.Errorf("executor: maxErrors reached: %w", err))
				}
				return
			}
			succeeded++
			if opts.CollectResults {
				results = append(results, ItemResult{Index: i, Result: res})
			}
		}(r, thisIdx)
	}

	wg.Wait()
	return buildGroup(results, succeeded, failed, started, opts), firstErr
}

func buildGroup(results []ItemResult, succeeded, failed, started int, opts Options) *ResultGroup {
	g := &ResultGroup{Succeeded: succeeded, Failed: failed, TotalStarted: started}
	if opts.CollectResults {
		g.Results = results
	}
	return g
}
