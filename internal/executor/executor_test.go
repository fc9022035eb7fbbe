package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cqlcore/driver/internal/request"
)

func makeRequests(n int) []*request.Request {
	reqs := make([]*request.Request, n)
	for i := range reqs {
		reqs[i] = &request.Request{Query: "select 1"}
	}
	return reqs
}

func TestExecute_AllSucceed(t *testing.T) {
	reqs := makeRequests(5)
	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		return &request.Result{}, nil
	}

	group, err := Execute(context.Background(), reqs, handler, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, group.Succeeded)
	assert.Equal(t, 0, group.Failed)
	assert.Equal(t, 5, group.TotalStarted)
	assert.Len(t, group.Results, 5)
}

func TestExecute_PartialFailureWithoutRaiseOnFirstError(t *testing.T) {
	reqs := makeRequests(4)
	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		if r == reqs[1] || r == reqs[3] {
			return nil, errors.New("boom")
		}
		return &request.Result{}, nil
	}

	group, err := Execute(context.Background(), reqs, handler, Options{ConcurrencyLevel: 2, CollectResults: true})
	require.NoError(t, err, "without RaiseOnFirstError, individual failures don't abort the group")
	assert.Equal(t, 2, group.Succeeded)
	assert.Equal(t, 2, group.Failed)
	assert.Error(t, group.Results[1].Err)
	assert.Error(t, group.Results[3].Err)
	assert.NotNil(t, group.Results[0].Result)
}

func TestExecute_RaiseOnFirstError(t *testing.T) {
	reqs := makeRequests(3)
	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		return nil, errors.New("boom")
	}

	group, err := Execute(context.Background(), reqs, handler, Options{ConcurrencyLevel: 1, RaiseOnFirstError: true})
	require.Error(t, err)
	assert.Equal(t, 3, group.TotalStarted)
}

func TestExecute_MaxErrorsAborts(t *testing.T) {
	reqs := makeRequests(10)
	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		return nil, errors.New("boom")
	}

	group, err := Execute(context.Background(), reqs, handler, Options{ConcurrencyLevel: 1, MaxErrors: 2})
	require.Error(t, err)
	assert.GreaterOrEqual(t, group.Failed, 2)
}

func TestExecute_EmptyInput(t *testing.T) {
	group, err := Execute(context.Background(), nil, nil, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, group.TotalStarted)
}

func TestExecute_ConcurrencyLevelClampedToInputSize(t *testing.T) {
	reqs := makeRequests(3)
	var maxInFlight, inFlight int32

	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			max := atomic.LoadInt32(&maxInFlight)
			if n <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, n) {
				break
			}
		}
		atomic.AddInt32(&inFlight, -1)
		return &request.Result{}, nil
	}

	group, err := Execute(context.Background(), reqs, handler, Options{ConcurrencyLevel: 1000, CollectResults: true})
	require.NoError(t, err)
	assert.Equal(t, 3, group.Succeeded)
	assert.LessOrEqual(t, atomic.LoadInt32(&maxInFlight), int32(len(reqs)))
}

type sliceStreamSource struct {
	reqs []*request.Request
	idx  int
}

func (s *sliceStreamSource) Next(ctx context.Context) (*request.Request, bool, error) {
	if s.idx >= len(s.reqs) {
		return nil, false, nil
	}
	r := s.reqs[s.idx]
	s.idx++
	return r, true, nil
}

func TestExecuteStream_AllSucceed(t *testing.T) {
	src := &sliceStreamSource{reqs: makeRequests(6)}
	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		return &request.Result{}, nil
	}

	group, err := ExecuteStream(context.Background(), src, handler, Options{ConcurrencyLevel: 2, CollectResults: true})
	require.NoError(t, err)
	assert.Equal(t, 6, group.Succeeded)
	assert.Equal(t, 6, group.TotalStarted)
	assert.Len(t, group.Results, 6)
}

func TestExecuteStream_RaiseOnFirstErrorAbortsEarly(t *testing.T) {
	src := &sliceStreamSource{reqs: makeRequests(20)}
	var calls int32
	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 3 {
			return nil, errors.New("boom")
		}
		return &request.Result{}, nil
	}

	group, err := ExecuteStream(context.Background(), src, handler, Options{ConcurrencyLevel: 1, RaiseOnFirstError: true})
	require.Error(t, err)
	assert.Less(t, group.TotalStarted, 20, "abort must stop pulling before the whole stream is drained")
}

type erroringStreamSource struct{}

func (erroringStreamSource) Next(ctx context.Context) (*request.Request, bool, error) {
	return nil, false, errors.New("source exploded")
}

func TestExecuteStream_SourceErrorPropagates(t *testing.T) {
	handler := func(ctx context.Context, r *request.Request) (*request.Result, error) {
		return &request.Result{}, nil
	}

	group, err := ExecuteStream(context.Background(), erroringStreamSource{}, handler, DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, 0, group.TotalStarted)
}
