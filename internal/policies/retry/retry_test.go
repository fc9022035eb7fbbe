package retry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy_OnReadTimeout(t *testing.T) {
	p := NewDefaultRetryPolicy(1)

	// Enough replicas responded but no data retrieved: retry same host.
	out := p.OnReadTimeout(RetryInfo{RetryCount: 0}, 2, 2, false)
	assert.Equal(t, DecisionRetrySameHost, out.Decision)

	// Not enough replicas responded: retry next host.
	out = p.OnReadTimeout(RetryInfo{RetryCount: 0}, 1, 2, false)
	assert.Equal(t, DecisionRetryNextHost, out.Decision)

	// Retries exhausted: rethrow regardless.
	out = p.OnReadTimeout(RetryInfo{RetryCount: 1}, 2, 2, false)
	assert.Equal(t, DecisionRethrow, out.Decision)
}

func TestDefaultRetryPolicy_OnWriteTimeout(t *testing.T) {
	p := NewDefaultRetryPolicy(1)

	out := p.OnWriteTimeout(RetryInfo{RetryCount: 0, Idempotent: true}, "BATCH_LOG", 1, 2)
	assert.Equal(t, DecisionRetrySameHost, out.Decision)

	out = p.OnWriteTimeout(RetryInfo{RetryCount: 0, Idempotent: true}, "SIMPLE", 1, 2)
	assert.Equal(t, DecisionRethrow, out.Decision)

	out = p.OnWriteTimeout(RetryInfo{RetryCount: 0, Idempotent: false}, "BATCH_LOG", 1, 2)
	assert.Equal(t, DecisionRethrow, out.Decision, "non-idempotent writes never retry")
}

func TestDefaultRetryPolicy_OnUnavailable(t *testing.T) {
	p := NewDefaultRetryPolicy(1)

	out := p.OnUnavailable(RetryInfo{RetryCount: 0}, 3, 1)
	assert.Equal(t, DecisionRetryNextHost, out.Decision)

	out = p.OnUnavailable(RetryInfo{RetryCount: 1}, 3, 1)
	assert.Equal(t, DecisionRethrow, out.Decision)
}

func TestDefaultRetryPolicy_OnRequestError(t *testing.T) {
	p := NewDefaultRetryPolicy(1)
	err := errors.New("connection reset")

	out := p.OnRequestError(RetryInfo{RetryCount: 0, Idempotent: true}, err)
	assert.Equal(t, DecisionRetryNextHost, out.Decision)

	out = p.OnRequestError(RetryInfo{RetryCount: 0, Idempotent: false}, err)
	assert.Equal(t, DecisionRethrow, out.Decision)

	out = p.OnRequestError(RetryInfo{RetryCount: 1, Idempotent: true}, err)
	assert.Equal(t, DecisionRethrow, out.Decision)
}

func TestNewDefaultRetryPolicy_NonPositiveMaxRetriesDefaultsToOne(t *testing.T) {
	p := NewDefaultRetryPolicy(0)
	assert.Equal(t, 1, p.MaxRetries)

	p = NewDefaultRetryPolicy(-5)
	assert.Equal(t, 1, p.MaxRetries)
}

func TestFallthroughRetryPolicy_AlwaysRethrows(t *testing.T) {
	p := FallthroughRetryPolicy{}

	assert.Equal(t, DecisionRethrow, p.OnReadTimeout(RetryInfo{}, 0, 0, false).Decision)
	assert.Equal(t, DecisionRethrow, p.OnWriteTimeout(RetryInfo{Idempotent: true}, "BATCH_LOG", 0, 0).Decision)
	assert.Equal(t, DecisionRethrow, p.OnUnavailable(RetryInfo{}, 0, 0).Decision)
	assert.Equal(t, DecisionRethrow, p.OnRequestError(RetryInfo{Idempotent: true}, errors.New("x")).Decision)
}
