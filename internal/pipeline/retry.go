package pipeline

import (
	"errors"
	"math/rand"
	"time"

	"github.com/lexfield/timeliner/internal/extract"
)

// retryPolicy controls how transient extraction errors are retried.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		maxAttempts: 3,
		baseDelay:   time.Second,
		maxDelay:    30 * time.Second,
	}
}

// delay returns the backoff before retrying attempt n (0-indexed):
// exponential from baseDelay, capped at maxDelay, plus up to 50% jitter so
// concurrent chunk retries don't hit the backend in lockstep.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.baseDelay << uint(attempt)
	if d > p.maxDelay {
		d = p.maxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/2 + 1))
}

// retryable reports whether an extraction error is transient.
func retryable(err error) bool {
	var rerr *extract.RetryableError
	return errors.As(err, &rerr)
}
