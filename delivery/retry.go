package delivery

import (
	"time"

	"github.com/goliatone/go-debouncer/core"
)

// RetryPolicy is the fixed backoff ladder applied to failed deliveries.
type RetryPolicy struct {
	MaxRetries int
	Delays     []time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: core.DefaultMaxRetries,
		Delays:     core.DefaultRetryDelays(),
	}
}

// Next decides what happens after the retryCount-th failure. It returns the
// backoff delay and true while retryCount < MaxRetries; otherwise the batch
// must be discarded.
func (p RetryPolicy) Next(retryCount int) (time.Duration, bool) {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = core.DefaultMaxRetries
	}
	if retryCount < 1 || retryCount >= maxRetries {
		return 0, false
	}
	delays := p.Delays
	if len(delays) == 0 {
		delays = core.DefaultRetryDelays()
	}
	index := retryCount - 1
	if index >= len(delays) {
		index = len(delays) - 1
	}
	return delays[index], true
}
