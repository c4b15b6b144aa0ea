package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-debouncer/core"
)

// Janitor periodically removes audit records past their retention.
type Janitor struct {
	purger   core.AuditPurger
	interval time.Duration
	observer core.Observer
	now      func() time.Time
}

type JanitorOption func(*Janitor)

func WithJanitorLogger(logger core.Logger) JanitorOption {
	return func(j *Janitor) {
		j.observer = core.NewObserver(logger, nil)
	}
}

func WithJanitorClock(now func() time.Time) JanitorOption {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

func NewJanitor(purger core.AuditPurger, interval time.Duration, opts ...JanitorOption) (*Janitor, error) {
	if purger == nil {
		return nil, fmt.Errorf("audit: purger is required")
	}
	if interval <= 0 {
		interval = time.Hour
	}
	janitor := &Janitor{
		purger:   purger,
		interval: interval,
		observer: core.NewObserver(nil, nil),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(janitor)
		}
	}
	return janitor, nil
}

func (j *Janitor) PurgeOnce(ctx context.Context) (int, error) {
	startedAt := time.Now()
	purged, err := j.purger.Purge(ctx, j.now())
	j.observer.Observe(ctx, startedAt, "audit_purge", err, map[string]any{
		"purged": purged,
	})
	return purged, err
}

// Run purges immediately and then on every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		_, _ = j.PurgeOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
