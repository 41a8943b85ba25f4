package dedup

import (
	"context"
	"errors"
	"time"

	loggingpkg "github.com/drblury/commitguard/internal/runtime/logging"
)

const (
	minCleanupInterval = time.Second
	maxCleanupInterval = time.Hour
)

// SelfExpiring is implemented by stores that drop old entries on their own.
type SelfExpiring interface {
	ExpiresEntries() bool
}

// CleanerOptions configures a Cleaner.
type CleanerOptions struct {
	// Retention is how long an entry survives without being recorded again.
	// Zero disables the cleaner.
	Retention time.Duration
	// Interval between sweeps. Zero selects half the retention, kept between
	// one second and one hour.
	Interval time.Duration
	Logger   loggingpkg.ServiceLogger
}

// Cleaner periodically removes entries older than the retention from a store
// that does not expire them itself.
type Cleaner struct {
	store Store
	opts  CleanerOptions
}

// NewCleaner returns a Cleaner for store.
func NewCleaner(store Store, opts CleanerOptions) *Cleaner {
	if opts.Interval <= 0 {
		opts.Interval = min(max(opts.Retention/2, minCleanupInterval), maxCleanupInterval)
	}
	if opts.Logger == nil {
		opts.Logger = loggingpkg.Nop()
	}
	return &Cleaner{store: store, opts: opts}
}

// Enabled reports whether Run does any work: a retention is set and the
// store does not expire entries itself.
func (c *Cleaner) Enabled() bool {
	if c.store == nil || c.opts.Retention <= 0 {
		return false
	}
	if expiring, ok := c.store.(SelfExpiring); ok && expiring.ExpiresEntries() {
		return false
	}
	return true
}

// Interval returns the time between sweeps.
func (c *Cleaner) Interval() time.Duration {
	return c.opts.Interval
}

// Run sweeps the store every interval until ctx is done. Failed sweeps are
// logged and retried on the next tick.
func (c *Cleaner) Run(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := c.store.Cleanup(ctx, c.opts.Retention); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.opts.Logger.Error("Dedup cleanup failed", err, loggingpkg.LogFields{
				"retention": c.opts.Retention.String(),
			})
		}
	}
}
