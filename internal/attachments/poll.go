package attachments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned when a polled resource never became ready
// within the wait budget.
var ErrNotReady = errors.New("resource not ready before deadline")

// PollConfig bounds a readiness wait.
type PollConfig struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// Validate applies defaults.
func (c *PollConfig) Validate() error {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 5 * time.Minute
	}
	return nil
}

// WaitReady polls probe until it reports ready, the wait budget runs
// out or ctx is cancelled. probe runs once immediately, then once per
// interval. A probe error ends the wait; transient conditions should
// be reported as not-ready instead.
func WaitReady(ctx context.Context, config PollConfig, probe func(context.Context) (bool, error)) error {
	if err := config.Validate(); err != nil {
		return err
	}

	deadline := time.Now().Add(config.MaxWait)

	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		ready, err := probe(ctx)
		if err != nil {
			return fmt.Errorf("probe: %w", err)
		}
		if ready {
			return nil
		}
		if !time.Now().Add(config.Interval).Before(deadline) {
			return ErrNotReady
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
