package imagery

import (
	"context"
	"time"
)

// retry runs f up to attempts times, doubling the wait between tries.
// It stops early when the context is done and returns the last error.
func retry(ctx context.Context, attempts int, wait time.Duration, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = f(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
