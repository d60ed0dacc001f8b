package store

import "time"

// deadlockRetry bounds retries to the driver's "deadlock; restart
// transaction" sentinel (spec.md §4.1/§7): up to 3 attempts, 1s linear
// backoff between them. Any other error returned by op propagates on
// the first attempt. Adapted from internal/worker/retry.go's
// RetryWithBackoff, narrowed from "retry any error" (appropriate for a
// flaky external CLI) to "retry only a named transient-store error"
// (appropriate for a compare-and-set SQL statement).
func deadlockRetry(op func() error) error {
	const maxAttempts = 3
	const backoff = time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isDeadlockErr(err) {
			return err
		}
		lastErr = err
		if attempt < maxAttempts {
			time.Sleep(backoff)
		}
	}
	return lastErr
}
