package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeadlockRetrySucceedsImmediatelyOnNilError(t *testing.T) {
	calls := 0
	err := deadlockRetry(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestDeadlockRetryPropagatesNonDeadlockErrorImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := deadlockRetry(func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls, "a non-deadlock error is not retried")
}

func TestDeadlockRetryRetriesUpToThreeAttempts(t *testing.T) {
	calls := 0
	err := deadlockRetry(func() error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestIsDeadlockErrMatchesKnownSentinels(t *testing.T) {
	require.True(t, isDeadlockErr(errors.New("Error 1213: Deadlock found when trying to get lock")))
	require.True(t, isDeadlockErr(errors.New("pq: restart transaction")))
	require.True(t, isDeadlockErr(errors.New("database is locked")))
	require.True(t, isDeadlockErr(errors.New("SQLITE_BUSY: database is locked")))
	require.False(t, isDeadlockErr(errors.New("no such table: job")))
	require.False(t, isDeadlockErr(nil))
}
