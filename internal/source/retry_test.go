package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "test", testPolicy(), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("not yet"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	cause := errors.New("gone")
	err := Retry(context.Background(), "test", testPolicy(), func() error {
		calls++
		return Transient(cause)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, cause)

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 3, ue.Attempts)
	assert.Equal(t, "test", ue.Source)
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	perm := errors.New("permission denied")
	err := Retry(context.Background(), "test", testPolicy(), func() error {
		calls++
		return perm
	})
	assert.Equal(t, perm, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_HonorsContext(t *testing.T) {
	p := testPolicy()
	p.SourceRetries = 100
	p.RetryBackoff = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, "test", p, func() error { return Transient(errors.New("x")) })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransient_Nil(t *testing.T) {
	assert.NoError(t, Transient(nil))
}
