package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type MyError struct{}

func (e *MyError) Error() string {
	return "Error"
}

var fastBackOff = &BackOffOpts{
	InitialInterval: 1 * time.Nanosecond,
	MaxInterval:     5 * time.Nanosecond,
	MaxElapsedTime:  250 * time.Microsecond,
}

func TestRetryGivesUp(t *testing.T) {
	retrier := NewRetrier("Retrier", fastBackOff, RetryOnAnyError)

	gaveUp := 0
	retrier.AddNotifyGaveUp(func(context.Context, *RetryEvent) { gaveUp++ })

	calls := 0
	err := retrier.Retry(context.Background(), func(context.Context) error {
		calls++
		return &MyError{}
	})

	assert.Equal(t, &MyError{}, err)
	assert.True(t, calls > 1, "expected more than one attempt, got %d", calls)
	assert.Equal(t, 1, gaveUp)
}

func TestRetrySucceedsEventually(t *testing.T) {
	retrier := NewRetrier("Retrier", fastBackOff, RetryOnAnyError)

	retried := 0
	retrier.AddNotifyRetry(func(context.Context, *RetryEvent) { retried++ })

	calls := 0
	err := retrier.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &MyError{}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retried)
}

func TestErrorTypeRetrier(t *testing.T) {
	retrier := NewErrorTypeRetrier("typed", fastBackOff, (*MyError)(nil))

	notRetried := 0
	retrier.AddNotifyShouldNotRetry(func(context.Context, *RetryEvent) { notRetried++ })

	calls := 0
	other := errors.New("other")
	err := retrier.Retry(context.Background(), func(context.Context) error {
		calls++
		return other
	})

	assert.Equal(t, other, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, notRetried)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	retrier := NewRetrier("Retrier", &BackOffOpts{
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
		MaxElapsedTime:  time.Hour,
	}, RetryOnAnyError)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := retrier.Retry(ctx, func(context.Context) error {
		calls++
		return &MyError{}
	})
	assert.Equal(t, &MyError{}, err)
	assert.Equal(t, 1, calls)
}
