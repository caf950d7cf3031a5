// Package retry retries an operation with exponential backoff.
//
// fieldcrypt uses it for connecting to its database at startup and for the
// admin client's GET requests. Calls to the key wrapping provider are not
// retried: a rotation fails fast and the operator re-runs it.
package retry

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/remind101/fieldcrypt/logger"
)

type BackOffOpts struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

var DefaultBackOffOpts = &BackOffOpts{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     3 * time.Second,
	MaxElapsedTime:  10 * time.Second,
}

var RetryOnAnyError = func(error) bool { return true }

type RetryNotifier func(context.Context, *RetryEvent)

type Retrier struct {
	Name                      string
	backOffOpts               *BackOffOpts
	shouldRetryFunc           func(error) bool
	notifyRetryFuncs          []RetryNotifier
	notifyGaveUpFuncs         []RetryNotifier
	notifyShouldNotRetryFuncs []RetryNotifier
}

var retrierNum uint32 = 0

func NewRetrier(name string, backOffOpts *BackOffOpts, shouldRetryFunc func(error) bool) *Retrier {
	if backOffOpts == nil {
		backOffOpts = DefaultBackOffOpts
	}
	return &Retrier{
		Name:                      fmt.Sprintf("%s%d", name, atomic.AddUint32(&retrierNum, 1)),
		backOffOpts:               backOffOpts,
		shouldRetryFunc:           shouldRetryFunc,
		notifyRetryFuncs:          []RetryNotifier{logRetry},
		notifyGaveUpFuncs:         []RetryNotifier{logGaveUp},
		notifyShouldNotRetryFuncs: []RetryNotifier{logShouldNotRetry},
	}
}

func NewErrorTypeRetrier(name string, backOffOpts *BackOffOpts, errorTypes ...interface{}) *Retrier {
	r := NewRetrier(name, backOffOpts, RetryWhenErrorTypeMatches(instancesToTypes(errorTypes)))
	r.Name = name
	return r
}

// Retry calls f until it succeeds, the error isn't retryable, the backoff
// gives up, or ctx is done. The last error is returned.
func (r *Retrier) Retry(ctx context.Context, f func(context.Context) error) error {
	var err error
	var next time.Duration

	numTries := 0
	b := r.newBackOff()
	b.Reset()
	for {
		numTries++
		if err = f(ctx); err == nil {
			return nil
		}

		if !r.shouldRetryFunc(err) {
			r.notify(ctx, r.notifyShouldNotRetryFuncs, err, numTries)
			return err
		}

		if next = b.NextBackOff(); next == backoff.Stop {
			r.notify(ctx, r.notifyGaveUpFuncs, err, numTries)
			return err
		}

		select {
		case <-ctx.Done():
			r.notify(ctx, r.notifyGaveUpFuncs, err, numTries)
			return err
		case <-time.After(next):
		}
		r.notify(ctx, r.notifyRetryFuncs, err, numTries)
	}
}

type RetryEvent struct {
	Retrier  *Retrier
	Err      error
	NumTries int
}

func (r *Retrier) AddNotifyRetry(f RetryNotifier) {
	r.notifyRetryFuncs = append(r.notifyRetryFuncs, f)
}

func (r *Retrier) AddNotifyGaveUp(f RetryNotifier) {
	r.notifyGaveUpFuncs = append(r.notifyGaveUpFuncs, f)
}

func (r *Retrier) AddNotifyShouldNotRetry(f RetryNotifier) {
	r.notifyShouldNotRetryFuncs = append(r.notifyShouldNotRetryFuncs, f)
}

func (r *Retrier) notify(ctx context.Context, fns []RetryNotifier, err error, numTries int) {
	retryEvent := &RetryEvent{Retrier: r, Err: err, NumTries: numTries}
	for _, fn := range fns {
		fn(ctx, retryEvent)
	}
}

func logShouldNotRetry(ctx context.Context, re *RetryEvent) {
	logger.Warn(ctx, "error not qualified for retry", "retrier", re.Retrier.Name, "error", re.Err)
}

func logRetry(ctx context.Context, re *RetryEvent) {
	logger.Info(ctx, "retrying", "retrier", re.Retrier.Name, "tries", re.NumTries, "error", re.Err)
}

func logGaveUp(ctx context.Context, re *RetryEvent) {
	logger.Error(ctx, "giving up", "retrier", re.Retrier.Name, "tries", re.NumTries, "error", re.Err)
}

func RetryWhenErrorTypeMatches(errorTypes []reflect.Type) func(error) bool {
	errorTypeSet := make(map[reflect.Type]bool)
	for _, t := range errorTypes {
		errorTypeSet[t] = true
	}
	return func(e error) bool {
		return errorTypeSet[reflect.TypeOf(e)]
	}
}

func (r *Retrier) SetBackOffOpts(b *BackOffOpts) {
	r.backOffOpts = b
}

func (r *Retrier) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.backOffOpts.InitialInterval
	b.MaxInterval = r.backOffOpts.MaxInterval
	b.MaxElapsedTime = r.backOffOpts.MaxElapsedTime
	return b
}

func instancesToTypes(instances []interface{}) []reflect.Type {
	types := []reflect.Type{}
	for _, instance := range instances {
		types = append(types, reflect.TypeOf(instance))
	}
	return types
}
