package store

import (
	"context"
	"errors"
	"time"

	"github.com/buildkite/roko"
)

const (
	DefaultAttempts = 3
	DefaultTimeout  = 10 * time.Second
	DefaultBackoff  = 2 * time.Second
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	Attempts int
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	Backoff time.Duration
	// SleepFunc replaces time.Sleep between attempts, for tests.
	SleepFunc func(time.Duration)
}

// Retrying wraps a Client so each call gets a per-attempt timeout and a
// bounded exponential backoff. ErrNotFound is never retried.
type Retrying struct {
	next Client
	opts RetryOptions
}

var _ Client = (*Retrying)(nil)

// WithRetry wraps c.
func WithRetry(c Client, opts RetryOptions) *Retrying {
	if opts.Attempts < 1 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Retrying{next: c, opts: opts}
}

func (r *Retrying) retrier() *roko.Retrier {
	if r.opts.SleepFunc != nil {
		return roko.NewRetrier(
			roko.WithMaxAttempts(r.opts.Attempts),
			roko.WithStrategy(roko.Exponential(r.opts.Backoff, 0)),
			roko.WithJitter(),
			roko.WithSleepFunc(r.opts.SleepFunc),
		)
	}
	return roko.NewRetrier(
		roko.WithMaxAttempts(r.opts.Attempts),
		roko.WithStrategy(roko.Exponential(r.opts.Backoff, 0)),
		roko.WithJitter(),
	)
}

func (r *Retrying) attempt(ctx context.Context, retrier *roko.Retrier, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	err := fn(actx)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		retrier.Break()
	}
	return err
}

// Status retries a sealed store like an unreachable one, since sealing is
// often transient. A store still sealed after the last attempt returns its
// status together with ErrSealed.
func (r *Retrying) Status(ctx context.Context) (Status, error) {
	return roko.DoFunc(ctx, r.retrier(), func(retrier *roko.Retrier) (Status, error) {
		var status Status
		err := r.attempt(ctx, retrier, func(ctx context.Context) error {
			var err error
			status, err = r.next.Status(ctx)
			if err == nil && status.Sealed {
				return ErrSealed
			}
			return err
		})
		return status, err
	})
}

func (r *Retrying) Put(ctx context.Context, path, key, value string, meta Metadata) error {
	return r.retrier().DoWithContext(ctx, func(retrier *roko.Retrier) error {
		return r.attempt(ctx, retrier, func(ctx context.Context) error {
			return r.next.Put(ctx, path, key, value, meta)
		})
	})
}

func (r *Retrying) Get(ctx context.Context, path, key string) (string, error) {
	return roko.DoFunc(ctx, r.retrier(), func(retrier *roko.Retrier) (string, error) {
		var value string
		err := r.attempt(ctx, retrier, func(ctx context.Context) error {
			var err error
			value, err = r.next.Get(ctx, path, key)
			return err
		})
		return value, err
	})
}

func (r *Retrying) PathExists(ctx context.Context, path string) (bool, error) {
	return roko.DoFunc(ctx, r.retrier(), func(retrier *roko.Retrier) (bool, error) {
		var exists bool
		err := r.attempt(ctx, retrier, func(ctx context.Context) error {
			var err error
			exists, err = r.next.PathExists(ctx, path)
			return err
		})
		return exists, err
	})
}
