// Package retry provides the bounded, fixed-backoff retry used by every
// blocking probe in the operator. Exhausting the bound yields a caller
// supplied value instead of an error.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a fixed delay between at most Attempts tries
type Policy struct {
	Delay    time.Duration
	Attempts int
}

// errUnsatisfied marks a boolean probe that returned false
var errUnsatisfied = errors.New("condition not satisfied")

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds or the policy is exhausted. On exhaustion,
// or when ctx is cancelled, onExhaustion is returned together with the
// last error.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), onExhaustion T) (T, error) {
	v, err := backoff.RetryWithData(func() (T, error) {
		return op(ctx)
	}, p.backOff(ctx))
	if err != nil {
		return onExhaustion, err
	}
	return v, nil
}

// Bool retries a boolean probe while it reports false or fails. An
// indeterminate result after the last attempt collapses to onExhaustion.
func Bool(ctx context.Context, p Policy, probe func(context.Context) (bool, error), onExhaustion bool) bool {
	ok, _ := Do(ctx, p, func(ctx context.Context) (bool, error) {
		ok, err := probe(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, errUnsatisfied
		}
		return true, nil
	}, onExhaustion)
	return ok
}

// Permanent wraps err so that Do stops retrying immediately
func Permanent(err error) error {
	return backoff.Permanent(err)
}
