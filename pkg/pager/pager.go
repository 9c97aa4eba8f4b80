// Package pager drives paginated source API listings with retry, backoff,
// and request pacing.
//
// Every connector expresses its service's pagination idiom as a FetchFunc:
// given an opaque continuation token (nil for the first page) it returns one
// page of raw records plus the next token, or nil when the stream ends. The
// pager owns the loop: it paces fetches, retries throttled calls with
// exponential backoff and jitter, propagates permanent errors immediately,
// and trims the final page when a caller-visible item limit is reached.
package pager

import (
	"context"

	"github.com/cloudpivot/metamirror/pkg/errors"
	"github.com/cloudpivot/metamirror/pkg/metrics"
	"github.com/cloudpivot/metamirror/pkg/resource"
)

// Page is one batch of raw records plus the continuation token for the next
// fetch. A nil NextToken marks end-of-stream.
type Page struct {
	Records   []resource.RawRecord
	NextToken *string
}

// FetchFunc fetches one page for the given continuation token
type FetchFunc func(ctx context.Context, token *string) (Page, error)

// EmitFunc consumes one raw record; a non-nil error stops the run
type EmitFunc func(resource.RawRecord) error

// Config controls retry, pacing, and the optional item limit
type Config struct {
	Retry *RetryPolicy
	// RatePerSecond paces page fetches; zero disables pacing
	RatePerSecond float64
	Burst         int
	// MaxItems stops the run after this many records; zero means unlimited.
	// The surplus of the final page is trimmed, not fetched again.
	MaxItems int
}

// Pager runs paginated fetch loops under one retry and pacing policy
type Pager struct {
	retry    *RetryPolicy
	limiter  *tokenBucket
	maxItems int
}

// New creates a pager from the given config, filling in default retry policy
func New(cfg Config) *Pager {
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	var limiter *tokenBucket
	if cfg.RatePerSecond > 0 {
		limiter = newTokenBucket(cfg.RatePerSecond, cfg.Burst)
	}
	return &Pager{
		retry:    retry,
		limiter:  limiter,
		maxItems: cfg.MaxItems,
	}
}

// Each drives fetch until end-of-stream, emitting records strictly in token
// order. Throttling and transient errors are retried with backoff; permanent
// errors (authorization, not-found) propagate immediately without retry.
func (p *Pager) Each(ctx context.Context, kind resource.Kind, fetch FetchFunc, emit EmitFunc) error {
	var token *string
	emitted := 0

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCancelled, "page fetch cancelled")
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, errors.ErrorTypeCancelled, "page fetch cancelled")
			}
		}

		var page Page
		err := p.retry.ExecuteWithCondition(ctx,
			func() error {
				got, fetchErr := fetch(ctx, token)
				if fetchErr != nil {
					return fetchErr
				}
				page = got
				return nil
			},
			errors.IsRetryable,
			func(error) { metrics.ThrottleRetries.WithLabelValues(kind.String()).Inc() },
		)
		if err != nil {
			return err
		}
		metrics.PagesFetched.WithLabelValues(kind.String()).Inc()

		for _, rec := range page.Records {
			if p.maxItems > 0 && emitted >= p.maxItems {
				return nil
			}
			if err := emit(rec); err != nil {
				return err
			}
			emitted++
		}

		if page.NextToken == nil {
			return nil
		}
		if p.maxItems > 0 && emitted >= p.maxItems {
			return nil
		}
		token = page.NextToken
	}
}
