package providers

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RetryPolicy retries provider calls that failed with a transient error,
// waiting exponentially longer between attempts.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// IsTransient classifies errors, DefaultIsTransient when nil.
	IsTransient func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
	}
}

var transientMarkers = []string{
	"unavailable",
	"overloaded",
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// DefaultIsTransient recognizes service unavailability from the error text.
func DefaultIsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Do calls fn until it succeeds, fails permanently, runs out of attempts or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, provider string, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	isTransient := p.IsTransient
	if isTransient == nil {
		isTransient = DefaultIsTransient
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		eb.Multiplier = p.Multiplier
	}
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	op := func() (*Result, error) {
		attempt++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Str("provider", provider).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Dur("wait", wait).
			Msg("Provider unavailable, retrying")
	}

	res, err := backoff.RetryNotifyWithData(op, b, notify)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request failed after %d attempt(s)", provider, attempt)
	}
	return res, nil
}
