// Package backoff retries operations with capped exponential backoff and
// jitter, deciding eligibility from the classified error.
package backoff

import (
	"context"
	"math/rand"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-steplib/bitrise-step-cfx-portal-upload/classify"
)

// Predicate overrides the Retriable flag of a classified error when deciding whether to retry.
type Predicate func(*classify.Error) bool

// Retrier ...
type Retrier struct {
	policy Policy
	logger log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(ceiling time.Duration) time.Duration
}

// NewRetrier ...
func NewRetrier(policy Policy, logger log.Logger) *Retrier {
	return &Retrier{
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
		jitter: randomJitter,
	}
}

// Policy ...
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Run is Do for operations without a result.
func (r *Retrier) Run(ctx context.Context, name string, operation func(context.Context) error, shouldRetry ...Predicate) error {
	_, err := Do(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	}, shouldRetry...)
	return err
}

// Do invokes operation until it succeeds, the failure is not eligible for a retry,
// or the policy's retry budget is spent. Failures are returned as *classify.Error.
func Do[T any](ctx context.Context, r *Retrier, name string, operation func(context.Context) (T, error), shouldRetry ...Predicate) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := operation(ctx)
		if err == nil {
			return result, nil
		}

		classified := classify.Classify(err, classify.KindUnknown)
		if !r.eligible(attempt, classified, shouldRetry) {
			return zero, classified
		}

		delay := r.delay(attempt)
		r.logger.Warnf("%s failed (attempt %d/%d). Retrying in %s.", name, attempt+1, r.policy.TotalAttempts(), delay)

		if err := r.sleep(ctx, delay); err != nil {
			return zero, classify.Classify(err, classify.KindUnknown)
		}
	}
}

func (r *Retrier) eligible(attempt int, classified *classify.Error, shouldRetry []Predicate) bool {
	if attempt >= r.policy.MaxRetries {
		return false
	}
	if len(shouldRetry) > 0 && shouldRetry[0] != nil {
		return shouldRetry[0](classified)
	}
	return classified.Retriable
}

func (r *Retrier) delay(attempt int) time.Duration {
	return r.policy.exponentialDelay(attempt) + r.jitter(r.policy.jitterCeiling())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(ceiling time.Duration) time.Duration {
	ceilingMs := ceiling.Milliseconds()
	if ceilingMs <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(ceilingMs)) * time.Millisecond
}
