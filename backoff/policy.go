package backoff

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const maxJitter = 250 * time.Millisecond

// Policy bounds how often and how long an operation is retried.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt. 0 disables retrying.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy ...
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Validate ...
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be zero or greater, got %d", p.MaxRetries)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be greater than zero, got %s", p.BaseDelay)
	}
	if p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("max delay (%s) must be greater than or equal to base delay (%s)", p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// TotalAttempts is the number of times an always failing operation is invoked.
func (p Policy) TotalAttempts() int {
	return p.MaxRetries + 1
}

// exponentialDelay returns min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) exponentialDelay(attempt int) time.Duration {
	return retryablehttp.DefaultBackoff(p.BaseDelay, p.MaxDelay, attempt, nil)
}

// jitterCeiling is the exclusive upper bound of the random delay added to each backoff.
func (p Policy) jitterCeiling() time.Duration {
	if p.BaseDelay < maxJitter {
		return p.BaseDelay
	}
	return maxJitter
}
