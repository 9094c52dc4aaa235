package scheduler

import (
	stderrors "errors"
	"time"

	"sendmail-oauth2/internal/circuitbreaker"
	"sendmail-oauth2/internal/common/errors"
	"sendmail-oauth2/internal/common/utils"
)

// Policy controls what happens when a send fails within one tick.
// The zero value and DefaultPolicy make one attempt and move on.
type Policy struct {
	// MaxAttempts is the number of sendMail calls per tick, including the first
	MaxAttempts int
	// InitialDelay is the wait before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// BackoffFactor multiplies the delay after each retry
	BackoffFactor float64
	// BreakerEnabled puts a circuit breaker in front of sendMail
	BreakerEnabled bool
}

// DefaultPolicy is one attempt per tick with no breaker
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   1,
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func (p Policy) retryConfig() utils.RetryConfig {
	if p.MaxAttempts <= 1 {
		return utils.SingleAttempt()
	}

	config := utils.DefaultRetryConfig()
	config.MaxAttempts = p.MaxAttempts
	if p.InitialDelay > 0 {
		config.InitialDelay = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		config.MaxDelay = p.MaxDelay
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if p.BackoffFactor >= 1 {
		config.BackoffFactor = p.BackoffFactor
	}
	// a rejected token is rejected again, an open breaker stays open
	config.RetryableErrors = func(err error) bool {
		return !errors.IsType(err, errors.ErrTypeAuth) && !stderrors.Is(err, circuitbreaker.ErrOpen)
	}
	return config
}
