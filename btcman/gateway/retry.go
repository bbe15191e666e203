package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	logger "github.com/sirupsen/logrus"
)

const (
	retryMaxAttempts     = 5
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 5 * time.Second
	retryMultiplier      = 2
)

// retry runs op under the gateway retry policy: 5 attempts, exponential
// backoff from 1s capped at 5s, factor 2. The last error is surfaced to
// the caller once the attempts are exhausted.
func retry(ctx context.Context, what string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.MaxInterval = retryMaxInterval
	policy.Multiplier = retryMultiplier

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err != nil && attempt < retryMaxAttempts {
			logger.Warnf("gateway %s attempt %d/%d failed: err=%v", what, attempt, retryMaxAttempts, err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, retryMaxAttempts-1), ctx))
}
