package host

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RetryConfig controls retry-with-backoff for host delivery.
type RetryConfig struct {
	Attempts uint
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the delivery retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Delay:    200 * time.Millisecond,
		MaxDelay: 5 * time.Second,
	}
}

// Retrying retries failed deliveries with exponential backoff. Invalid
// commands are not retried.
type Retrying struct {
	next Executor
	cfg  RetryConfig
}

// NewRetrying wraps next with retries.
func NewRetrying(next Executor, cfg RetryConfig) *Retrying {
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	return &Retrying{next: next, cfg: cfg}
}

func (r *Retrying) Send(ctx context.Context, cmd Command) error {
	return retry.Do(
		func() error {
			err := r.next.Send(ctx, cmd)
			if errors.Is(err, ErrInvalidCommand) || errors.Is(err, ErrNoCommandTemplate) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.Attempts),
		retry.Delay(r.cfg.Delay),
		retry.MaxDelay(r.cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("cmd", string(cmd.Cmd)).Str("name", cmd.Name).Msg("Host delivery failed, retrying")
		}),
	)
}

// Limited paces deliveries with a token bucket so a burst of reconcile
// actions cannot flood the host.
type Limited struct {
	next    Executor
	limiter *rate.Limiter
}

// NewLimited wraps next with a limiter of rps requests per second.
func NewLimited(next Executor, rps float64) *Limited {
	if rps <= 0 {
		rps = 10.0
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (l *Limited) Send(ctx context.Context, cmd Command) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.Send(ctx, cmd)
}
