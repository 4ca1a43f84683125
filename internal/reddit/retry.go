package reddit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/alexjbarnes/reddit-broker/internal/models"
	"github.com/cenkalti/backoff/v5"
)

// grantClient is what Retrying wraps. Client satisfies it. Consumers
// declare their own interface (session.Acquirer) over Retrying.
type grantClient interface {
	ExchangeCode(ctx context.Context, code string) (*models.RawToken, error)
	Refresh(ctx context.Context, refreshToken string) (*models.RawToken, error)
	Anonymous(ctx context.Context) (*models.RawToken, error)
}

// RetryOptions controls the backoff applied to retryable failures.
type RetryOptions struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries      uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryOptions returns the retry policy used in production with the
// given retry budget.
func DefaultRetryOptions(maxRetries int) RetryOptions {
	if maxRetries < 0 {
		maxRetries = 0
	}

	return RetryOptions{
		MaxRetries:      uint(maxRetries),
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Retrying wraps a Client and retries refresh and client-credentials
// grants on transient failures. Authorization codes are single-use, so
// ExchangeCode is never retried.
type Retrying struct {
	next   grantClient
	opts   RetryOptions
	logger *slog.Logger
}

// NewRetrying returns a wrapper that retries next according to opts.
func NewRetrying(next grantClient, opts RetryOptions, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}

	return &Retrying{next: next, opts: opts, logger: logger}
}

func (r *Retrying) ExchangeCode(ctx context.Context, code string) (*models.RawToken, error) {
	return r.next.ExchangeCode(ctx, code)
}

func (r *Retrying) Refresh(ctx context.Context, refreshToken string) (*models.RawToken, error) {
	return r.do(ctx, GrantRefreshToken, func() (*models.RawToken, error) {
		return r.next.Refresh(ctx, refreshToken)
	})
}

func (r *Retrying) Anonymous(ctx context.Context) (*models.RawToken, error) {
	return r.do(ctx, GrantClientCredentials, func() (*models.RawToken, error) {
		return r.next.Anonymous(ctx)
	})
}

func (r *Retrying) do(ctx context.Context, grant string, op func() (*models.RawToken, error)) (*models.RawToken, error) {
	b := backoff.NewExponentialBackOff()
	if r.opts.InitialInterval > 0 {
		b.InitialInterval = r.opts.InitialInterval
	}

	if r.opts.MaxInterval > 0 {
		b.MaxInterval = r.opts.MaxInterval
	}

	attempt := 0

	tok, err := backoff.Retry(ctx, func() (*models.RawToken, error) {
		attempt++

		tok, err := op()
		if err == nil {
			return tok, nil
		}

		if !apperrors.IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}

		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.opts.MaxRetries+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("token exchange failed, retrying",
				slog.String("grant", grant),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		return nil, asExchangeError(grant, err)
	}

	return tok, nil
}

// asExchangeError keeps typed errors from the wrapped client and turns
// anything else (context cancellation while waiting between attempts) into
// a non-retryable AuthExchangeError.
func asExchangeError(grant string, err error) error {
	var ae *apperrors.AuthExchangeError
	if errors.As(err, &ae) {
		return err
	}

	var me *apperrors.MalformedTokenResponseError
	if errors.As(err, &me) {
		return err
	}

	return &apperrors.AuthExchangeError{Grant: grant, Err: err}
}
