// Package session turns an encrypted session envelope into a usable
// bearer token, acquiring, refreshing or reusing the token inside it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/crypto"
	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/alexjbarnes/reddit-broker/internal/metrics"
	"github.com/alexjbarnes/reddit-broker/internal/models"
	"github.com/alexjbarnes/reddit-broker/internal/reddit"
	"github.com/alexjbarnes/reddit-broker/internal/token"
)

const defaultAcquireTimeout = 10 * time.Second

// BrokerOptions configures a Broker. Acquirer and Codec are required.
type BrokerOptions struct {
	Acquirer       Acquirer
	Codec          *crypto.Codec
	Padding        time.Duration
	AcquireTimeout time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Broker implements the bearer token lifecycle for one request at a time.
// It keeps no per-session state; everything it knows about a session
// arrives in the envelope.
type Broker struct {
	acquirer Acquirer
	codec    *crypto.Codec
	padding  time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Result is the outcome of one broker call.
type Result struct {
	Bearer models.BearerToken

	// Token is the decrypted or newly enriched token.
	Token *models.Token

	// Envelope is the new encrypted session, or nil when the existing
	// session is still valid and should be left alone.
	Envelope *models.Envelope
}

// NewBroker creates a Broker.
func NewBroker(opts BrokerOptions) *Broker {
	b := &Broker{
		acquirer: opts.Acquirer,
		codec:    opts.Codec,
		padding:  opts.Padding,
		timeout:  opts.AcquireTimeout,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}

	if b.timeout <= 0 {
		b.timeout = defaultAcquireTimeout
	}

	if b.now == nil {
		b.now = time.Now
	}

	if b.logger == nil {
		b.logger = slog.Default()
	}

	return b
}

// GetBearerToken returns a bearer token for the session in env. A nil env
// means the caller has no session. An envelope that cannot be decrypted is
// treated the same way. At most one call is made to the token endpoint.
func (b *Broker) GetBearerToken(ctx context.Context, env *models.Envelope) (*Result, error) {
	if env == nil {
		return b.anonymous(ctx)
	}

	var current models.Token
	if err := b.codec.Decrypt(*env, &current); err != nil {
		b.logger.Warn("discarding unreadable session", slog.String("error", err.Error()))
		b.metrics.DecryptFailed()

		return b.anonymous(ctx)
	}

	if !token.IsExpired(&current, b.padding, b.now()) {
		b.metrics.BearerIssued(string(models.BearerCached))

		return &Result{
			Bearer: current.Bearer(models.BearerCached),
			Token:  &current,
		}, nil
	}

	if current.Auth && current.RefreshToken != "" {
		return b.refresh(ctx, &current)
	}

	return b.anonymous(ctx)
}

// Decode decrypts env without acquiring anything.
func (b *Broker) Decode(env models.Envelope) (*models.Token, error) {
	var tok models.Token
	if err := b.codec.Decrypt(env, &tok); err != nil {
		return nil, err
	}

	return &tok, nil
}

// CompleteLogin exchanges the authorization code from the OAuth redirect
// for a user token and seals it into a new session.
func (b *Broker) CompleteLogin(ctx context.Context, code string) (*Result, error) {
	raw, err := b.acquire(ctx, reddit.GrantAuthorizationCode, func(ctx context.Context) (*models.RawToken, error) {
		return b.acquirer.ExchangeCode(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	return b.seal(raw, true, models.BearerNew)
}

func (b *Broker) refresh(ctx context.Context, current *models.Token) (*Result, error) {
	raw, err := b.acquire(ctx, reddit.GrantRefreshToken, func(ctx context.Context) (*models.RawToken, error) {
		return b.acquirer.Refresh(ctx, current.RefreshToken)
	})
	if err != nil {
		return nil, err
	}

	// Reddit only sometimes rotates the refresh token.
	if raw.RefreshToken == "" {
		raw.RefreshToken = current.RefreshToken
	}

	return b.seal(raw, true, models.BearerRefresh)
}

func (b *Broker) anonymous(ctx context.Context) (*Result, error) {
	raw, err := b.acquire(ctx, reddit.GrantClientCredentials, b.acquirer.Anonymous)
	if err != nil {
		return nil, err
	}

	return b.seal(raw, false, models.BearerNewAnon)
}

// acquire runs one token endpoint call under the acquire timeout and
// records its outcome.
func (b *Broker) acquire(ctx context.Context, grant string, fn func(context.Context) (*models.RawToken, error)) (*models.RawToken, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	raw, err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		b.metrics.Acquired(grant, resultLabel(err), elapsed)

		var me *apperrors.MalformedTokenResponseError
		if errors.As(err, &me) {
			b.logger.Error("token endpoint returned an unusable response",
				slog.String("grant", me.Grant),
				slog.String("endpoint", me.Endpoint),
				slog.String("reason", me.Reason),
			)
		} else {
			b.logger.Warn("token acquisition failed",
				slog.String("grant", grant),
				slog.String("error", err.Error()),
			)
		}

		return nil, err
	}

	b.metrics.Acquired(grant, "ok", elapsed)
	b.logger.Debug("token acquired",
		slog.String("grant", grant),
		slog.Int64("expires_in", raw.ExpiresIn),
		slog.Duration("elapsed", elapsed),
	)

	return raw, nil
}

// seal enriches raw, encrypts it and builds the result.
func (b *Broker) seal(raw *models.RawToken, authenticated bool, kind models.BearerType) (*Result, error) {
	enriched := token.Enrich(*raw, authenticated, b.now())

	env, err := b.codec.Encrypt(enriched)
	if err != nil {
		return nil, fmt.Errorf("sealing session: %w", err)
	}

	b.metrics.BearerIssued(string(kind))

	return &Result{
		Bearer:   enriched.Bearer(kind),
		Token:    &enriched,
		Envelope: &env,
	}, nil
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrMalformedTokenResponse):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, apperrors.ErrAuthExchange):
		return "rejected"
	default:
		return "error"
	}
}
